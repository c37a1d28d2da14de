// Package integration provides cross-package integration tests for stepwise.
// These tests run real shell command capabilities against sqlite stores.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
