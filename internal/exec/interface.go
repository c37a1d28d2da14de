// Package exec runs external commands as capabilities. A manifest file maps
// capability ids to shell commands that read a JSON request on stdin and
// write their result to stdout.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// RunShell executes command through "sh -c" with stdin attached and env
	// appended to the process environment. It returns stdout; a non-zero
	// exit returns an error carrying stderr.
	RunShell(ctx context.Context, workDir, command string, stdin []byte, env []string) (stdout []byte, err error)
}
