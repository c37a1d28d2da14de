// Package events provides orchestrator event sinks backed by external transports.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ShayCichocki/stepwise/internal/orchestrator"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "stepwise.events"

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every event as JSON to <prefix>.<event type>,
// e.g. stepwise.events.step.completed.
type NATSSink struct {
	pub    publisher
	conn   *nats.Conn
	prefix string
}

// DialNATS connects to a NATS server and returns a sink publishing under prefix.
func DialNATS(url, prefix string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("stepwise"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	s := NewNATSSink(conn, prefix)
	s.conn = conn
	return s, nil
}

// NewNATSSink creates a sink over an existing connection.
func NewNATSSink(pub publisher, prefix string) *NATSSink {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

// Name implements orchestrator.EventSink.
func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(t orchestrator.EventType) string {
	return s.prefix + "." + string(t)
}

// Deliver implements orchestrator.EventSink.
func (s *NATSSink) Deliver(_ context.Context, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.pub.Publish(s.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close flushes and closes a connection opened by DialNATS.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
