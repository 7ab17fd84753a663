// Package v1 defines the audit log stream protocol spoken on
// /auth/logs/stream. Server and tooling share it so the wire format has
// one source of truth.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	// Subprotocol must be offered by clients during the websocket handshake.
	Subprotocol = "ssogate.logs.v1"

	TypeLogSnapshot        = "log.snapshot"
	TypeLogEntry           = "log.entry"
	TypeLogSnapshotRequest = "log.snapshot.request"
	TypeError              = "error"
)

// ClientTypes are the envelope types a client may send.
var ClientTypes = map[string]struct{}{
	TypeLogSnapshotRequest: {},
}

type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks an inbound (client to server) envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := ClientTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

// Entry mirrors auditlog.Entry on the wire.
type Entry struct {
	ID        string       `json:"id"`
	Level     string       `json:"level"`
	Message   string       `json:"message"`
	Context   EntryContext `json:"context"`
	Timestamp time.Time    `json:"timestamp"`
}

type EntryContext struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	Error  string `json:"error,omitempty"`
	IP     string `json:"ip,omitempty"`
}

// SnapshotPayload carries the buffered entries, newest first.
type SnapshotPayload struct {
	Entries []Entry `json:"entries"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
