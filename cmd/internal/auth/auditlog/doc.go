// Package auditlog is the user-visible record of authentication events.
//
// The in-memory Log is a bounded ring (default capacity 100) read newest
// first. It is observability only: appending never fails and never panics,
// whatever the state of subscribers or the durable sink.
//
// Every appended entry is mirrored to slog and, when configured, handed to a
// Sink. PostgresSink persists entries to sso.audit_log through a bounded
// queue so request paths never wait on the database.
package auditlog
