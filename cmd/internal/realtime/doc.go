// Package realtime streams the audit log to browsers over a websocket.
//
// A connection receives one log.snapshot envelope with the buffered entries
// and then a log.entry envelope per new entry. Slow clients lose entries
// rather than slow the log down.
package realtime
