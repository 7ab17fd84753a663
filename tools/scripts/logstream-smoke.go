// Package main is a CI-friendly smoke test for the audit log stream.
//
// It validates:
//   - handshake + subprotocol selection behind the auth gate
//   - the initial log.snapshot envelope
//   - log.snapshot.request round trip
//   - optionally, that a live log.entry arrives within -wait
//
// The stream is gated, so pass the browser's cookies with -cookie
// (for example "accessToken=...; sid=...").
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "ssogate/shared/contracts/logstream/v1"
)

const maxReadBytes = 1 << 20

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/api/v1/auth/logs/stream", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost:3000", "Origin header to send (browser-like WS handshake)")
		cookie  = flag.String("cookie", "", "Cookie header carrying the session credentials")
		wait    = flag.Duration("wait", 0, "Also wait this long for a live log.entry (0 skips)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	conn := mustConnect(root, *wsURL, *origin, *cookie, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "smoke done") }()

	snap := mustReadType(root, conn, v1.TypeLogSnapshot, *timeout)
	first := mustSnapshot(snap)
	if *verbose {
		fmt.Printf("snapshot: %d entries\n", len(first.Entries))
	}

	req := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeLogSnapshotRequest,
		ID:      fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: json.RawMessage(`{}`),
	}
	mustWrite(root, conn, req, *timeout)
	second := mustSnapshot(mustReadType(root, conn, v1.TypeLogSnapshot, *timeout))
	if len(second.Entries) < len(first.Entries) && len(first.Entries) < 100 {
		fatalf("snapshot shrank without a clear: %d -> %d", len(first.Entries), len(second.Entries))
	}

	if *wait > 0 {
		env := mustReadType(root, conn, v1.TypeLogEntry, *wait)
		var e v1.Entry
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			fatalf("unmarshal log.entry: %v", err)
		}
		if *verbose {
			fmt.Printf("live: [%s] %s\n", e.Level, e.Message)
		}
	}

	fmt.Printf("OK: snapshot=%d entries\n", len(second.Entries))
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, cookie string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if strings.TrimSpace(cookie) != "" {
		h.Set("Cookie", cookie)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			fatalf("connect: unauthorized (pass -cookie from a logged-in browser)")
		}
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustReadType(parent context.Context, conn *websocket.Conn, typ string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			fatalf("waiting for %s: %v", typ, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			fatalf("bad json: %v", err)
		}
		if env.V != v1.Version {
			fatalf("unexpected protocol version %d", env.V)
		}
		if env.Type == v1.TypeError {
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			fatalf("server error while waiting for %s: %s (%s)", typ, p.Code, p.Message)
		}
		if env.Type == typ {
			return env
		}
	}
}

func mustSnapshot(env v1.Envelope) v1.SnapshotPayload {
	var p v1.SnapshotPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal log.snapshot: %v", err)
	}
	for i := 1; i < len(p.Entries); i++ {
		if p.Entries[i].Timestamp.After(p.Entries[i-1].Timestamp) {
			fatalf("snapshot not newest-first at index %d", i)
		}
	}
	return p
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
