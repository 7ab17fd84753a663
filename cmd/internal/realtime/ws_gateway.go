package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"ssogate/cmd/identity/ids"
	"ssogate/cmd/internal/auth/auditlog"
	"ssogate/cmd/internal/auth/gate"
	v1 "ssogate/shared/contracts/logstream/v1"
)

const (
	wsDefaultSendQueueSize = 128
	wsMinSendQueueSize     = 16

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// Source is the audit log as seen by the stream.
type Source interface {
	List() []auditlog.Entry
	Subscribe(buffer int) (<-chan auditlog.Entry, func())
}

// Observer is notified as viewers connect and disconnect.
type Observer interface {
	StreamClientConnected()
	StreamClientDisconnected()
}

// GatewayConfig tunes the log stream. Zero durations and sizes fall back to
// defaults; a zero ReadIdleTimeout disables the idle read deadline.
type GatewayConfig struct {
	AllowedOrigins []string
	OriginRequired bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   true,
		WriteTimeout:     wsDefaultWriteTimeout,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadGatewayConfigFromEnv reads SSO_WS_* overrides. allowedOrigins is the
// CORS allow-list, so browsers that may call the API may also stream.
func LoadGatewayConfigFromEnv(allowedOrigins []string) GatewayConfig {
	cfg := DefaultGatewayConfig()
	cfg.AllowedOrigins = allowedOrigins
	cfg.OriginRequired = envBoolWS("SSO_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	cfg.WriteTimeout = envDurationWS("SSO_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ReadIdleTimeout = envDurationWS("SSO_WS_READ_IDLE_TIMEOUT", 0)
	cfg.SendQueueSize = envIntWS("SSO_WS_SEND_QUEUE", cfg.SendQueueSize)
	cfg.HeartbeatEvery = envDurationWS("SSO_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDurationWS("SSO_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.RateEvents = envIntWS("SSO_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDurationWS("SSO_WS_RATE_WINDOW", cfg.RateWindow)
	return cfg
}

func (c GatewayConfig) normalized() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.ReadIdleTimeout < 0 {
		c.ReadIdleTimeout = 0
	}
	return c
}

// LogStream is the websocket entrypoint for live audit log viewing.
//
// It enforces origin policy, subprotocol selection, inbound rate limits and
// heartbeats. It expects to be mounted behind the auth gate.
type LogStream struct {
	log *slog.Logger
	src Source
	obs Observer
	cfg GatewayConfig
	now func() time.Time
}

type Option func(*LogStream)

func WithObserver(o Observer) Option {
	return func(s *LogStream) { s.obs = o }
}

// NewLogStream constructs a gateway streaming src.
func NewLogStream(log *slog.Logger, src Source, cfg GatewayConfig, opts ...Option) (*LogStream, error) {
	if src == nil {
		return nil, errors.New("realtime: nil log source")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	s := &LogStream{
		log: log,
		src: src,
		cfg: cfg.normalized(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// ServeHTTP upgrades the request and streams until either side goes away.
func (s *LogStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.enforceOrigin(r); err != nil {
		s.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{v1.Subprotocol},
		// Origin was already checked against the allow-list above; let the
		// library accept exactly that host.
		OriginPatterns: originPatternsFor(r),
	})
	if err != nil {
		s.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		s.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	var userID string
	if p, ok := gate.PrincipalFrom(r.Context()); ok && p != nil {
		userID = p.ID
	}
	connID, err := ids.NewULID(s.now())
	if err != nil {
		s.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(userID, connID, s.cfg.SendQueueSize)

	if s.obs != nil {
		s.obs.StreamClientConnected()
		defer s.obs.StreamClientDisconnected()
	}
	s.log.Info("ws.logstream.open", "conn_id", connID, "user_id", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Subscribe before the snapshot so nothing falls between the two.
	entries, unsubscribe := s.src.Subscribe(s.cfg.SendQueueSize)
	defer unsubscribe()

	snapshot := s.src.List()
	inSnapshot := make(map[string]struct{}, len(snapshot))
	for _, e := range snapshot {
		inSnapshot[e.ID] = struct{}{}
	}
	if !s.enqueue(ctx, client, s.snapshotEnvelope(snapshot)) {
		shutdown(websocket.StatusInternalError, "snapshot failed")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, s.cfg.WriteTimeout); err != nil {
					s.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case e, ok := <-entries:
				if !ok {
					shutdown(websocket.StatusGoingAway, "log closed")
					return
				}
				if _, dup := inSnapshot[e.ID]; dup {
					continue
				}
				if !s.enqueue(ctx, client, s.entryEnvelope(e)) {
					if n := client.markDropped(); n == 1 || n%100 == 0 {
						s.log.Warn("ws.logstream.drop", "conn_id", connID, "dropped", n)
					}
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(s.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, s.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					s.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := newFrameLimiter(s.cfg.RateEvents, s.cfg.RateWindow)

readLoop:
	for {
		env, err := s.read(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				if !rl.Allow(s.now()) {
					s.sendErrorNow(ctx, conn, "rate_limited", "too many events")
					shutdown(websocket.StatusPolicyViolation, "rate limited")
					break readLoop
				}
				s.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				s.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(s.now()) {
			s.sendErrorNow(ctx, conn, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			s.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeLogSnapshotRequest:
			if !s.enqueue(ctx, client, s.snapshotEnvelope(s.src.List())) {
				s.trySendError(ctx, client, "backpressure", "snapshot dropped")
			}
		default:
			s.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	<-forwardDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	s.log.Info("ws.logstream.close", "conn_id", connID, "user_id", userID, "dropped", client.Dropped())
}

func (s *LogStream) read(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	if s.cfg.ReadIdleTimeout <= 0 {
		return readEnvelope(ctx, conn)
	}
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadIdleTimeout)
	defer cancel()
	return readEnvelope(readCtx, conn)
}

// ---- send helpers ----

func (s *LogStream) snapshotEnvelope(entries []auditlog.Entry) v1.Envelope {
	out := make([]v1.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, toWireEntry(e))
	}
	p, _ := json.Marshal(v1.SnapshotPayload{Entries: out})
	return newEnvelope(v1.TypeLogSnapshot, p, s.now())
}

func (s *LogStream) entryEnvelope(e auditlog.Entry) v1.Envelope {
	p, _ := json.Marshal(toWireEntry(e))
	return newEnvelope(v1.TypeLogEntry, p, s.now())
}

func (s *LogStream) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = s.enqueue(ctx, client, newEnvelope(v1.TypeError, p, s.now()))
}

// sendErrorNow writes a terminal error directly, ahead of the queue, so it
// is not lost to the shutdown that follows.
func (s *LogStream) sendErrorNow(ctx context.Context, conn *websocket.Conn, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = writeEnvelope(ctx, conn, newEnvelope(v1.TypeError, p, s.now()), s.cfg.WriteTimeout)
}

func (s *LogStream) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

func toWireEntry(e auditlog.Entry) v1.Entry {
	return v1.Entry{
		ID:      e.ID,
		Level:   string(e.Level),
		Message: e.Message,
		Context: v1.EntryContext{
			UserID: e.Context.UserID,
			Email:  e.Context.Email,
			Error:  e.Context.Error,
			IP:     e.Context.IP,
		},
		Timestamp: e.Timestamp,
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, _ := ids.NewULID(ts)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}

	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	if strings.Contains(err.Error(), "unexpected end of JSON input") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

// enforceOrigin applies the same allow-list rules as the CORS middleware:
// exact origin, "*" for any, or "scheme://host:*" for any port.
func (s *LogStream) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if s.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}
	if originAllowed(origin, s.cfg.AllowedOrigins) {
		return nil
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originAllowed(origin string, allowed []string) bool {
	origin = strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
	for _, a := range allowed {
		a = strings.TrimRight(strings.ToLower(strings.TrimSpace(a)), "/")
		switch {
		case a == "":
			continue
		case a == "*":
			return true
		case a == origin:
			return true
		case strings.HasSuffix(a, ":*"):
			prefix := strings.TrimSuffix(a, "*")
			port, ok := strings.CutPrefix(origin, prefix)
			if ok && port != "" && isDigits(port) {
				return true
			}
		}
	}
	return false
}

// originPatternsFor returns the request origin's host:port for
// websocket.AcceptOptions. Same-host requests need no pattern.
func originPatternsFor(r *http.Request) []string {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
