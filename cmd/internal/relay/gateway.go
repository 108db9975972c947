package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	v1 "relay/shared/contracts/relay/v1"
)

const (
	heartbeatInterval   = 25 * time.Second
	heartbeatTimeout    = 5 * time.Second
	maxPingFailures     = 3
	closeGrace          = 1 * time.Second
	defaultOriginsValue = "http://localhost,http://127.0.0.1"
)

// GatewayConfig carries the transport knobs the app layer resolves from
// configuration.
type GatewayConfig struct {
	// OriginRequired rejects upgrade requests without an Origin header.
	OriginRequired bool
	// AllowedOrigins is the origin allowlist; "*" disables the check.
	AllowedOrigins []string
	// DevInsecure skips TLS verification in websocket.Accept (dev only).
	DevInsecure bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int
}

// DefaultGatewayConfig returns secure defaults: origin required, localhost
// only.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:  true,
		AllowedOrigins:  strings.Split(defaultOriginsValue, ","),
		WriteTimeout:    defaultWriteTimeout,
		ReadIdleTimeout: defaultReadIdle,
		SendQueueSize:   defaultSendQueueSize,
	}
}

// Gateway is the websocket entrypoint. It owns the connection lifecycle:
// registry insert on accept, in-order dispatch while the socket is open, and
// exactly one registry removal on the way out, whatever the exit cause.
type Gateway struct {
	log        *slog.Logger
	registry   *Registry
	dispatcher *Dispatcher
	cfg        GatewayConfig

	originPatterns []string
}

// NewGateway constructs a gateway.
func NewGateway(log *slog.Logger, registry *Registry, dispatcher *Dispatcher, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SendQueueSize < minSendQueueSize {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = defaultReadIdle
	}

	return &Gateway{
		log:        log,
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
		// websocket.Accept matches OriginPatterns against the origin host;
		// derive them from the allowlist so the two layers agree.
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the connection lifecycle to
// completion.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	connID := uuid.NewString()
	client := NewClient(connID, g.cfg.SendQueueSize)
	sess := NewSession()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// shutdown is the single teardown path for every exit cause; it is
	// idempotent and does NOT close client.Send (broadcast safety). The
	// session is read here so identity-keyed state is only cleared for
	// connections that actually authenticated.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			userID, authed := sess.UserID()
			g.registry.Remove(connID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()

			g.log.Info("ws.closed",
				"conn_id", connID,
				"reason", reason,
				"authenticated", authed,
				"user_id", userID,
			)
		})
	}

	g.registry.Insert(client)
	g.log.Info("ws.open", "conn_id", connID, "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case payload := <-client.Send:
				if err := g.writeText(ctx, conn, payload); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		mt, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "idle timeout")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		// Only text frames carry the protocol. Anything else is a protocol
		// violation and terminates the connection rather than being ignored.
		if mt != websocket.MessageText {
			g.log.Warn("ws.protocol.bad_frame_type", "conn_id", connID, "type", int(mt))
			shutdown(websocket.StatusUnsupportedData, "unexpected frame type")
			break readLoop
		}

		if err := g.handleFrame(ctx, client, sess, data); err != nil {
			shutdown(websocket.StatusInternalError, "dispatch failed")
			break readLoop
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// handleFrame decodes and dispatches one inbound frame. A non-nil return
// means the connection must terminate; recoverable conditions (decode
// errors, auth failures, bad chat payloads) are logged and swallowed so the
// connection stays open.
func (g *Gateway) handleFrame(ctx context.Context, client *Client, sess *Session, data []byte) error {
	in, err := v1.Decode(data)
	if err != nil {
		g.log.Warn("ws.decode.fail", "conn_id", client.ConnID, "err", err)
		return nil
	}

	err = g.dispatcher.Dispatch(ctx, client, sess, in)
	switch {
	case err == nil:
		return nil
	case IsAuthError(err):
		g.log.Info("ws.auth.fail", "conn_id", client.ConnID, "err", err)
		return nil
	case errors.Is(err, ErrInvalidChat):
		g.log.Info("ws.chat.reject", "conn_id", client.ConnID, "err", err)
		return nil
	default:
		// Store or context failure: local to this connection, never
		// propagated to the others.
		g.log.Error("ws.dispatch.fail", "conn_id", client.ConnID, "err", err)
		return err
	}
}

func (g *Gateway) writeText(parent context.Context, conn *websocket.Conn, payload string) error {
	ctx, cancel := context.WithTimeout(parent, g.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(payload))
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
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
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	host := originHost(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			// Discouraged, but honored when explicitly configured.
			return nil
		case a == origin:
			return nil
		case host != "" && host == originHost(a):
			return nil
		}
	}
	return errors.New("origin not allowed: " + origin)
}

// originHost extracts the lowercase host from an origin value, accepting both
// URL and host[:port] forms.
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if h := originHost(a); h != "" && h != "*" {
			seen[h] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
