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
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tearoom/cmd/internal/auth/session"
	"tearoom/cmd/internal/ratelimit"
	v1 "tearoom/shared/contracts/realtime/v1"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
)

// Authenticator verifies access tokens. It must not touch any store.
type Authenticator interface {
	Authenticate(accessToken string) (session.AccessClaims, error)
}

// WSGateway is the websocket entrypoint for tearoom realtime.
//
// It authenticates before upgrading, enforces origin policy and subprotocol
// selection, applies rate limits and heartbeats, and routes join/leave
// requests to the Hub. Sockets are closed with 4001 when the access token
// that admitted them expires.
type WSGateway struct {
	log  *slog.Logger
	hub  *Hub
	auth Authenticator
	obs  Observer
	cfg  Config

	policy Policy

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	connLimiter ratelimit.Limiter
	now         func() time.Time
}

// GatewayOption configures optional gateway dependencies.
type GatewayOption func(*WSGateway)

// WithConnectLimiter throttles handshakes per remote IP.
func WithConnectLimiter(l ratelimit.Limiter) GatewayOption {
	return func(g *WSGateway) {
		if l != nil {
			g.connLimiter = l
		}
	}
}

// WithGatewayClock overrides time.Now.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *WSGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewWSGateway constructs a gateway. The hub's observer is reused.
func NewWSGateway(log *slog.Logger, cfg Config, hub *Hub, auth Authenticator, opts ...GatewayOption) (*WSGateway, error) {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil || auth == nil {
		return nil, errors.New("realtime: gateway requires hub and authenticator")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, _ := ParsePolicy(cfg.Backpressure)

	g := &WSGateway{
		log:    log,
		hub:    hub,
		auth:   auth,
		obs:    hub.obs,
		cfg:    cfg,
		policy: policy,

		// IMPORTANT:
		// websocket.Accept enforces its own origin policy:
		// - same-host is ok
		// - cross-origin requires OriginPatterns (host patterns)
		// We derive these patterns from allowed origins so the two layers agree.
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),

		connLimiter: ratelimit.Nop{},
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates, upgrades and runs one realtime connection.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.reject(w, r, http.StatusForbidden, "origin", err)
		return
	}

	if res, err := g.connLimiter.Allow(r.Context(), "ws:"+remoteHost(r)); err != nil {
		g.log.Warn("ws.ratelimit.fail", "err", err)
	} else if !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		g.reject(w, r, http.StatusTooManyRequests, "rate_limited", nil)
		return
	}

	token := accessTokenFromRequest(r, g.cfg.QueryTokenEnabled)
	if token == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tearoom"`)
		g.reject(w, r, http.StatusUnauthorized, "missing_token", nil)
		return
	}
	claims, err := g.auth.Authenticate(token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tearoom", error="invalid_token"`)
		g.reject(w, r, http.StatusUnauthorized, "invalid_token", err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.obs.WSRejected("accept")
		g.log.Info("ws.accept.fail", "err", err)
		return
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.obs.WSRejected("subprotocol")
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusPolicyViolation, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	g.serve(r.Context(), conn, claims)
}

func (g *WSGateway) reject(w http.ResponseWriter, r *http.Request, status int, reason string, err error) {
	g.obs.WSRejected(reason)
	attrs := []any{"reason", reason, "status", status, "remote", r.RemoteAddr, "origin", r.Header.Get("Origin")}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	g.log.Info("ws.reject", attrs...)
	http.Error(w, http.StatusText(status), status)
}

func (g *WSGateway) serve(parent context.Context, conn *websocket.Conn, claims session.AccessClaims) {
	now := g.now()
	connID, err := NewConnectionID(now)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(connID, claims.Subject, g.cfg.SendQueue, g.policy)
	log := g.log.With("conn_id", connID, "principal_id", claims.PrincipalID, "tenant_id", claims.TenantID)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g.obs.WSOpened()
	log.Info("ws.open", "role", claims.Role.String())

	var closeOnce sync.Once

	// shutdown is idempotent. It removes every membership before closing
	// the socket so publishers stop targeting the connection first.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close(code, reason)
			g.hub.Disconnect(client)
			code, reason = client.CloseStatus()
			_ = conn.Close(code, reason)
			cancel()
			g.obs.WSClosed(closeLabel(code))
			log.Info("ws.close", "code", int(code), "reason", reason)
		})
	}

	hello, _ := v1.NewEnvelope(v1.TypeHello, newEnvelopeID(now), now, v1.HelloPayload{
		ConnectionID:     connID,
		PrincipalID:      claims.PrincipalID,
		TenantID:         claims.TenantID,
		Role:             claims.Role.String(),
		TokenExpiresAt:   claims.ExpiresAt,
		HeartbeatSeconds: int(g.cfg.HeartbeatInterval / time.Second),
	})
	client.Enqueue(hello)

	expiry := time.AfterFunc(claims.ExpiresAt.Sub(now), func() {
		shutdown(websocket.StatusCode(v1.CloseTokenExpired), "token expired")
	})
	defer expiry.Stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				shutdown(client.CloseStatus())
				return
			case env := <-client.Send():
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusInternalError, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
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

	budget := newFrameBudget(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(client.CloseStatus())
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusGoingAway, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusInternalError, "read failed")
				break readLoop
			}
		}

		if ok, retry := budget.charge(g.now(), env.Type); !ok {
			log.Info("ws.rate_limited", "type", env.Type, "retry_after", retry)
			g.sendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.sendError(client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeJoinRoom:
			g.onJoin(log, client, env)
		case v1.TypeLeaveRoom:
			g.onLeave(client, env)
		default:
			g.sendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *WSGateway) onJoin(log *slog.Logger, client *Client, env v1.Envelope) {
	key, err := channelFromEnvelope(client.Subject, env)
	if err != nil {
		g.sendError(client, "invalid_channel", err.Error())
		return
	}

	if err := g.hub.Join(client, key); err != nil {
		switch {
		case errors.Is(err, ErrForbidden):
			log.Info("ws.join.forbidden", "channel", key.String())
			g.sendError(client, "forbidden", "channel not allowed")
		case errors.Is(err, ErrInvalidChannel):
			g.sendError(client, "invalid_channel", err.Error())
		default:
			g.sendError(client, "join_failed", err.Error())
		}
		return
	}
	g.sendRoom(client, v1.TypeJoined, key)
}

func (g *WSGateway) onLeave(client *Client, env v1.Envelope) {
	key, err := channelFromEnvelope(client.Subject, env)
	if err != nil {
		g.sendError(client, "invalid_channel", err.Error())
		return
	}
	g.hub.Leave(client, key)
	g.sendRoom(client, v1.TypeLeft, key)
}

func channelFromEnvelope(sub session.Subject, env v1.Envelope) (ChannelKey, error) {
	var p v1.RoomPayload
	if err := env.Decode(&p); err != nil {
		return ChannelKey{}, fmt.Errorf("%w: invalid payload", ErrInvalidChannel)
	}
	scope, err := ParseScope(p.Scope)
	if err != nil {
		return ChannelKey{}, err
	}
	tenantID := strings.TrimSpace(p.TenantID)
	if tenantID == "" {
		tenantID = sub.TenantID
	}
	key := ChannelKey{TenantID: tenantID, Scope: scope, ID: strings.TrimSpace(p.ID)}
	if err := key.Validate(); err != nil {
		return ChannelKey{}, err
	}
	return key, nil
}

// ---- send helpers ----

func (g *WSGateway) sendRoom(client *Client, typ string, key ChannelKey) {
	now := g.now()
	env, err := v1.NewEnvelope(typ, newEnvelopeID(now), now, v1.RoomPayload{
		Scope:    key.Scope.String(),
		ID:       key.ID,
		TenantID: key.TenantID,
		Channel:  key.String(),
	})
	if err != nil {
		return
	}
	client.Enqueue(env)
}

func (g *WSGateway) sendError(client *Client, code, msg string) {
	now := g.now()
	env, err := v1.NewEnvelope(v1.TypeError, newEnvelopeID(now), now, v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	client.Enqueue(env)
}

// ---- envelope IO ----

var errBadJSON = errors.New("bad json")

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
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
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
	if errors.Is(err, errBadJSON) {
		return readErrBadJSON
	}
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

func closeLabel(code websocket.StatusCode) string {
	switch int(code) {
	case int(websocket.StatusNormalClosure):
		return "normal"
	case int(websocket.StatusPolicyViolation):
		return "policy"
	case int(websocket.StatusGoingAway):
		return "going_away"
	case v1.CloseTokenExpired:
		return "token_expired"
	default:
		return "error"
	}
}

// ---- request helpers ----

func accessTokenFromRequest(r *http.Request, allowQuery bool) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw != "" {
		scheme, tok, ok := strings.Cut(raw, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
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

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allowlist into websocket.Accept host patterns.
// Hosts are matched with filepath.Match, so a port-qualified pattern is
// added for every host as well.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			if strings.TrimSpace(a) == "*" {
				seen["*"] = struct{}{}
			}
			continue
		}
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
