package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "tearoom/shared/contracts/realtime/v1"
)

// StatusTokenExpired is the close code the server uses when the access
// token behind a connection expires.
const StatusTokenExpired = websocket.StatusCode(v1.CloseTokenExpired)

// ErrGaveUp is returned by Run after MaxAttempts consecutive failed connects.
var ErrGaveUp = errors.New("client: realtime reconnect attempts exhausted")

var errUnauthorizedDial = errors.New("client: realtime dial: unauthorized")

// State is the connection lifecycle.
type State uint8

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RealtimeConfig tunes a Realtime connection.
type RealtimeConfig struct {
	// URL is the websocket endpoint, e.g. ws://host/ws.
	URL    string
	Origin string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts bounds consecutive failed connects. Zero means 10.
	MaxAttempts int

	// OnState observes every transition.
	OnState func(from, to State)
	// OnEnvelope receives every server frame except hello. It runs on the
	// read goroutine and must not block.
	OnEnvelope func(v1.Envelope)

	Logger *slog.Logger
}

func (c RealtimeConfig) withDefaults() RealtimeConfig {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Realtime keeps one websocket open on behalf of a Session. Membership is
// not kept by the server, so every desired channel is re-joined on each
// successful connect.
type Realtime struct {
	cfg  RealtimeConfig
	sess *Session
	log  *slog.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	desired map[string]v1.RoomPayload
}

// NewRealtime binds a connection to sess.
func NewRealtime(sess *Session, cfg RealtimeConfig) *Realtime {
	cfg = cfg.withDefaults()
	return &Realtime{
		cfg:     cfg,
		sess:    sess,
		log:     cfg.Logger,
		state:   StateConnecting,
		desired: map[string]v1.RoomPayload{},
	}
}

// State returns the current state.
func (r *Realtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Realtime) setState(to State) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()

	if from != to && r.cfg.OnState != nil {
		r.cfg.OnState(from, to)
	}
}

func roomKey(p v1.RoomPayload) string { return p.Scope + "|" + p.TenantID + "|" + p.ID }

// Join records p as desired and sends join-room when connected.
func (r *Realtime) Join(ctx context.Context, p v1.RoomPayload) error {
	r.mu.Lock()
	r.desired[roomKey(p)] = p
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	return r.send(ctx, conn, v1.TypeJoinRoom, p)
}

// Leave forgets p and sends leave-room when connected.
func (r *Realtime) Leave(ctx context.Context, p v1.RoomPayload) error {
	r.mu.Lock()
	delete(r.desired, roomKey(p))
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	return r.send(ctx, conn, v1.TypeLeaveRoom, p)
}

func (r *Realtime) send(ctx context.Context, conn *websocket.Conn, typ string, p v1.RoomPayload) error {
	env, err := v1.NewEnvelope(typ, "", time.Now().UTC(), p)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, raw)
}

// Run connects and keeps reconnecting until ctx is done, the session is
// logged out, or MaxAttempts consecutive connects fail.
func (r *Realtime) Run(ctx context.Context) error {
	defer r.setState(StateClosed)

	failures := 0
	for {
		needRefresh, opened, err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrLoggedOut) {
			return err
		}
		if opened {
			failures = 0
		} else {
			failures++
			if failures >= r.cfg.MaxAttempts {
				r.log.Warn("client.realtime.give_up", "attempts", failures, "err", err)
				return fmt.Errorf("%w: %v", ErrGaveUp, err)
			}
		}
		r.setState(StateReconnecting)

		if needRefresh {
			if _, err := r.sess.Refresh(ctx); err != nil {
				if errors.Is(err, ErrLoggedOut) {
					return err
				}
				r.log.Warn("client.realtime.refresh.fail", "err", err)
			}
		}

		delay := r.backoff(failures)
		r.log.Info("client.realtime.reconnect", "in", delay, "failures", failures, "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// backoff is exponential with equal jitter: half fixed, half random.
func (r *Realtime) backoff(failures int) time.Duration {
	d := r.cfg.InitialBackoff
	for i := 1; i < failures && d < r.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > r.cfg.MaxBackoff {
		d = r.cfg.MaxBackoff
	}
	half := d / 2
	return half + rand.N(half+1)
}

// session runs one connection. It reports whether the token should be
// refreshed before the next attempt and whether the connection opened.
func (r *Realtime) session(ctx context.Context) (needRefresh, opened bool, err error) {
	tok, err := r.sess.AccessToken(ctx)
	if err != nil {
		return false, false, err
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	if r.cfg.Origin != "" {
		h.Set("Origin", r.cfg.Origin)
	}
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, resp, err := websocket.Dial(dctx, r.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return true, false, errUnauthorizedDial
		}
		return false, false, fmt.Errorf("client: realtime dial: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()

	hello, err := readEnvelope(ctx, conn)
	if err != nil {
		return needsRefresh(err), false, err
	}
	if hello.Type != v1.TypeHello {
		return false, false, fmt.Errorf("client: expected hello, got %q", hello.Type)
	}

	r.mu.Lock()
	r.conn = conn
	joins := make([]v1.RoomPayload, 0, len(r.desired))
	for _, p := range r.desired {
		joins = append(joins, p)
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
	}()

	for _, p := range joins {
		if err := r.send(ctx, conn, v1.TypeJoinRoom, p); err != nil {
			return false, true, err
		}
	}
	r.setState(StateOpen)

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "bye")
			}
			return needsRefresh(err), true, err
		}
		if r.cfg.OnEnvelope != nil {
			r.cfg.OnEnvelope(env)
		}
	}
}

func needsRefresh(err error) bool {
	return websocket.CloseStatus(err) == StatusTokenExpired
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("client: bad frame: %w", err)
	}
	return env, nil
}
