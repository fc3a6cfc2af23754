package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// User is the principal returned by login and /me.
type User struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	Role        string `json:"role"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	KitchenID   string `json:"kitchenId,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

type tokensData struct {
	Tokens
	User *User `json:"user,omitempty"`
}

// Session talks to the auth endpoints and authorizes other requests.
type Session struct {
	base  string
	http  *http.Client
	store TokenStore
	log   *slog.Logger
	sf    singleflight.Group
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHTTPClient overrides http.DefaultClient.
func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) {
		if c != nil {
			s.http = c
		}
	}
}

// WithLogger sets the logger used for refresh diagnostics.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSession returns a Session for the API at baseURL.
func NewSession(baseURL string, store TokenStore, opts ...SessionOption) *Session {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	s := &Session{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{Timeout: 30 * time.Second},
		store: store,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseURL returns the API root this session talks to.
func (s *Session) BaseURL() string { return s.base }

// Login exchanges credentials for a token pair and stores it.
func (s *Session) Login(ctx context.Context, email, password, tenantSlug string) (User, error) {
	var out tokensData
	err := s.postJSON(ctx, "/auth/login", "", map[string]string{
		"email":      email,
		"password":   password,
		"tenantSlug": tenantSlug,
	}, &out)
	if err != nil {
		return User{}, err
	}
	if err := s.store.Save(ctx, out.Tokens); err != nil {
		return User{}, err
	}
	var u User
	if out.User != nil {
		u = *out.User
	}
	return u, nil
}

// Logout revokes the refresh token server-side and always clears the store.
func (s *Session) Logout(ctx context.Context) error {
	t, err := s.store.Load(ctx)
	if errors.Is(err, ErrNoTokens) {
		return nil
	}
	if err != nil {
		return err
	}
	postErr := s.postJSON(ctx, "/auth/logout", "", map[string]string{"refreshToken": t.RefreshToken}, nil)
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	return postErr
}

// AccessToken returns the current access token.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	t, err := s.store.Load(ctx)
	if errors.Is(err, ErrNoTokens) {
		return "", ErrLoggedOut
	}
	if err != nil {
		return "", err
	}
	return t.AccessToken, nil
}

// Refresh rotates the pair. Concurrent callers share one request.
func (s *Session) Refresh(ctx context.Context) (Tokens, error) {
	return s.refreshAfter(ctx, "")
}

// refreshAfter rotates unless the stored access token already differs from
// stale, which means another caller refreshed in the meantime.
func (s *Session) refreshAfter(ctx context.Context, stale string) (Tokens, error) {
	v, err, _ := s.sf.Do("refresh", func() (any, error) {
		// Shared by every waiter; one caller's cancellation must not fail the rest.
		ctx := context.WithoutCancel(ctx)
		cur, err := s.store.Load(ctx)
		if errors.Is(err, ErrNoTokens) {
			return Tokens{}, ErrLoggedOut
		}
		if err != nil {
			return Tokens{}, err
		}
		if stale != "" && cur.AccessToken != stale {
			return cur, nil
		}

		var out tokensData
		err = s.postJSON(ctx, "/auth/refresh", "", map[string]string{"refreshToken": cur.RefreshToken}, &out)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
				s.log.Info("client.refresh.rejected", "code", apiErr.Code)
				if cerr := s.store.Clear(ctx); cerr != nil {
					return Tokens{}, cerr
				}
				return Tokens{}, ErrLoggedOut
			}
			return Tokens{}, err
		}
		if err := s.store.Save(ctx, out.Tokens); err != nil {
			return Tokens{}, err
		}
		return out.Tokens, nil
	})
	if err != nil {
		return Tokens{}, err
	}
	return v.(Tokens), nil
}

// Do sends req with the bearer token. On 401 it refreshes once and retries
// once; a second 401 is returned to the caller as is. Requests with a body
// must set GetBody (http.NewRequest does for common readers).
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	tok, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.send(req.Clone(ctx), tok)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	drain(resp)

	fresh, err := s.refreshAfter(ctx, tok)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("client: cannot replay request body")
		}
		if retry.Body, err = req.GetBody(); err != nil {
			return nil, err
		}
	}
	return s.send(retry, fresh.AccessToken)
}

func (s *Session) send(req *http.Request, token string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	return s.http.Do(req)
}

// DoJSON sends a JSON request through Do and decodes the envelope data into out.
func (s *Session) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.Do(req)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func (s *Session) postJSON(ctx context.Context, path, bearer string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s: %w", path, err)
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	defer drain(resp)

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return &APIError{Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
