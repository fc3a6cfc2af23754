package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeAPI issues numbered token pairs and accepts only the newest access token.
type fakeAPI struct {
	mu        sync.Mutex
	gen       int
	refreshes atomic.Int32
	// refreshStatus, when set, fails refresh with that status.
	refreshStatus int
	// refreshDelay widens the window for concurrent 401s.
	refreshDelay time.Duration
}

func (f *fakeAPI) current() (string, string) {
	n := string(rune('0' + f.gen))
	return "access-" + n, "refresh-" + n
}

func writeEnvelope(w http.ResponseWriter, status int, data any, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": status < 300,
		"data":    data,
		"code":    code,
	})
}

func (f *fakeAPI) tokens() map[string]any {
	a, r := f.current()
	return map[string]any{
		"tokenType":        "Bearer",
		"accessToken":      a,
		"accessExpiresAt":  time.Now().Add(time.Minute),
		"refreshToken":     r,
		"refreshExpiresAt": time.Now().Add(time.Hour),
		"user":             map[string]any{"id": "p1", "role": "kitchen", "email": "k@example.com", "kitchenId": "k1"},
	}
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.gen = 1
		writeEnvelope(w, http.StatusOK, f.tokens(), "")
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshes.Add(1)
		time.Sleep(f.refreshDelay)

		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.refreshStatus != 0 {
			writeEnvelope(w, f.refreshStatus, nil, "refresh_token_revoked")
			return
		}
		if _, want := f.current(); body.RefreshToken != want {
			writeEnvelope(w, http.StatusUnauthorized, nil, "refresh_token_revoked")
			return
		}
		f.gen++
		writeEnvelope(w, http.StatusOK, f.tokens(), "")
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusOK, nil, "")
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		want, _ := f.current()
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+want {
			writeEnvelope(w, http.StatusUnauthorized, nil, "invalid_token")
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"user": map[string]any{"id": "p1", "role": "kitchen"}}, "")
	})
	return mux
}

func newFakeSession(t *testing.T, f *fakeAPI) (*Session, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewSession(srv.URL, NewMemoryTokenStore(), WithHTTPClient(srv.Client())), srv
}

// expire makes the server reject the stored access token.
func (f *fakeAPI) expire(s *Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctx := context.Background()
	t, _ := s.store.Load(ctx)
	t.AccessToken = "stale"
	_ = s.store.Save(ctx, t)
}

func TestSession_LoginStoresPair(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{}
	s, _ := newFakeSession(t, f)
	u, err := s.Login(context.Background(), "k@example.com", "pw", "tea-house")
	require.NoError(t, err)
	require.Equal(t, "k1", u.KitchenID)

	tok, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", tok)
}

func TestSession_RefreshOnceOn401(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{}
	s, _ := newFakeSession(t, f)
	ctx := context.Background()
	_, err := s.Login(ctx, "k@example.com", "pw", "")
	require.NoError(t, err)
	f.expire(s)

	u, err := s.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "p1", u.ID)
	require.Equal(t, int32(1), f.refreshes.Load())

	tok, _ := s.AccessToken(ctx)
	require.Equal(t, "access-2", tok)
}

func TestSession_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{refreshDelay: 50 * time.Millisecond}
	s, _ := newFakeSession(t, f)
	ctx := context.Background()
	_, err := s.Login(ctx, "k@example.com", "pw", "")
	require.NoError(t, err)
	f.expire(s)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Me(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.refreshes.Load())
}

func TestSession_RejectedRefreshLogsOut(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{refreshStatus: http.StatusUnauthorized}
	s, _ := newFakeSession(t, f)
	ctx := context.Background()
	_, err := s.Login(ctx, "k@example.com", "pw", "")
	require.NoError(t, err)
	f.expire(s)

	_, err = s.Me(ctx)
	require.ErrorIs(t, err, ErrLoggedOut)
	_, err = s.store.Load(ctx)
	require.ErrorIs(t, err, ErrNoTokens)

	_, err = s.Me(ctx)
	require.ErrorIs(t, err, ErrLoggedOut)
	require.Equal(t, int32(1), f.refreshes.Load())
}

func TestSession_TransientRefreshKeepsCredentials(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{refreshStatus: http.StatusServiceUnavailable}
	s, _ := newFakeSession(t, f)
	ctx := context.Background()
	_, err := s.Login(ctx, "k@example.com", "pw", "")
	require.NoError(t, err)
	f.expire(s)

	_, err = s.Me(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
	require.False(t, errors.Is(err, ErrLoggedOut))

	tok, err := s.store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "refresh-1", tok.RefreshToken)
}

func TestSession_LogoutClearsStore(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{}
	s, _ := newFakeSession(t, f)
	ctx := context.Background()
	_, err := s.Login(ctx, "k@example.com", "pw", "")
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx))
	_, err = s.AccessToken(ctx)
	require.ErrorIs(t, err, ErrLoggedOut)
	require.NoError(t, s.Logout(ctx))
}
