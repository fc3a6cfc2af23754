package orders

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"tearoom/cmd/internal/auth/session"
)

type tokenAuth map[string]session.Subject

func (a tokenAuth) Authenticate(tok string) (session.AccessClaims, error) {
	sub, ok := a[tok]
	if !ok {
		return session.AccessClaims{}, session.ErrInvalidToken
	}
	return session.AccessClaims{Subject: sub, LineageID: "lin-" + tok}, nil
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	svc := NewService(nil, NewMemoryStore(), &recordingBus{})
	h := NewHandler(nil, svc, tokenAuth{
		"room":    roomUser,
		"kitchen": kitchenK1,
		"other":   kitchenK2,
		"admin":   adminA,
	})
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, apiResponse) {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func placeBody() map[string]any {
	return map[string]any{
		"kitchenId": "k1",
		"items":     []map[string]any{{"name": "genmaicha", "quantity": 1, "note": "no sugar"}},
	}
}

func TestHTTP_PlaceAndAdvance(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	status, res := do(t, srv, http.MethodPost, "/orders", "room", placeBody())
	require.Equal(t, http.StatusCreated, status)
	require.True(t, res.Success)

	var created orderResponse
	require.NoError(t, json.Unmarshal(res.Data, &created))
	require.Equal(t, "pending", created.Status)
	require.Equal(t, "r1", created.RoomID)

	status, res = do(t, srv, http.MethodPatch, "/orders/"+created.ID+"/status", "kitchen", map[string]string{"status": "accepted"})
	require.Equal(t, http.StatusOK, status)
	var accepted orderResponse
	require.NoError(t, json.Unmarshal(res.Data, &accepted))
	require.Equal(t, "accepted", accepted.Status)

	status, res = do(t, srv, http.MethodPatch, "/orders/"+created.ID+"/status", "kitchen", map[string]string{"status": "delivered"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "invalid_transition", res.Code)

	status, res = do(t, srv, http.MethodGet, "/orders/"+created.ID, "other", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "not_found", res.Code)

	status, res = do(t, srv, http.MethodGet, "/orders", "admin", nil)
	require.Equal(t, http.StatusOK, status)
	var list []orderResponse
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list, 1)
}

func TestHTTP_Errors(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	status, res := do(t, srv, http.MethodGet, "/orders", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthorized", res.Code)

	status, res = do(t, srv, http.MethodGet, "/orders", "bogus", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid_token", res.Code)

	status, res = do(t, srv, http.MethodPost, "/orders", "kitchen", placeBody())
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "forbidden", res.Code)

	status, res = do(t, srv, http.MethodPost, "/orders", "room", map[string]any{"kitchenId": "k1", "items": []any{}})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "validation_failed", res.Code)

	status, res = do(t, srv, http.MethodPatch, "/orders/x/status", "kitchen", map[string]string{"status": "pending"})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "validation_failed", res.Code)

	status, res = do(t, srv, http.MethodGet, "/orders?limit=0", "admin", nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_request", res.Code)

	status, res = do(t, srv, http.MethodGet, "/orders/missing", "admin", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "not_found", res.Code)
}
