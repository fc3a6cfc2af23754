package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tearoom/cmd/identity"
	"tearoom/cmd/internal/auth/authn"
	"tearoom/cmd/internal/auth/session"
)

// Handler wires HTTP auth endpoints to the session manager.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	auth     *authn.Manager
	audit    AuditLog
	limiters Limiters
	now      func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditLog overrides the default log-only audit sink.
func WithAuditLog(a AuditLog) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.audit = a
		}
	}
}

// WithLimiters installs request throttles. Nil limiters allow everything.
func WithLimiters(l Limiters) HandlerOption {
	return func(h *Handler) {
		h.limiters = l.withDefaults()
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, auth *authn.Manager, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:      log,
		cfg:      cfg,
		auth:     auth,
		audit:    NewLogAudit(log),
		limiters: Limiters{}.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes mounts the auth endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/refresh", h.handleRefresh)
	r.Post("/auth/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.auth))
		r.Post("/auth/logout-all", h.handleLogoutAll)
		r.Get("/me", h.handleMe)
	})
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		WriteDecodeError(w, err)
		return
	}

	ctx := r.Context()
	ip := ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	meta := map[string]any{"identifier": identity.NormalizeEmail(req.Email)}
	if req.TenantSlug != "" {
		meta["tenant_slug"] = req.TenantSlug
	}

	// IP and identifier throttles run before any store lookup.
	if blocked, retryAfter := h.throttled(ctx, h.limiters.LoginIP, "login:ip:"+ipKey(ip)); blocked {
		h.record(ctx, "auth.login.rate_limited", ip, ua, withMeta(meta, "limit", "ip"))
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := h.throttled(ctx, h.limiters.LoginIdentifier, "login:id:"+loginIdentifierKey(req.Email, req.TenantSlug)); blocked {
		h.record(ctx, "auth.login.rate_limited", ip, ua, withMeta(meta, "limit", "identifier"))
		writeRateLimited(w, retryAfter)
		return
	}

	res, err := h.auth.Login(ctx, authn.LoginInput{
		Identifier: req.Email,
		Secret:     req.Password,
		TenantSlug: req.TenantSlug,
	})
	if err != nil {
		switch {
		case errors.Is(err, authn.ErrInvalidCredentials):
			h.record(ctx, "auth.login.failed", ip, ua, withMeta(meta, "reason", "invalid_credentials"))
			WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		case errors.Is(err, authn.ErrTenantNotFound):
			h.record(ctx, "auth.login.failed", ip, ua, withMeta(meta, "reason", "tenant_not_found"))
			WriteError(w, http.StatusUnauthorized, "tenant_not_found", "invalid credentials")
		case errors.Is(err, authn.ErrAccountInactive):
			h.record(ctx, "auth.login.failed", ip, ua, withMeta(meta, "reason", "inactive"))
			WriteError(w, http.StatusForbidden, "account_inactive", "account is not active")
		case errors.Is(err, authn.ErrTransientFailure):
			writeUnavailable(w)
		default:
			h.log.Error("auth.login.fail", "err", err)
			WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	p := res.Principal
	h.audit.Record(ctx, AuditEntry{
		Action:      "auth.login.success",
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		LineageID:   res.Pair.LineageID,
		IP:          ip,
		UserAgent:   ua,
		Meta:        meta,
		At:          h.now(),
	})
	WriteData(w, http.StatusOK, toTokensResponse(res.Pair, &p))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		WriteDecodeError(w, err)
		return
	}

	ctx := r.Context()
	ip := ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if blocked, retryAfter := h.throttled(ctx, h.limiters.RefreshIP, "refresh:ip:"+ipKey(ip)); blocked {
		h.record(ctx, "auth.refresh.rate_limited", ip, ua, nil)
		writeRateLimited(w, retryAfter)
		return
	}

	res, err := h.auth.Refresh(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		var reuse session.ReuseError
		switch {
		case errors.As(err, &reuse):
			h.audit.Record(ctx, AuditEntry{
				Action:      "auth.refresh.reuse_detected",
				PrincipalID: reuse.PrincipalID,
				TenantID:    reuse.TenantID,
				LineageID:   reuse.LineageID,
				IP:          ip,
				UserAgent:   ua,
				At:          h.now(),
			})
			WriteError(w, http.StatusUnauthorized, "refresh_token_revoked", "refresh token revoked")
		case errors.Is(err, session.ErrRefreshTokenRevoked):
			WriteError(w, http.StatusUnauthorized, "refresh_token_revoked", "refresh token revoked")
		case errors.Is(err, session.ErrRefreshTokenExpired):
			WriteError(w, http.StatusUnauthorized, "refresh_token_expired", "refresh token expired")
		case errors.Is(err, session.ErrRefreshTokenInvalid):
			WriteError(w, http.StatusUnauthorized, "refresh_token_invalid", "refresh token invalid")
		case errors.Is(err, authn.ErrAccountInactive):
			WriteError(w, http.StatusUnauthorized, "account_inactive", "account is not active")
		case errors.Is(err, authn.ErrTransientFailure):
			writeUnavailable(w)
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.audit.Record(ctx, AuditEntry{
		Action:      "auth.refresh.success",
		PrincipalID: res.Principal.ID,
		TenantID:    res.Principal.TenantID,
		LineageID:   res.Pair.LineageID,
		IP:          ip,
		UserAgent:   ua,
		At:          h.now(),
	})
	WriteData(w, http.StatusOK, toTokensResponse(res.Pair, nil))
}

// handleLogout always answers 200 so callers cannot learn token state from it.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.log.Debug("auth.logout.decode.fail", "err", err)
	}

	ctx := r.Context()
	if tok := strings.TrimSpace(req.RefreshToken); tok != "" {
		if err := h.auth.Logout(ctx, tok); err != nil {
			h.log.Warn("auth.logout.fail", "err", err)
		} else {
			h.record(ctx, "auth.logout", ClientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), nil)
		}
	}
	WriteData(w, http.StatusOK, nil)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	ctx := r.Context()
	if err := h.auth.LogoutAll(ctx, claims.PrincipalID); err != nil {
		if errors.Is(err, authn.ErrTransientFailure) {
			writeUnavailable(w)
			return
		}
		h.log.Error("auth.logout_all.fail", "err", err)
		WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit.Record(ctx, AuditEntry{
		Action:      "auth.logout_all",
		PrincipalID: claims.PrincipalID,
		TenantID:    claims.TenantID,
		IP:          ClientIP(r, h.cfg.TrustProxy),
		UserAgent:   strings.TrimSpace(r.UserAgent()),
		At:          h.now(),
	})
	WriteData(w, http.StatusOK, nil)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	p, err := h.auth.Principal(r.Context(), claims.PrincipalID)
	if err != nil {
		switch {
		case identity.IsNotFound(err):
			WriteError(w, http.StatusUnauthorized, "not_found", "principal not found")
		case errors.Is(err, authn.ErrTransientFailure):
			writeUnavailable(w)
		default:
			h.log.Error("auth.me.fail", "err", err)
			WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	WriteData(w, http.StatusOK, meResponse{User: toUserResponse(p)})
}

// ---- helpers ----

func (h *Handler) record(ctx context.Context, action string, ip net.IP, ua string, meta map[string]any) {
	h.audit.Record(ctx, AuditEntry{Action: action, IP: ip, UserAgent: ua, Meta: meta, At: h.now()})
}

func withMeta(base map[string]any, k string, v any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for bk, bv := range base {
		out[bk] = bv
	}
	out[k] = v
	return out
}

// writeUnavailable tells clients to retry without discarding credentials.
func writeUnavailable(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	WriteError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "please retry later")
}
