package authn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"tearoom/cmd/identity"
	"tearoom/cmd/internal/auth/session"
)

// Observer receives one call per finished operation. Outcome is a short
// label such as "success" or "invalid_credentials".
type Observer interface {
	AuthEvent(op, outcome string)
}

type nopObserver struct{}

func (nopObserver) AuthEvent(string, string) {}

// LoginInput carries the credentials submitted by a client.
type LoginInput struct {
	Identifier string
	Secret     string
	// TenantSlug is optional; without it the identifier must be unique across tenants.
	TenantSlug string
}

// Result is what a successful Login or Refresh hands back to the caller.
type Result struct {
	Principal identity.Principal
	Pair      session.Pair
}

// Manager orchestrates identity lookups and the token service.
type Manager struct {
	log      *slog.Logger
	cfg      Config
	store    identity.Store
	creds    *identity.Credentials
	sessions *session.Service
	obs      Observer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures optional Manager dependencies.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.obs = o
		}
	}
}

// NewManager constructs a Manager.
func NewManager(log *slog.Logger, cfg Config, store identity.Store, creds *identity.Credentials, sessions *session.Service, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:      log,
		cfg:      cfg,
		store:    store,
		creds:    creds,
		sessions: sessions,
		obs:      nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.cfg.RetryAttempts < 1 {
		m.cfg.RetryAttempts = 1
	}
	return m
}

// Sessions exposes the token service.
func (m *Manager) Sessions() *session.Service { return m.sessions }

// Login authenticates a principal and issues a fresh credential pair.
func (m *Manager) Login(ctx context.Context, in LoginInput) (Result, error) {
	email := identity.NormalizeEmail(in.Identifier)
	secret := in.Secret
	slug := identity.NormalizeSlug(in.TenantSlug)

	if email == "" || strings.TrimSpace(secret) == "" {
		m.obs.AuthEvent("login", "invalid_credentials")
		return Result{}, ErrInvalidCredentials
	}

	p, found, err := m.lookupForLogin(ctx, slug, email)
	if err != nil {
		m.obs.AuthEvent("login", outcome(err))
		if errors.Is(err, ErrTenantNotFound) {
			m.log.Info("auth.login.fail", "reason", "tenant_not_found", "tenant_slug", slug)
		}
		return Result{}, err
	}
	if !found {
		m.creds.VerifyDummy(secret)
		m.obs.AuthEvent("login", "invalid_credentials")
		m.log.Info("auth.login.fail", "reason", "not_found", "tenant_slug", slug)
		return Result{}, ErrInvalidCredentials
	}

	ok, err := m.creds.Verify(p.PasswordHash, secret)
	if err != nil || !ok {
		m.obs.AuthEvent("login", "invalid_credentials")
		m.log.Info("auth.login.fail", "reason", "bad_secret", "principal_id", p.ID)
		return Result{}, ErrInvalidCredentials
	}
	if !p.CanLogin() {
		m.obs.AuthEvent("login", "inactive")
		m.log.Info("auth.login.fail", "reason", "inactive", "principal_id", p.ID,
			"active", p.Active, "email_verified", p.EmailVerified)
		return Result{}, ErrAccountInactive
	}
	if p.TenantID != "" {
		active, err := m.tenantActive(ctx, p.TenantID)
		if err != nil {
			m.obs.AuthEvent("login", outcome(err))
			return Result{}, err
		}
		if !active {
			m.obs.AuthEvent("login", "inactive")
			m.log.Info("auth.login.fail", "reason", "tenant_inactive", "principal_id", p.ID, "tenant_id", p.TenantID)
			return Result{}, ErrAccountInactive
		}
	}

	m.maybeRehash(ctx, p, secret)

	now := m.now()
	pair, err := retryValue(ctx, m, "authn.Login.issue", func(ctx context.Context) (session.Pair, error) {
		return m.sessions.IssuePair(ctx, now, session.SubjectOf(p))
	})
	if err != nil {
		m.obs.AuthEvent("login", outcome(err))
		m.log.Error("auth.login.issue.fail", "principal_id", p.ID, "err", err)
		return Result{}, err
	}

	m.obs.AuthEvent("login", "success")
	m.log.Info("auth.login.success",
		"principal_id", p.ID,
		"tenant_id", p.TenantID,
		"role", p.Role.String(),
		"lineage_id", pair.LineageID,
	)
	return Result{Principal: p, Pair: pair}, nil
}

// lookupForLogin resolves the principal for a login attempt. found is false
// when no single principal matches; the caller then burns a dummy verify.
func (m *Manager) lookupForLogin(ctx context.Context, slug, email string) (identity.Principal, bool, error) {
	if slug != "" {
		tn, err := retryValue(ctx, m, "authn.Login.tenant", func(ctx context.Context) (identity.Tenant, error) {
			return m.store.TenantBySlug(ctx, slug)
		})
		if err != nil {
			if identity.IsNotFound(err) {
				return identity.Principal{}, false, ErrTenantNotFound
			}
			return identity.Principal{}, false, err
		}
		if !tn.Active {
			return identity.Principal{}, false, ErrTenantNotFound
		}

		p, err := retryValue(ctx, m, "authn.Login.principal", func(ctx context.Context) (identity.Principal, error) {
			return m.store.PrincipalByTenantEmail(ctx, tn.ID, email)
		})
		if err != nil {
			if identity.IsNotFound(err) {
				return identity.Principal{}, false, nil
			}
			return identity.Principal{}, false, err
		}
		return p, true, nil
	}

	matches, err := retryValue(ctx, m, "authn.Login.principal", func(ctx context.Context) ([]identity.Principal, error) {
		return m.store.PrincipalsByEmail(ctx, email, 2)
	})
	if err != nil {
		return identity.Principal{}, false, err
	}
	if len(matches) != 1 {
		if len(matches) > 1 {
			m.log.Info("auth.login.ambiguous", "matches", len(matches))
		}
		return identity.Principal{}, false, nil
	}
	return matches[0], true, nil
}

func (m *Manager) tenantActive(ctx context.Context, tenantID string) (bool, error) {
	tn, err := retryValue(ctx, m, "authn.tenant", func(ctx context.Context) (identity.Tenant, error) {
		return m.store.TenantByID(ctx, tenantID)
	})
	if err != nil {
		if identity.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return tn.Active, nil
}

func (m *Manager) maybeRehash(ctx context.Context, p identity.Principal, secret string) {
	if !m.creds.NeedsRehash(p.PasswordHash) {
		return
	}
	hash, err := m.creds.Hash(secret)
	if err != nil {
		m.log.Warn("auth.login.rehash.fail", "principal_id", p.ID, "err", err)
		return
	}
	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	if err := m.store.SetPasswordHash(sctx, p.ID, hash, m.now()); err != nil {
		m.log.Warn("auth.login.rehash.fail", "principal_id", p.ID, "err", err)
		return
	}
	m.log.Info("auth.login.rehash", "principal_id", p.ID)
}

// Refresh rotates a refresh token and re-hydrates the principal.
//
// A principal that became inactive since the pair was issued has its whole
// lineage revoked. When the stored role or bindings changed, the access
// token is re-minted from the current principal.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (Result, error) {
	now := m.now()
	pair, err := retryValue(ctx, m, "authn.Refresh", func(ctx context.Context) (session.Pair, error) {
		return m.sessions.Rotate(ctx, now, refreshToken)
	})
	if err != nil {
		var reuse session.ReuseError
		if errors.As(err, &reuse) {
			m.obs.AuthEvent("refresh", "reuse_detected")
			m.log.Warn("auth.refresh.reuse_detected",
				"principal_id", reuse.PrincipalID,
				"tenant_id", reuse.TenantID,
				"lineage_id", reuse.LineageID,
				"record_id", reuse.RecordID,
			)
			return Result{}, err
		}
		m.obs.AuthEvent("refresh", outcome(err))
		if errors.Is(err, ErrTransientFailure) {
			m.log.Error("auth.refresh.transient", "err", err)
		}
		return Result{}, err
	}

	p, err := retryValue(ctx, m, "authn.Refresh.principal", func(ctx context.Context) (identity.Principal, error) {
		return m.store.PrincipalByID(ctx, pair.Subject.PrincipalID)
	})
	switch {
	case err == nil:
	case identity.IsNotFound(err):
		p = identity.Principal{ID: pair.Subject.PrincipalID}
	default:
		m.obs.AuthEvent("refresh", outcome(err))
		return Result{}, err
	}

	active := p.CanLogin()
	if active && p.TenantID != "" {
		active, err = m.tenantActive(ctx, p.TenantID)
		if err != nil {
			m.obs.AuthEvent("refresh", outcome(err))
			return Result{}, err
		}
	}
	if !active {
		if err := m.sessions.RevokeLineage(ctx, now, pair.LineageID, session.ReasonInactive); err != nil {
			m.log.Error("auth.refresh.revoke_inactive.fail", "lineage_id", pair.LineageID, "err", err)
		}
		m.obs.AuthEvent("refresh", "inactive")
		m.log.Info("auth.refresh.inactive", "principal_id", p.ID, "lineage_id", pair.LineageID)
		return Result{}, ErrAccountInactive
	}

	if sub := session.SubjectOf(p); sub != pair.Subject {
		tok, exp, err := m.sessions.MintAccess(sub, pair.LineageID, now)
		if err != nil {
			m.obs.AuthEvent("refresh", "error")
			return Result{}, err
		}
		pair.Subject = sub
		pair.AccessToken = tok
		pair.AccessExpiresAt = exp
		m.log.Info("auth.refresh.subject_changed", "principal_id", p.ID, "role", p.Role.String())
	}

	m.obs.AuthEvent("refresh", "success")
	m.log.Debug("auth.refresh.success", "principal_id", p.ID, "lineage_id", pair.LineageID)
	return Result{Principal: p, Pair: pair}, nil
}

// Logout revokes the lineage behind refreshToken. Unknown tokens succeed.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	now := m.now()
	err := retry(ctx, m, "authn.Logout", func(ctx context.Context) error {
		return m.sessions.Revoke(ctx, now, refreshToken)
	})
	m.obs.AuthEvent("logout", outcome(err))
	if err != nil {
		return err
	}
	m.log.Debug("auth.logout")
	return nil
}

// LogoutAll revokes every lineage of the principal.
func (m *Manager) LogoutAll(ctx context.Context, principalID string) error {
	now := m.now()
	err := retry(ctx, m, "authn.LogoutAll", func(ctx context.Context) error {
		return m.sessions.RevokeAll(ctx, now, principalID)
	})
	m.obs.AuthEvent("logout_all", outcome(err))
	if err != nil {
		return err
	}
	m.log.Info("auth.logout_all", "principal_id", principalID)
	return nil
}

// Authenticate verifies an access token without touching any store.
// Every failure matches ErrUnauthorized; the token service cause is kept.
func (m *Manager) Authenticate(accessToken string) (session.AccessClaims, error) {
	claims, err := m.sessions.VerifyAccess(accessToken, m.now())
	if err != nil {
		return session.AccessClaims{}, unauthorized(err)
	}
	return claims, nil
}

// Principal loads the current principal record.
func (m *Manager) Principal(ctx context.Context, id string) (identity.Principal, error) {
	return retryValue(ctx, m, "authn.Principal", func(ctx context.Context) (identity.Principal, error) {
		return m.store.PrincipalByID(ctx, id)
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountInactive):
		return "inactive"
	case errors.Is(err, ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, ErrTransientFailure):
		return "transient"
	case errors.Is(err, session.ErrRefreshTokenRevoked):
		return "revoked"
	case errors.Is(err, session.ErrRefreshTokenExpired):
		return "expired"
	case errors.Is(err, session.ErrRefreshTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}
