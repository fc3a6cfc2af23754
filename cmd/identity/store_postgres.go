package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tearoom/cmd/identity/ids"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema identifiers are validated and quoted.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	creds  *Credentials
	sb     sq.StatementBuilderType
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "tearoom").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, creds *Credentials, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "tearoom",
		creds:  creds,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	if st.creds == nil {
		return nil, fmt.Errorf("identity: nil credentials")
	}
	return st, nil
}

var principalColumns = []string{
	"id", "tenant_id", "role", "email_norm", "display_name", "room_id", "kitchen_id",
	"password_hash", "active", "email_verified", "created_at", "updated_at",
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func (s *PostgresStore) CreateTenant(ctx context.Context, in CreateTenantInput) (Tenant, error) {
	const op = "identity.CreateTenant"

	in, err := prepareTenant(op, in)
	if err != nil {
		return Tenant{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Tenant{}, err
	}

	query, args, err := s.sb.Insert(s.table("tenants")).
		Columns("id", "slug", "name", "active", "created_at").
		Values(id, in.Slug, in.Name, in.Active, in.Now).
		ToSql()
	if err != nil {
		return Tenant{}, err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Tenant{}, ConflictError{Op: op, Field: field}
		}
		return Tenant{}, err
	}

	return Tenant{ID: id, Slug: in.Slug, Name: in.Name, Active: in.Active, CreatedAt: in.Now}, nil
}

func (s *PostgresStore) TenantByID(ctx context.Context, id string) (Tenant, error) {
	return s.tenantWhere(ctx, "identity.TenantByID", sq.Eq{"id": strings.TrimSpace(id)})
}

func (s *PostgresStore) TenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	return s.tenantWhere(ctx, "identity.TenantBySlug", sq.Eq{"slug": NormalizeSlug(slug)})
}

func (s *PostgresStore) tenantWhere(ctx context.Context, op string, pred sq.Eq) (Tenant, error) {
	query, args, err := s.sb.Select("id", "slug", "name", "active", "created_at").
		From(s.table("tenants")).
		Where(pred).
		ToSql()
	if err != nil {
		return Tenant{}, err
	}

	var t Tenant
	err = s.pool.QueryRow(ctx, query, args...).Scan(&t.ID, &t.Slug, &t.Name, &t.Active, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, NotFoundError{Op: op, Resource: "tenant"}
		}
		return Tenant{}, err
	}
	return t, nil
}

func (s *PostgresStore) SetTenantActive(ctx context.Context, id string, active bool) error {
	query, args, err := s.sb.Update(s.table("tenants")).
		Set("active", active).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "identity.SetTenantActive", Resource: "tenant"}
	}
	return nil
}

func (s *PostgresStore) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	const op = "identity.CreatePrincipal"

	p, err := preparePrincipal(op, s.creds, in)
	if err != nil {
		return Principal{}, err
	}
	p.ID, err = ids.NewULID(p.CreatedAt)
	if err != nil {
		return Principal{}, err
	}

	query, args, err := s.sb.Insert(s.table("principals")).
		Columns(principalColumns...).
		Values(
			p.ID, nilIfEmpty(p.TenantID), string(p.Role), p.Email, nilIfEmpty(p.DisplayName),
			nilIfEmpty(p.RoomID), nilIfEmpty(p.KitchenID), p.PasswordHash, p.Active, p.EmailVerified,
			p.CreatedAt, p.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return Principal{}, err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Principal{}, ConflictError{Op: op, Field: field}
		}
		if pgIsForeignKeyViolation(err) {
			return Principal{}, NotFoundError{Op: op, Resource: "tenant"}
		}
		return Principal{}, err
	}
	return p, nil
}

func (s *PostgresStore) PrincipalByID(ctx context.Context, id string) (Principal, error) {
	return s.principalWhere(ctx, "identity.PrincipalByID", sq.Eq{"id": strings.TrimSpace(id)})
}

func (s *PostgresStore) PrincipalByTenantEmail(ctx context.Context, tenantID, email string) (Principal, error) {
	var tenantPred sq.Sqlizer = sq.Eq{"tenant_id": tenantID}
	if tenantID == "" {
		tenantPred = sq.Eq{"tenant_id": nil}
	}
	return s.principalWhere(ctx, "identity.PrincipalByTenantEmail",
		sq.And{tenantPred, sq.Eq{"email_norm": NormalizeEmail(email)}})
}

func (s *PostgresStore) principalWhere(ctx context.Context, op string, pred sq.Sqlizer) (Principal, error) {
	query, args, err := s.sb.Select(principalColumns...).
		From(s.table("principals")).
		Where(pred).
		ToSql()
	if err != nil {
		return Principal{}, err
	}

	p, err := scanPrincipal(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, NotFoundError{Op: op, Resource: "principal"}
		}
		return Principal{}, err
	}
	return p, nil
}

func (s *PostgresStore) PrincipalsByEmail(ctx context.Context, email string, limit int) ([]Principal, error) {
	b := s.sb.Select(principalColumns...).
		From(s.table("principals")).
		Where(sq.Eq{"email_norm": NormalizeEmail(email)}).
		OrderBy("id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetFlags(ctx context.Context, id string, active, verified bool) error {
	query, args, err := s.sb.Update(s.table("principals")).
		Set("active", active).
		Set("email_verified", verified).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "identity.SetFlags", Resource: "principal"}
	}
	return nil
}

func (s *PostgresStore) SetPasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	if strings.TrimSpace(hash) == "" {
		return invalid("identity.SetPasswordHash", "empty hash")
	}
	query, args, err := s.sb.Update(s.table("principals")).
		Set("password_hash", hash).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "identity.SetPasswordHash", Resource: "principal"}
	}
	return nil
}

func scanPrincipal(row pgx.Row) (Principal, error) {
	var (
		p                                  Principal
		role                               string
		tenantID, display, room, kitchenID *string
	)
	err := row.Scan(
		&p.ID, &tenantID, &role, &p.Email, &display, &room, &kitchenID,
		&p.PasswordHash, &p.Active, &p.EmailVerified, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Principal{}, err
	}
	p.Role = Role(role)
	p.TenantID = derefString(tenantID)
	p.DisplayName = derefString(display)
	p.RoomID = derefString(room)
	p.KitchenID = derefString(kitchenID)
	return p, nil
}

// ---- helpers ----

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_tenants_slug" || strings.Contains(c, "slug"):
		return "slug", true
	case c == "uq_principals_tenant_email" || strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
