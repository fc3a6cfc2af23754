package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tearoom/cmd/identity"
)

// PostgresStore implements Store using PostgreSQL (<schema>.refresh_tokens).
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

var schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresStore creates a Postgres-backed refresh record store.
// schema defaults to "tearoom".
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "tearoom"
	}
	if !schemaRe.MatchString(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{schema, "refresh_tokens"}.Sanitize(),
	}, nil
}

const recordColumns = `id, token_hash, principal_id, tenant_id, role, room_id, kitchen_id,
	lineage_id, issued_at, expires_at, revoked_at, revocation_reason, replaced_by`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r                             Record
		role                          string
		tenant, room, kitchen, reason *string
		replacedBy                    *string
	)
	err := row.Scan(
		&r.ID, &r.TokenHash, &r.Subject.PrincipalID, &tenant, &role, &room, &kitchen,
		&r.LineageID, &r.IssuedAt, &r.ExpiresAt, &r.RevokedAt, &reason, &replacedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRefreshTokenInvalid
		}
		return Record{}, err
	}
	r.Subject.Role = identity.Role(role)
	r.Subject.TenantID = deref(tenant)
	r.Subject.RoomID = deref(room)
	r.Subject.KitchenID = deref(kitchen)
	r.RevocationReason = deref(reason)
	r.ReplacedBy = deref(replacedBy)
	return r, nil
}

func (s *PostgresStore) insert(ctx context.Context, q pgx.Tx, rec Record) error {
	query := `INSERT INTO ` + s.table + ` (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL, NULL)`
	args := []any{
		rec.ID, rec.TokenHash, rec.Subject.PrincipalID, nullIfEmpty(rec.Subject.TenantID),
		string(rec.Subject.Role), nullIfEmpty(rec.Subject.RoomID), nullIfEmpty(rec.Subject.KitchenID),
		rec.LineageID, rec.IssuedAt, rec.ExpiresAt,
	}
	var err error
	if q != nil {
		_, err = q.Exec(ctx, query, args...)
	} else {
		_, err = s.pool.Exec(ctx, query, args...)
	}
	return err
}

// Insert stores a freshly issued record.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	return s.insert(ctx, nil, rec)
}

// GetByHash loads a record by token hash without locking.
func (s *PostgresStore) GetByHash(ctx context.Context, tokenHash string) (Record, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table+` WHERE token_hash = $1`, tokenHash))
}

type pgRotationTx struct {
	s  *PostgresStore
	tx pgx.Tx
}

func (t pgRotationTx) Insert(ctx context.Context, rec Record) error {
	return t.s.insert(ctx, t.tx, rec)
}

func (t pgRotationTx) MarkRotated(ctx context.Context, now time.Time, id, replacedBy string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE `+t.s.table+`
		SET revoked_at = $2,
		    revocation_reason = 'rotation',
		    replaced_by = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, id, now, replacedBy)
	return err
}

func (t pgRotationTx) RevokeLineage(ctx context.Context, now time.Time, lineageID, reason string) error {
	_, err := t.tx.Exec(ctx, revokeLineageSQL(t.s.table), lineageID, now, reason)
	return err
}

// WithLocked runs fn with the matching row held by SELECT ... FOR UPDATE.
func (s *PostgresStore) WithLocked(ctx context.Context, tokenHash string, fn RotateFunc) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table+` WHERE token_hash = $1 FOR UPDATE`, tokenHash))
	if err != nil {
		return err
	}

	commit, ferr := fn(ctx, pgRotationTx{s: s, tx: tx}, rec)
	if commit {
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrCommitUnknown, err)
		}
	}
	return ferr
}

func revokeLineageSQL(table string) string {
	return `UPDATE ` + table + `
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE lineage_id = $1`
}

// RevokeLineage revokes every record in a lineage (idempotent).
func (s *PostgresStore) RevokeLineage(ctx context.Context, now time.Time, lineageID, reason string) error {
	_, err := s.pool.Exec(ctx, revokeLineageSQL(s.table), lineageID, now, reason)
	return err
}

// RevokePrincipal revokes every record for a principal (idempotent).
func (s *PostgresStore) RevokePrincipal(ctx context.Context, now time.Time, principalID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE principal_id = $1
	`, principalID, now, reason)
	return err
}

// DeleteExpired removes records that expired before cutoff. Successor
// pointers into deleted rows are cleared by ON DELETE SET NULL.
func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
