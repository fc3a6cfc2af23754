package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller. Items are stored as JSONB.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	sb    sq.StatementBuilderType
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var orderColumns = []string{
	"id", "tenant_id", "room_id", "kitchen_id", "placed_by", "items", "status", "created_at", "updated_at",
}

// NewPostgresStore constructs a PostgresStore over schema.orders.
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("orders: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "tearoom"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, errors.New("orders: invalid schema identifier")
	}
	return &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{schema, "orders"}.Sanitize(),
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (s *PostgresStore) Create(ctx context.Context, o Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("orders: encode items: %w", err)
	}

	query, args, err := s.sb.Insert(s.table).
		Columns(orderColumns...).
		Values(o.ID, o.TenantID, o.RoomID, o.KitchenID, o.PlacedBy, string(items), string(o.Status), o.CreatedAt, o.UpdatedAt).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Order, error) {
	query, args, err := s.sb.Select(orderColumns...).
		From(s.table).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return Order{}, err
	}
	o, err := scanOrder(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// SetStatus is a single conditional UPDATE, so concurrent transitions of
// one order serialize on the row and exactly one wins.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, from, to Status, now time.Time) (Order, error) {
	query, args, err := s.sb.Update(s.table).
		Set("status", string(to)).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": string(from)}).
		Suffix("RETURNING " + strings.Join(orderColumns, ", ")).
		ToSql()
	if err != nil {
		return Order{}, err
	}

	o, err := scanOrder(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, err
	}

	// Either the id is unknown or another writer moved the status first.
	if _, gerr := s.Get(ctx, id); gerr != nil {
		return Order{}, gerr
	}
	return Order{}, ErrConflict
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query, args, err := s.sb.Select(orderColumns...).
		From(s.table).
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		items  []byte
		status string
	)
	if err := row.Scan(&o.ID, &o.TenantID, &o.RoomID, &o.KitchenID, &o.PlacedBy, &items, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, fmt.Errorf("orders: decode items: %w", err)
	}
	o.Status = Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}
