package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry is one security-relevant auth event.
type AuditEntry struct {
	Action      string
	PrincipalID string
	TenantID    string
	LineageID   string
	IP          net.IP
	UserAgent   string
	Meta        map[string]any
	At          time.Time
}

// AuditLog persists audit entries. Implementations must not block callers
// for long and must swallow their own failures.
type AuditLog interface {
	Record(ctx context.Context, e AuditEntry)
}

// LogAudit writes entries to the structured log only.
type LogAudit struct {
	log *slog.Logger
}

// NewLogAudit constructs a LogAudit.
func NewLogAudit(log *slog.Logger) *LogAudit {
	if log == nil {
		log = slog.Default()
	}
	return &LogAudit{log: log}
}

func (a *LogAudit) Record(ctx context.Context, e AuditEntry) {
	attrs := []any{"action", e.Action}
	if e.PrincipalID != "" {
		attrs = append(attrs, "principal_id", e.PrincipalID)
	}
	if e.TenantID != "" {
		attrs = append(attrs, "tenant_id", e.TenantID)
	}
	if e.LineageID != "" {
		attrs = append(attrs, "lineage_id", e.LineageID)
	}
	if e.IP != nil {
		attrs = append(attrs, "ip", e.IP.String())
	}
	for k, v := range e.Meta {
		attrs = append(attrs, k, v)
	}
	a.log.InfoContext(ctx, "auth.audit", attrs...)
}

// PostgresAudit appends entries to the audit_log table and mirrors them to the log.
type PostgresAudit struct {
	log    *LogAudit
	pool   *pgxpool.Pool
	table  string
	sb     sq.StatementBuilderType
	budget time.Duration
}

// NewPostgresAudit constructs a PostgresAudit writing into schema.audit_log.
func NewPostgresAudit(log *slog.Logger, pool *pgxpool.Pool, schema string) (*PostgresAudit, error) {
	if pool == nil {
		return nil, errors.New("authapi: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "tearoom"
	}
	return &PostgresAudit{
		log:    NewLogAudit(log),
		pool:   pool,
		table:  pgx.Identifier{schema, "audit_log"}.Sanitize(),
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		budget: 2 * time.Second,
	}, nil
}

func (a *PostgresAudit) Record(ctx context.Context, e AuditEntry) {
	a.log.Record(ctx, e)

	action := strings.TrimSpace(e.Action)
	if action == "" {
		return
	}

	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}
	meta := "{}"
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			meta = string(b)
		}
	}
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	query, args, err := a.sb.Insert(a.table).
		Columns("action", "principal_id", "tenant_id", "lineage_id", "ip", "user_agent", "meta", "created_at").
		Values(action, trimOrNil(e.PrincipalID), trimOrNil(e.TenantID), trimOrNil(e.LineageID), ipVal, trimOrNil(e.UserAgent), sq.Expr("?::jsonb", meta), at).
		ToSql()
	if err != nil {
		a.log.log.Error("auth.audit.build.fail", "err", err, "action", action)
		return
	}

	// The request may already be gone; the audit row should still land.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.budget)
	defer cancel()
	if _, err := a.pool.Exec(wctx, query, args...); err != nil {
		a.log.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
