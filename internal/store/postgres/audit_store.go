package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// AuditStore implements domain.AuditStore on the audit_log table. The
// service writes entries after the operation's transaction commits.
type AuditStore struct {
	db DBTX
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(db DBTX) *AuditStore {
	return &AuditStore{db: db}
}

// Log appends an entry. detail is stored whole as JSONB; its sovereign_id,
// receipt and signer keys are also copied to indexed columns.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	body, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	cols := receiptColumns(detail)

	const q = `
		INSERT INTO audit_log (event, detail, sovereign_id, receipt, signer)
		VALUES (@event, @detail, @sovereign_id, @receipt, @signer)`
	_, err = s.db.Exec(ctx, q, pgx.NamedArgs{
		"event":        event,
		"detail":       body,
		"sovereign_id": cols.sovereignID,
		"receipt":      cols.receipt,
		"signer":       cols.signer,
	})
	if err != nil {
		return fmt.Errorf("postgres: log audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first. Since and Until are inclusive bounds
// on created_at.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  = pgx.NamedArgs{}
	)
	if opts.Since != nil {
		where = append(where, "created_at >= @since")
		args["since"] = *opts.Since
	}
	if opts.Until != nil {
		where = append(where, "created_at <= @until")
		args["until"] = *opts.Until
	}

	var q strings.Builder
	q.WriteString(`SELECT id, event, detail, created_at FROM audit_log`)
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		q.WriteString(" LIMIT @limit")
		args["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		q.WriteString(" OFFSET @offset")
		args["offset"] = opts.Offset
	}

	rows, err := s.db.Query(ctx, q.String(), args)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e    domain.AuditEntry
		body []byte
	)
	if err := row.Scan(&e.ID, &e.Event, &body, &e.CreatedAt); err != nil {
		return e, err
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &e.Detail); err != nil {
			return e, fmt.Errorf("audit %d detail: %w", e.ID, err)
		}
	}
	return e, nil
}

type auditColumns struct {
	sovereignID *int64
	receipt     *string
	signer      *string
}

// receiptColumns pulls the indexed fields out of an audit detail. Absent or
// mistyped keys map to NULL.
func receiptColumns(detail map[string]any) auditColumns {
	var c auditColumns
	switch id := detail["sovereign_id"].(type) {
	case uint64:
		v := int64(id)
		c.sovereignID = &v
	case int64:
		c.sovereignID = &id
	case int:
		v := int64(id)
		c.sovereignID = &v
	case float64:
		v := int64(id)
		c.sovereignID = &v
	}
	if r, ok := detail["receipt"].(string); ok && r != "" {
		c.receipt = &r
	}
	if s, ok := detail["signer"].(string); ok && s != "" {
		c.signer = &s
	}
	return c
}
