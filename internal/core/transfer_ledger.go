package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransferLedger is the append-only log of inter-pool stock movements.
// Writes happen inside the caller's transaction so a movement row can never
// outlive a rolled-back stock mutation; reads are a paginated history view.
type TransferLedger struct {
	pool *pgxpool.Pool
}

func NewTransferLedger(pool *pgxpool.Pool) *TransferLedger {
	return &TransferLedger{pool: pool}
}

// appendTx inserts one movement row within the caller's TX.
func (l *TransferLedger) appendTx(ctx context.Context, tx pgx.Tx, rec TransferRecord) error {
	var orderID any
	if rec.OrderID != nil {
		orderID = *rec.OrderID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_transfers (organization_id, variant_id, from_pool, to_pool, quantity, channel, order_id, actor, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.OrganizationID, rec.VariantID, rec.FromPool, rec.ToPool, rec.Quantity,
		string(rec.Channel), orderID, rec.Actor, rec.Reason)
	if err != nil {
		return fmt.Errorf("failed to append transfer record for variant %d: %w", rec.VariantID, err)
	}
	return nil
}

// TransferFilter narrows a history query. Zero values mean "no filter".
type TransferFilter struct {
	Design  string
	Color   string
	Size    string
	Pool    Pool // matches either side of the movement
	OrderID int
	Channel Channel
	Reason  string
	Limit   int
	Offset  int
}

const defaultHistoryLimit = 50

// History returns movement rows for an organization, newest first.
func (l *TransferLedger) History(ctx context.Context, orgCode string, filter TransferFilter) ([]TransferRecord, error) {
	orgID, err := resolveOrgID(ctx, l.pool, orgCode)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.organization_id, t.variant_id, v.design, v.color, v.size,
		       t.from_pool, t.to_pool, t.quantity, t.channel, t.order_id, t.actor, t.reason, t.created_at
		FROM stock_transfers t
		JOIN stock_variants v ON v.id = t.variant_id
		WHERE t.organization_id = $1`
	args := []any{orgID}

	addArg := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}
	if filter.Design != "" {
		addArg("v.design", filter.Design)
	}
	if filter.Color != "" {
		addArg("v.color", filter.Color)
	}
	if filter.Size != "" {
		addArg("v.size", filter.Size)
	}
	if filter.OrderID != 0 {
		addArg("t.order_id", filter.OrderID)
	}
	if filter.Channel != "" {
		addArg("t.channel", string(filter.Channel))
	}
	if filter.Reason != "" {
		addArg("t.reason", filter.Reason)
	}
	if filter.Pool != "" {
		args = append(args, string(filter.Pool))
		query += fmt.Sprintf(" AND (t.from_pool = $%d OR t.to_pool = $%d)", len(args), len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY t.id DESC LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer history: %w", err)
	}
	defer rows.Close()

	var records []TransferRecord
	for rows.Next() {
		var rec TransferRecord
		var channel string
		if err := rows.Scan(&rec.ID, &rec.OrganizationID, &rec.VariantID,
			&rec.Key.Design, &rec.Key.Color, &rec.Key.Size,
			&rec.FromPool, &rec.ToPool, &rec.Quantity, &channel,
			&rec.OrderID, &rec.Actor, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer record: %w", err)
		}
		rec.Channel = Channel(channel)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer records: %w", err)
	}
	return records, nil
}
