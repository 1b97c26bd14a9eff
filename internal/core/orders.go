package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Read-side order queries shared by the coordinator, the reversal service, and
// the application facade.

const orderColumns = `id, organization_id, channel, status, idempotency_key, total_amount, notes, created_by, created_at, cancelled_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var channel, status string
	err := row.Scan(&o.ID, &o.OrganizationID, &channel, &status, &o.IdempotencyKey,
		&o.TotalAmount, &o.Notes, &o.CreatedBy, &o.CreatedAt, &o.CancelledAt)
	if err != nil {
		return nil, err
	}
	o.Channel = Channel(channel)
	o.Status = OrderStatus(status)
	return &o, nil
}

// pgxQueryer extends pgxQuerier with multi-row queries. Satisfied by both
// *pgxpool.Pool and pgx.Tx.
type pgxQueryer interface {
	pgxQuerier
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// findOrderByIdemKeyTx returns the committed order for an idempotency key, or
// nil when the key is unused. Lines are loaded so a replay response is complete.
func findOrderByIdemKeyTx(ctx context.Context, q pgxQueryer, orgID int, idemKey string) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM stock_orders WHERE organization_id = $1 AND idempotency_key = $2",
		orgID, idemKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	if err := attachLines(ctx, q, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder returns one order with its lines.
func (c *AllocationCoordinator) GetOrder(ctx context.Context, orderID int) (*Order, error) {
	o, err := scanOrder(c.pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM stock_orders WHERE id = $1", orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	if err := attachLines(ctx, c.pool, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns an organization's orders, newest first, optionally
// filtered by status and channel.
func (c *AllocationCoordinator) ListOrders(ctx context.Context, orgCode string, status *OrderStatus, channel *Channel) ([]Order, error) {
	orgID, err := resolveOrgID(ctx, c.pool, orgCode)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + orderColumns + " FROM stock_orders WHERE organization_id = $1"
	args := []any{orgID}
	if status != nil {
		args = append(args, string(*status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if channel != nil {
		args = append(args, string(*channel))
		query += fmt.Sprintf(" AND channel = $%d", len(args))
	}
	query += " ORDER BY id DESC"

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	for i := range orders {
		if err := attachLines(ctx, c.pool, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func attachLines(ctx context.Context, q pgxQueryer, o *Order) error {
	lines, err := fetchOrderLines(ctx, q, o.ID)
	if err != nil {
		return err
	}
	o.Lines = lines
	return nil
}

func fetchOrderLines(ctx context.Context, q pgxQueryer, orderID int) ([]OrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT l.id, l.order_id, l.line_number, l.variant_id, v.design, v.color, v.size,
		       l.quantity, l.price_per_unit, l.line_total, l.allocation_source, l.from_lock, l.from_reserved
		FROM stock_order_lines l
		JOIN stock_variants v ON v.id = l.variant_id
		WHERE l.order_id = $1
		ORDER BY l.line_number
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines for order %d: %w", orderID, err)
	}
	defer rows.Close()

	var lines []OrderLine
	for rows.Next() {
		var l OrderLine
		var source string
		if err := rows.Scan(&l.ID, &l.OrderID, &l.LineNumber, &l.VariantID,
			&l.Key.Design, &l.Key.Color, &l.Key.Size,
			&l.Quantity, &l.PricePerUnit, &l.LineTotal, &source, &l.FromLock, &l.FromReserved); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		l.Source = AllocationSource(source)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
