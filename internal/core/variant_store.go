package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// resolveOrgID looks up the internal organization ID from an org code.
func resolveOrgID(ctx context.Context, q pgxQuerier, orgCode string) (int, error) {
	var id int
	err := q.QueryRow(ctx, "SELECT id FROM organizations WHERE org_code = $1", orgCode).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("org code %s: %w", orgCode, ErrOrgNotFound)
		}
		return 0, fmt.Errorf("failed to resolve organization %s: %w", orgCode, err)
	}
	return id, nil
}

// VariantStockStore is the persistence layer for per-variant stock records.
// Mutations are single conditional statements: either guarded on a pre-read
// snapshot (commit/reversal paths, via applyDeltaTx) or monotone increments
// (receiving flows). No writer holds a lock across a round-trip.
type VariantStockStore struct {
	pool   *pgxpool.Pool
	ledger *TransferLedger
}

func NewVariantStockStore(pool *pgxpool.Pool, ledger *TransferLedger) *VariantStockStore {
	return &VariantStockStore{pool: pool, ledger: ledger}
}

// VariantSpec describes a new catalog variant.
type VariantSpec struct {
	Key       VariantKey
	UnitPrice decimal.Decimal
}

// CreateVariant inserts a zero-stock record when a design/color/size is first
// configured in the catalog.
func (s *VariantStockStore) CreateVariant(ctx context.Context, orgCode string, spec VariantSpec) (*Variant, error) {
	if err := validateKey(spec.Key); err != nil {
		return nil, err
	}
	if spec.UnitPrice.IsNegative() {
		return nil, validationf("unit_price", "cannot be negative, got %s", spec.UnitPrice)
	}

	orgID, err := resolveOrgID(ctx, s.pool, orgCode)
	if err != nil {
		return nil, err
	}

	var v Variant
	err = s.pool.QueryRow(ctx, `
		INSERT INTO stock_variants (organization_id, design, color, size, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, organization_id, design, color, size, unit_price,
		          current_stock, locked_stock, reserved_stock, created_at, updated_at
	`, orgID, spec.Key.Design, spec.Key.Color, spec.Key.Size, spec.UnitPrice).Scan(
		&v.ID, &v.OrganizationID, &v.Key.Design, &v.Key.Color, &v.Key.Size, &v.UnitPrice,
		&v.Stock.Current, &v.Stock.Locked, &v.Stock.Reserved, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create variant %s: %w", spec.Key, err)
	}
	return &v, nil
}

// DeleteVariant removes a variant from the catalog. It refuses while any order
// line still references the variant; movement history rows for the variant are
// purged with it.
func (s *VariantStockStore) DeleteVariant(ctx context.Context, orgCode string, key VariantKey) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orgID, err := resolveOrgID(ctx, tx, orgCode)
	if err != nil {
		return err
	}

	v, err := getVariantTx(ctx, tx, orgID, key)
	if err != nil {
		return err
	}

	var referenced bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM stock_order_lines WHERE variant_id = $1)", v.ID,
	).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("failed to check order references for %s: %w", key, err)
	}
	if referenced {
		return fmt.Errorf("variant %s: %w", key, ErrVariantInUse)
	}

	if _, err = tx.Exec(ctx, "DELETE FROM stock_transfers WHERE variant_id = $1", v.ID); err != nil {
		return fmt.Errorf("failed to purge transfer history for %s: %w", key, err)
	}
	if _, err = tx.Exec(ctx, "DELETE FROM stock_variants WHERE id = $1", v.ID); err != nil {
		return fmt.Errorf("failed to delete variant %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit variant deletion: %w", err)
	}
	return nil
}

// GetVariant returns the full stock record for one variant key.
func (s *VariantStockStore) GetVariant(ctx context.Context, orgCode string, key VariantKey) (*Variant, error) {
	orgID, err := resolveOrgID(ctx, s.pool, orgCode)
	if err != nil {
		return nil, err
	}
	return getVariantTx(ctx, s.pool, orgID, key)
}

// ListStockLevels returns all variants of an organization as a read view.
func (s *VariantStockStore) ListStockLevels(ctx context.Context, orgCode string) ([]StockLevel, error) {
	orgID, err := resolveOrgID(ctx, s.pool, orgCode)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT design, color, size, unit_price,
		       current_stock, locked_stock, current_stock - locked_stock AS available_stock, reserved_stock
		FROM stock_variants
		WHERE organization_id = $1
		ORDER BY design, color, size
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(&sl.Key.Design, &sl.Key.Color, &sl.Key.Size, &sl.UnitPrice,
			&sl.Current, &sl.Locked, &sl.Available, &sl.Reserved); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	return levels, rows.Err()
}

// ReceiveStock records a goods receipt into the main pool: increments
// current_stock and appends a supplier→main movement, atomically.
func (s *VariantStockStore) ReceiveStock(ctx context.Context, orgCode string, key VariantKey, qty int, actor string) (*Variant, error) {
	return s.receive(ctx, orgCode, key, qty, actor, PoolMain)
}

// ReceiveReserved records a receipt into the separate reserved warehouse pool.
func (s *VariantStockStore) ReceiveReserved(ctx context.Context, orgCode string, key VariantKey, qty int, actor string) (*Variant, error) {
	return s.receive(ctx, orgCode, key, qty, actor, PoolReserved)
}

func (s *VariantStockStore) receive(ctx context.Context, orgCode string, key VariantKey, qty int, actor string, into Pool) (*Variant, error) {
	if qty <= 0 {
		return nil, validationf("quantity", "receive quantity must be positive, got %d", qty)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orgID, err := resolveOrgID(ctx, tx, orgCode)
	if err != nil {
		return nil, err
	}
	v, err := getVariantTx(ctx, tx, orgID, key)
	if err != nil {
		return nil, err
	}

	column, reason := "current_stock", ReasonGoodsReceipt
	if into == PoolReserved {
		column, reason = "reserved_stock", ReasonReserveReceipt
	}
	_, err = tx.Exec(ctx,
		"UPDATE stock_variants SET "+column+" = "+column+" + $1, updated_at = NOW() WHERE id = $2",
		qty, v.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to receive stock for %s: %w", key, err)
	}

	err = s.ledger.appendTx(ctx, tx, TransferRecord{
		OrganizationID: orgID,
		VariantID:      v.ID,
		FromPool:       PoolSupplier,
		ToPool:         into,
		Quantity:       qty,
		Actor:          actor,
		Reason:         reason,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stock receipt: %w", err)
	}

	return s.GetVariant(ctx, orgCode, key)
}

// ── Tx-scoped helpers used by the coordinator and reversal ───────────────────

// getVariantTx fetches a variant by key through the caller's querier. Plain
// read, no FOR UPDATE: concurrent modification is detected at write time.
func getVariantTx(ctx context.Context, q pgxQuerier, orgID int, key VariantKey) (*Variant, error) {
	var v Variant
	err := q.QueryRow(ctx, `
		SELECT id, organization_id, design, color, size, unit_price,
		       current_stock, locked_stock, reserved_stock, created_at, updated_at
		FROM stock_variants
		WHERE organization_id = $1 AND design = $2 AND color = $3 AND size = $4
	`, orgID, key.Design, key.Color, key.Size).Scan(
		&v.ID, &v.OrganizationID, &v.Key.Design, &v.Key.Color, &v.Key.Size, &v.UnitPrice,
		&v.Stock.Current, &v.Stock.Locked, &v.Stock.Reserved, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("variant %s: %w", key, ErrVariantNotFound)
		}
		return nil, fmt.Errorf("failed to fetch variant %s: %w", key, err)
	}
	return &v, nil
}

// poolDelta is a signed adjustment across the three pools of one variant.
type poolDelta struct {
	current  int
	locked   int
	reserved int
}

// applyDeltaTx performs the single conditional write at the heart of the CAS
// discipline: the update lands only if all three pools still hold the values the
// caller's plan was computed from. Zero rows affected means a concurrent writer
// got there first; the caller must roll back the whole order and surface
// ErrStaleStock. Database CHECK constraints back-stop the pool invariants.
func applyDeltaTx(ctx context.Context, tx pgx.Tx, variantID int, expected Snapshot, delta poolDelta) error {
	tag, err := tx.Exec(ctx, `
		UPDATE stock_variants
		SET current_stock  = current_stock  + $1,
		    locked_stock   = locked_stock   + $2,
		    reserved_stock = reserved_stock + $3,
		    updated_at     = NOW()
		WHERE id = $4
		  AND current_stock  = $5
		  AND locked_stock   = $6
		  AND reserved_stock = $7
	`, delta.current, delta.locked, delta.reserved, variantID,
		expected.Current, expected.Locked, expected.Reserved)
	if err != nil {
		return fmt.Errorf("failed to apply stock delta to variant %d: %w", variantID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("variant %d: %w", variantID, ErrStaleStock)
	}
	return nil
}

func validateKey(key VariantKey) error {
	if key.Design == "" {
		return validationf("design", "must not be empty")
	}
	if key.Color == "" {
		return validationf("color", "must not be empty")
	}
	if key.Size == "" {
		return validationf("size", "must not be empty")
	}
	return nil
}
