package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReversalService undoes a committed allocation when an order is cancelled.
// Each line is restored according to the allocation source recorded at commit
// time, with the same conditional-update discipline as allocation itself: the
// whole cancellation lands atomically or not at all.
type ReversalService struct {
	pool   *pgxpool.Pool
	ledger *TransferLedger
}

func NewReversalService(pool *pgxpool.Pool, ledger *TransferLedger) *ReversalService {
	return &ReversalService{pool: pool, ledger: ledger}
}

// Cancel reverses an order's stock mutations and marks it CANCELLED. Repeated
// calls are idempotent: the status transition doubles as the "reversed" guard,
// so a second cancel finds no CONFIRMED row and returns the order unchanged.
func (s *ReversalService) Cancel(ctx context.Context, orderID int, actor string) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Claim the transition first. Zero rows means either the order does not
	// exist or it was already cancelled; both resolve without stock writes.
	tag, err := tx.Exec(ctx, `
		UPDATE stock_orders
		SET status = 'CANCELLED', cancelled_at = NOW()
		WHERE id = $1 AND status = 'CONFIRMED'
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark order %d cancelled: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.getOrder(ctx, orderID)
	}

	var orgID int
	var channel string
	err = tx.QueryRow(ctx,
		"SELECT organization_id, channel FROM stock_orders WHERE id = $1", orderID,
	).Scan(&orgID, &channel)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}

	lines, err := fetchOrderLines(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	// Same fixed acquisition order as allocation so a cancel and a commit
	// touching overlapping variants cannot deadlock.
	sort.Slice(lines, func(i, j int) bool { return lines[i].Key.Less(lines[j].Key) })

	for _, line := range lines {
		if err := s.reverseLineTx(ctx, tx, orgID, orderID, line, Channel(channel), actor); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation of order %d: %w", orderID, err)
	}

	return s.getOrder(ctx, orderID)
}

// reverseLineTx restores one line's pools. The commit path's mutations per tier:
//
//	tier1: current -= qty
//	tier2: locked -= fromLock;  current -= qty
//	tier3: reserved -= fromReserved; current += fromReserved; current -= qty; locked -= fromLock
//
// are replayed here in the opposite direction, as one conditional update per
// variant plus the compensating ledger rows.
func (s *ReversalService) reverseLineTx(ctx context.Context, tx pgx.Tx, orgID, orderID int, line OrderLine, channel Channel, actor string) error {
	v, err := getVariantTx(ctx, tx, orgID, line.Key)
	if err != nil {
		return err
	}

	var delta poolDelta
	switch line.Source {
	case SourceTier1:
		delta = poolDelta{current: line.Quantity}
	case SourceTier2:
		delta = poolDelta{current: line.Quantity, locked: line.FromLock}
	case SourceTier3:
		delta = poolDelta{current: line.Quantity - line.FromReserved, locked: line.FromLock, reserved: line.FromReserved}
	default:
		return fmt.Errorf("order %d line %d: unknown allocation source %q", orderID, line.LineNumber, line.Source)
	}

	if err := applyDeltaTx(ctx, tx, v.ID, v.Stock, delta); err != nil {
		return fmt.Errorf("order %d line %d (%s): %w", orderID, line.LineNumber, line.Key, err)
	}

	// Returned units and pool restorations are ledgered like every movement.
	if err := s.ledger.appendTx(ctx, tx, TransferRecord{
		OrganizationID: orgID, VariantID: v.ID,
		FromPool: PoolSupplier, ToPool: PoolMain, Quantity: line.Quantity,
		Channel: channel, OrderID: &orderID, Actor: actor,
		Reason: ReasonCancelReturn,
	}); err != nil {
		return err
	}
	if line.FromLock > 0 {
		if err := s.ledger.appendTx(ctx, tx, TransferRecord{
			OrganizationID: orgID, VariantID: v.ID,
			FromPool: PoolMain, ToPool: PoolLocked, Quantity: line.FromLock,
			Channel: channel, OrderID: &orderID, Actor: actor,
			Reason: ReasonCancelRestore,
		}); err != nil {
			return err
		}
	}
	if line.FromReserved > 0 {
		if err := s.ledger.appendTx(ctx, tx, TransferRecord{
			OrganizationID: orgID, VariantID: v.ID,
			FromPool: PoolMain, ToPool: PoolReserved, Quantity: line.FromReserved,
			Channel: channel, OrderID: &orderID, Actor: actor,
			Reason: ReasonCancelRestore,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *ReversalService) getOrder(ctx context.Context, orderID int) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM stock_orders WHERE id = $1", orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	if err := attachLines(ctx, s.pool, o); err != nil {
		return nil, err
	}
	return o, nil
}
