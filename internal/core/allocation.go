package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AllocationCoordinator orchestrates the two-phase escalation protocol:
// a read-only dry run that tells the caller which confirmations are required,
// and an atomic commit that re-verifies the plan under conditional updates.
// Coordination relies entirely on the store's atomic primitives because
// multiple server instances run concurrently.
type AllocationCoordinator struct {
	pool   *pgxpool.Pool
	ledger *TransferLedger
}

func NewAllocationCoordinator(pool *pgxpool.Pool, ledger *TransferLedger) *AllocationCoordinator {
	return &AllocationCoordinator{pool: pool, ledger: ledger}
}

// LineRequest is one normalized order line entering the protocol.
type LineRequest struct {
	Key          VariantKey
	Quantity     int
	PricePerUnit decimal.Decimal // zero means "use the variant's catalog price"
}

// Consent carries the caller's explicit escalation approval. Borrowing from the
// reserved warehouse implies permission to consume the safety buffer as well:
// a tier-3 commit clears tier-2 gaps as part of the same movement, so the two
// confirmations are never requested together.
type Consent struct {
	UseLockedStock     bool `json:"use_locked_stock"`
	BorrowFromReserved bool `json:"borrow_from_reserved"`
}

func (c Consent) allowsLock() bool {
	return c.UseLockedStock || c.BorrowFromReserved
}

// AllocationStatus is the soft-outcome arm of the protocol's result type.
// Hard insufficiency and stale stock travel as errors; everything here is
// ordinary control flow that the caller renders for the user.
type AllocationStatus string

const (
	StatusOK                       AllocationStatus = "ok"
	StatusNeedsLockConfirmation    AllocationStatus = "needs_lock_confirmation"
	StatusNeedsReserveConfirmation AllocationStatus = "needs_reserve_confirmation"
)

// LineDeficit describes one order line that cannot be met from ordinary
// availability, with enough detail for the caller to render the shortfall.
type LineDeficit struct {
	Key                VariantKey `json:"key"`
	Requested          int        `json:"requested"`
	Available          int        `json:"available_stock"`
	Current            int        `json:"current_stock"`
	Reserved           int        `json:"reserved_stock"`
	NeededFromLock     int        `json:"needed_from_lock,omitempty"`
	NeededFromReserved int        `json:"needed_from_reserved,omitempty"`
	MaxFulfillable     int        `json:"max_fulfillable"`
}

// LockChange is the before/after safety-buffer value a lock confirmation would
// apply to one variant.
type LockChange struct {
	Key         VariantKey `json:"key"`
	CurrentLock int        `json:"current_lock_value"`
	NewLock     int        `json:"new_lock_value"`
}

// AllocationOutcome is the result of Plan, Create, or Commit. Exactly one of
// the three statuses applies: StatusOK carries the committed order (nil for a
// pure dry run); the confirmation statuses carry the structured deficits the
// user must approve before any buffer or reserve stock is touched.
type AllocationOutcome struct {
	Status            AllocationStatus `json:"status"`
	Order             *Order           `json:"order,omitempty"`
	Insufficient      []LineDeficit    `json:"insufficient_items,omitempty"`
	TotalFromLock     int              `json:"total_needed_from_lock,omitempty"`
	TotalFromReserved int              `json:"total_needed_from_reserved,omitempty"`
	LockChanges       []LockChange     `json:"lock_changes,omitempty"`
}

// linePlan pairs a request with the snapshot and assessment it was planned
// against. Commit guards every write on plan.variant.Stock.
type linePlan struct {
	req        LineRequest
	variant    *Variant
	assessment Assessment
	price      decimal.Decimal
	lineTotal  decimal.Decimal
}

// Plan is Phase A: a dry run with no writes. Every line is assessed against a
// fresh snapshot; the outcome tells the caller whether the order can commit
// directly, which confirmation is required, or (as an error) that the request
// is unfulfillable even with every pool drained.
func (c *AllocationCoordinator) Plan(ctx context.Context, orgCode string, lines []LineRequest) (*AllocationOutcome, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	orgID, err := resolveOrgID(ctx, c.pool, orgCode)
	if err != nil {
		return nil, err
	}

	plans, err := c.assessLines(ctx, c.pool, orgID, lines)
	if err != nil {
		return nil, err
	}
	return buildOutcome(plans), nil
}

// Create runs Phase A and, when every line clears at tier 1, proceeds straight
// to the atomic commit. Any escalation is returned as a confirmation outcome
// with zero writes; the user resubmits through Commit with explicit consent.
func (c *AllocationCoordinator) Create(ctx context.Context, orgCode string, lines []LineRequest, idemKey string, channel Channel, actor string) (*AllocationOutcome, error) {
	outcome, err := c.Plan(ctx, orgCode, lines)
	if err != nil {
		return nil, err
	}
	if outcome.Status != StatusOK {
		return outcome, nil
	}
	return c.Commit(ctx, orgCode, lines, idemKey, Consent{}, channel, actor)
}

// Commit is Phase B: one atomic transaction that re-assesses every line and
// applies all pool mutations through conditional updates. Variants are acquired
// in a fixed lexicographic order to prevent cross-order deadlock. If any
// condition fails the entire order's writes are discarded and ErrStaleStock is
// returned — partial commits across lines are forbidden. A replayed idempotency
// key returns the originally committed order without touching stock.
func (c *AllocationCoordinator) Commit(ctx context.Context, orgCode string, lines []LineRequest, idemKey string, consent Consent, channel Channel, actor string) (*AllocationOutcome, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}
	if idemKey == "" {
		return nil, validationf("idempotency_key", "must not be empty")
	}
	if err := validateChannel(channel); err != nil {
		return nil, err
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orgID, err := resolveOrgID(ctx, tx, orgCode)
	if err != nil {
		return nil, err
	}

	// Replay check before any stock read: a retried network call must not
	// double-decrement.
	if existing, err := findOrderByIdemKeyTx(ctx, tx, orgID, idemKey); err != nil {
		return nil, err
	} else if existing != nil {
		return &AllocationOutcome{Status: StatusOK, Order: existing}, nil
	}

	// Re-assess inside the transaction. The consent decision is honored
	// against current state: if escalation requirements grew beyond what the
	// caller approved, the new confirmation is surfaced instead of silently
	// consuming pools the user never agreed to.
	plans, err := c.assessLines(ctx, tx, orgID, lines)
	if err != nil {
		return nil, err
	}
	outcome := buildOutcome(plans)
	switch outcome.Status {
	case StatusNeedsReserveConfirmation:
		if !consent.BorrowFromReserved {
			return outcome, nil
		}
	case StatusNeedsLockConfirmation:
		if !consent.allowsLock() {
			return outcome, nil
		}
	}

	// Insert the order header first so ledger rows can reference it. A unique
	// violation here means a concurrent commit with the same key won the race.
	var total decimal.Decimal
	for _, p := range plans {
		total = total.Add(p.lineTotal)
	}
	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO stock_orders (organization_id, channel, status, idempotency_key, total_amount, created_by)
		VALUES ($1, $2, 'CONFIRMED', $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, orgID, string(channel), idemKey, total, actor).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, ferr := c.findCommittedOrder(ctx, orgID, idemKey)
		if ferr != nil {
			return nil, ferr
		}
		return &AllocationOutcome{Status: StatusOK, Order: existing}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert stock order: %w", err)
	}

	for i, p := range plans {
		if err := c.commitLineTx(ctx, tx, orgID, orderID, i+1, p, channel, actor); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit allocation: %w", err)
	}

	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &AllocationOutcome{Status: StatusOK, Order: order}, nil
}

// commitLineTx applies one line's pool mutations and ledger rows. Each mutation
// is a single update conditioned on the snapshot the plan was computed from.
func (c *AllocationCoordinator) commitLineTx(ctx context.Context, tx pgx.Tx, orgID, orderID, lineNumber int, p linePlan, channel Channel, actor string) error {
	snap := p.variant.Stock
	source := p.assessment.Outcome.Source()
	fromLock := p.assessment.NeededFromLock
	fromReserved := p.assessment.NeededFromReserved

	var delta poolDelta
	switch p.assessment.Outcome {
	case Tier1OK:
		delta = poolDelta{current: -p.req.Quantity}
	case Tier2Needed:
		delta = poolDelta{current: -p.req.Quantity, locked: -fromLock}
	case Tier3Needed:
		// A tier-3 line drains main stock to exactly zero, so whatever safety
		// buffer it contained is released in the same movement; locked stock
		// never exceeds current stock.
		fromLock = snap.Locked
		delta = poolDelta{current: fromReserved - p.req.Quantity, locked: -fromLock, reserved: -fromReserved}
	default:
		return fmt.Errorf("line %d: unexpected assessment %s", lineNumber, p.assessment.Outcome)
	}

	if err := applyDeltaTx(ctx, tx, p.variant.ID, snap, delta); err != nil {
		return fmt.Errorf("line %d (%s): %w", lineNumber, p.req.Key, err)
	}

	if fromLock > 0 {
		err := c.ledger.appendTx(ctx, tx, TransferRecord{
			OrganizationID: orgID, VariantID: p.variant.ID,
			FromPool: PoolLocked, ToPool: PoolMain, Quantity: fromLock,
			Channel: channel, OrderID: &orderID, Actor: actor,
			Reason: ReasonBufferRelease,
		})
		if err != nil {
			return err
		}
	}
	if fromReserved > 0 {
		err := c.ledger.appendTx(ctx, tx, TransferRecord{
			OrganizationID: orgID, VariantID: p.variant.ID,
			FromPool: PoolReserved, ToPool: PoolMain, Quantity: fromReserved,
			Channel: channel, OrderID: &orderID, Actor: actor,
			Reason: ReasonEmergencyBorrow,
		})
		if err != nil {
			return err
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO stock_order_lines (order_id, line_number, variant_id, quantity, price_per_unit, line_total, allocation_source, from_lock, from_reserved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, orderID, lineNumber, p.variant.ID, p.req.Quantity, p.price, p.lineTotal,
		string(source), fromLock, fromReserved)
	if err != nil {
		return fmt.Errorf("failed to insert order line %d: %w", lineNumber, err)
	}
	return nil
}

// assessLines reads every variant in fixed key order and assesses each request.
// Hard insufficiency on any line aborts the whole order with zero writes.
func (c *AllocationCoordinator) assessLines(ctx context.Context, q pgxQuerier, orgID int, lines []LineRequest) ([]linePlan, error) {
	sorted := make([]LineRequest, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key.Less(sorted[j].Key) })

	var plans []linePlan
	var hard []LineDeficit
	for _, req := range sorted {
		v, err := getVariantTx(ctx, q, orgID, req.Key)
		if err != nil {
			return nil, err
		}

		price := req.PricePerUnit
		if price.IsZero() {
			price = v.UnitPrice
		}

		a := Assess(v.Stock, req.Quantity)
		if a.Outcome == HardInsufficient {
			hard = append(hard, LineDeficit{
				Key:            req.Key,
				Requested:      req.Quantity,
				Available:      v.Stock.Available(),
				Current:        v.Stock.Current,
				Reserved:       v.Stock.Reserved,
				MaxFulfillable: v.Stock.Current + v.Stock.Reserved,
			})
			continue
		}

		plans = append(plans, linePlan{
			req:        req,
			variant:    v,
			assessment: a,
			price:      price,
			lineTotal:  price.Mul(decimal.NewFromInt(int64(req.Quantity))),
		})
	}
	if len(hard) > 0 {
		return nil, &InsufficientStockError{Deficits: hard}
	}
	return plans, nil
}

// buildOutcome folds per-line assessments into the order-level protocol result.
// Reserve subsumes lock: when any line needs tier 3, the single reserve
// confirmation also covers every tier-2 gap in the order.
func buildOutcome(plans []linePlan) *AllocationOutcome {
	outcome := &AllocationOutcome{Status: StatusOK}
	for _, p := range plans {
		snap := p.variant.Stock
		switch p.assessment.Outcome {
		case Tier2Needed:
			if outcome.Status == StatusOK {
				outcome.Status = StatusNeedsLockConfirmation
			}
			outcome.TotalFromLock += p.assessment.NeededFromLock
			outcome.Insufficient = append(outcome.Insufficient, LineDeficit{
				Key:            p.req.Key,
				Requested:      p.req.Quantity,
				Available:      snap.Available(),
				Current:        snap.Current,
				Reserved:       snap.Reserved,
				NeededFromLock: p.assessment.NeededFromLock,
				MaxFulfillable: snap.Current + snap.Reserved,
			})
			outcome.LockChanges = append(outcome.LockChanges, LockChange{
				Key:         p.req.Key,
				CurrentLock: snap.Locked,
				NewLock:     snap.Locked - p.assessment.NeededFromLock,
			})
		case Tier3Needed:
			outcome.Status = StatusNeedsReserveConfirmation
			outcome.TotalFromReserved += p.assessment.NeededFromReserved
			outcome.Insufficient = append(outcome.Insufficient, LineDeficit{
				Key:                p.req.Key,
				Requested:          p.req.Quantity,
				Available:          snap.Available(),
				Current:            snap.Current,
				Reserved:           snap.Reserved,
				NeededFromReserved: p.assessment.NeededFromReserved,
				MaxFulfillable:     snap.Current + snap.Reserved,
			})
		}
	}
	return outcome
}

// ── Manual safety-buffer adjustments ─────────────────────────────────────────

// LockAdjustment reduces one variant's safety buffer by ReduceBy units.
type LockAdjustment struct {
	Key      VariantKey `json:"key"`
	ReduceBy int        `json:"reduce_by"`
}

// ReduceLock lowers safety buffers as a single atomic operation, sharing the
// conditional-update path of the tier-2 commit. It is a manual adjustment tool;
// the order path consumes buffer stock inline during Commit and never calls this.
func (c *AllocationCoordinator) ReduceLock(ctx context.Context, orgCode string, items []LockAdjustment, actor string) error {
	if len(items) == 0 {
		return validationf("items", "must not be empty")
	}
	sorted := make([]LockAdjustment, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key.Less(sorted[j].Key) })

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orgID, err := resolveOrgID(ctx, tx, orgCode)
	if err != nil {
		return err
	}

	for _, item := range sorted {
		if item.ReduceBy <= 0 {
			return validationf("reduce_by", "must be positive for %s, got %d", item.Key, item.ReduceBy)
		}
		v, err := getVariantTx(ctx, tx, orgID, item.Key)
		if err != nil {
			return err
		}
		if item.ReduceBy > v.Stock.Locked {
			return validationf("reduce_by", "%s has %d locked units, cannot reduce by %d",
				item.Key, v.Stock.Locked, item.ReduceBy)
		}

		if err := applyDeltaTx(ctx, tx, v.ID, v.Stock, poolDelta{locked: -item.ReduceBy}); err != nil {
			return err
		}
		err = c.ledger.appendTx(ctx, tx, TransferRecord{
			OrganizationID: orgID, VariantID: v.ID,
			FromPool: PoolLocked, ToPool: PoolMain, Quantity: item.ReduceBy,
			Actor: actor, Reason: ReasonManualReduction,
		})
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit lock reduction: %w", err)
	}
	return nil
}

// SetLock sets one variant's safety buffer to an absolute value, ledgered as a
// movement between the main and locked pools.
func (c *AllocationCoordinator) SetLock(ctx context.Context, orgCode string, key VariantKey, newLock int, actor string) (*Variant, error) {
	if newLock < 0 {
		return nil, validationf("new_lock", "must not be negative, got %d", newLock)
	}

	tx, err := c.pool.Begin(ctx)
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
	if newLock > v.Stock.Current {
		return nil, validationf("new_lock", "%s has %d units in main stock, cannot lock %d",
			key, v.Stock.Current, newLock)
	}
	if newLock == v.Stock.Locked {
		return v, nil
	}

	diff := newLock - v.Stock.Locked
	if err := applyDeltaTx(ctx, tx, v.ID, v.Stock, poolDelta{locked: diff}); err != nil {
		return nil, err
	}

	rec := TransferRecord{
		OrganizationID: orgID, VariantID: v.ID, Actor: actor,
	}
	if diff > 0 {
		rec.FromPool, rec.ToPool, rec.Quantity, rec.Reason = PoolMain, PoolLocked, diff, ReasonBufferRaise
	} else {
		rec.FromPool, rec.ToPool, rec.Quantity, rec.Reason = PoolLocked, PoolMain, -diff, ReasonManualReduction
	}
	if err := c.ledger.appendTx(ctx, tx, rec); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit lock update: %w", err)
	}

	v.Stock.Locked = newLock
	return v, nil
}

// findCommittedOrder loads the order a concurrent commit created for the same
// idempotency key, outside the aborted transaction.
func (c *AllocationCoordinator) findCommittedOrder(ctx context.Context, orgID int, idemKey string) (*Order, error) {
	existing, err := findOrderByIdemKeyTx(ctx, c.pool, orgID, idemKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("idempotency key %s: conflicting commit not visible: %w", idemKey, ErrStaleStock)
	}
	return existing, nil
}

func validateLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return validationf("lines", "order must have at least one line")
	}
	seen := make(map[VariantKey]bool, len(lines))
	for i, line := range lines {
		if err := validateKey(line.Key); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		if line.Quantity <= 0 {
			return validationf("quantity", "line %d: must be positive, got %d", i+1, line.Quantity)
		}
		if line.PricePerUnit.IsNegative() {
			return validationf("price_per_unit", "line %d: must not be negative", i+1)
		}
		if seen[line.Key] {
			return validationf("lines", "duplicate variant %s; merge lines before submitting", line.Key)
		}
		seen[line.Key] = true
	}
	return nil
}

func validateChannel(ch Channel) error {
	switch ch {
	case ChannelWholesale, ChannelDirect, ChannelMarketplace:
		return nil
	default:
		return validationf("channel", "unknown channel %q", ch)
	}
}
