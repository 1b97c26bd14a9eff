package core_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"garment-stock/internal/core"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// setupTestDB connects to a dedicated TEST database, applies the schema, wipes
// all tables, and seeds one organization. Set TEST_DATABASE_URL in your .env or
// environment to run integration tests.
func setupTestDB(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()
	_ = godotenv.Load("../../.env")

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/schema.sql")
	if err != nil {
		t.Fatalf("Failed to read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE stock_transfers, stock_order_lines, stock_orders, stock_variants, organizations CASCADE;

		INSERT INTO organizations (org_code, name) VALUES ('ACME', 'Acme Garments');
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool, ctx
}

// newEngine wires the full allocation stack over the test pool.
func newEngine(pool *pgxpool.Pool) (*core.VariantStockStore, *core.TransferLedger, *core.AllocationCoordinator, *core.ReversalService, *core.OrderCreationFacade) {
	ledger := core.NewTransferLedger(pool)
	store := core.NewVariantStockStore(pool, ledger)
	coordinator := core.NewAllocationCoordinator(pool, ledger)
	reversal := core.NewReversalService(pool, ledger)
	facade := core.NewOrderCreationFacade(coordinator)
	return store, ledger, coordinator, reversal, facade
}

// seedVariant inserts a variant with explicit pool values, bypassing the
// receiving flows.
func seedVariant(t *testing.T, ctx context.Context, pool *pgxpool.Pool, key core.VariantKey, price float64, current, locked, reserved int) {
	t.Helper()
	_, err := pool.Exec(ctx, `
		INSERT INTO stock_variants (organization_id, design, color, size, unit_price, current_stock, locked_stock, reserved_stock)
		SELECT o.id, $1, $2, $3, $4, $5, $6, $7 FROM organizations o WHERE o.org_code = 'ACME'
	`, key.Design, key.Color, key.Size, price, current, locked, reserved)
	if err != nil {
		t.Fatalf("Failed to seed variant %s: %v", key, err)
	}
}

// getSnapshot reads a variant's pools directly.
func getSnapshot(t *testing.T, ctx context.Context, pool *pgxpool.Pool, key core.VariantKey) core.Snapshot {
	t.Helper()
	var snap core.Snapshot
	err := pool.QueryRow(ctx, `
		SELECT current_stock, locked_stock, reserved_stock
		FROM stock_variants v JOIN organizations o ON o.id = v.organization_id
		WHERE o.org_code = 'ACME' AND v.design = $1 AND v.color = $2 AND v.size = $3
	`, key.Design, key.Color, key.Size).Scan(&snap.Current, &snap.Locked, &snap.Reserved)
	if err != nil {
		t.Fatalf("Failed to read snapshot for %s: %v", key, err)
	}
	return snap
}

var (
	keyNavyM  = core.VariantKey{Design: "Aegean Tee", Color: "Navy", Size: "M"}
	keyWhiteL = core.VariantKey{Design: "Aegean Tee", Color: "White", Size: "L"}
)

func lineReq(key core.VariantKey, qty int) []core.LineRequest {
	return []core.LineRequest{{Key: key, Quantity: qty}}
}

func TestAllocation_Tier1Commit(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, _, coordinator, _, _ := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 24.50, 10, 0, 0)

	outcome, err := coordinator.Create(ctx, "ACME", lineReq(keyNavyM, 4), uuid.NewString(), core.ChannelDirect, "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if outcome.Status != core.StatusOK {
		t.Fatalf("expected StatusOK, got %s", outcome.Status)
	}
	if outcome.Order == nil || len(outcome.Order.Lines) != 1 {
		t.Fatal("expected a committed order with one line")
	}

	line := outcome.Order.Lines[0]
	if line.Source != core.SourceTier1 {
		t.Errorf("expected tier1 source, got %s", line.Source)
	}
	if !line.PricePerUnit.Equal(decimal.NewFromFloat(24.50)) {
		t.Errorf("expected catalog price 24.50, got %s", line.PricePerUnit)
	}
	if !outcome.Order.TotalAmount.Equal(decimal.NewFromFloat(98.00)) {
		t.Errorf("expected total 98.00, got %s", outcome.Order.TotalAmount)
	}

	snap := getSnapshot(t, ctx, pool, keyNavyM)
	if snap != (core.Snapshot{Current: 6, Locked: 0, Reserved: 0}) {
		t.Errorf("unexpected pools after tier1 commit: %+v", snap)
	}
}

func TestAllocation_EscalationPrecedence(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, _, coordinator, _, _ := newEngine(pool)
	// available = 2, so the request overshoots main stock; the reserve
	// confirmation must subsume the buffer gap.
	seedVariant(t, ctx, pool, keyNavyM, 24.50, 5, 3, 10)

	outcome, err := coordinator.Plan(ctx, "ACME", lineReq(keyNavyM, 8))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if outcome.Status != core.StatusNeedsReserveConfirmation {
		t.Fatalf("expected reserve confirmation, got %s", outcome.Status)
	}
	if outcome.TotalFromReserved != 3 {
		t.Errorf("expected 3 needed from reserve, got %d", outcome.TotalFromReserved)
	}
	if len(outcome.LockChanges) != 0 {
		t.Errorf("reserve confirmation must not also request a lock change, got %+v", outcome.LockChanges)
	}

	// Phase A is read-only.
	snap := getSnapshot(t, ctx, pool, keyNavyM)
	if snap != (core.Snapshot{Current: 5, Locked: 3, Reserved: 10}) {
		t.Errorf("dry run mutated stock: %+v", snap)
	}
}

func TestAllocation_Tier2ConfirmMath(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, ledger, _, _, facade := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 30, 10, 4, 0)

	req := core.OrderRequest{
		OrgCode:        "ACME",
		Channel:        core.ChannelDirect,
		IdempotencyKey: uuid.NewString(),
		Lines:          []core.LineInput{{Design: keyNavyM.Design, Color: keyNavyM.Color, Size: keyNavyM.Size, Quantity: 8}},
	}

	outcome, err := facade.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if outcome.Status != core.StatusNeedsLockConfirmation {
		t.Fatalf("expected lock confirmation, got %s", outcome.Status)
	}
	if outcome.TotalFromLock != 2 {
		t.Errorf("expected 2 needed from lock, got %d", outcome.TotalFromLock)
	}
	if len(outcome.LockChanges) != 1 || outcome.LockChanges[0].CurrentLock != 4 || outcome.LockChanges[0].NewLock != 2 {
		t.Errorf("unexpected lock change payload: %+v", outcome.LockChanges)
	}

	confirmed, err := facade.ConfirmAndCreate(ctx, req, core.Consent{UseLockedStock: true})
	if err != nil {
		t.Fatalf("ConfirmAndCreate failed: %v", err)
	}
	if confirmed.Status != core.StatusOK {
		t.Fatalf("expected StatusOK after consent, got %s", confirmed.Status)
	}
	if confirmed.Order.Lines[0].Source != core.SourceTier2 {
		t.Errorf("expected tier2 source, got %s", confirmed.Order.Lines[0].Source)
	}
	if confirmed.Order.Lines[0].FromLock != 2 {
		t.Errorf("expected from_lock=2, got %d", confirmed.Order.Lines[0].FromLock)
	}

	snap := getSnapshot(t, ctx, pool, keyNavyM)
	if snap != (core.Snapshot{Current: 2, Locked: 2, Reserved: 0}) {
		t.Errorf("expected current=2 locked=2 after confirm, got %+v", snap)
	}

	records, err := ledger.History(ctx, "ACME", core.TransferFilter{Reason: core.ReasonBufferRelease})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 1 || records[0].Quantity != 2 {
		t.Errorf("expected one buffer_release transfer of 2 units, got %+v", records)
	}
}

func TestAllocation_Tier3Commit(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, ledger, coordinator, _, _ := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 30, 5, 3, 10)

	outcome, err := coordinator.Commit(ctx, "ACME", lineReq(keyNavyM, 8), uuid.NewString(),
		core.Consent{BorrowFromReserved: true}, core.ChannelWholesale, "tester")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if outcome.Status != core.StatusOK {
		t.Fatalf("expected StatusOK, got %s", outcome.Status)
	}

	// The borrow drains main stock to zero, so the 3-unit buffer is released
	// in the same movement and restored on cancel.
	line := outcome.Order.Lines[0]
	if line.Source != core.SourceTier3 || line.FromReserved != 3 || line.FromLock != 3 {
		t.Errorf("unexpected line allocation: %+v", line)
	}

	snap := getSnapshot(t, ctx, pool, keyNavyM)
	if snap != (core.Snapshot{Current: 0, Locked: 0, Reserved: 7}) {
		t.Errorf("unexpected pools after tier3 commit: %+v", snap)
	}

	records, err := ledger.History(ctx, "ACME", core.TransferFilter{Reason: core.ReasonEmergencyBorrow})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 1 || records[0].Quantity != 3 || records[0].FromPool != core.PoolReserved {
		t.Errorf("expected one emergency_borrow transfer of 3, got %+v", records)
	}
}

func TestAllocation_HardInsufficient(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, _, coordinator, _, _ := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 30, 3, 0, 2)

	_, err := coordinator.Create(ctx, "ACME", lineReq(keyNavyM, 10), uuid.NewString(), core.ChannelDirect, "tester")
	var insErr *core.InsufficientStockError
	if !errors.As(err, &insErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(insErr.Deficits) != 1 || insErr.Deficits[0].MaxFulfillable != 5 {
		t.Errorf("unexpected deficit payload: %+v", insErr.Deficits)
	}

	snap := getSnapshot(t, ctx, pool, keyNavyM)
	if snap != (core.Snapshot{Current: 3, Locked: 0, Reserved: 2}) {
		t.Errorf("hard failure must leave zero writes, got %+v", snap)
	}
}

func TestAllocation_MultiVariantAtomic(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, _, coordinator, _, _ := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 30, 10, 0, 0)
	seedVariant(t, ctx, pool, keyWhiteL, 30, 1, 0, 0)

	lines := []core.LineRequest{
		{Key: keyNavyM, Quantity: 5},
		{Key: keyWhiteL, Quantity: 10}, // unfulfillable
	}
	_, err := coordinator.Create(ctx, "ACME", lines, uuid.NewString(), core.ChannelDirect, "tester")
	var insErr *core.InsufficientStockError
	if !errors.As(err, &insErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	if snap := getSnapshot(t, ctx, pool, keyNavyM); snap.Current != 10 {
		t.Errorf("healthy line must not be touched when a sibling hard-fails, got %+v", snap)
	}
}

func TestAllocation_Idempotency(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, _, coordinator, _, _ := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 30, 10, 0, 0)

	key := uuid.NewString()
	first, err := coordinator.Commit(ctx, "ACME", lineReq(keyNavyM, 4), key, core.Consent{}, core.ChannelDirect, "tester")
	if err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	second, err := coordinator.Commit(ctx, "ACME", lineReq(keyNavyM, 4), key, core.Consent{}, core.ChannelDirect, "tester")
	if err != nil {
		t.Fatalf("replayed Commit failed: %v", err)
	}

	if first.Order.ID != second.Order.ID {
		t.Errorf("replay returned a different order: %d vs %d", first.Order.ID, second.Order.ID)
	}
	if len(second.Order.Lines) != 1 {
		t.Errorf("replayed order missing lines: %+v", second.Order)
	}
	if snap := getSnapshot(t, ctx, pool, keyNavyM); snap.Current != 6 {
		t.Errorf("replay double-decremented: %+v", snap)
	}
}

func TestAllocation_ConsentNeverAssumed(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, _, coordinator, _, _ := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 30, 10, 4, 0)

	// Commit without consent while the line needs tier 2: must return the
	// confirmation, not consume the buffer.
	outcome, err := coordinator.Commit(ctx, "ACME", lineReq(keyNavyM, 8), uuid.NewString(),
		core.Consent{}, core.ChannelDirect, "tester")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if outcome.Status != core.StatusNeedsLockConfirmation {
		t.Fatalf("expected lock confirmation, got %s", outcome.Status)
	}
	if snap := getSnapshot(t, ctx, pool, keyNavyM); snap.Current != 10 || snap.Locked != 4 {
		t.Errorf("unconsented commit wrote stock: %+v", snap)
	}

	// Lock consent alone must not unlock the reserve.
	seedVariant(t, ctx, pool, keyWhiteL, 30, 5, 0, 10)
	outcome, err = coordinator.Commit(ctx, "ACME", lineReq(keyWhiteL, 8), uuid.NewString(),
		core.Consent{UseLockedStock: true}, core.ChannelDirect, "tester")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if outcome.Status != core.StatusNeedsReserveConfirmation {
		t.Fatalf("expected reserve confirmation, got %s", outcome.Status)
	}
	if snap := getSnapshot(t, ctx, pool, keyWhiteL); snap.Current != 5 || snap.Reserved != 10 {
		t.Errorf("lock consent drained the reserve: %+v", snap)
	}
}

func TestAllocation_ConcurrentOversell(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, _, coordinator, _, _ := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 30, 1, 0, 0)

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	successes := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := coordinator.Create(ctx, "ACME", lineReq(keyNavyM, 1),
				uuid.NewString(), core.ChannelDirect, "tester")
			results[i] = err
			successes[i] = err == nil && outcome.Status == core.StatusOK
		}(i)
	}
	wg.Wait()

	var won int
	for i := 0; i < n; i++ {
		if successes[i] {
			won++
			continue
		}
		err := results[i]
		var insErr *core.InsufficientStockError
		if err != nil && !errors.As(err, &insErr) && !errors.Is(err, core.ErrStaleStock) {
			t.Errorf("request %d failed unexpectedly: %v", i, err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one success for one unit, got %d", won)
	}
	if snap := getSnapshot(t, ctx, pool, keyNavyM); snap.Current != 0 {
		t.Errorf("expected zero stock after the race, got %+v", snap)
	}
}
