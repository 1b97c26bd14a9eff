package core_test

import (
	"errors"
	"testing"

	"garment-stock/internal/core"

	"github.com/google/uuid"
)

func TestReversal_RoundTripAllTiers(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, ledger, coordinator, reversal, _ := newEngine(pool)

	keyTier1 := core.VariantKey{Design: "Aegean Tee", Color: "Black", Size: "S"}
	keyTier2 := core.VariantKey{Design: "Aegean Tee", Color: "Navy", Size: "M"}
	keyTier3 := core.VariantKey{Design: "Harbor Hoodie", Color: "Grey", Size: "L"}

	before := map[core.VariantKey]core.Snapshot{
		keyTier1: {Current: 10, Locked: 2, Reserved: 0},
		keyTier2: {Current: 10, Locked: 4, Reserved: 0},
		keyTier3: {Current: 5, Locked: 3, Reserved: 10},
	}
	for key, snap := range before {
		seedVariant(t, ctx, pool, key, 20, snap.Current, snap.Locked, snap.Reserved)
	}

	lines := []core.LineRequest{
		{Key: keyTier1, Quantity: 4}, // within available
		{Key: keyTier2, Quantity: 8}, // needs 2 from the buffer
		{Key: keyTier3, Quantity: 8}, // needs 3 from the reserve
	}
	outcome, err := coordinator.Commit(ctx, "ACME", lines, uuid.NewString(),
		core.Consent{BorrowFromReserved: true}, core.ChannelDirect, "tester")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if outcome.Status != core.StatusOK {
		t.Fatalf("expected StatusOK, got %s", outcome.Status)
	}

	cancelled, err := reversal.Cancel(ctx, outcome.Order.ID, "tester")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != core.OrderCancelled {
		t.Fatalf("expected CANCELLED status, got %s", cancelled.Status)
	}
	if cancelled.CancelledAt == nil {
		t.Error("expected cancelled_at to be set")
	}

	for key, want := range before {
		if got := getSnapshot(t, ctx, pool, key); got != want {
			t.Errorf("%s: round trip did not restore pools: got %+v, want %+v", key, got, want)
		}
	}

	// Cancellation movements are ledgered, not erased: the borrow row stays and
	// a compensating restore appears.
	restores, err := ledger.History(ctx, "ACME", core.TransferFilter{
		OrderID: outcome.Order.ID, Reason: core.ReasonCancelRestore,
	})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	// tier2 lock restore, tier3 lock restore, tier3 reserve restore
	if len(restores) != 3 {
		t.Errorf("expected 3 cancel_restore rows, got %d: %+v", len(restores), restores)
	}
}

func TestReversal_DoubleCancelIdempotent(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, _, coordinator, reversal, _ := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 20, 10, 0, 0)

	outcome, err := coordinator.Create(ctx, "ACME", lineReq(keyNavyM, 4), uuid.NewString(), core.ChannelDirect, "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := reversal.Cancel(ctx, outcome.Order.ID, "tester"); err != nil {
		t.Fatalf("first Cancel failed: %v", err)
	}
	second, err := reversal.Cancel(ctx, outcome.Order.ID, "tester")
	if err != nil {
		t.Fatalf("second Cancel failed: %v", err)
	}
	if second.Status != core.OrderCancelled {
		t.Errorf("expected CANCELLED on replay, got %s", second.Status)
	}

	// The replay must not restore a second time.
	if snap := getSnapshot(t, ctx, pool, keyNavyM); snap.Current != 10 {
		t.Errorf("double cancel double-restored: %+v", snap)
	}
}

func TestReversal_UnknownOrder(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, _, _, reversal, _ := newEngine(pool)

	_, err := reversal.Cancel(ctx, 999999, "tester")
	if !errors.Is(err, core.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
