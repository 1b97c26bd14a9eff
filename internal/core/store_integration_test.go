package core_test

import (
	"errors"
	"testing"

	"garment-stock/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestStore_ReceiveFlows(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store, ledger, _, _, _ := newEngine(pool)

	key := core.VariantKey{Design: "Harbor Hoodie", Color: "Grey", Size: "XL"}
	if _, err := store.CreateVariant(ctx, "ACME", core.VariantSpec{Key: key, UnitPrice: decimal.NewFromInt(55)}); err != nil {
		t.Fatalf("CreateVariant failed: %v", err)
	}

	v, err := store.ReceiveStock(ctx, "ACME", key, 20, "warehouse")
	if err != nil {
		t.Fatalf("ReceiveStock failed: %v", err)
	}
	if v.Stock.Current != 20 {
		t.Errorf("expected current=20 after receipt, got %+v", v.Stock)
	}

	v, err = store.ReceiveReserved(ctx, "ACME", key, 7, "warehouse")
	if err != nil {
		t.Fatalf("ReceiveReserved failed: %v", err)
	}
	if v.Stock.Reserved != 7 || v.Stock.Current != 20 {
		t.Errorf("expected reserved=7 current=20, got %+v", v.Stock)
	}

	// Both receipts are ledgered from the supplier pool.
	records, err := ledger.History(ctx, "ACME", core.TransferFilter{Pool: core.PoolSupplier})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 supplier movements, got %d", len(records))
	}
	// Newest first.
	if records[0].Reason != core.ReasonReserveReceipt || records[1].Reason != core.ReasonGoodsReceipt {
		t.Errorf("unexpected receipt reasons: %s, %s", records[0].Reason, records[1].Reason)
	}

	if _, err := store.ReceiveStock(ctx, "ACME", key, 0, "warehouse"); err == nil {
		t.Error("expected validation error for zero receive quantity")
	}
}

func TestStore_DeleteVariantGuard(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store, _, coordinator, _, _ := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 20, 10, 0, 0)

	if _, err := coordinator.Create(ctx, "ACME", lineReq(keyNavyM, 2), uuid.NewString(), core.ChannelDirect, "tester"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := store.DeleteVariant(ctx, "ACME", keyNavyM)
	if !errors.Is(err, core.ErrVariantInUse) {
		t.Fatalf("expected ErrVariantInUse for ordered variant, got %v", err)
	}

	// An unreferenced variant deletes cleanly, movement history included.
	free := core.VariantKey{Design: "Harbor Hoodie", Color: "Grey", Size: "S"}
	seedVariant(t, ctx, pool, free, 20, 5, 0, 0)
	if _, err := store.ReceiveStock(ctx, "ACME", free, 3, "warehouse"); err != nil {
		t.Fatalf("ReceiveStock failed: %v", err)
	}
	if err := store.DeleteVariant(ctx, "ACME", free); err != nil {
		t.Fatalf("DeleteVariant failed: %v", err)
	}
	if _, err := store.GetVariant(ctx, "ACME", free); !errors.Is(err, core.ErrVariantNotFound) {
		t.Errorf("expected ErrVariantNotFound after delete, got %v", err)
	}
}

func TestStore_LockAdjustments(t *testing.T) {
	pool, ctx := setupTestDB(t)
	_, ledger, coordinator, _, _ := newEngine(pool)
	seedVariant(t, ctx, pool, keyNavyM, 20, 10, 2, 0)

	// Raise the buffer to an absolute value.
	v, err := coordinator.SetLock(ctx, "ACME", keyNavyM, 6, "planner")
	if err != nil {
		t.Fatalf("SetLock failed: %v", err)
	}
	if v.Stock.Locked != 6 {
		t.Errorf("expected locked=6, got %+v", v.Stock)
	}

	// Buffer cannot exceed main stock.
	if _, err := coordinator.SetLock(ctx, "ACME", keyNavyM, 11, "planner"); err == nil {
		t.Error("expected validation error for lock above current stock")
	}

	// Relative reduction.
	err = coordinator.ReduceLock(ctx, "ACME", []core.LockAdjustment{{Key: keyNavyM, ReduceBy: 4}}, "planner")
	if err != nil {
		t.Fatalf("ReduceLock failed: %v", err)
	}
	if snap := getSnapshot(t, ctx, pool, keyNavyM); snap.Locked != 2 || snap.Current != 10 {
		t.Errorf("expected locked=2 current=10 after reduction, got %+v", snap)
	}

	// Reducing below zero is rejected with no writes.
	err = coordinator.ReduceLock(ctx, "ACME", []core.LockAdjustment{{Key: keyNavyM, ReduceBy: 5}}, "planner")
	var valErr *core.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if snap := getSnapshot(t, ctx, pool, keyNavyM); snap.Locked != 2 {
		t.Errorf("rejected reduction wrote stock: %+v", snap)
	}

	raises, err := ledger.History(ctx, "ACME", core.TransferFilter{Reason: core.ReasonBufferRaise})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(raises) != 1 || raises[0].Quantity != 4 {
		t.Errorf("expected one buffer_raise of 4 (2 to 6), got %+v", raises)
	}
	reductions, err := ledger.History(ctx, "ACME", core.TransferFilter{Reason: core.ReasonManualReduction})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(reductions) != 1 || reductions[0].Quantity != 4 {
		t.Errorf("expected one manual_reduction of 4, got %+v", reductions)
	}
}

func TestStore_UnknownOrgAndVariant(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store, _, _, _, _ := newEngine(pool)

	if _, err := store.GetVariant(ctx, "NOPE", keyNavyM); !errors.Is(err, core.ErrOrgNotFound) {
		t.Errorf("expected ErrOrgNotFound, got %v", err)
	}
	if _, err := store.GetVariant(ctx, "ACME", keyNavyM); !errors.Is(err, core.ErrVariantNotFound) {
		t.Errorf("expected ErrVariantNotFound, got %v", err)
	}
}
