package core_test

import (
	"testing"

	"garment-stock/internal/core"

	"github.com/google/uuid"
)

func TestLedger_HistoryFiltersAndPagination(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store, ledger, coordinator, _, _ := newEngine(pool)

	seedVariant(t, ctx, pool, keyNavyM, 20, 0, 0, 0)
	seedVariant(t, ctx, pool, keyWhiteL, 20, 0, 0, 0)

	// Build a mixed history: two receipts per variant, then an order that
	// borrows from the reserve.
	for _, key := range []core.VariantKey{keyNavyM, keyWhiteL} {
		if _, err := store.ReceiveStock(ctx, "ACME", key, 5, "warehouse"); err != nil {
			t.Fatalf("ReceiveStock failed: %v", err)
		}
		if _, err := store.ReceiveReserved(ctx, "ACME", key, 10, "warehouse"); err != nil {
			t.Fatalf("ReceiveReserved failed: %v", err)
		}
	}
	outcome, err := coordinator.Commit(ctx, "ACME", lineReq(keyNavyM, 8), uuid.NewString(),
		core.Consent{BorrowFromReserved: true}, core.ChannelMarketplace, "tester")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	all, err := ledger.History(ctx, "ACME", core.TransferFilter{})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 movements (4 receipts + 1 borrow), got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID < all[i].ID {
			t.Fatal("history must be newest first")
		}
	}

	// Variant key filter.
	navy, err := ledger.History(ctx, "ACME", core.TransferFilter{
		Design: keyNavyM.Design, Color: keyNavyM.Color, Size: keyNavyM.Size,
	})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(navy) != 3 {
		t.Errorf("expected 3 movements for %s, got %d", keyNavyM, len(navy))
	}

	// Order filter: only the borrow carries the order id.
	byOrder, err := ledger.History(ctx, "ACME", core.TransferFilter{OrderID: outcome.Order.ID})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(byOrder) != 1 || byOrder[0].Reason != core.ReasonEmergencyBorrow {
		t.Errorf("expected the single borrow movement for the order, got %+v", byOrder)
	}
	if byOrder[0].Channel != core.ChannelMarketplace {
		t.Errorf("expected marketplace channel on the borrow, got %q", byOrder[0].Channel)
	}
	if byOrder[0].Key != keyNavyM {
		t.Errorf("expected variant key on the record, got %+v", byOrder[0].Key)
	}

	// Pool filter matches either side of the movement.
	reserved, err := ledger.History(ctx, "ACME", core.TransferFilter{Pool: core.PoolReserved})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(reserved) != 3 {
		t.Errorf("expected 3 movements touching the reserved pool, got %d", len(reserved))
	}

	// Pagination walks the same ordering.
	page1, err := ledger.History(ctx, "ACME", core.TransferFilter{Limit: 2})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	page2, err := ledger.History(ctx, "ACME", core.TransferFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("expected two full pages, got %d and %d", len(page1), len(page2))
	}
	if page1[0].ID != all[0].ID || page2[0].ID != all[2].ID {
		t.Error("pagination does not follow the newest-first ordering")
	}
}
