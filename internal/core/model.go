package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Channel identifies the sales channel an order arrived through.
type Channel string

const (
	ChannelWholesale   Channel = "wholesale"
	ChannelDirect      Channel = "direct"
	ChannelMarketplace Channel = "marketplace"
)

// Pool identifies one of the stock pools a unit can live in. The supplier pool
// is the external source for goods receipts so that receiving flows show up in
// the transfer ledger like every other movement.
type Pool string

const (
	PoolSupplier Pool = "supplier"
	PoolMain     Pool = "main"
	PoolLocked   Pool = "locked"
	PoolReserved Pool = "reserved"
)

// AllocationSource records which escalation tier fulfilled an order line.
// It is stored on the line because reversal needs it to restore the right pools.
type AllocationSource string

const (
	SourceTier1 AllocationSource = "tier1" // ordinary availability
	SourceTier2 AllocationSource = "tier2" // safety buffer consumed
	SourceTier3 AllocationSource = "tier3" // borrowed from the reserved warehouse
)

// OrderStatus is the lifecycle state of a stock order. Orders are created
// CONFIRMED (stock already committed) and can only move to CANCELLED.
type OrderStatus string

const (
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type Organization struct {
	ID        int       `json:"id"`
	OrgCode   string    `json:"org_code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// VariantKey identifies a stock-keeping unit within an organization.
type VariantKey struct {
	Design string `json:"design"`
	Color  string `json:"color"`
	Size   string `json:"size"`
}

// Less orders keys lexicographically by (design, color, size). All multi-variant
// commits acquire variants in this order so two overlapping orders can never
// deadlock against each other.
func (k VariantKey) Less(other VariantKey) bool {
	if k.Design != other.Design {
		return k.Design < other.Design
	}
	if k.Color != other.Color {
		return k.Color < other.Color
	}
	return k.Size < other.Size
}

func (k VariantKey) String() string {
	return k.Design + "/" + k.Color + "/" + k.Size
}

// Snapshot is a point-in-time read of a variant's three stock pools.
// Every conditional write is guarded on the snapshot it was computed from.
type Snapshot struct {
	Current  int `json:"current_stock"`
	Locked   int `json:"locked_stock"`
	Reserved int `json:"reserved_stock"`
}

// Available is the portion of main stock sellable without any confirmation.
func (s Snapshot) Available() int {
	return s.Current - s.Locked
}

// Variant is a full stock record for a (design, color, size) unit.
type Variant struct {
	ID             int             `json:"id"`
	OrganizationID int             `json:"organization_id"`
	Key            VariantKey      `json:"key"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Stock          Snapshot        `json:"stock"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Order is a committed stock order with its allocation detail.
type Order struct {
	ID             int             `json:"id"`
	OrganizationID int             `json:"organization_id"`
	Channel        Channel         `json:"channel"`
	Status         OrderStatus     `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Lines          []OrderLine     `json:"lines"`
}

// OrderLine is a single committed line. FromLock and FromReserved hold the exact
// quantities taken from the safety buffer and the reserved pool; reversal
// replays them in the opposite direction.
type OrderLine struct {
	ID           int              `json:"id"`
	OrderID      int              `json:"order_id"`
	LineNumber   int              `json:"line_number"`
	VariantID    int              `json:"variant_id"`
	Key          VariantKey       `json:"key"`
	Quantity     int              `json:"quantity"`
	PricePerUnit decimal.Decimal  `json:"price_per_unit"`
	LineTotal    decimal.Decimal  `json:"line_total"`
	Source       AllocationSource `json:"allocation_source"`
	FromLock     int              `json:"from_lock"`
	FromReserved int              `json:"from_reserved"`
}

// TransferRecord is one append-only row in the movement ledger.
type TransferRecord struct {
	ID             int        `json:"id"`
	OrganizationID int        `json:"organization_id"`
	VariantID      int        `json:"variant_id"`
	Key            VariantKey `json:"key"`
	FromPool       Pool       `json:"from_pool"`
	ToPool         Pool       `json:"to_pool"`
	Quantity       int        `json:"quantity"`
	Channel        Channel    `json:"channel,omitempty"`
	OrderID        *int       `json:"order_id,omitempty"`
	Actor          string     `json:"actor,omitempty"`
	Reason         string     `json:"reason"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Transfer reasons written by the engine.
const (
	ReasonGoodsReceipt    = "goods_receipt"
	ReasonReserveReceipt  = "reserve_receipt"
	ReasonEmergencyBorrow = "emergency_borrow"
	ReasonBufferRelease   = "buffer_release"
	ReasonBufferRaise     = "buffer_raise"
	ReasonManualReduction = "manual_reduction"
	ReasonCancelRestore   = "cancel_restore"
	ReasonCancelReturn    = "cancel_return"
)

// StockLevel is a read view of a variant for listings.
type StockLevel struct {
	Key       VariantKey      `json:"key"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Current   int             `json:"current_stock"`
	Locked    int             `json:"locked_stock"`
	Available int             `json:"available_stock"`
	Reserved  int             `json:"reserved_stock"`
}
