package app

import (
	"context"

	"garment-stock/internal/core"
)

// ApplicationService is the single interface all adapters call. It decouples
// presentation from the allocation engine; implementations contain no display
// logic of any kind.
type ApplicationService interface {
	// CreateOrder runs the dry-run phase and commits immediately when every
	// line clears at tier 1. Escalation comes back as a structured outcome
	// with zero writes.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*core.AllocationOutcome, error)

	// ConfirmAndCreateOrder resubmits an order with explicit escalation
	// consent and retries transient snapshot races within bounds.
	ConfirmAndCreateOrder(ctx context.Context, req ConfirmOrderRequest) (*core.AllocationOutcome, error)

	// CancelOrder reverses a committed order's stock mutations. Idempotent.
	CancelOrder(ctx context.Context, orderID int, actor string) (*OrderResult, error)

	// GetOrder returns one order with its allocation detail.
	GetOrder(ctx context.Context, orderID int) (*OrderResult, error)

	// ListOrders returns an organization's orders, optionally filtered.
	ListOrders(ctx context.Context, orgCode string, status *core.OrderStatus, channel *core.Channel) (*OrderListResult, error)

	// GetTransferHistory returns a filtered page of the movement ledger.
	GetTransferHistory(ctx context.Context, orgCode string, filter core.TransferFilter) (*TransferHistoryResult, error)

	// GetStockLevels returns all variant stock levels for an organization.
	GetStockLevels(ctx context.Context, orgCode string) (*StockResult, error)

	// CreateVariant registers a new catalog variant with zero stock.
	CreateVariant(ctx context.Context, req CreateVariantRequest) (*VariantResult, error)

	// DeleteVariant removes a variant that has no order lines referencing it.
	DeleteVariant(ctx context.Context, orgCode string, key core.VariantKey) error

	// ReceiveStock records a goods receipt into the main pool.
	ReceiveStock(ctx context.Context, req ReceiveStockRequest) (*VariantResult, error)

	// ReceiveReservedStock records a receipt into the reserved warehouse pool.
	ReceiveReservedStock(ctx context.Context, req ReceiveStockRequest) (*VariantResult, error)

	// ReduceVariantLock lowers safety buffers atomically across variants.
	ReduceVariantLock(ctx context.Context, req ReduceLockRequest) error

	// SetVariantLock sets one variant's safety buffer to an absolute value.
	SetVariantLock(ctx context.Context, req SetLockRequest) (*VariantResult, error)

	// CreateOrganization registers a tenant. Used by provisioning and tests.
	CreateOrganization(ctx context.Context, orgCode, name string) (*core.Organization, error)
}
