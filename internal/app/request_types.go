package app

import (
	"garment-stock/internal/core"

	"github.com/shopspring/decimal"
)

// CreateOrderRequest is the input for the dry-run-then-commit order path.
type CreateOrderRequest struct {
	OrgCode        string           `json:"org_code"`
	Channel        core.Channel     `json:"channel"`
	IdempotencyKey string           `json:"idempotency_key"`
	Actor          string           `json:"actor"`
	Lines          []core.LineInput `json:"lines"`
}

// ConfirmOrderRequest resubmits the same lines plus explicit escalation consent.
type ConfirmOrderRequest struct {
	CreateOrderRequest
	Consent core.Consent `json:"consent"`
}

// CreateVariantRequest registers a new (design, color, size) unit in the catalog.
type CreateVariantRequest struct {
	OrgCode   string          `json:"org_code"`
	Design    string          `json:"design"`
	Color     string          `json:"color"`
	Size      string          `json:"size"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ReceiveStockRequest records a goods receipt into the main or reserved pool.
type ReceiveStockRequest struct {
	OrgCode  string `json:"org_code"`
	Design   string `json:"design"`
	Color    string `json:"color"`
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
	Actor    string `json:"actor"`
}

// ReduceLockRequest lowers safety buffers on one or more variants atomically.
type ReduceLockRequest struct {
	OrgCode string                `json:"org_code"`
	Items   []core.LockAdjustment `json:"items"`
	Actor   string                `json:"actor"`
}

// SetLockRequest sets one variant's safety buffer to an absolute value.
type SetLockRequest struct {
	OrgCode string `json:"org_code"`
	Design  string `json:"design"`
	Color   string `json:"color"`
	Size    string `json:"size"`
	NewLock int    `json:"new_lock"`
	Actor   string `json:"actor"`
}
