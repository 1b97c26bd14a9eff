package app

import "garment-stock/internal/core"

// OrderResult is returned by order lifecycle operations.
type OrderResult struct {
	Order *core.Order `json:"order"`
}

// OrderListResult is returned by ListOrders.
type OrderListResult struct {
	Orders  []core.Order `json:"orders"`
	OrgCode string       `json:"org_code"`
}

// StockResult is returned by GetStockLevels.
type StockResult struct {
	Levels  []core.StockLevel `json:"levels"`
	OrgCode string            `json:"org_code"`
}

// VariantResult is returned by variant and receiving operations.
type VariantResult struct {
	Variant *core.Variant `json:"variant"`
}

// TransferHistoryResult is a page of the movement ledger.
type TransferHistoryResult struct {
	Records []core.TransferRecord `json:"records"`
	OrgCode string                `json:"org_code"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}
