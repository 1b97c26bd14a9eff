package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stale-stock retries: bounded, with a short linear backoff. The retry is safe
// because Commit re-assesses under the transaction and hands back a fresh
// confirmation outcome whenever the caller's consent no longer covers what the
// current stock state requires.
const (
	staleRetryAttempts = 3
	staleRetryBackoff  = 50 * time.Millisecond
)

// defaultWholesaleMinQty is the per-line minimum for the wholesale channel.
const defaultWholesaleMinQty = 5

// OrderCreationFacade is the per-channel entry point. It normalizes raw order
// lines (trimming, merging duplicates, price defaulting is left to the
// coordinator) and drives the two-phase protocol. Marketplace SKU text has
// already been mapped to variant keys before it reaches this layer.
type OrderCreationFacade struct {
	coordinator     *AllocationCoordinator
	wholesaleMinQty int
}

func NewOrderCreationFacade(coordinator *AllocationCoordinator) *OrderCreationFacade {
	return &OrderCreationFacade{coordinator: coordinator, wholesaleMinQty: defaultWholesaleMinQty}
}

// LineInput is a raw order line as received from a channel adapter.
type LineInput struct {
	Design       string          `json:"design"`
	Color        string          `json:"color"`
	Size         string          `json:"size"`
	Quantity     int             `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

// OrderRequest is a channel-tagged order submission.
type OrderRequest struct {
	OrgCode        string      `json:"org_code"`
	Channel        Channel     `json:"channel"`
	Lines          []LineInput `json:"lines"`
	IdempotencyKey string      `json:"idempotency_key"`
	Actor          string      `json:"actor"`
}

// Create runs the dry-run phase and commits immediately when no escalation is
// needed. Escalation and hard insufficiency come back exactly as the
// coordinator reports them.
func (f *OrderCreationFacade) Create(ctx context.Context, req OrderRequest) (*AllocationOutcome, error) {
	lines, err := f.normalize(&req)
	if err != nil {
		return nil, err
	}
	return f.coordinator.Create(ctx, req.OrgCode, lines, req.IdempotencyKey, req.Channel, req.Actor)
}

// ConfirmAndCreate resubmits an order with explicit escalation consent and
// owns the bounded retry for transient snapshot races. Only ErrStaleStock is
// retried; a changed confirmation requirement is returned to the user, never
// silently reinterpreted.
func (f *OrderCreationFacade) ConfirmAndCreate(ctx context.Context, req OrderRequest, consent Consent) (*AllocationOutcome, error) {
	lines, err := f.normalize(&req)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		outcome, err := f.coordinator.Commit(ctx, req.OrgCode, lines, req.IdempotencyKey, consent, req.Channel, req.Actor)
		if err == nil || !errors.Is(err, ErrStaleStock) || attempt >= staleRetryAttempts {
			return outcome, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * staleRetryBackoff):
		}
	}
}

// normalize cleans key fields, merges duplicate variant lines, applies
// channel-specific rules, and fills a missing idempotency key.
func (f *OrderCreationFacade) normalize(req *OrderRequest) ([]LineRequest, error) {
	if err := validateChannel(req.Channel); err != nil {
		return nil, err
	}
	if len(req.Lines) == 0 {
		return nil, validationf("lines", "order must have at least one line")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	merged := make(map[VariantKey]*LineRequest)
	var order []VariantKey
	for i, in := range req.Lines {
		key := VariantKey{
			Design: strings.TrimSpace(in.Design),
			Color:  strings.TrimSpace(in.Color),
			Size:   strings.ToUpper(strings.TrimSpace(in.Size)),
		}
		if err := validateKey(key); err != nil {
			return nil, err
		}
		if in.Quantity <= 0 {
			return nil, validationf("quantity", "line %d: must be positive, got %d", i+1, in.Quantity)
		}
		if in.PricePerUnit.IsNegative() {
			return nil, validationf("price_per_unit", "line %d: must not be negative", i+1)
		}

		if existing, ok := merged[key]; ok {
			if !existing.PricePerUnit.Equal(in.PricePerUnit) {
				return nil, validationf("lines",
					"variant %s appears twice with different prices; merge lines before submitting", key)
			}
			existing.Quantity += in.Quantity
			continue
		}
		merged[key] = &LineRequest{Key: key, Quantity: in.Quantity, PricePerUnit: in.PricePerUnit}
		order = append(order, key)
	}

	lines := make([]LineRequest, 0, len(order))
	for _, key := range order {
		line := *merged[key]
		if req.Channel == ChannelWholesale && line.Quantity < f.wholesaleMinQty {
			return nil, validationf("quantity",
				"wholesale orders require at least %d units per variant, %s has %d",
				f.wholesaleMinQty, key, line.Quantity)
		}
		lines = append(lines, line)
	}
	return lines, nil
}
