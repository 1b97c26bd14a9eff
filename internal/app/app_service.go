package app

import (
	"context"
	"fmt"

	"garment-stock/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type appService struct {
	pool        *pgxpool.Pool
	store       *core.VariantStockStore
	ledger      *core.TransferLedger
	coordinator *core.AllocationCoordinator
	reversal    *core.ReversalService
	facade      *core.OrderCreationFacade
	log         zerolog.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	pool *pgxpool.Pool,
	store *core.VariantStockStore,
	ledger *core.TransferLedger,
	coordinator *core.AllocationCoordinator,
	reversal *core.ReversalService,
	facade *core.OrderCreationFacade,
	log zerolog.Logger,
) ApplicationService {
	return &appService{
		pool:        pool,
		store:       store,
		ledger:      ledger,
		coordinator: coordinator,
		reversal:    reversal,
		facade:      facade,
		log:         log,
	}
}

func (s *appService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*core.AllocationOutcome, error) {
	outcome, err := s.facade.Create(ctx, core.OrderRequest{
		OrgCode:        req.OrgCode,
		Channel:        req.Channel,
		Lines:          req.Lines,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          req.Actor,
	})
	if err != nil {
		return nil, err
	}
	s.logOutcome(req.OrgCode, req.Channel, outcome)
	return outcome, nil
}

func (s *appService) ConfirmAndCreateOrder(ctx context.Context, req ConfirmOrderRequest) (*core.AllocationOutcome, error) {
	outcome, err := s.facade.ConfirmAndCreate(ctx, core.OrderRequest{
		OrgCode:        req.OrgCode,
		Channel:        req.Channel,
		Lines:          req.Lines,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          req.Actor,
	}, req.Consent)
	if err != nil {
		return nil, err
	}
	s.logOutcome(req.OrgCode, req.Channel, outcome)
	return outcome, nil
}

func (s *appService) logOutcome(orgCode string, channel core.Channel, outcome *core.AllocationOutcome) {
	evt := s.log.Info().Str("org", orgCode).Str("channel", string(channel)).Str("status", string(outcome.Status))
	if outcome.Order != nil {
		evt = evt.Int("order_id", outcome.Order.ID).Int("lines", len(outcome.Order.Lines))
	}
	evt.Msg("order allocation")
}

func (s *appService) CancelOrder(ctx context.Context, orderID int, actor string) (*OrderResult, error) {
	order, err := s.reversal.Cancel(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int("order_id", orderID).Str("actor", actor).Msg("order cancelled")
	return &OrderResult{Order: order}, nil
}

func (s *appService) GetOrder(ctx context.Context, orderID int) (*OrderResult, error) {
	order, err := s.coordinator.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: order}, nil
}

func (s *appService) ListOrders(ctx context.Context, orgCode string, status *core.OrderStatus, channel *core.Channel) (*OrderListResult, error) {
	orders, err := s.coordinator.ListOrders(ctx, orgCode, status, channel)
	if err != nil {
		return nil, err
	}
	return &OrderListResult{Orders: orders, OrgCode: orgCode}, nil
}

func (s *appService) GetTransferHistory(ctx context.Context, orgCode string, filter core.TransferFilter) (*TransferHistoryResult, error) {
	records, err := s.ledger.History(ctx, orgCode, filter)
	if err != nil {
		return nil, err
	}
	return &TransferHistoryResult{
		Records: records,
		OrgCode: orgCode,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func (s *appService) GetStockLevels(ctx context.Context, orgCode string) (*StockResult, error) {
	levels, err := s.store.ListStockLevels(ctx, orgCode)
	if err != nil {
		return nil, err
	}
	return &StockResult{Levels: levels, OrgCode: orgCode}, nil
}

func (s *appService) CreateVariant(ctx context.Context, req CreateVariantRequest) (*VariantResult, error) {
	variant, err := s.store.CreateVariant(ctx, req.OrgCode, core.VariantSpec{
		Key:       core.VariantKey{Design: req.Design, Color: req.Color, Size: req.Size},
		UnitPrice: req.UnitPrice,
	})
	if err != nil {
		return nil, err
	}
	return &VariantResult{Variant: variant}, nil
}

func (s *appService) DeleteVariant(ctx context.Context, orgCode string, key core.VariantKey) error {
	return s.store.DeleteVariant(ctx, orgCode, key)
}

func (s *appService) ReceiveStock(ctx context.Context, req ReceiveStockRequest) (*VariantResult, error) {
	variant, err := s.store.ReceiveStock(ctx, req.OrgCode,
		core.VariantKey{Design: req.Design, Color: req.Color, Size: req.Size},
		req.Quantity, req.Actor)
	if err != nil {
		return nil, err
	}
	return &VariantResult{Variant: variant}, nil
}

func (s *appService) ReceiveReservedStock(ctx context.Context, req ReceiveStockRequest) (*VariantResult, error) {
	variant, err := s.store.ReceiveReserved(ctx, req.OrgCode,
		core.VariantKey{Design: req.Design, Color: req.Color, Size: req.Size},
		req.Quantity, req.Actor)
	if err != nil {
		return nil, err
	}
	return &VariantResult{Variant: variant}, nil
}

func (s *appService) ReduceVariantLock(ctx context.Context, req ReduceLockRequest) error {
	return s.coordinator.ReduceLock(ctx, req.OrgCode, req.Items, req.Actor)
}

func (s *appService) SetVariantLock(ctx context.Context, req SetLockRequest) (*VariantResult, error) {
	variant, err := s.coordinator.SetLock(ctx, req.OrgCode,
		core.VariantKey{Design: req.Design, Color: req.Color, Size: req.Size},
		req.NewLock, req.Actor)
	if err != nil {
		return nil, err
	}
	return &VariantResult{Variant: variant}, nil
}

func (s *appService) CreateOrganization(ctx context.Context, orgCode, name string) (*core.Organization, error) {
	var org core.Organization
	err := s.pool.QueryRow(ctx, `
		INSERT INTO organizations (org_code, name)
		VALUES ($1, $2)
		RETURNING id, org_code, name, created_at
	`, orgCode, name).Scan(&org.ID, &org.OrgCode, &org.Name, &org.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create organization %s: %w", orgCode, err)
	}
	return &org, nil
}
