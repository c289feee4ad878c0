package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlement-engine/internal/fee"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/models"
	"settlement-engine/internal/signature"
	"settlement-engine/internal/transfer"
	"settlement-engine/internal/typedhash"
	"settlement-engine/internal/util"
)

// Clock supplies the current time for expiry checks
type Clock func() time.Time

// EventPublisher receives settlement events; *broker.EventPublisher implements it
type EventPublisher interface {
	PublishOrderFulfilled(ctx context.Context, event *models.OrderFulfilledEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// SettlementReader reads the audit projection of settled sales
type SettlementReader interface {
	GetSettlement(ctx context.Context, saleID string) (*models.Settlement, error)
}

// SettlementService verifies signed orders and settles or cancels them
type SettlementService struct {
	cfg         models.MarketplaceConfig
	domain      typedhash.Domain
	calculator  fee.Calculator
	verifier    signature.Verifier
	ledger      ledger.Ledger
	custodian   transfer.Custodian
	events      EventPublisher
	settlements SettlementReader
	clock       Clock
	logger      *zap.Logger
}

// Option customises a SettlementService
type Option func(*SettlementService)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *SettlementService) { s.clock = c }
}

// WithVerifier replaces the secp256k1 verifier
func WithVerifier(v signature.Verifier) Option {
	return func(s *SettlementService) { s.verifier = v }
}

// WithSettlements enables the Settlement query
func WithSettlements(r SettlementReader) Option {
	return func(s *SettlementService) { s.settlements = r }
}

// NewSettlementService creates a settlement service. cfg is validated and
// copied; it cannot change afterwards.
func NewSettlementService(
	cfg models.MarketplaceConfig,
	l ledger.Ledger,
	custodian transfer.Custodian,
	events EventPublisher,
	opts ...Option,
) (*SettlementService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ChainID = new(big.Int).Set(cfg.ChainID)

	s := &SettlementService{
		cfg:        cfg,
		domain:     typedhash.DomainFromConfig(cfg),
		calculator: fee.NewCalculator(cfg),
		verifier:   signature.NewVerifier(),
		ledger:     l,
		custodian:  custodian,
		events:     events,
		clock:      time.Now,
		logger:     util.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FulfillRequest is a buyer's attempt to settle a signed order
type FulfillRequest struct {
	Order           models.Order
	Signature       []byte
	Authorization   models.Authorization
	Caller          common.Address
	PaymentReceived *big.Int
}

// FulfillResult describes a settled sale
type FulfillResult struct {
	SaleID       common.Address
	Buyer        common.Address
	CurrencyKind models.ItemKind
	Currency     common.Address
	Price        *big.Int
	Seller       *big.Int
	Creator      *big.Int
	Marketplace  *big.Int
	SettledAt    time.Time
}

// CancelRequest closes a sale before fulfillment
type CancelRequest struct {
	Order     models.Order
	Signature []byte
	Caller    common.Address
}

// Fulfill validates req end to end and settles it. Checks run in a fixed order
// and the first failure is returned. Transfers and the ledger mark commit
// together or not at all.
func (s *SettlementService) Fulfill(ctx context.Context, req *FulfillRequest) (res *FulfillResult, err error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.Fulfill")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	now := s.clock()
	order := req.Order

	defer func() {
		if err != nil {
			util.FulfillmentsFailedTotal.WithLabelValues(Reason(err)).Inc()
			s.logger.Warn("Fulfillment rejected",
				zap.String("sale_id", order.SaleID.Hex()),
				zap.String("caller", req.Caller.Hex()),
				zap.String("reason", Reason(err)),
				zap.Error(err))
		}
	}()

	currency, err := s.checkOrder(order)
	if err != nil {
		return nil, err
	}

	unix := now.Unix()
	if unix > int64(req.Authorization.ExpiresAt) {
		return nil, fmt.Errorf("%w: at %d, valid until %d", ErrAuthorizationExpired, unix, req.Authorization.ExpiresAt)
	}
	if unix > int64(order.ExpiresAt) {
		return nil, fmt.Errorf("%w: at %d, valid until %d", ErrOrderExpired, unix, order.ExpiresAt)
	}
	if order.ExpiresAt <= order.ListedAt {
		return nil, fmt.Errorf("%w: expires at %d, listed at %d", ErrOrderExpired, order.ExpiresAt, order.ListedAt)
	}

	if err := s.verifyAuthorization(order, req.Authorization); err != nil {
		return nil, err
	}
	if err := s.verifyOrder(order, req.Signature); err != nil {
		return nil, err
	}

	state, err := s.ledger.Lookup(ctx, order.SaleID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up sale: %w", err)
	}
	if state != models.SaleStateUnseen {
		return nil, ledger.DuplicateError(order.SaleID, state)
	}

	split, err := s.price(order)
	if err != nil {
		return nil, err
	}

	if err := s.checkPayment(currency.Kind, split.Price, req.PaymentReceived); err != nil {
		return nil, err
	}

	ctx = transfer.WithIdempotencyKey(ctx, ledger.Key(order.SaleID))
	err = s.ledger.Fulfill(ctx, order.SaleID, s.newSettlement(order, req.Caller, currency, split))
	if err != nil {
		return nil, err
	}

	res = &FulfillResult{
		SaleID:       order.SaleID,
		Buyer:        req.Caller,
		CurrencyKind: currency.Kind,
		Currency:     currency.Token,
		Price:        split.Price,
		Seller:       split.Seller,
		Creator:      split.Creator,
		Marketplace:  split.Marketplace,
		SettledAt:    now,
	}

	util.FulfillmentsTotal.Inc()
	util.SettlementLatency.Observe(time.Since(start).Seconds())
	volume, _ := new(big.Float).SetInt(split.Price).Float64()
	util.SettledVolume.WithLabelValues(currencyLabel(currency)).Add(volume)

	s.logger.Info("Order fulfilled",
		zap.String("sale_id", order.SaleID.Hex()),
		zap.String("offerer", order.Offerer.Hex()),
		zap.String("buyer", req.Caller.Hex()),
		zap.String("price", split.Price.String()),
		zap.String("creator_amount", split.Creator.String()),
		zap.String("marketplace_amount", split.Marketplace.String()))

	s.publishFulfilled(ctx, order, res)
	return res, nil
}

// Cancel closes a sale so it can never be fulfilled. The order signature must
// verify even when an admin cancels.
func (s *SettlementService) Cancel(ctx context.Context, req *CancelRequest) (err error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.Cancel")
	defer func() { util.EndSpan(span, err) }()

	order := req.Order
	defer func() {
		if err != nil {
			util.CancellationsFailedTotal.WithLabelValues(Reason(err)).Inc()
			s.logger.Warn("Cancellation rejected",
				zap.String("sale_id", order.SaleID.Hex()),
				zap.String("caller", req.Caller.Hex()),
				zap.String("reason", Reason(err)),
				zap.Error(err))
		}
	}()

	if err := s.verifyOrder(order, req.Signature); err != nil {
		return err
	}

	if req.Caller != order.Offerer && req.Caller != s.cfg.CancelAdmin {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, req.Caller.Hex())
	}

	if err := s.ledger.MarkCancelled(ctx, order.SaleID); err != nil {
		return err
	}

	util.CancellationsTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.String("sale_id", order.SaleID.Hex()),
		zap.String("cancelled_by", req.Caller.Hex()))

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: s.clock(),
		},
		SaleID:      ledger.Key(order.SaleID),
		Offerer:     order.Offerer.Hex(),
		CancelledBy: req.Caller.Hex(),
	}
	if s.events != nil {
		if err := s.events.PublishOrderCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}
	return nil
}

// SaleState returns the ledger state of a sale id
func (s *SettlementService) SaleState(ctx context.Context, saleID common.Address) (models.SaleState, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.SaleState")
	defer span.End()

	return s.ledger.Lookup(ctx, saleID)
}

// Config returns a copy of the marketplace configuration
func (s *SettlementService) Config() models.MarketplaceConfig {
	cfg := s.cfg
	cfg.ChainID = new(big.Int).Set(s.cfg.ChainID)
	return cfg
}

// Settlement returns the audit record of a settled sale
func (s *SettlementService) Settlement(ctx context.Context, saleID common.Address) (*models.Settlement, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.Settlement")
	defer span.End()

	if s.settlements == nil {
		return nil, ErrSettlementNotFound
	}
	st, err := s.settlements.GetSettlement(ctx, ledger.Key(saleID))
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	if st == nil {
		return nil, ErrSettlementNotFound
	}
	return st, nil
}

// OrderDigest returns the digest the offerer signs for order
func (s *SettlementService) OrderDigest(order models.Order) (common.Hash, error) {
	return typedhash.OrderDigest(s.domain, order)
}

// AuthorizationDigest returns the digest the operator signs for a sale
func (s *SettlementService) AuthorizationDigest(saleID common.Address, expiresAt uint32) (common.Hash, error) {
	return typedhash.AuthDigest(s.cfg.AuthScheme, s.domain, saleID, expiresAt, s.cfg.OrderVersion)
}

func (s *SettlementService) verifyAuthorization(order models.Order, auth models.Authorization) error {
	if auth.SaleID != order.SaleID {
		return fmt.Errorf("%w: issued for sale %s", ErrInvalidAuthorization, auth.SaleID.Hex())
	}
	digest, err := typedhash.AuthDigest(s.cfg.AuthScheme, s.domain, order.SaleID, auth.ExpiresAt, order.Version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAuthorization, err)
	}
	if err := s.verifier.Verify(digest, auth.Signature, s.cfg.SignatureAdmin); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAuthorization, err)
	}
	return nil
}

func (s *SettlementService) verifyOrder(order models.Order, sig []byte) error {
	digest, err := typedhash.OrderDigest(s.domain, order)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := s.verifier.Verify(digest, sig, order.Offerer); err != nil {
		return fmt.Errorf("order signature: %w", err)
	}
	return nil
}

func (s *SettlementService) publishFulfilled(ctx context.Context, order models.Order, res *FulfillResult) {
	if s.events == nil {
		return
	}

	items := make([]models.OfferedItem, 0, len(order.Offers))
	for _, o := range order.Offers {
		items = append(items, models.OfferedItem{
			Kind:       o.Kind.String(),
			Token:      o.Token.Hex(),
			Identifier: bigString(o.Identifier),
			Amount:     o.TransferAmount().String(),
		})
	}

	event := &models.OrderFulfilledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderFulfilled,
			Timestamp: res.SettledAt,
		},
		SaleID:            ledger.Key(res.SaleID),
		Offerer:           order.Offerer.Hex(),
		Buyer:             res.Buyer.Hex(),
		Currency:          res.Currency.Hex(),
		Price:             res.Price.String(),
		SellerAmount:      res.Seller.String(),
		CreatorAmount:     res.Creator.String(),
		MarketplaceAmount: res.Marketplace.String(),
		Items:             items,
	}

	if err := s.events.PublishOrderFulfilled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderFulfilled event",
			zap.String("sale_id", event.SaleID),
			zap.Error(err))
	}
}

func currencyLabel(c models.PayoutItem) string {
	if c.Kind == models.ItemKindNative {
		return "native"
	}
	return c.Token.Hex()
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
