package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"settlement-engine/internal/fee"
	"settlement-engine/internal/models"
	"settlement-engine/internal/transfer"
	"settlement-engine/internal/util"
)

// checkOrder rejects orders this engine cannot settle and returns the payout
// currency shared by every payout leg.
func (s *SettlementService) checkOrder(order models.Order) (models.PayoutItem, error) {
	if order.Version != s.cfg.OrderVersion {
		return models.PayoutItem{}, fmt.Errorf("%w: version %d, expected %d", ErrUnsupported, order.Version, s.cfg.OrderVersion)
	}

	switch order.Kind {
	case models.OrderKindFullOpen, models.OrderKindFullRestricted:
	default:
		return models.PayoutItem{}, fmt.Errorf("%w: order kind %s", ErrUnsupported, order.Kind)
	}

	if len(order.Offers) == 0 {
		return models.PayoutItem{}, fmt.Errorf("%w: no offer items", ErrUnsupported)
	}
	for i, o := range order.Offers {
		if !o.Kind.Valid() {
			return models.PayoutItem{}, fmt.Errorf("%w: offer %d has %s", ErrUnsupported, i, o.Kind)
		}
		if o.TransferAmount().Sign() <= 0 {
			return models.PayoutItem{}, fmt.Errorf("%w: offer %d has no amount", ErrUnsupported, i)
		}
	}

	currency := order.OffererPayout
	if currency.Kind != models.ItemKindNative && currency.Kind != models.ItemKindFungible {
		return models.PayoutItem{}, fmt.Errorf("%w: payout currency %s", ErrUnsupported, currency.Kind)
	}

	payouts := append([]models.PayoutItem{order.OffererPayout}, order.CreatorPayouts...)
	for i, p := range payouts {
		if p.Kind != currency.Kind || p.Token != currency.Token {
			return models.PayoutItem{}, fmt.Errorf("%w: payout %d mixes currencies", ErrUnsupported, i)
		}
		if p.Amount == nil {
			return models.PayoutItem{}, fmt.Errorf("%w: payout %d has no amount", ErrUnsupported, i)
		}
		if p.Recipient == (common.Address{}) {
			return models.PayoutItem{}, fmt.Errorf("%w: payout %d has no recipient", ErrUnsupported, i)
		}
	}
	return currency, nil
}

// price derives the sale price from the signed payouts. The offerer payout and
// creator payouts make up the net; the marketplace fee is charged on top, so the
// price is the largest P with P - fee(P) == net. The creator rate is re-derived
// from the creator total against that price.
func (s *SettlementService) price(order models.Order) (fee.Breakdown, error) {
	creatorAmounts := make([]*big.Int, 0, len(order.CreatorPayouts))
	for _, p := range order.CreatorPayouts {
		creatorAmounts = append(creatorAmounts, p.Amount)
	}
	creators, err := fee.Sum(creatorAmounts...)
	if err != nil {
		return fee.Breakdown{}, fmt.Errorf("creator payouts: %w", err)
	}
	net, err := fee.Sum(order.OffererPayout.Amount, creators)
	if err != nil {
		return fee.Breakdown{}, fmt.Errorf("payouts: %w", err)
	}

	price, err := fee.PriceFromNet(net, s.calculator.MarketplaceBps)
	if err != nil {
		return fee.Breakdown{}, err
	}
	rate, err := fee.CreatorRateBps(creators, price)
	if err != nil {
		return fee.Breakdown{}, err
	}

	split, err := s.calculator.Split(price, rate)
	if err != nil {
		return fee.Breakdown{}, err
	}

	marketplace := new(big.Int).Sub(price, net)
	if split.Marketplace.Cmp(marketplace) != 0 {
		return fee.Breakdown{}, fmt.Errorf("%w: payouts leave %s for a marketplace fee of %s",
			ErrCreatorFeeExceeded, marketplace, split.Marketplace)
	}

	return fee.Breakdown{
		Price:       price,
		Seller:      new(big.Int).Set(order.OffererPayout.Amount),
		Creator:     creators,
		Marketplace: marketplace,
	}, nil
}

// checkPayment requires the exact price for native settlement. Token
// settlement pulls the price from the caller, so no native value may be sent.
func (s *SettlementService) checkPayment(kind models.ItemKind, price, paid *big.Int) error {
	if paid == nil {
		paid = new(big.Int)
	}

	required := price
	if kind != models.ItemKindNative {
		required = new(big.Int)
	}
	if paid.Cmp(required) != 0 {
		return fmt.Errorf("%w: received %s, required %s", ErrMissingPayment, paid, required)
	}
	return nil
}

// assetSettlement moves every offer item to the buyer and every payout leg to
// its recipient in one custodian batch. Nothing is applied unless Commit succeeds.
type assetSettlement struct {
	svc      *SettlementService
	order    models.Order
	buyer    common.Address
	currency models.PayoutItem
	split    fee.Breakdown
	batch    transfer.Batch
}

func (s *SettlementService) newSettlement(order models.Order, buyer common.Address, currency models.PayoutItem, split fee.Breakdown) *assetSettlement {
	return &assetSettlement{svc: s, order: order, buyer: buyer, currency: currency, split: split}
}

// Prepare opens the batch and stages every transfer
func (a *assetSettlement) Prepare(ctx context.Context) (err error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.prepareTransfers")
	defer func() { util.EndSpan(span, err) }()

	batch, err := a.svc.custodian.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open transfer batch: %w", err)
	}
	a.batch = batch

	for _, o := range a.order.Offers {
		if err := batch.Transfer(ctx, transfer.FromOffer(o), a.order.Offerer, a.buyer); err != nil {
			return a.failed(err)
		}
	}

	payouts := append([]models.PayoutItem{a.order.OffererPayout}, a.order.CreatorPayouts...)
	for _, p := range payouts {
		if p.Amount.Sign() == 0 {
			continue
		}
		if err := batch.Transfer(ctx, transfer.FromPayout(p), a.buyer, p.Recipient); err != nil {
			return a.failed(err)
		}
	}

	if a.split.Marketplace.Sign() > 0 {
		marketplaceFee := transfer.Item{
			Kind:   a.currency.Kind,
			Token:  a.currency.Token,
			Amount: a.split.Marketplace,
		}
		if err := batch.Transfer(ctx, marketplaceFee, a.buyer, a.svc.cfg.FeeRecipient); err != nil {
			return a.failed(err)
		}
	}
	return nil
}

// Commit applies the staged batch
func (a *assetSettlement) Commit(ctx context.Context) (err error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.commitTransfers")
	defer func() { util.EndSpan(span, err) }()

	if a.batch == nil {
		return fmt.Errorf("transfer batch for %s was not prepared", a.order.SaleID.Hex())
	}
	if err := a.batch.Commit(ctx); err != nil {
		return a.failed(err)
	}
	return nil
}

// Abort rolls back the batch; it is a no-op once the batch committed
func (a *assetSettlement) Abort(ctx context.Context) {
	if a.batch == nil {
		return
	}
	if err := a.batch.Rollback(ctx); err != nil {
		a.svc.logger.Error("Failed to roll back transfer batch",
			zap.String("sale_id", a.order.SaleID.Hex()),
			zap.Error(err))
	}
}

func (a *assetSettlement) failed(err error) error {
	var terr *transfer.Error
	if errors.As(err, &terr) {
		util.TransfersFailedTotal.WithLabelValues(terr.Instruction.Item.Kind.String()).Inc()
	}
	return err
}
