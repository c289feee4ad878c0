package api

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"settlement-engine/internal/models"
	"settlement-engine/internal/service"
)

// Amounts and identifiers accept decimal or 0x-prefixed hex strings.

// OfferItemDTO is the JSON form of an offer item
type OfferItemDTO struct {
	ItemType   uint8                 `json:"item_type"`
	Token      common.Address        `json:"token"`
	Identifier *math.HexOrDecimal256 `json:"identifier"`
	Amount     *math.HexOrDecimal256 `json:"amount"`
}

// PayoutDTO is the JSON form of a payout item
type PayoutDTO struct {
	ItemType   uint8                 `json:"item_type"`
	Token      common.Address        `json:"token"`
	Identifier *math.HexOrDecimal256 `json:"identifier"`
	Recipient  common.Address        `json:"recipient"`
	Amount     *math.HexOrDecimal256 `json:"amount"`
}

// OrderDTO is the JSON form of a signed order, shared by the API and settlectl
type OrderDTO struct {
	Offerer        common.Address `json:"offerer"`
	Offers         []OfferItemDTO `json:"offers"`
	OffererPayout  PayoutDTO      `json:"offerer_payout"`
	CreatorPayouts []PayoutDTO    `json:"creator_payouts"`
	OrderType      uint8          `json:"order_type"`
	ListedAt       uint32         `json:"listed_at"`
	ExpiresAt      uint32         `json:"expires_at"`
	SaleID         common.Address `json:"sale_id"`
	Version        uint8          `json:"version"`
}

type authorizationDTO struct {
	SaleID    *common.Address `json:"sale_id"`
	ExpiresAt uint32          `json:"expires_at"`
	Signature hexutil.Bytes   `json:"signature"`
}

type fulfillRequest struct {
	Order           OrderDTO              `json:"order"`
	Signature       hexutil.Bytes         `json:"signature"`
	Authorization   authorizationDTO      `json:"authorization"`
	PaymentReceived *math.HexOrDecimal256 `json:"payment_received"`
}

type cancelRequest struct {
	Order     OrderDTO      `json:"order"`
	Signature hexutil.Bytes `json:"signature"`
}

type fulfillResponse struct {
	SaleID            string `json:"sale_id"`
	Buyer             string `json:"buyer"`
	CurrencyType      string `json:"currency_type"`
	Currency          string `json:"currency"`
	Price             string `json:"price"`
	SellerAmount      string `json:"seller_amount"`
	CreatorAmount     string `json:"creator_amount"`
	MarketplaceAmount string `json:"marketplace_amount"`
	SettledAt         int64  `json:"settled_at"`
}

func toBig(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return nil
	}
	return (*big.Int)(v)
}

func (o OfferItemDTO) ToModel() models.OfferItem {
	return models.OfferItem{
		Kind:       models.ItemKind(o.ItemType),
		Token:      o.Token,
		Identifier: toBig(o.Identifier),
		Amount:     toBig(o.Amount),
	}
}

func (p PayoutDTO) ToModel() models.PayoutItem {
	return models.PayoutItem{
		Kind:       models.ItemKind(p.ItemType),
		Token:      p.Token,
		Identifier: toBig(p.Identifier),
		Recipient:  p.Recipient,
		Amount:     toBig(p.Amount),
	}
}

// DecodeOrder parses an order in the API's JSON form
func DecodeOrder(raw []byte) (models.Order, error) {
	var dto OrderDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return models.Order{}, err
	}
	return dto.ToModel(), nil
}

func (o OrderDTO) ToModel() models.Order {
	offers := make([]models.OfferItem, 0, len(o.Offers))
	for _, item := range o.Offers {
		offers = append(offers, item.ToModel())
	}
	creators := make([]models.PayoutItem, 0, len(o.CreatorPayouts))
	for _, p := range o.CreatorPayouts {
		creators = append(creators, p.ToModel())
	}

	return models.Order{
		Offerer:        o.Offerer,
		Offers:         offers,
		OffererPayout:  o.OffererPayout.ToModel(),
		CreatorPayouts: creators,
		Kind:           models.OrderKind(o.OrderType),
		ListedAt:       o.ListedAt,
		ExpiresAt:      o.ExpiresAt,
		SaleID:         o.SaleID,
		Version:        o.Version,
	}
}

// toService builds the engine request. An authorization without a sale id
// applies to the order's sale.
func (r fulfillRequest) toService(caller common.Address) *service.FulfillRequest {
	order := r.Order.ToModel()
	authSale := order.SaleID
	if r.Authorization.SaleID != nil {
		authSale = *r.Authorization.SaleID
	}

	return &service.FulfillRequest{
		Order:     order,
		Signature: r.Signature,
		Authorization: models.Authorization{
			SaleID:    authSale,
			ExpiresAt: r.Authorization.ExpiresAt,
			Signature: r.Authorization.Signature,
		},
		Caller:          caller,
		PaymentReceived: toBig(r.PaymentReceived),
	}
}

func newFulfillResponse(res *service.FulfillResult) fulfillResponse {
	return fulfillResponse{
		SaleID:            res.SaleID.Hex(),
		Buyer:             res.Buyer.Hex(),
		CurrencyType:      res.CurrencyKind.String(),
		Currency:          res.Currency.Hex(),
		Price:             res.Price.String(),
		SellerAmount:      res.Seller.String(),
		CreatorAmount:     res.Creator.String(),
		MarketplaceAmount: res.Marketplace.String(),
		SettledAt:         res.SettledAt.Unix(),
	}
}
