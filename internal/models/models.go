package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ItemKind identifies the asset standard of an offer or payout item
type ItemKind uint8

const (
	ItemKindNative ItemKind = iota
	ItemKindFungible
	ItemKindNonFungible
	ItemKindSemiFungible
)

func (k ItemKind) String() string {
	switch k {
	case ItemKindNative:
		return "native"
	case ItemKindFungible:
		return "fungible"
	case ItemKindNonFungible:
		return "non_fungible"
	case ItemKindSemiFungible:
		return "semi_fungible"
	}
	return fmt.Sprintf("item_kind(%d)", uint8(k))
}

// Valid reports whether k is a known item kind
func (k ItemKind) Valid() bool {
	return k <= ItemKindSemiFungible
}

// OrderKind restricts who may submit a fulfillment
type OrderKind uint8

const (
	OrderKindFullOpen OrderKind = iota
	OrderKindPartialOpen
	OrderKindFullRestricted
	OrderKindPartialRestricted
	OrderKindContract
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindFullOpen:
		return "full_open"
	case OrderKindPartialOpen:
		return "partial_open"
	case OrderKindFullRestricted:
		return "full_restricted"
	case OrderKindPartialRestricted:
		return "partial_restricted"
	case OrderKindContract:
		return "contract"
	}
	return fmt.Sprintf("order_kind(%d)", uint8(k))
}

// OfferItem is one asset the offerer gives up
type OfferItem struct {
	Kind       ItemKind       `json:"item_type"`
	Token      common.Address `json:"token"`
	Identifier *big.Int       `json:"identifier"`
	Amount     *big.Int       `json:"amount"`
}

// TransferAmount returns the amount to move, normalised to 1 for non-fungible items
func (i OfferItem) TransferAmount() *big.Int {
	if i.Kind == ItemKindNonFungible {
		return big.NewInt(1)
	}
	if i.Amount == nil {
		return new(big.Int)
	}
	return i.Amount
}

// PayoutItem is one payment leg of a settled order
type PayoutItem struct {
	Kind       ItemKind       `json:"item_type"`
	Token      common.Address `json:"token"`
	Identifier *big.Int       `json:"identifier"`
	Recipient  common.Address `json:"recipient"`
	Amount     *big.Int       `json:"amount"`
}

// Order is the message signed by the offerer
type Order struct {
	Offerer        common.Address `json:"offerer"`
	Offers         []OfferItem    `json:"offers"`
	OffererPayout  PayoutItem     `json:"offerer_payout"`
	CreatorPayouts []PayoutItem   `json:"creator_payouts"`
	Kind           OrderKind      `json:"order_type"`
	ListedAt       uint32         `json:"listed_at"`
	ExpiresAt      uint32         `json:"expires_at"`
	SaleID         common.Address `json:"sale_id"`
	Version        uint8          `json:"version"`
}

// Authorization is an operator-issued capability gating when a sale may be fulfilled
type Authorization struct {
	SaleID    common.Address `json:"sale_id"`
	ExpiresAt uint32         `json:"expires_at"`
	Signature []byte         `json:"signature"`
}

// SaleState is the ledger state of a sale id
type SaleState string

// Sale states
const (
	SaleStateUnseen    SaleState = "unseen"
	SaleStateFulfilled SaleState = "fulfilled"
	SaleStateCancelled SaleState = "cancelled"

	// SaleStateSettling marks a sale claimed by a fulfillment whose transfers
	// have not been confirmed yet. It blocks other fulfillments and cancellation.
	SaleStateSettling SaleState = "settling"
)

// Terminal reports whether the state can no longer change
func (s SaleState) Terminal() bool {
	return s == SaleStateFulfilled || s == SaleStateCancelled
}

// Valid reports whether s is a known state
func (s SaleState) Valid() bool {
	return s == SaleStateUnseen || s == SaleStateSettling || s.Terminal()
}

// Sale is a persisted ledger entry
type Sale struct {
	SaleID    string    `db:"sale_id" json:"sale_id"`
	State     SaleState `db:"state" json:"state"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Settlement is the audit record of a fulfilled sale
type Settlement struct {
	SaleID            string    `db:"sale_id" json:"sale_id"`
	Offerer           string    `db:"offerer" json:"offerer"`
	Buyer             string    `db:"buyer" json:"buyer"`
	Currency          string    `db:"currency" json:"currency"`
	Price             string    `db:"price" json:"price"`
	SellerAmount      string    `db:"seller_amount" json:"seller_amount"`
	CreatorAmount     string    `db:"creator_amount" json:"creator_amount"`
	MarketplaceAmount string    `db:"marketplace_amount" json:"marketplace_amount"`
	SettledAt         time.Time `db:"settled_at" json:"settled_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
