// Package transfer defines the asset-transfer collaborator used to settle sales.
// Transfers are grouped in a Batch that is applied all-or-nothing on Commit.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/models"
)

var (
	ErrNotAuthorizedTransfer = errors.New("caller is not token owner or approved")
	ErrNotOwner              = fmt.Errorf("%w: not owner", ErrNotAuthorizedTransfer)
	ErrNotApproved           = fmt.Errorf("%w: not approved", ErrNotAuthorizedTransfer)
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrUnsupportedItem       = errors.New("unsupported item kind")
	ErrBatchClosed           = errors.New("transfer batch already closed")
)

// Item is one asset movement
type Item struct {
	Kind       models.ItemKind `json:"item_type"`
	Token      common.Address  `json:"token"`
	Identifier *big.Int        `json:"identifier"`
	Amount     *big.Int        `json:"amount"`
}

// FromOffer converts an offer item, normalising non-fungible amounts to 1
func FromOffer(o models.OfferItem) Item {
	return Item{Kind: o.Kind, Token: o.Token, Identifier: o.Identifier, Amount: o.TransferAmount()}
}

// FromPayout converts a payout item
func FromPayout(p models.PayoutItem) Item {
	return Item{Kind: p.Kind, Token: p.Token, Identifier: p.Identifier, Amount: p.Amount}
}

// Instruction is an item moving between two holders
type Instruction struct {
	Item Item           `json:"item"`
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
}

// Error reports which instruction a custodian rejected
type Error struct {
	Instruction Instruction
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer %s %s from %s to %s: %v",
		e.Instruction.Item.Kind, e.Instruction.Item.Token.Hex(),
		e.Instruction.From.Hex(), e.Instruction.To.Hex(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Custodian opens transfer batches
type Custodian interface {
	Begin(ctx context.Context) (Batch, error)
}

// Batch collects transfers that take effect together on Commit.
// Rollback after Commit is a no-op.
type Batch interface {
	Transfer(ctx context.Context, item Item, from, to common.Address) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type idempotencyKey struct{}

// WithIdempotencyKey tags ctx so custodians can deduplicate retried batches
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key set by WithIdempotencyKey
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}
