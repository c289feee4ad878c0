package service

import (
	"errors"

	"settlement-engine/internal/fee"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/signature"
	"settlement-engine/internal/transfer"
)

var (
	ErrUnsupported          = errors.New("unsupported order")
	ErrAuthorizationExpired = errors.New("authorization expired")
	ErrOrderExpired         = errors.New("order expired")
	ErrInvalidAuthorization = errors.New("invalid operator authorization")
	ErrMissingPayment       = errors.New("missing payment")
	ErrNotAuthorized        = errors.New("caller is not offerer or admin")
	ErrSettlementNotFound   = errors.New("settlement not found")
)

// Errors raised by the collaborating packages, re-exported so callers can
// classify every outcome against this package alone.
var (
	ErrInvalidSignature      = signature.ErrInvalidSignature
	ErrDuplicateSaleID       = ledger.ErrDuplicateSaleID
	ErrCreatorFeeExceeded    = fee.ErrCreatorFeeExceeded
	ErrNotAuthorizedTransfer = transfer.ErrNotAuthorizedTransfer
)

// Reason returns a stable label for err, used for metrics and API error codes
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrAuthorizationExpired):
		return "authorization_expired"
	case errors.Is(err, ErrOrderExpired):
		return "order_expired"
	case errors.Is(err, ErrInvalidAuthorization):
		return "invalid_authorization"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrDuplicateSaleID):
		return "duplicate_sale_id"
	case errors.Is(err, ErrCreatorFeeExceeded):
		return "creator_fee_exceeded"
	case errors.Is(err, ErrMissingPayment):
		return "missing_payment"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrNotAuthorizedTransfer):
		return "not_authorized_transfer"
	case errors.Is(err, transfer.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, transfer.ErrUnsupportedItem):
		return "unsupported_item"
	case errors.Is(err, fee.ErrOverflow), errors.Is(err, fee.ErrNegativeAmount), errors.Is(err, fee.ErrInvalidRate):
		return "invalid_amount"
	case errors.Is(err, ErrSettlementNotFound):
		return "not_found"
	}
	return "internal"
}
