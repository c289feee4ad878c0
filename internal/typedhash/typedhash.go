// Package typedhash computes EIP-712 digests of marketplace orders and operator
// authorizations. Every struct is encoded explicitly as a sequence of 32-byte words;
// nested arrays hash each element first and then hash the concatenation of those
// element hashes, keeping element order.
package typedhash

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"settlement-engine/internal/models"
)

const (
	DomainType        = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	OfferItemType     = "OfferItem(uint8 itemType,address token,uint256 identifier,uint256 amount)"
	PayoutType        = "Payout(uint8 itemType,address token,uint256 identifier,address recipient,uint256 amount)"
	ListingType       = "Listing(address offerer,OfferItem[] offers,Payout offererPayout,Payout[] creatorPayouts,uint8 orderType,uint32 listedAt,uint32 expiredAt,address saleId,uint8 version)"
	AuthorizationType = "Authorization(address saleId,uint32 expiresAt,uint8 version)"
)

var (
	DomainTypeHash        = crypto.Keccak256Hash([]byte(DomainType))
	OfferItemTypeHash     = crypto.Keccak256Hash([]byte(OfferItemType))
	PayoutTypeHash        = crypto.Keccak256Hash([]byte(PayoutType))
	ListingTypeHash       = crypto.Keccak256Hash([]byte(ListingType + OfferItemType + PayoutType))
	AuthorizationTypeHash = crypto.Keccak256Hash([]byte(AuthorizationType))
)

var ErrValueOutOfRange = errors.New("value does not fit in uint256")

// Domain separates digests per deployment and chain
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DomainFromConfig builds the signing domain of a marketplace deployment
func DomainFromConfig(cfg models.MarketplaceConfig) Domain {
	return Domain{
		Name:              cfg.DomainName,
		Version:           cfg.DomainVersion,
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.VerifyingContract,
	}
}

// Separator returns the EIP-712 domain separator
func (d Domain) Separator() (common.Hash, error) {
	chainID, err := uintWord(d.ChainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain id: %w", err)
	}
	return crypto.Keccak256Hash(
		DomainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		chainID,
		addressWord(d.VerifyingContract),
	), nil
}

// HashOfferItem returns the struct hash of a single offer item
func HashOfferItem(item models.OfferItem) (common.Hash, error) {
	identifier, err := uintWord(item.Identifier)
	if err != nil {
		return common.Hash{}, fmt.Errorf("identifier: %w", err)
	}
	amount, err := uintWord(item.Amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("amount: %w", err)
	}
	return crypto.Keccak256Hash(
		OfferItemTypeHash.Bytes(),
		smallWord(uint64(item.Kind)),
		addressWord(item.Token),
		identifier,
		amount,
	), nil
}

// HashPayout returns the struct hash of a single payout item
func HashPayout(item models.PayoutItem) (common.Hash, error) {
	identifier, err := uintWord(item.Identifier)
	if err != nil {
		return common.Hash{}, fmt.Errorf("identifier: %w", err)
	}
	amount, err := uintWord(item.Amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("amount: %w", err)
	}
	return crypto.Keccak256Hash(
		PayoutTypeHash.Bytes(),
		smallWord(uint64(item.Kind)),
		addressWord(item.Token),
		identifier,
		addressWord(item.Recipient),
		amount,
	), nil
}

// HashOrder returns the struct hash of an order (primary type Listing)
func HashOrder(order models.Order) (common.Hash, error) {
	offers := make([]byte, 0, len(order.Offers)*common.HashLength)
	for i, item := range order.Offers {
		h, err := HashOfferItem(item)
		if err != nil {
			return common.Hash{}, fmt.Errorf("offers[%d]: %w", i, err)
		}
		offers = append(offers, h.Bytes()...)
	}

	offererPayout, err := HashPayout(order.OffererPayout)
	if err != nil {
		return common.Hash{}, fmt.Errorf("offerer payout: %w", err)
	}

	creators := make([]byte, 0, len(order.CreatorPayouts)*common.HashLength)
	for i, item := range order.CreatorPayouts {
		h, err := HashPayout(item)
		if err != nil {
			return common.Hash{}, fmt.Errorf("creator payouts[%d]: %w", i, err)
		}
		creators = append(creators, h.Bytes()...)
	}

	return crypto.Keccak256Hash(
		ListingTypeHash.Bytes(),
		addressWord(order.Offerer),
		crypto.Keccak256(offers),
		offererPayout.Bytes(),
		crypto.Keccak256(creators),
		smallWord(uint64(order.Kind)),
		smallWord(uint64(order.ListedAt)),
		smallWord(uint64(order.ExpiresAt)),
		addressWord(order.SaleID),
		smallWord(uint64(order.Version)),
	), nil
}

// OrderDigest is the value the offerer signs
func OrderDigest(d Domain, order models.Order) (common.Hash, error) {
	structHash, err := HashOrder(order)
	if err != nil {
		return common.Hash{}, err
	}
	return typedDigest(d, structHash)
}

// AuthorizationDigest is the value the operator signs under AuthSchemeTyped
func AuthorizationDigest(d Domain, saleID common.Address, expiresAt uint32, version uint8) (common.Hash, error) {
	structHash := crypto.Keccak256Hash(
		AuthorizationTypeHash.Bytes(),
		addressWord(saleID),
		smallWord(uint64(expiresAt)),
		smallWord(uint64(version)),
	)
	return typedDigest(d, structHash)
}

// LegacyAuthorizationDigest is the value the operator signs under AuthSchemePersonal:
// personal_sign over keccak256(abi.encodePacked(saleId, "%", uint32 expiresAt, "%", uint256 version)).
func LegacyAuthorizationDigest(saleID common.Address, expiresAt uint32, version uint8) common.Hash {
	packed := make([]byte, 0, common.AddressLength+1+4+1+32)
	packed = append(packed, saleID.Bytes()...)
	packed = append(packed, '%')
	packed = append(packed, byte(expiresAt>>24), byte(expiresAt>>16), byte(expiresAt>>8), byte(expiresAt))
	packed = append(packed, '%')
	packed = append(packed, smallWord(uint64(version))...)

	inner := crypto.Keccak256(packed)
	return common.BytesToHash(accounts.TextHash(inner))
}

// AuthDigest dispatches on the configured authorization scheme
func AuthDigest(scheme models.AuthScheme, d Domain, saleID common.Address, expiresAt uint32, version uint8) (common.Hash, error) {
	switch scheme {
	case models.AuthSchemePersonal:
		return LegacyAuthorizationDigest(saleID, expiresAt, version), nil
	case models.AuthSchemeTyped, "":
		return AuthorizationDigest(d, saleID, expiresAt, version)
	}
	return common.Hash{}, fmt.Errorf("unknown auth scheme %q", scheme)
}

func typedDigest(d Domain, structHash common.Hash) (common.Hash, error) {
	separator, err := d.Separator()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, separator.Bytes(), structHash.Bytes()), nil
}

func uintWord(v *big.Int) ([]byte, error) {
	if v == nil {
		return make([]byte, 32), nil
	}
	if v.Sign() < 0 || v.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValueOutOfRange, v)
	}
	return math.U256Bytes(new(big.Int).Set(v)), nil
}

func smallWord(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
