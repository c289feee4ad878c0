package models

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BasisPoints is the denominator of every fee rate (10000 bps = 100%)
const BasisPoints = 10000

// AuthScheme selects how operator authorizations are hashed before signing
type AuthScheme string

const (
	// AuthSchemeTyped signs an EIP-712 Authorization struct under the marketplace domain
	AuthSchemeTyped AuthScheme = "typed"
	// AuthSchemePersonal signs keccak256(saleId,"%",expiresAt,"%",version) with personal_sign
	AuthSchemePersonal AuthScheme = "personal"
)

var ErrInvalidConfig = errors.New("invalid marketplace config")

// MarketplaceConfig is set once at startup and read-only afterwards
type MarketplaceConfig struct {
	DomainName        string         `json:"domain_name"`
	DomainVersion     string         `json:"domain_version"`
	ChainID           *big.Int       `json:"chain_id"`
	VerifyingContract common.Address `json:"verifying_contract"`

	MaxCreatorFeeBps  uint16         `json:"max_creator_fee_rate"`
	MarketplaceFeeBps uint16         `json:"marketplace_fee_rate"`
	FeeRecipient      common.Address `json:"marketplace_fee_recipient"`

	SignatureAdmin common.Address `json:"signature_admin_address"`
	CancelAdmin    common.Address `json:"cancel_admin_address"`

	OrderVersion uint8      `json:"order_version"`
	AuthScheme   AuthScheme `json:"auth_scheme"`
}

// Validate checks the configuration sanity rules
func (c MarketplaceConfig) Validate() error {
	if c.DomainName == "" || c.DomainVersion == "" {
		return fmt.Errorf("%w: domain name and version are required", ErrInvalidConfig)
	}
	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		return fmt.Errorf("%w: chain id must be positive", ErrInvalidConfig)
	}
	if c.MarketplaceFeeBps >= BasisPoints {
		return fmt.Errorf("%w: marketplace fee %d bps leaves nothing for the offerer", ErrInvalidConfig, c.MarketplaceFeeBps)
	}
	if int(c.MaxCreatorFeeBps)+int(c.MarketplaceFeeBps) > BasisPoints {
		return fmt.Errorf("%w: creator fee %d + marketplace fee %d exceeds %d bps",
			ErrInvalidConfig, c.MaxCreatorFeeBps, c.MarketplaceFeeBps, BasisPoints)
	}
	if c.MarketplaceFeeBps > 0 && c.FeeRecipient == (common.Address{}) {
		return fmt.Errorf("%w: fee recipient is required", ErrInvalidConfig)
	}
	if c.SignatureAdmin == (common.Address{}) {
		return fmt.Errorf("%w: signature admin is required", ErrInvalidConfig)
	}
	if c.CancelAdmin == (common.Address{}) {
		return fmt.Errorf("%w: cancel admin is required", ErrInvalidConfig)
	}
	switch c.AuthScheme {
	case AuthSchemeTyped, AuthSchemePersonal:
	default:
		return fmt.Errorf("%w: unknown auth scheme %q", ErrInvalidConfig, c.AuthScheme)
	}
	return nil
}
