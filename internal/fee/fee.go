package fee

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"

	"settlement-engine/internal/models"
)

var (
	ErrCreatorFeeExceeded = errors.New("total creator fee exceeds the allowed rate")
	ErrOverflow           = errors.New("fee arithmetic overflow")
	ErrInvalidRate        = errors.New("invalid fee rate")
	ErrNegativeAmount     = errors.New("negative amount")
)

var bps = big.NewInt(models.BasisPoints)

// Breakdown is a three-way split of a sale price
type Breakdown struct {
	Price       *big.Int
	Seller      *big.Int
	Creator     *big.Int
	Marketplace *big.Int
}

// Split divides base into seller, creator and marketplace amounts.
// Creator and marketplace amounts are floored; the seller absorbs the remainder,
// so the three amounts always sum to base.
func Split(base *big.Int, creatorBps, marketplaceBps uint64) (Breakdown, error) {
	if err := checkAmount(base); err != nil {
		return Breakdown{}, err
	}
	if creatorBps+marketplaceBps > models.BasisPoints {
		return Breakdown{}, fmt.Errorf("%w: %d + %d bps exceeds %d", ErrInvalidRate, creatorBps, marketplaceBps, models.BasisPoints)
	}

	creator, err := portion(base, creatorBps)
	if err != nil {
		return Breakdown{}, err
	}
	marketplace, err := portion(base, marketplaceBps)
	if err != nil {
		return Breakdown{}, err
	}

	seller := new(big.Int).Sub(base, creator)
	seller.Sub(seller, marketplace)

	return Breakdown{
		Price:       new(big.Int).Set(base),
		Seller:      seller,
		Creator:     creator,
		Marketplace: marketplace,
	}, nil
}

// Calculator applies the marketplace's configured rates
type Calculator struct {
	MaxCreatorBps  uint64
	MarketplaceBps uint64
}

// NewCalculator creates a calculator from the marketplace config
func NewCalculator(cfg models.MarketplaceConfig) Calculator {
	return Calculator{
		MaxCreatorBps:  uint64(cfg.MaxCreatorFeeBps),
		MarketplaceBps: uint64(cfg.MarketplaceFeeBps),
	}
}

// Split rejects creator rates above the configured maximum before splitting
func (c Calculator) Split(base *big.Int, creatorBps uint64) (Breakdown, error) {
	if creatorBps > c.MaxCreatorBps {
		return Breakdown{}, fmt.Errorf("%w: %d bps > %d bps", ErrCreatorFeeExceeded, creatorBps, c.MaxCreatorBps)
	}
	return Split(base, creatorBps, c.MarketplaceBps)
}

// CreatorRateBps returns ceil(creatorTotal * 10000 / base). Rounding up keeps
// "rate > max" exact for fractional rates. A zero base with a positive creator
// total yields a rate above 100%.
func CreatorRateBps(creatorTotal, base *big.Int) (uint64, error) {
	if err := checkAmount(creatorTotal); err != nil {
		return 0, err
	}
	if err := checkAmount(base); err != nil {
		return 0, err
	}
	if creatorTotal.Sign() == 0 {
		return 0, nil
	}
	if base.Sign() == 0 {
		return models.BasisPoints + 1, nil
	}

	num := new(big.Int).Mul(creatorTotal, bps)
	num.Add(num, base)
	num.Sub(num, big.NewInt(1))
	rate := num.Quo(num, base)
	if !rate.IsUint64() {
		return 0, fmt.Errorf("%w: creator rate", ErrOverflow)
	}
	return rate.Uint64(), nil
}

// PriceFromNet returns the largest price P whose marketplace fee leaves exactly
// net for the offerer and creators: P - floor(P*marketplaceBps/10000) == net.
func PriceFromNet(net *big.Int, marketplaceBps uint64) (*big.Int, error) {
	if err := checkAmount(net); err != nil {
		return nil, err
	}
	if marketplaceBps >= models.BasisPoints {
		return nil, fmt.Errorf("%w: marketplace rate %d bps", ErrInvalidRate, marketplaceBps)
	}

	price := new(big.Int).Mul(net, bps)
	price.Quo(price, new(big.Int).SetUint64(models.BasisPoints-marketplaceBps))
	if price.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("%w: price", ErrOverflow)
	}
	return price, nil
}

// Sum adds amounts, failing instead of exceeding uint256
func Sum(amounts ...*big.Int) (*big.Int, error) {
	total := new(big.Int)
	for _, a := range amounts {
		if err := checkAmount(a); err != nil {
			return nil, err
		}
		total.Add(total, a)
		if total.Cmp(math.MaxBig256) > 0 {
			return nil, fmt.Errorf("%w: sum", ErrOverflow)
		}
	}
	return total, nil
}

func portion(base *big.Int, rate uint64) (*big.Int, error) {
	p := new(big.Int).Mul(base, new(big.Int).SetUint64(rate))
	p.Quo(p, bps)
	if p.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("%w: portion", ErrOverflow)
	}
	return p, nil
}

func checkAmount(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: nil", ErrNegativeAmount)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, v)
	}
	if v.Cmp(math.MaxBig256) > 0 {
		return fmt.Errorf("%w: %s", ErrOverflow, v)
	}
	return nil
}
