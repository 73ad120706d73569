// Package fees computes the platform and processor fee components of a
// milestone release. All arithmetic is fixed-point decimal rounded half-up to
// two places; floats never touch money.
package fees

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/gigvault/escrow/internal/model"
)

// Default rates: 8% platform cut, 2.9% + 0.30 processor cost.
var (
	DefaultPlatformRate  = decimal.NewFromFloat(0.08)
	DefaultProcessorRate = decimal.NewFromFloat(0.029)
	DefaultProcessorFlat = decimal.NewFromFloat(0.30)
)

var ErrNegativeAmount = errors.New("fees: negative amount")

// Calculator holds the configured fee rates. The zero value is not usable;
// construct with New or NewWithRates.
type Calculator struct {
	platformRate  decimal.Decimal
	processorRate decimal.Decimal
	processorFlat decimal.Decimal
}

func New() *Calculator {
	return &Calculator{
		platformRate:  DefaultPlatformRate,
		processorRate: DefaultProcessorRate,
		processorFlat: DefaultProcessorFlat,
	}
}

func NewWithRates(platformRate, processorRate, processorFlat decimal.Decimal) *Calculator {
	return &Calculator{
		platformRate:  platformRate,
		processorRate: processorRate,
		processorFlat: processorFlat,
	}
}

// PlatformFee is the marketplace's cut of a gross amount.
func (c *Calculator) PlatformFee(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return round2(amount.Mul(c.platformRate)), nil
}

// ProcessorFee is the external processor's cost for moving a gross amount.
func (c *Calculator) ProcessorFee(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return round2(amount.Mul(c.processorRate).Add(c.processorFlat)), nil
}

// NetAmount is what the payee receives from a gross amount after both fees.
func (c *Calculator) NetAmount(gross decimal.Decimal) (decimal.Decimal, error) {
	b, err := c.Breakdown(gross)
	if err != nil {
		return decimal.Zero, err
	}
	return b.NetAmount, nil
}

// Breakdown decomposes a gross amount into its fee components. The parts
// reconcile exactly: gross == platform + processor + net.
func (c *Calculator) Breakdown(gross decimal.Decimal) (model.ReleaseBreakdown, error) {
	platform, err := c.PlatformFee(gross)
	if err != nil {
		return model.ReleaseBreakdown{}, err
	}
	processor, err := c.ProcessorFee(gross)
	if err != nil {
		return model.ReleaseBreakdown{}, err
	}
	return model.ReleaseBreakdown{
		GrossAmount:  round2(gross),
		PlatformFee:  platform,
		ProcessorFee: processor,
		NetAmount:    round2(gross).Sub(platform).Sub(processor),
	}, nil
}

// round2 rounds half-up to cents.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
