package marketdata

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValidatorOptions bound what a trusted payload may contain.
type ValidatorOptions struct {
	// MaxPrice rejects implausible quote values; zero disables the bound.
	MaxPrice decimal.Decimal
	// FutureSkew tolerates small clock drift on upstream timestamps.
	FutureSkew time.Duration
}

// Validator sanity-checks quotes and rates before they are cached.
type Validator struct {
	opts ValidatorOptions
	now  func() time.Time
}

// NewValidator constructs a Validator with defaults applied.
func NewValidator(opts ValidatorOptions) *Validator {
	if opts.FutureSkew <= 0 {
		opts.FutureSkew = 5 * time.Minute
	}
	return &Validator{opts: opts, now: time.Now}
}

// ValidateQuote rejects negative, implausible, or future-dated quotes.
func (v *Validator) ValidateQuote(q Quote) error {
	if q.Symbol == "" {
		return fmt.Errorf("quote missing symbol")
	}
	if q.Price.IsNegative() {
		return fmt.Errorf("quote %s: negative price %s", q.Symbol, q.Price)
	}
	if !v.opts.MaxPrice.IsZero() && q.Price.GreaterThan(v.opts.MaxPrice) {
		return fmt.Errorf("quote %s: price %s above plausible bound %s", q.Symbol, q.Price, v.opts.MaxPrice)
	}
	if !q.Timestamp.IsZero() && q.Timestamp.After(v.now().Add(v.opts.FutureSkew)) {
		return fmt.Errorf("quote %s: timestamp %s in the future", q.Symbol, q.Timestamp.UTC().Format(time.RFC3339))
	}
	return nil
}

// ValidateRate rejects non-positive or future-dated exchange rates.
func (v *Validator) ValidateRate(r ExchangeRate) error {
	if r.Pair == "" {
		return fmt.Errorf("rate missing pair")
	}
	if !r.Rate.IsPositive() {
		return fmt.Errorf("rate %s: non-positive rate %s", r.Pair, r.Rate)
	}
	if !r.UpdatedAt.IsZero() && r.UpdatedAt.After(v.now().Add(v.opts.FutureSkew)) {
		return fmt.Errorf("rate %s: timestamp %s in the future", r.Pair, r.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}
