package pricing

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks pricing inputs that cannot produce a valid
// quote: missing children, negative counts, or a configuration whose
// arithmetic would go negative. Amounts are never clamped.
var ErrInvalidInput = errors.New("invalid pricing input")

// Config is the pricing portion of a class, in integer cents.
type Config struct {
	PriceCents        int64
	SiblingPriceCents int64 // 0 disables the sibling discount
	AdultsFree        bool
	AdultsPaySame     bool
	AdultPriceCents   int64
	ServiceFeeCents   int64
}

// Selection is the participant mix of a booking request.
type Selection struct {
	NumChildren  int
	SiblingPairs int
	NumAdults    int
}

// Breakdown is the derived per-booking amounts. Total is always
// BasePrice - SiblingDiscount + AdultPrice + ServiceFee.
type Breakdown struct {
	BasePriceCents       int64 `json:"base_price_cents"`
	SiblingDiscountCents int64 `json:"sibling_discount_cents"`
	AdultPriceCents      int64 `json:"adult_price_cents"`
	ServiceFeeCents      int64 `json:"service_fee_cents"`
	TotalCents           int64 `json:"total_cents"`
}

// Quote derives the booking amounts for a class and participant
// selection. Pure and deterministic.
func Quote(cfg Config, sel Selection) (Breakdown, error) {
	if sel.NumChildren < 1 {
		return Breakdown{}, fmt.Errorf("%w: at least one child is required", ErrInvalidInput)
	}
	if sel.SiblingPairs < 0 || sel.NumAdults < 0 {
		return Breakdown{}, fmt.Errorf("%w: negative participant count", ErrInvalidInput)
	}
	if cfg.PriceCents < 0 || cfg.SiblingPriceCents < 0 || cfg.AdultPriceCents < 0 || cfg.ServiceFeeCents < 0 {
		return Breakdown{}, fmt.Errorf("%w: negative price configuration", ErrInvalidInput)
	}

	base := cfg.PriceCents * int64(sel.NumChildren)

	var discount int64
	if cfg.SiblingPriceCents > 0 && sel.SiblingPairs > 0 {
		perChild := cfg.PriceCents - cfg.SiblingPriceCents
		if perChild < 0 {
			return Breakdown{}, fmt.Errorf("%w: sibling price above base price", ErrInvalidInput)
		}
		discount = perChild * int64(sel.NumChildren)
	}

	var adult int64
	switch {
	case cfg.AdultsFree:
		adult = 0
	case cfg.AdultsPaySame:
		adult = cfg.PriceCents * int64(sel.NumAdults)
	default:
		adult = cfg.AdultPriceCents * int64(sel.NumAdults)
	}

	total := base - discount + adult + cfg.ServiceFeeCents
	if total < cfg.ServiceFeeCents {
		return Breakdown{}, fmt.Errorf("%w: total below service fee", ErrInvalidInput)
	}

	return Breakdown{
		BasePriceCents:       base,
		SiblingDiscountCents: discount,
		AdultPriceCents:      adult,
		ServiceFeeCents:      cfg.ServiceFeeCents,
		TotalCents:           total,
	}, nil
}
