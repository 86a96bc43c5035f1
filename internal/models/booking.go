package models

import (
	"fmt"
	"strings"
	"time"
)

type Booking struct {
	ID           int64    `json:"id"`
	Number       string   `json:"number"`
	ClassID      int64    `json:"class_id"`
	ClassName    string   `json:"class_name"`
	ProviderName string   `json:"provider_name"`
	ParentID     int64    `json:"parent_id"`
	ParentName   string   `json:"parent_name"`
	Children     []string `json:"children"`

	SessionStart time.Time `json:"session_start"`
	SessionEnd   time.Time `json:"session_end"`

	NumChildren  int `json:"num_children"`
	SiblingPairs int `json:"sibling_pairs"`
	NumAdults    int `json:"num_adults"`

	BasePriceCents       int64  `json:"base_price_cents"`
	SiblingDiscountCents int64  `json:"sibling_discount_cents"`
	AdultPriceCents      int64  `json:"adult_price_cents"`
	ServiceFeeCents      int64  `json:"service_fee_cents"`
	TotalCents           int64  `json:"total_cents"`
	Currency             string `json:"currency"`

	Status        string `json:"status"`         // pending, confirmed, completed, cancelled
	PaymentStatus string `json:"payment_status"` // pending, paid, released, failed, refunded

	PaymentRef       string     `json:"payment_ref,omitempty"`
	PaymentDate      *time.Time `json:"payment_date,omitempty"`
	FundsReleaseDate *time.Time `json:"funds_release_date,omitempty"`
	FundsReleased    bool       `json:"funds_released"`
	FundsReleasedAt  *time.Time `json:"funds_released_at,omitempty"`

	CancelReason string     `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	RefundCents  int64      `json:"refund_cents"`

	ClassCompletedAt *time.Time `json:"class_completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// BookingNumber renders the human-readable booking identifier,
// e.g. sequence 7 on 2026-03-05 becomes YUGI260305007.
func BookingNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("%s%s%03d", BookingNumberPrefix, day.Format("060102"), seq)
}

// IsActiveStatus reports whether a booking in the given status still
// occupies a capacity unit of its class.
func IsActiveStatus(status string) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusCompleted:
		return true
	default:
		return false
	}
}

// ChildrenList joins child names for flat exports.
func (b *Booking) ChildrenList() string {
	return strings.Join(b.Children, ", ")
}
