package models

import "time"

type Class struct {
	ID           int64  `yaml:"id" json:"id"`
	ProviderID   int64  `yaml:"provider_id" json:"provider_id"`
	ProviderName string `yaml:"provider_name" json:"provider_name"`
	Name         string `yaml:"name" json:"name"`

	PriceCents        int64  `yaml:"price_cents" json:"price_cents"`
	SiblingPriceCents int64  `yaml:"sibling_price_cents" json:"sibling_price_cents"` // 0 disables the sibling discount
	AdultsFree        bool   `yaml:"adults_free" json:"adults_free"`
	AdultsPaySame     bool   `yaml:"adults_pay_same" json:"adults_pay_same"`
	AdultPriceCents   int64  `yaml:"adult_price_cents" json:"adult_price_cents"`
	Currency          string `yaml:"currency" json:"currency"`

	MaxCapacity       int64 `yaml:"max_capacity" json:"max_capacity"`
	CurrentEnrollment int64 `yaml:"current_enrollment" json:"current_enrollment"`

	Status   string     `yaml:"status" json:"status"` // draft, published, inactive
	Schedule []TimeSlot `yaml:"schedule" json:"schedule"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
	Version   int64     `yaml:"version" json:"version"`
}

// TimeSlot is one recurring weekly session of a class.
type TimeSlot struct {
	Weekday int    `yaml:"weekday" json:"weekday"` // 0 = Sunday
	Start   string `yaml:"start" json:"start"`     // HH:MM
	End     string `yaml:"end" json:"end"`         // HH:MM
}

// AvailableSpots returns remaining capacity, floored at zero.
func (c *Class) AvailableSpots() int64 {
	spots := c.MaxCapacity - c.CurrentEnrollment
	if spots < 0 {
		return 0
	}
	return spots
}

func (c *Class) IsBookable() bool {
	return c.Status == ClassStatusPublished
}

type Availability struct {
	ClassID        int64 `json:"class_id"`
	MaxCapacity    int64 `json:"max_capacity"`
	Enrolled       int64 `json:"enrolled"`
	AvailableSpots int64 `json:"available_spots"`
}
