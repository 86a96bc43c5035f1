package google

import (
	"testing"
	"time"

	"yugi/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestBookingRowValues(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	booking := &models.Booking{
		ID:            7,
		Number:        "YUGI260314002",
		ClassName:     "Toddler Gymnastics",
		ProviderName:  "Little Sprouts",
		ParentName:    "Jordan Smith",
		Children:      []string{"Alex", "Sam"},
		SessionStart:  start,
		SessionEnd:    start.Add(time.Hour),
		Status:        models.StatusConfirmed,
		PaymentStatus: models.PaymentPaid,
		TotalCents:    2700,
		Currency:      "USD",
		UpdatedAt:     start,
	}

	row := bookingRowValues(booking)
	assert.Len(t, row, 12)
	assert.Equal(t, int64(7), row[0])
	assert.Equal(t, "YUGI260314002", row[1])
	assert.Equal(t, "Alex, Sam", row[5])
	assert.Equal(t, "2026-03-14 10:00", row[6])
	assert.Equal(t, models.StatusConfirmed, row[8])
	assert.Equal(t, "27.00 USD", row[10])
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "0.00 USD", formatMoney(0, "USD"))
	assert.Equal(t, "2.05 USD", formatMoney(205, "USD"))
	assert.Equal(t, "-17.50 EUR", formatMoney(-1750, "EUR"))
}

func TestRowCache(t *testing.T) {
	s := &SheetsService{rowCache: make(map[int64]int)}

	_, ok := s.getCachedRow(1)
	assert.False(t, ok)

	s.setCachedRow(1, 5)
	row, ok := s.getCachedRow(1)
	assert.True(t, ok)
	assert.Equal(t, 5, row)

	s.deleteCacheRow(1)
	_, ok = s.getCachedRow(1)
	assert.False(t, ok)

	s.setCachedRow(2, 3)
	s.ClearCache()
	_, ok = s.getCachedRow(2)
	assert.False(t, ok)
}
