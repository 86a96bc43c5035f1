package domain

import (
	"context"
	"time"

	"yugi/internal/models"
)

type Repository interface {
	CreateBookingWithCapacity(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByNumber(ctx context.Context, number string) (*models.Booking, error)
	ConfirmPaymentWithVersion(ctx context.Context, id, fromVersion int64, paymentRef string, paymentDate, releaseDate time.Time) error
	FailPaymentWithVersion(ctx context.Context, id, fromVersion int64) error
	CancelBookingWithVersion(ctx context.Context, id, fromVersion int64, reason string, refundCents int64, paymentStatus string) error
	CompleteBookingWithVersion(ctx context.Context, id, fromVersion int64, completedAt time.Time) error
	ReleaseFundsWithVersion(ctx context.Context, id, fromVersion int64, releasedAt time.Time) error
	GetParentBookings(ctx context.Context, parentID int64) ([]*models.Booking, error)
	GetClassBookings(ctx context.Context, classID int64) ([]*models.Booking, error)
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetDueFundReleases(ctx context.Context, now time.Time) ([]*models.Booking, error)
	GetFinishedSessions(ctx context.Context, now time.Time) ([]*models.Booking, error)

	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, id int64) (*models.Class, error)
	GetPublishedClasses(ctx context.Context) ([]*models.Class, error)
	UpdateClassWithVersion(ctx context.Context, class *models.Class) error
	SetClassStatus(ctx context.Context, id int64, status string) error
	ReserveSpot(ctx context.Context, classID int64) error
	ReleaseSpot(ctx context.Context, classID int64) error
	GetClassAvailability(ctx context.Context, classID int64) (*models.Availability, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking, status string) error
}

// CacheRepository backs the API layer: short-lived availability
// snapshots and per-caller rate limiting.
type CacheRepository interface {
	GetAvailability(ctx context.Context, classID int64) (*models.Availability, error)
	SetAvailability(ctx context.Context, avail *models.Availability) error
	InvalidateAvailability(ctx context.Context, classID int64) error
	CheckRateLimit(ctx context.Context, callerID string, limit int, window time.Duration) (bool, error)
}

type BookingService interface {
	CreateBooking(ctx context.Context, req *models.Booking) (*models.Booking, error)
	ConfirmPayment(ctx context.Context, bookingID int64, paymentRef string) error
	FailPayment(ctx context.Context, bookingID int64) error
	Cancel(ctx context.Context, bookingID int64, reason string) error
	Complete(ctx context.Context, bookingID int64) error
	ReleaseFunds(ctx context.Context, bookingID int64) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByNumber(ctx context.Context, number string) (*models.Booking, error)
	GetParentBookings(ctx context.Context, parentID int64) ([]*models.Booking, error)
	GetClassBookings(ctx context.Context, classID int64) ([]*models.Booking, error)
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	ReleaseDueFunds(ctx context.Context, now time.Time) (int, error)
	CompleteFinishedSessions(ctx context.Context, now time.Time) (int, error)
}

type CatalogService interface {
	CreateClass(ctx context.Context, class *models.Class) error
	UpdateClass(ctx context.Context, class *models.Class) error
	PublishClass(ctx context.Context, id int64) error
	DeactivateClass(ctx context.Context, id int64) error
	GetClass(ctx context.Context, id int64) (*models.Class, error)
	ListPublishedClasses(ctx context.Context) ([]*models.Class, error)
	GetAvailability(ctx context.Context, classID int64) (*models.Availability, error)
}
