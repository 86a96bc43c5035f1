package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentReleased = "released"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

const (
	ClassStatusDraft     = "draft"
	ClassStatusPublished = "published"
	ClassStatusInactive  = "inactive"
)

const (
	// BookingNumberPrefix starts every generated booking number.
	BookingNumberPrefix = "YUGI"

	// MaxDailySequence is the highest booking sequence a single
	// calendar day can hold (three digits in the number format).
	MaxDailySequence = 999
)

const (
	// DefaultServiceFeeCents is the flat per-booking marketplace fee.
	DefaultServiceFeeCents = 200

	// DefaultHoldDays is how long captured funds are held before
	// release to the provider.
	DefaultHoldDays = 3

	// DefaultCancelCutoffHours is the minimum interval before session
	// start during which cancellation is no longer allowed.
	DefaultCancelCutoffHours = 24

	// DefaultRedisTTL время жизни кэша доступности в Redis
	DefaultRedisTTL = 5 * 60 // 5 минут в секундах

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// RateLimitRequests количество запросов в окне
	RateLimitRequests = 30

	// RateLimitWindow окно ограничения частоты запросов
	RateLimitWindow = 60 // 1 минута в секундах
)
