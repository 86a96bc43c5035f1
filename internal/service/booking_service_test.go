package service

import (
	"context"
	"io"
	"testing"
	"time"

	"yugi/internal/database"
	"yugi/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateBookingWithCapacity(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) GetBookingByNumber(ctx context.Context, n string) (*models.Booking, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) ConfirmPaymentWithVersion(ctx context.Context, id, v int64, ref string, paid, release time.Time) error {
	return m.Called(ctx, id, v, ref, paid, release).Error(0)
}
func (m *mockRepo) FailPaymentWithVersion(ctx context.Context, id, v int64) error {
	return m.Called(ctx, id, v).Error(0)
}
func (m *mockRepo) CancelBookingWithVersion(ctx context.Context, id, v int64, reason string, refund int64, ps string) error {
	return m.Called(ctx, id, v, reason, refund, ps).Error(0)
}
func (m *mockRepo) CompleteBookingWithVersion(ctx context.Context, id, v int64, at time.Time) error {
	return m.Called(ctx, id, v, at).Error(0)
}
func (m *mockRepo) ReleaseFundsWithVersion(ctx context.Context, id, v int64, at time.Time) error {
	return m.Called(ctx, id, v, at).Error(0)
}
func (m *mockRepo) GetParentBookings(ctx context.Context, id int64) ([]*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetClassBookings(ctx context.Context, id int64) ([]*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetBookingsByDateRange(ctx context.Context, s, e time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, s, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetDueFundReleases(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetFinishedSessions(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) CreateClass(ctx context.Context, c *models.Class) error {
	return m.Called(ctx, c).Error(0)
}
func (m *mockRepo) GetClass(ctx context.Context, id int64) (*models.Class, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Class), args.Error(1)
}
func (m *mockRepo) GetPublishedClasses(ctx context.Context) ([]*models.Class, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Class), args.Error(1)
}
func (m *mockRepo) UpdateClassWithVersion(ctx context.Context, c *models.Class) error {
	return m.Called(ctx, c).Error(0)
}
func (m *mockRepo) SetClassStatus(ctx context.Context, id int64, s string) error {
	return m.Called(ctx, id, s).Error(0)
}
func (m *mockRepo) ReserveSpot(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockRepo) ReleaseSpot(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockRepo) GetClassAvailability(ctx context.Context, id int64) (*models.Availability, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Availability), args.Error(1)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

type mockWorker struct {
	mock.Mock
}

func (m *mockWorker) EnqueueTask(ctx context.Context, tt string, bid int64, b *models.Booking, s string) error {
	return m.Called(ctx, tt, bid, b, s).Error(0)
}

func testClass() *models.Class {
	return &models.Class{
		ID:           1,
		ProviderID:   9,
		ProviderName: "Little Sprouts",
		Name:         "Toddler Gymnastics",
		PriceCents:   1500,
		SiblingPriceCents: 1000,
		AdultsFree:   true,
		Currency:     "USD",
		MaxCapacity:  1,
		Status:       models.ClassStatusPublished,
		Version:      1,
	}
}

func testRequest() *models.Booking {
	start := time.Now().AddDate(0, 0, 5)
	return &models.Booking{
		ClassID:      1,
		ParentID:     42,
		ParentName:   "Jordan Smith",
		Children:     []string{"Alex"},
		SessionStart: start,
		SessionEnd:   start.Add(time.Hour),
		NumChildren:  1,
		NumAdults:    1,
	}
}

func newTestService(repo *mockRepo, bus *mockEventBus, worker *mockWorker) *BookingService {
	logger := zerolog.New(io.Discard)
	return NewBookingService(repo, bus, worker, 200, 3, 24*time.Hour, &logger)
}

func TestCreateBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("PricesAndPersists", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		worker := new(mockWorker)
		svc := newTestService(repo, bus, worker)

		repo.On("GetClass", ctx, int64(1)).Return(testClass(), nil).Once()
		repo.On("CreateBookingWithCapacity", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", "booking_created", mock.Anything).Return(nil).Once()
		worker.On("EnqueueTask", ctx, "upsert", mock.Anything, mock.Anything, "").Return(nil).Once()

		booking, err := svc.CreateBooking(ctx, testRequest())
		assert.NoError(t, err)
		assert.Equal(t, int64(1500), booking.BasePriceCents)
		assert.Equal(t, int64(0), booking.SiblingDiscountCents)
		assert.Equal(t, int64(0), booking.AdultPriceCents)
		assert.Equal(t, int64(200), booking.ServiceFeeCents)
		assert.Equal(t, int64(1700), booking.TotalCents)
		assert.Equal(t, "Toddler Gymnastics", booking.ClassName)
		assert.Equal(t, "Little Sprouts", booking.ProviderName)
		repo.AssertExpectations(t)
	})

	t.Run("UnpublishedClass", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		draft := testClass()
		draft.Status = models.ClassStatusDraft
		repo.On("GetClass", ctx, int64(1)).Return(draft, nil).Once()

		_, err := svc.CreateBooking(ctx, testRequest())
		assert.ErrorIs(t, err, database.ErrClassNotAvailable)
	})

	t.Run("CapacityExceededPropagates", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		repo.On("GetClass", ctx, int64(1)).Return(testClass(), nil).Once()
		repo.On("CreateBookingWithCapacity", ctx, mock.Anything).Return(database.ErrCapacityExceeded).Once()

		_, err := svc.CreateBooking(ctx, testRequest())
		assert.ErrorIs(t, err, database.ErrCapacityExceeded)
	})

	t.Run("InvalidParticipants", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		noChildren := testRequest()
		noChildren.NumChildren = 0
		noChildren.Children = nil
		_, err := svc.CreateBooking(ctx, noChildren)
		assert.ErrorIs(t, err, database.ErrInvalidParticipants)

		mismatch := testRequest()
		mismatch.NumChildren = 2
		_, err = svc.CreateBooking(ctx, mismatch)
		assert.ErrorIs(t, err, database.ErrInvalidParticipants)

		past := testRequest()
		past.SessionStart = time.Now().AddDate(0, 0, -1)
		past.SessionEnd = past.SessionStart.Add(time.Hour)
		_, err = svc.CreateBooking(ctx, past)
		assert.ErrorIs(t, err, database.ErrInvalidParticipants)

		negativeAdults := testRequest()
		negativeAdults.NumAdults = -1
		_, err = svc.CreateBooking(ctx, negativeAdults)
		assert.ErrorIs(t, err, database.ErrInvalidParticipants)
	})
}

func pendingBooking() *models.Booking {
	start := time.Now().AddDate(0, 0, 5)
	return &models.Booking{
		ID:           10,
		Number:       "YUGI260101001",
		ClassID:      1,
		ParentID:     42,
		SessionStart: start,
		SessionEnd:   start.Add(time.Hour),
		TotalCents:   1700,
		Status:       models.StatusPending,
		PaymentStatus: models.PaymentPending,
		Version:      1,
	}
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("SetsHoldWindow", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		worker := new(mockWorker)
		svc := newTestService(repo, bus, worker)

		repo.On("GetBooking", ctx, int64(10)).Return(pendingBooking(), nil).Once()
		repo.On("ConfirmPaymentWithVersion", ctx, int64(10), int64(1), "pay_1",
			mock.MatchedBy(func(paid time.Time) bool { return time.Since(paid) < time.Minute }),
			mock.MatchedBy(func(release time.Time) bool {
				return release.Sub(time.Now().AddDate(0, 0, 3)) < time.Minute
			}),
		).Return(nil).Once()
		bus.On("PublishJSON", "booking_confirmed", mock.Anything).Return(nil).Once()
		worker.On("EnqueueTask", ctx, "update_status", int64(10), mock.Anything, models.StatusConfirmed).Return(nil).Once()

		err := svc.ConfirmPayment(ctx, 10, "pay_1")
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("IdempotentWhenAlreadyPaid", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		paid := pendingBooking()
		paid.Status = models.StatusConfirmed
		paid.PaymentStatus = models.PaymentPaid
		repo.On("GetBooking", ctx, int64(10)).Return(paid, nil).Once()

		err := svc.ConfirmPayment(ctx, 10, "pay_1")
		assert.NoError(t, err)
		repo.AssertNotCalled(t, "ConfirmPaymentWithVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("RetriesOnVersionConflict", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		worker := new(mockWorker)
		svc := newTestService(repo, bus, worker)

		first := pendingBooking()
		second := pendingBooking()
		second.Version = 2
		repo.On("GetBooking", ctx, int64(10)).Return(first, nil).Once()
		repo.On("GetBooking", ctx, int64(10)).Return(second, nil).Once()
		repo.On("ConfirmPaymentWithVersion", ctx, int64(10), int64(1), "pay_1", mock.Anything, mock.Anything).
			Return(database.ErrConcurrentModification).Once()
		repo.On("ConfirmPaymentWithVersion", ctx, int64(10), int64(2), "pay_1", mock.Anything, mock.Anything).
			Return(nil).Once()
		bus.On("PublishJSON", "booking_confirmed", mock.Anything).Return(nil).Once()
		worker.On("EnqueueTask", ctx, "update_status", int64(10), mock.Anything, models.StatusConfirmed).Return(nil).Once()

		err := svc.ConfirmPayment(ctx, 10, "pay_1")
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("CancelledBookingRejected", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		cancelled := pendingBooking()
		cancelled.Status = models.StatusCancelled
		repo.On("GetBooking", ctx, int64(10)).Return(cancelled, nil).Once()

		err := svc.ConfirmPayment(ctx, 10, "pay_1")
		assert.Error(t, err)
	})
}

func TestFailPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("MarksPaymentFailed", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		repo.On("GetBooking", ctx, int64(10)).Return(pendingBooking(), nil).Once()
		repo.On("FailPaymentWithVersion", ctx, int64(10), int64(1)).Return(nil).Once()

		err := svc.FailPayment(ctx, 10)
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("IdempotentWhenAlreadyFailed", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		failed := pendingBooking()
		failed.PaymentStatus = models.PaymentFailed
		repo.On("GetBooking", ctx, int64(10)).Return(failed, nil).Once()

		err := svc.FailPayment(ctx, 10)
		assert.NoError(t, err)
		repo.AssertNotCalled(t, "FailPaymentWithVersion", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("PaidBookingRejected", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		paid := pendingBooking()
		paid.Status = models.StatusConfirmed
		paid.PaymentStatus = models.PaymentPaid
		repo.On("GetBooking", ctx, int64(10)).Return(paid, nil).Once()

		err := svc.FailPayment(ctx, 10)
		assert.Error(t, err)
	})

	t.Run("RetryAfterFailureConfirms", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		worker := new(mockWorker)
		svc := newTestService(repo, bus, worker)

		failed := pendingBooking()
		failed.PaymentStatus = models.PaymentFailed
		repo.On("GetBooking", ctx, int64(10)).Return(failed, nil).Once()
		repo.On("ConfirmPaymentWithVersion", ctx, int64(10), int64(1), "pay_2", mock.Anything, mock.Anything).
			Return(nil).Once()
		bus.On("PublishJSON", "booking_confirmed", mock.Anything).Return(nil).Once()
		worker.On("EnqueueTask", ctx, "update_status", int64(10), mock.Anything, models.StatusConfirmed).Return(nil).Once()

		err := svc.ConfirmPayment(ctx, 10, "pay_2")
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("WindowClosed", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		soon := pendingBooking()
		soon.SessionStart = time.Now().Add(10 * time.Hour)
		repo.On("GetBooking", ctx, int64(10)).Return(soon, nil).Once()

		err := svc.Cancel(ctx, 10, "conflict")
		assert.ErrorIs(t, err, database.ErrCancellationWindowClosed)
		repo.AssertNotCalled(t, "CancelBookingWithVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("FullRefundWhileFundsHeld", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		worker := new(mockWorker)
		svc := newTestService(repo, bus, worker)

		held := pendingBooking()
		held.SessionStart = time.Now().Add(48 * time.Hour)
		held.Status = models.StatusConfirmed
		held.PaymentStatus = models.PaymentPaid
		repo.On("GetBooking", ctx, int64(10)).Return(held, nil).Once()
		repo.On("CancelBookingWithVersion", ctx, int64(10), int64(1), "conflict", int64(1700), models.PaymentRefunded).
			Return(nil).Once()
		bus.On("PublishJSON", "booking_cancelled", mock.Anything).Return(nil).Once()
		worker.On("EnqueueTask", ctx, "update_status", int64(10), mock.Anything, models.StatusCancelled).Return(nil).Once()

		err := svc.Cancel(ctx, 10, "conflict")
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("NoRefundAfterRelease", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		worker := new(mockWorker)
		svc := newTestService(repo, bus, worker)

		released := pendingBooking()
		released.SessionStart = time.Now().Add(48 * time.Hour)
		released.Status = models.StatusConfirmed
		released.PaymentStatus = models.PaymentReleased
		released.FundsReleased = true
		repo.On("GetBooking", ctx, int64(10)).Return(released, nil).Once()
		repo.On("CancelBookingWithVersion", ctx, int64(10), int64(1), "no-show", int64(0), models.PaymentReleased).
			Return(nil).Once()
		bus.On("PublishJSON", "booking_cancelled", mock.Anything).Return(nil).Once()
		worker.On("EnqueueTask", ctx, "update_status", int64(10), mock.Anything, models.StatusCancelled).Return(nil).Once()

		err := svc.Cancel(ctx, 10, "no-show")
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("CompletedBookingRejected", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		done := pendingBooking()
		done.Status = models.StatusCompleted
		repo.On("GetBooking", ctx, int64(10)).Return(done, nil).Once()

		err := svc.Cancel(ctx, 10, "late")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, database.ErrCancellationWindowClosed)
	})
}

func TestReleaseFunds(t *testing.T) {
	ctx := context.Background()

	paidBooking := func(releaseIn time.Duration) *models.Booking {
		b := pendingBooking()
		b.Status = models.StatusConfirmed
		b.PaymentStatus = models.PaymentPaid
		paid := time.Now().Add(releaseIn - 72*time.Hour)
		release := time.Now().Add(releaseIn)
		b.PaymentDate = &paid
		b.FundsReleaseDate = &release
		return b
	}

	t.Run("NoopBeforeReleaseDate", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		repo.On("GetBooking", ctx, int64(10)).Return(paidBooking(24*time.Hour), nil).Once()

		err := svc.ReleaseFunds(ctx, 10)
		assert.NoError(t, err)
		repo.AssertNotCalled(t, "ReleaseFundsWithVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ReleasesWhenDue", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		worker := new(mockWorker)
		svc := newTestService(repo, bus, worker)

		repo.On("GetBooking", ctx, int64(10)).Return(paidBooking(-time.Hour), nil).Once()
		repo.On("ReleaseFundsWithVersion", ctx, int64(10), int64(1), mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", "funds_released", mock.Anything).Return(nil).Once()
		worker.On("EnqueueTask", ctx, "update_status", int64(10), mock.Anything, models.StatusConfirmed).Return(nil).Once()

		err := svc.ReleaseFunds(ctx, 10)
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("IdempotentWhenAlreadyReleased", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		released := paidBooking(-time.Hour)
		released.FundsReleased = true
		released.PaymentStatus = models.PaymentReleased
		repo.On("GetBooking", ctx, int64(10)).Return(released, nil).Once()

		err := svc.ReleaseFunds(ctx, 10)
		assert.NoError(t, err)
		repo.AssertNotCalled(t, "ReleaseFundsWithVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSweeps(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("ReleaseDueFunds", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		worker := new(mockWorker)
		svc := newTestService(repo, bus, worker)

		due := pendingBooking()
		due.ID = 21
		due.Status = models.StatusConfirmed
		due.PaymentStatus = models.PaymentPaid
		past := now.Add(-time.Hour)
		due.FundsReleaseDate = &past

		broken := pendingBooking()
		broken.ID = 22

		repo.On("GetDueFundReleases", ctx, now).Return([]*models.Booking{due, broken}, nil).Once()
		repo.On("GetBooking", ctx, int64(21)).Return(due, nil).Once()
		repo.On("ReleaseFundsWithVersion", ctx, int64(21), int64(1), mock.Anything).Return(nil).Once()
		repo.On("GetBooking", ctx, int64(22)).Return(nil, database.ErrBookingNotFound).Once()
		bus.On("PublishJSON", "funds_released", mock.Anything).Return(nil).Once()
		worker.On("EnqueueTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		released, err := svc.ReleaseDueFunds(ctx, now)
		assert.NoError(t, err)
		assert.Equal(t, 1, released)
	})

	t.Run("CompleteFinishedSessions", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		worker := new(mockWorker)
		svc := newTestService(repo, bus, worker)

		finished := pendingBooking()
		finished.ID = 31
		finished.Status = models.StatusConfirmed
		finished.SessionStart = now.Add(-2 * time.Hour)
		finished.SessionEnd = now.Add(-time.Hour)

		repo.On("GetFinishedSessions", ctx, now).Return([]*models.Booking{finished}, nil).Once()
		repo.On("GetBooking", ctx, int64(31)).Return(finished, nil).Once()
		repo.On("CompleteBookingWithVersion", ctx, int64(31), int64(1), mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", "booking_completed", mock.Anything).Return(nil).Once()
		worker.On("EnqueueTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		completed, err := svc.CompleteFinishedSessions(ctx, now)
		assert.NoError(t, err)
		assert.Equal(t, 1, completed)
		repo.AssertExpectations(t)
	})
}
