package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"yugi/internal/database"
	"yugi/internal/domain"
	"yugi/internal/events"
	"yugi/internal/models"
	"yugi/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// casMaxRetries bounds the internal retry loop on optimistic-lock
// conflicts before the error is surfaced to the caller.
const casMaxRetries = 3

type BookingService struct {
	repo            domain.Repository
	eventBus        domain.EventPublisher
	syncWorker      domain.SyncWorker
	serviceFeeCents int64
	holdDays        int
	cancelCutoff    time.Duration
	logger          *zerolog.Logger
}

func NewBookingService(
	repo domain.Repository,
	eventBus domain.EventPublisher,
	syncWorker domain.SyncWorker,
	serviceFeeCents int64,
	holdDays int,
	cancelCutoff time.Duration,
	logger *zerolog.Logger,
) *BookingService {
	if serviceFeeCents < 0 {
		serviceFeeCents = models.DefaultServiceFeeCents
	}
	if holdDays <= 0 {
		holdDays = models.DefaultHoldDays
	}
	if cancelCutoff <= 0 {
		cancelCutoff = models.DefaultCancelCutoffHours * time.Hour
	}
	return &BookingService{
		repo:            repo,
		eventBus:        eventBus,
		syncWorker:      syncWorker,
		serviceFeeCents: serviceFeeCents,
		holdDays:        holdDays,
		cancelCutoff:    cancelCutoff,
		logger:          logger,
	}
}

func (s *BookingService) validateRequest(req *models.Booking) error {
	if req.ClassID == 0 || req.ParentID == 0 {
		return fmt.Errorf("%w: class and parent are required", database.ErrInvalidParticipants)
	}
	if req.NumChildren < 1 {
		return fmt.Errorf("%w: at least one child is required", database.ErrInvalidParticipants)
	}
	if req.SiblingPairs < 0 || req.NumAdults < 0 {
		return fmt.Errorf("%w: negative participant count", database.ErrInvalidParticipants)
	}
	if len(req.Children) == 0 || len(req.Children) != req.NumChildren {
		return fmt.Errorf("%w: child names must match the child count", database.ErrInvalidParticipants)
	}
	if req.SessionStart.IsZero() || !req.SessionEnd.After(req.SessionStart) {
		return fmt.Errorf("%w: invalid session window", database.ErrInvalidParticipants)
	}
	if req.SessionStart.Before(time.Now()) {
		return fmt.Errorf("%w: session is in the past", database.ErrInvalidParticipants)
	}
	return nil
}

// CreateBooking prices the request, reserves a capacity unit and
// persists the booking. The total is computed here once and never
// recomputed by later transitions.
func (s *BookingService) CreateBooking(ctx context.Context, req *models.Booking) (*models.Booking, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	class, err := s.repo.GetClass(ctx, req.ClassID)
	if err != nil {
		return nil, err
	}
	if !class.IsBookable() {
		return nil, database.ErrClassNotAvailable
	}

	quote, err := pricing.Quote(
		pricing.Config{
			PriceCents:        class.PriceCents,
			SiblingPriceCents: class.SiblingPriceCents,
			AdultsFree:        class.AdultsFree,
			AdultsPaySame:     class.AdultsPaySame,
			AdultPriceCents:   class.AdultPriceCents,
			ServiceFeeCents:   s.serviceFeeCents,
		},
		pricing.Selection{
			NumChildren:  req.NumChildren,
			SiblingPairs: req.SiblingPairs,
			NumAdults:    req.NumAdults,
		},
	)
	if err != nil {
		return nil, err
	}

	booking := *req
	booking.ClassName = class.Name
	booking.ProviderName = class.ProviderName
	booking.Currency = class.Currency
	booking.BasePriceCents = quote.BasePriceCents
	booking.SiblingDiscountCents = quote.SiblingDiscountCents
	booking.AdultPriceCents = quote.AdultPriceCents
	booking.ServiceFeeCents = quote.ServiceFeeCents
	booking.TotalCents = quote.TotalCents

	if err := s.repo.CreateBookingWithCapacity(ctx, &booking); err != nil {
		return nil, err
	}

	s.publishEvent(events.EventBookingCreated, &booking)
	s.enqueueSync(ctx, &booking, "upsert")

	s.logger.Info().
		Str("number", booking.Number).
		Int64("class_id", booking.ClassID).
		Int64("total_cents", booking.TotalCents).
		Msg("booking created")

	return &booking, nil
}

// ConfirmPayment records a successful charge reported by the payment
// collaborator. Confirming an already-paid booking is a no-op, so the
// collaborator may retry safely.
func (s *BookingService) ConfirmPayment(ctx context.Context, bookingID int64, paymentRef string) error {
	if paymentRef == "" {
		paymentRef = uuid.NewString()
	}

	for attempt := 0; attempt <= casMaxRetries; attempt++ {
		booking, err := s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}

		switch booking.PaymentStatus {
		case models.PaymentPaid, models.PaymentReleased:
			return nil
		case models.PaymentPending, models.PaymentFailed:
		default:
			return fmt.Errorf("cannot confirm payment for booking %s in payment state %s", booking.Number, booking.PaymentStatus)
		}
		if booking.Status != models.StatusPending {
			return fmt.Errorf("cannot confirm payment for booking %s in state %s", booking.Number, booking.Status)
		}

		paid := time.Now()
		release := paid.AddDate(0, 0, s.holdDays)
		err = s.repo.ConfirmPaymentWithVersion(ctx, booking.ID, booking.Version, paymentRef, paid, release)
		if errors.Is(err, database.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return err
		}

		booking.Status = models.StatusConfirmed
		booking.PaymentStatus = models.PaymentPaid
		booking.PaymentRef = paymentRef
		booking.PaymentDate = &paid
		booking.FundsReleaseDate = &release

		s.publishEvent(events.EventBookingConfirmed, booking)
		s.enqueueSync(ctx, booking, "update_status")
		return nil
	}

	return database.ErrConcurrentModification
}

// FailPayment records a failed charge reported by the payment
// collaborator. The booking stays pending and the collaborator may
// retry the charge with ConfirmPayment later.
func (s *BookingService) FailPayment(ctx context.Context, bookingID int64) error {
	for attempt := 0; attempt <= casMaxRetries; attempt++ {
		booking, err := s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}

		if booking.PaymentStatus == models.PaymentFailed {
			return nil
		}
		if booking.PaymentStatus != models.PaymentPending || booking.Status != models.StatusPending {
			return fmt.Errorf("cannot fail payment for booking %s in state %s/%s", booking.Number, booking.Status, booking.PaymentStatus)
		}

		err = s.repo.FailPaymentWithVersion(ctx, booking.ID, booking.Version)
		if errors.Is(err, database.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return err
		}

		s.logger.Warn().Str("number", booking.Number).Msg("payment failed")
		return nil
	}

	return database.ErrConcurrentModification
}

// Cancel cancels a pending or confirmed booking, releases its capacity
// unit and computes the refund: the full total while funds are still
// held, nothing after release.
func (s *BookingService) Cancel(ctx context.Context, bookingID int64, reason string) error {
	for attempt := 0; attempt <= casMaxRetries; attempt++ {
		booking, err := s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}

		if booking.Status != models.StatusPending && booking.Status != models.StatusConfirmed {
			return fmt.Errorf("cannot cancel booking %s in state %s", booking.Number, booking.Status)
		}
		if time.Until(booking.SessionStart) <= s.cancelCutoff {
			return database.ErrCancellationWindowClosed
		}

		refund, paymentStatus := cancellationRefund(booking)
		err = s.repo.CancelBookingWithVersion(ctx, booking.ID, booking.Version, reason, refund, paymentStatus)
		if errors.Is(err, database.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return err
		}

		booking.Status = models.StatusCancelled
		booking.PaymentStatus = paymentStatus
		booking.CancelReason = reason
		booking.RefundCents = refund

		s.publishEvent(events.EventBookingCancelled, booking)
		s.enqueueSync(ctx, booking, "update_status")

		s.logger.Info().
			Str("number", booking.Number).
			Int64("refund_cents", refund).
			Msg("booking cancelled")
		return nil
	}

	return database.ErrConcurrentModification
}

// cancellationRefund resolves the refund amount and the resulting
// payment state for a cancellation.
func cancellationRefund(booking *models.Booking) (int64, string) {
	switch booking.PaymentStatus {
	case models.PaymentPaid:
		if !booking.FundsReleased {
			return booking.TotalCents, models.PaymentRefunded
		}
		return 0, booking.PaymentStatus
	default:
		return 0, booking.PaymentStatus
	}
}

// Complete marks a confirmed booking whose session has ended.
// Completing an already-completed booking is a no-op.
func (s *BookingService) Complete(ctx context.Context, bookingID int64) error {
	for attempt := 0; attempt <= casMaxRetries; attempt++ {
		booking, err := s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}

		if booking.Status == models.StatusCompleted {
			return nil
		}
		if booking.Status != models.StatusConfirmed {
			return fmt.Errorf("cannot complete booking %s in state %s", booking.Number, booking.Status)
		}
		if time.Now().Before(booking.SessionEnd) {
			return fmt.Errorf("session for booking %s has not ended yet", booking.Number)
		}

		err = s.repo.CompleteBookingWithVersion(ctx, booking.ID, booking.Version, time.Now())
		if errors.Is(err, database.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return err
		}

		booking.Status = models.StatusCompleted
		s.publishEvent(events.EventBookingCompleted, booking)
		s.enqueueSync(ctx, booking, "update_status")
		return nil
	}

	return database.ErrConcurrentModification
}

// ReleaseFunds releases held funds once the hold window has elapsed.
// Not-yet-eligible and already-released bookings are no-ops, so the
// external job runner may call it repeatedly.
func (s *BookingService) ReleaseFunds(ctx context.Context, bookingID int64) error {
	for attempt := 0; attempt <= casMaxRetries; attempt++ {
		booking, err := s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}

		if booking.FundsReleased {
			return nil
		}
		if booking.PaymentStatus != models.PaymentPaid {
			return fmt.Errorf("cannot release funds for booking %s in payment state %s", booking.Number, booking.PaymentStatus)
		}
		if booking.FundsReleaseDate == nil || time.Now().Before(*booking.FundsReleaseDate) {
			return nil
		}

		err = s.repo.ReleaseFundsWithVersion(ctx, booking.ID, booking.Version, time.Now())
		if errors.Is(err, database.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return err
		}

		booking.PaymentStatus = models.PaymentReleased
		booking.FundsReleased = true
		s.publishEvent(events.EventFundsReleased, booking)
		s.enqueueSync(ctx, booking, "update_status")
		return nil
	}

	return database.ErrConcurrentModification
}

// ReleaseDueFunds sweeps all bookings whose hold window elapsed.
// Per-booking failures are logged and skipped so one bad record cannot
// stall the sweep.
func (s *BookingService) ReleaseDueFunds(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.GetDueFundReleases(ctx, now)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, booking := range due {
		if err := s.ReleaseFunds(ctx, booking.ID); err != nil {
			s.logger.Error().Err(err).Str("number", booking.Number).Msg("release funds failed")
			continue
		}
		released++
	}
	return released, nil
}

// CompleteFinishedSessions sweeps confirmed bookings whose session end
// time has passed.
func (s *BookingService) CompleteFinishedSessions(ctx context.Context, now time.Time) (int, error) {
	finished, err := s.repo.GetFinishedSessions(ctx, now)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, booking := range finished {
		if err := s.Complete(ctx, booking.ID); err != nil {
			s.logger.Error().Err(err).Str("number", booking.Number).Msg("complete booking failed")
			continue
		}
		completed++
	}
	return completed, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *BookingService) GetBookingByNumber(ctx context.Context, number string) (*models.Booking, error) {
	return s.repo.GetBookingByNumber(ctx, number)
}

func (s *BookingService) GetParentBookings(ctx context.Context, parentID int64) ([]*models.Booking, error) {
	return s.repo.GetParentBookings(ctx, parentID)
}

func (s *BookingService) GetClassBookings(ctx context.Context, classID int64) ([]*models.Booking, error) {
	return s.repo.GetClassBookings(ctx, classID)
}

func (s *BookingService) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	return s.repo.GetBookingsByDateRange(ctx, start, end)
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:     booking.ID,
		BookingNumber: booking.Number,
		ClassID:       booking.ClassID,
		ClassName:     booking.ClassName,
		ProviderName:  booking.ProviderName,
		ParentID:      booking.ParentID,
		ParentName:    booking.ParentName,
		Children:      booking.Children,
		SessionStart:  booking.SessionStart,
		SessionEnd:    booking.SessionEnd,
		Pricing: pricing.Breakdown{
			BasePriceCents:       booking.BasePriceCents,
			SiblingDiscountCents: booking.SiblingDiscountCents,
			AdultPriceCents:      booking.AdultPriceCents,
			ServiceFeeCents:      booking.ServiceFeeCents,
			TotalCents:           booking.TotalCents,
		},
		Currency:      booking.Currency,
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		CancelReason:  booking.CancelReason,
		RefundCents:   booking.RefundCents,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, booking *models.Booking, taskType string) {
	if s.syncWorker == nil {
		return
	}

	var status string
	if taskType == "update_status" {
		status = booking.Status
	}

	if err := s.syncWorker.EnqueueTask(ctx, taskType, booking.ID, booking, status); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Str("task", taskType).Msg("sync enqueue error")
	}
}
