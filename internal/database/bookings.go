package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"yugi/internal/models"
)

const bookingColumns = `id, number, class_id, class_name, provider_name, parent_id, parent_name,
                 children, session_start, session_end, num_children, sibling_pairs, num_adults,
                 base_price_cents, sibling_discount_cents, adult_price_cents, service_fee_cents,
                 total_cents, currency, status, payment_status, payment_ref, payment_date,
                 funds_release_date, funds_released, funds_released_at, cancel_reason,
                 cancelled_at, refund_cents, class_completed_at, created_at, updated_at, version`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var b models.Booking
	var children string
	err := row.Scan(
		&b.ID, &b.Number, &b.ClassID, &b.ClassName, &b.ProviderName, &b.ParentID, &b.ParentName,
		&children, &b.SessionStart, &b.SessionEnd, &b.NumChildren, &b.SiblingPairs, &b.NumAdults,
		&b.BasePriceCents, &b.SiblingDiscountCents, &b.AdultPriceCents, &b.ServiceFeeCents,
		&b.TotalCents, &b.Currency, &b.Status, &b.PaymentStatus, &b.PaymentRef, &b.PaymentDate,
		&b.FundsReleaseDate, &b.FundsReleased, &b.FundsReleasedAt, &b.CancelReason,
		&b.CancelledAt, &b.RefundCents, &b.ClassCompletedAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(children), &b.Children); err != nil {
		return nil, fmt.Errorf("failed to decode children: %w", err)
	}
	return &b, nil
}

// CreateBookingWithCapacity reserves one spot, allocates the day
// sequence and inserts the booking in a single transaction, so a
// booking for the last available spot either fully succeeds or leaves
// no trace.
func (db *DB) CreateBookingWithCapacity(ctx context.Context, booking *models.Booking) error {
	children, err := json.Marshal(booking.Children)
	if err != nil {
		return fmt.Errorf("failed to encode children: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Claim a spot; the conditional update serializes racing creates.
	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE classes SET current_enrollment = current_enrollment + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND current_enrollment < max_capacity`,
		now, booking.ClassID, models.ClassStatusPublished,
	)
	if err != nil {
		return fmt.Errorf("failed to reserve spot in tx: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM classes WHERE id = ?`, booking.ClassID).Scan(&status)
		switch {
		case err == sql.ErrNoRows:
			return ErrClassNotFound
		case err != nil:
			return fmt.Errorf("failed to inspect class in tx: %w", err)
		case status != models.ClassStatusPublished:
			return ErrClassNotAvailable
		default:
			return ErrCapacityExceeded
		}
	}

	// 2. Allocate the day sequence from the atomic counter row.
	day := now.Format("2006-01-02")
	var seq int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO day_sequences (day, counter) VALUES (?, 1)
		 ON CONFLICT(day) DO UPDATE SET counter = counter + 1
		 RETURNING counter`,
		day,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to allocate day sequence: %w", err)
	}
	if seq > models.MaxDailySequence {
		return ErrSequenceOverflow
	}
	booking.Number = models.BookingNumber(now, seq)

	// 3. Insert the booking.
	result, err = tx.ExecContext(ctx,
		`INSERT INTO bookings (
			number, class_id, class_name, provider_name, parent_id, parent_name,
			children, session_start, session_end, num_children, sibling_pairs, num_adults,
			base_price_cents, sibling_discount_cents, adult_price_cents, service_fee_cents,
			total_cents, currency, status, payment_status, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.Number, booking.ClassID, booking.ClassName, booking.ProviderName,
		booking.ParentID, booking.ParentName,
		string(children), booking.SessionStart, booking.SessionEnd,
		booking.NumChildren, booking.SiblingPairs, booking.NumAdults,
		booking.BasePriceCents, booking.SiblingDiscountCents, booking.AdultPriceCents,
		booking.ServiceFeeCents, booking.TotalCents, booking.Currency,
		models.StatusPending, models.PaymentPending, now, now, 1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	booking.ID = id
	booking.Status = models.StatusPending
	booking.PaymentStatus = models.PaymentPending
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	return tx.Commit()
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (db *DB) GetBookingByNumber(ctx context.Context, number string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE number = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, number))
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by number: %w", err)
	}
	return booking, nil
}

// ConfirmPaymentWithVersion moves a pending booking to confirmed/paid.
// The version guard makes racing confirms and cancels lose cleanly.
func (db *DB) ConfirmPaymentWithVersion(ctx context.Context, id, fromVersion int64, paymentRef string, paymentDate, releaseDate time.Time) error {
	// A failed charge may be retried, so the guard admits both
	// pending and failed payment states.
	query := `UPDATE bookings
	          SET status = ?, payment_status = ?, payment_ref = ?, payment_date = ?,
	              funds_release_date = ?, version = version + 1, updated_at = ?
	          WHERE id = ? AND version = ? AND status = ? AND payment_status IN (?, ?)`
	result, err := db.ExecContext(ctx, query,
		models.StatusConfirmed, models.PaymentPaid, paymentRef, paymentDate,
		releaseDate, time.Now(),
		id, fromVersion, models.StatusPending, models.PaymentPending, models.PaymentFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to confirm payment: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// FailPaymentWithVersion records a failed charge. The booking stays
// pending; only the payment axis moves.
func (db *DB) FailPaymentWithVersion(ctx context.Context, id, fromVersion int64) error {
	query := `UPDATE bookings
	          SET payment_status = ?, version = version + 1, updated_at = ?
	          WHERE id = ? AND version = ? AND status = ? AND payment_status = ?`
	result, err := db.ExecContext(ctx, query,
		models.PaymentFailed, time.Now(),
		id, fromVersion, models.StatusPending, models.PaymentPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// CancelBookingWithVersion cancels and releases the reserved spot in
// one transaction. The status guard in the WHERE clause makes the spot
// release fire at most once per booking.
func (db *DB) CancelBookingWithVersion(ctx context.Context, id, fromVersion int64, reason string, refundCents int64, paymentStatus string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE bookings
		 SET status = ?, payment_status = ?, cancel_reason = ?, cancelled_at = ?,
		     refund_cents = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND status IN (?, ?)`,
		models.StatusCancelled, paymentStatus, reason, now,
		refundCents, now,
		id, fromVersion, models.StatusPending, models.StatusConfirmed,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrConcurrentModification
	}

	var classID int64
	if err := tx.QueryRowContext(ctx, `SELECT class_id FROM bookings WHERE id = ?`, id).Scan(&classID); err != nil {
		return fmt.Errorf("failed to read class id in tx: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE classes SET current_enrollment = current_enrollment - 1, updated_at = ?
		 WHERE id = ? AND current_enrollment > 0`,
		now, classID,
	)
	if err != nil {
		return fmt.Errorf("failed to release spot in tx: %w", err)
	}

	return tx.Commit()
}

func (db *DB) CompleteBookingWithVersion(ctx context.Context, id, fromVersion int64, completedAt time.Time) error {
	query := `UPDATE bookings
	          SET status = ?, class_completed_at = ?, version = version + 1, updated_at = ?
	          WHERE id = ? AND version = ? AND status = ?`
	result, err := db.ExecContext(ctx, query,
		models.StatusCompleted, completedAt, time.Now(),
		id, fromVersion, models.StatusConfirmed,
	)
	if err != nil {
		return fmt.Errorf("failed to complete booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ReleaseFundsWithVersion flips the funds-released flag exactly once.
func (db *DB) ReleaseFundsWithVersion(ctx context.Context, id, fromVersion int64, releasedAt time.Time) error {
	query := `UPDATE bookings
	          SET payment_status = ?, funds_released = 1, funds_released_at = ?,
	              version = version + 1, updated_at = ?
	          WHERE id = ? AND version = ? AND payment_status = ? AND funds_released = 0`
	result, err := db.ExecContext(ctx, query,
		models.PaymentReleased, releasedAt, time.Now(),
		id, fromVersion, models.PaymentPaid,
	)
	if err != nil {
		return fmt.Errorf("failed to release funds: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (db *DB) GetParentBookings(ctx context.Context, parentID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE parent_id = ? ORDER BY session_start DESC`
	return db.queryBookings(ctx, query, parentID)
}

func (db *DB) GetClassBookings(ctx context.Context, classID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE class_id = ? ORDER BY session_start DESC`
	return db.queryBookings(ctx, query, classID)
}

func (db *DB) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	          WHERE session_start >= ? AND session_start <= ? ORDER BY session_start ASC`
	return db.queryBookings(ctx, query, start, end)
}

// GetDueFundReleases returns paid bookings whose hold window has
// elapsed and whose funds were not released yet.
func (db *DB) GetDueFundReleases(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	          WHERE payment_status = ? AND funds_released = 0 AND funds_release_date <= ?
	          ORDER BY funds_release_date ASC`
	return db.queryBookings(ctx, query, models.PaymentPaid, now)
}

// GetFinishedSessions returns confirmed bookings whose session end has
// passed and which were not completed yet.
func (db *DB) GetFinishedSessions(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	          WHERE status = ? AND session_end <= ?
	          ORDER BY session_end ASC`
	return db.queryBookings(ctx, query, models.StatusConfirmed, now)
}

// CountBookingsForDay reports how many booking numbers a calendar day
// has consumed.
func (db *DB) CountBookingsForDay(ctx context.Context, day time.Time) (int64, error) {
	var counter int64
	err := db.QueryRowContext(ctx, `SELECT counter FROM day_sequences WHERE day = ?`, day.Format("2006-01-02")).Scan(&counter)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings for day: %w", err)
	}
	return counter, nil
}
