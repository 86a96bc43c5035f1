package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"yugi/internal/models"
)

func (db *DB) CreateClass(ctx context.Context, class *models.Class) error {
	schedule, err := json.Marshal(class.Schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	if class.Status == "" {
		class.Status = models.ClassStatusDraft
	}
	if class.Currency == "" {
		class.Currency = "USD"
	}

	query := `INSERT INTO classes (
				provider_id, provider_name, name, price_cents, sibling_price_cents,
				adults_free, adults_pay_same, adult_price_cents, currency,
				max_capacity, current_enrollment, status, schedule,
				created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		class.ProviderID,
		class.ProviderName,
		class.Name,
		class.PriceCents,
		class.SiblingPriceCents,
		class.AdultsFree,
		class.AdultsPaySame,
		class.AdultPriceCents,
		class.Currency,
		class.MaxCapacity,
		class.CurrentEnrollment,
		class.Status,
		string(schedule),
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create class: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	class.ID = id
	class.CreatedAt = now
	class.UpdatedAt = now
	class.Version = 1

	return nil
}

// SyncClasses upserts classes declared in the config file. Existing
// rows keep their enrollment counter and version; new rows are
// inserted with the configured ID.
func (db *DB) SyncClasses(ctx context.Context, classes []models.Class) error {
	for i := range classes {
		c := &classes[i]
		schedule, err := json.Marshal(c.Schedule)
		if err != nil {
			return fmt.Errorf("failed to encode schedule for class %d: %w", c.ID, err)
		}
		if c.Status == "" {
			c.Status = models.ClassStatusPublished
		}
		if c.Currency == "" {
			c.Currency = "USD"
		}

		query := `INSERT INTO classes (
					id, provider_id, provider_name, name, price_cents, sibling_price_cents,
					adults_free, adults_pay_same, adult_price_cents, currency,
					max_capacity, current_enrollment, status, schedule,
					created_at, updated_at, version
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, 1)
				ON CONFLICT(id) DO UPDATE SET
					provider_id = excluded.provider_id,
					provider_name = excluded.provider_name,
					name = excluded.name,
					price_cents = excluded.price_cents,
					sibling_price_cents = excluded.sibling_price_cents,
					adults_free = excluded.adults_free,
					adults_pay_same = excluded.adults_pay_same,
					adult_price_cents = excluded.adult_price_cents,
					currency = excluded.currency,
					max_capacity = excluded.max_capacity,
					status = excluded.status,
					schedule = excluded.schedule,
					updated_at = excluded.updated_at`
		now := time.Now()
		if _, err := db.ExecContext(ctx, query,
			c.ID, c.ProviderID, c.ProviderName, c.Name, c.PriceCents, c.SiblingPriceCents,
			c.AdultsFree, c.AdultsPaySame, c.AdultPriceCents, c.Currency,
			c.MaxCapacity, c.Status, string(schedule), now, now,
		); err != nil {
			return fmt.Errorf("failed to sync class %d: %w", c.ID, err)
		}
	}
	return nil
}

const classColumns = `id, provider_id, provider_name, name, price_cents, sibling_price_cents,
                 adults_free, adults_pay_same, adult_price_cents, currency,
                 max_capacity, current_enrollment, status, schedule,
                 created_at, updated_at, version`

func scanClass(row interface{ Scan(...any) error }) (*models.Class, error) {
	var c models.Class
	var schedule string
	err := row.Scan(
		&c.ID, &c.ProviderID, &c.ProviderName, &c.Name, &c.PriceCents, &c.SiblingPriceCents,
		&c.AdultsFree, &c.AdultsPaySame, &c.AdultPriceCents, &c.Currency,
		&c.MaxCapacity, &c.CurrentEnrollment, &c.Status, &schedule,
		&c.CreatedAt, &c.UpdatedAt, &c.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schedule), &c.Schedule); err != nil {
		return nil, fmt.Errorf("failed to decode schedule: %w", err)
	}
	return &c, nil
}

func (db *DB) GetClass(ctx context.Context, id int64) (*models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE id = ?`
	class, err := scanClass(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get class: %w", err)
	}
	return class, nil
}

func (db *DB) GetPublishedClasses(ctx context.Context) ([]*models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE status = ? ORDER BY name ASC`
	rows, err := db.QueryContext(ctx, query, models.ClassStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to get published classes: %w", err)
	}
	defer rows.Close()

	var classes []*models.Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

func (db *DB) UpdateClassWithVersion(ctx context.Context, class *models.Class) error {
	schedule, err := json.Marshal(class.Schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	query := `UPDATE classes SET
				name = ?, price_cents = ?, sibling_price_cents = ?,
				adults_free = ?, adults_pay_same = ?, adult_price_cents = ?, currency = ?,
				max_capacity = ?, schedule = ?, version = version + 1, updated_at = ?
			  WHERE id = ? AND version = ? AND max_capacity >= current_enrollment`
	result, err := db.ExecContext(ctx, query,
		class.Name, class.PriceCents, class.SiblingPriceCents,
		class.AdultsFree, class.AdultsPaySame, class.AdultPriceCents, class.Currency,
		class.MaxCapacity, string(schedule), time.Now(),
		class.ID, class.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update class: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) SetClassStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE classes SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set class status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrClassNotFound
	}
	return nil
}

// ReserveSpot atomically claims one capacity unit of a class. Two
// racing reservations for the last spot cannot both match the WHERE
// clause.
func (db *DB) ReserveSpot(ctx context.Context, classID int64) error {
	query := `UPDATE classes
	          SET current_enrollment = current_enrollment + 1, updated_at = ?
	          WHERE id = ? AND current_enrollment < max_capacity`
	result, err := db.ExecContext(ctx, query, time.Now(), classID)
	if err != nil {
		return fmt.Errorf("failed to reserve spot: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrCapacityExceeded
	}
	return nil
}

// ReleaseSpot returns one capacity unit, floored at zero.
func (db *DB) ReleaseSpot(ctx context.Context, classID int64) error {
	query := `UPDATE classes
	          SET current_enrollment = current_enrollment - 1, updated_at = ?
	          WHERE id = ? AND current_enrollment > 0`
	if _, err := db.ExecContext(ctx, query, time.Now(), classID); err != nil {
		return fmt.Errorf("failed to release spot: %w", err)
	}
	return nil
}

func (db *DB) GetClassAvailability(ctx context.Context, classID int64) (*models.Availability, error) {
	query := `SELECT max_capacity, current_enrollment FROM classes WHERE id = ?`
	var a models.Availability
	a.ClassID = classID
	err := db.QueryRowContext(ctx, query, classID).Scan(&a.MaxCapacity, &a.Enrolled)
	if err == sql.ErrNoRows {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get class availability: %w", err)
	}
	a.AvailableSpots = a.MaxCapacity - a.Enrolled
	if a.AvailableSpots < 0 {
		a.AvailableSpots = 0
	}
	return &a, nil
}
