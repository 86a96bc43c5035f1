package repository

import (
	"context"
	"sync"
	"time"

	"yugi/internal/models"
)

// MemoryCacheRepository is the in-process fallback used when Redis is
// unavailable. Availability entries honor the same TTL as the Redis
// cache; stale entries are dropped on read.
type MemoryCacheRepository struct {
	availability sync.Map
	rateLimits   sync.Map
	ttl          time.Duration
}

func NewMemoryCacheRepository(ttl time.Duration) *MemoryCacheRepository {
	return &MemoryCacheRepository{
		ttl: ttl,
	}
}

type availabilityEntry struct {
	avail     *models.Availability
	expiresAt time.Time
}

func (r *MemoryCacheRepository) GetAvailability(ctx context.Context, classID int64) (*models.Availability, error) {
	val, ok := r.availability.Load(classID)
	if !ok {
		return nil, nil
	}
	entry := val.(*availabilityEntry)
	if time.Now().After(entry.expiresAt) {
		r.availability.Delete(classID)
		return nil, nil
	}
	return entry.avail, nil
}

func (r *MemoryCacheRepository) SetAvailability(ctx context.Context, avail *models.Availability) error {
	r.availability.Store(avail.ClassID, &availabilityEntry{
		avail:     avail,
		expiresAt: time.Now().Add(r.ttl),
	})
	return nil
}

func (r *MemoryCacheRepository) InvalidateAvailability(ctx context.Context, classID int64) error {
	r.availability.Delete(classID)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryCacheRepository) CheckRateLimit(ctx context.Context, callerID string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(callerID)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(callerID, entry)
	return entry.count <= limit, nil
}
