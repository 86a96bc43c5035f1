package repository

import (
	"context"
	"sync/atomic"
	"time"

	"yugi/internal/domain"
	"yugi/internal/models"

	"github.com/rs/zerolog"
)

// FailoverCacheRepository routes to the primary cache until it fails,
// then serves from the fallback and probes the primary once a minute.
type FailoverCacheRepository struct {
	primary   domain.CacheRepository
	fallback  domain.CacheRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverCacheRepository(primary, fallback domain.CacheRepository, logger *zerolog.Logger) *FailoverCacheRepository {
	return &FailoverCacheRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverCacheRepository) GetAvailability(ctx context.Context, classID int64) (*models.Availability, error) {
	if !r.isDown.Load() {
		avail, err := r.primary.GetAvailability(ctx, classID)
		if err == nil {
			return avail, nil
		}
		r.logger.Error().Err(err).Msg("Primary cache repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		avail, err := r.primary.GetAvailability(ctx, classID)
		if err == nil {
			r.isDown.Store(false)
			return avail, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.GetAvailability(ctx, classID)
}

func (r *FailoverCacheRepository) SetAvailability(ctx context.Context, avail *models.Availability) error {
	if !r.isDown.Load() {
		err := r.primary.SetAvailability(ctx, avail)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary cache repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.SetAvailability(ctx, avail)
}

func (r *FailoverCacheRepository) InvalidateAvailability(ctx context.Context, classID int64) error {
	if !r.isDown.Load() {
		err := r.primary.InvalidateAvailability(ctx, classID)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary cache repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.InvalidateAvailability(ctx, classID)
}

func (r *FailoverCacheRepository) CheckRateLimit(ctx context.Context, callerID string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, callerID, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.logger.Error().Err(err).Msg("Primary cache repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.CheckRateLimit(ctx, callerID, limit, window)
}
