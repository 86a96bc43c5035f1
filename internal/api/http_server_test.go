package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"yugi/internal/config"
	"yugi/internal/database"
	"yugi/internal/models"
	"yugi/internal/pricing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBookingService struct {
	mock.Mock
}

func (m *mockBookingService) CreateBooking(ctx context.Context, req *models.Booking) (*models.Booking, error) {
	args := m.Called(ctx, req)
	if b := args.Get(0); b != nil {
		return b.(*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBookingService) ConfirmPayment(ctx context.Context, bookingID int64, paymentRef string) error {
	return m.Called(ctx, bookingID, paymentRef).Error(0)
}

func (m *mockBookingService) FailPayment(ctx context.Context, bookingID int64) error {
	return m.Called(ctx, bookingID).Error(0)
}

func (m *mockBookingService) Cancel(ctx context.Context, bookingID int64, reason string) error {
	return m.Called(ctx, bookingID, reason).Error(0)
}

func (m *mockBookingService) Complete(ctx context.Context, bookingID int64) error {
	return m.Called(ctx, bookingID).Error(0)
}

func (m *mockBookingService) ReleaseFunds(ctx context.Context, bookingID int64) error {
	return m.Called(ctx, bookingID).Error(0)
}

func (m *mockBookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if b := args.Get(0); b != nil {
		return b.(*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBookingService) GetBookingByNumber(ctx context.Context, number string) (*models.Booking, error) {
	args := m.Called(ctx, number)
	if b := args.Get(0); b != nil {
		return b.(*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBookingService) GetParentBookings(ctx context.Context, parentID int64) ([]*models.Booking, error) {
	args := m.Called(ctx, parentID)
	if b := args.Get(0); b != nil {
		return b.([]*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBookingService) GetClassBookings(ctx context.Context, classID int64) ([]*models.Booking, error) {
	args := m.Called(ctx, classID)
	if b := args.Get(0); b != nil {
		return b.([]*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBookingService) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, start, end)
	if b := args.Get(0); b != nil {
		return b.([]*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBookingService) ReleaseDueFunds(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *mockBookingService) CompleteFinishedSessions(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

type mockCatalogService struct {
	mock.Mock
}

func (m *mockCatalogService) CreateClass(ctx context.Context, class *models.Class) error {
	return m.Called(ctx, class).Error(0)
}

func (m *mockCatalogService) UpdateClass(ctx context.Context, class *models.Class) error {
	return m.Called(ctx, class).Error(0)
}

func (m *mockCatalogService) PublishClass(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockCatalogService) DeactivateClass(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockCatalogService) GetClass(ctx context.Context, id int64) (*models.Class, error) {
	args := m.Called(ctx, id)
	if c := args.Get(0); c != nil {
		return c.(*models.Class), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCatalogService) ListPublishedClasses(ctx context.Context) ([]*models.Class, error) {
	args := m.Called(ctx)
	if c := args.Get(0); c != nil {
		return c.([]*models.Class), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCatalogService) GetAvailability(ctx context.Context, classID int64) (*models.Availability, error) {
	args := m.Called(ctx, classID)
	if a := args.Get(0); a != nil {
		return a.(*models.Availability), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCacheRepo struct {
	mock.Mock
}

func (m *mockCacheRepo) GetAvailability(ctx context.Context, classID int64) (*models.Availability, error) {
	args := m.Called(ctx, classID)
	if a := args.Get(0); a != nil {
		return a.(*models.Availability), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCacheRepo) SetAvailability(ctx context.Context, avail *models.Availability) error {
	return m.Called(ctx, avail).Error(0)
}

func (m *mockCacheRepo) InvalidateAvailability(ctx context.Context, classID int64) error {
	return m.Called(ctx, classID).Error(0)
}

func (m *mockCacheRepo) CheckRateLimit(ctx context.Context, callerID string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, callerID, limit, window)
	return args.Bool(0), args.Error(1)
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 8080},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "test-key", Name: "tests", Permissions: []string{"*"}},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 100, Burst: 100},
	}
}

func newTestServer(t *testing.T, bookings *mockBookingService, catalog *mockCatalogService, cache *mockCacheRepo) *HTTPServer {
	t.Helper()
	logger := zerolog.New(io.Discard)
	return NewHTTPServer(testAPIConfig(), bookings, catalog, cache, nil, &logger)
}

func doRequest(srv *HTTPServer, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("x-api-key", "test-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func sampleBooking() *models.Booking {
	return &models.Booking{
		ID:           10,
		Number:       "YUGI260101001",
		ClassID:      1,
		ClassName:    "Pottery for Kids",
		ParentID:     7,
		ParentName:   "Dana",
		Children:     []string{"Alex"},
		NumChildren:  1,
		TotalCents:   1700,
		Currency:     "USD",
		Status:       models.StatusPending,
		SessionStart: time.Now().Add(72 * time.Hour),
		SessionEnd:   time.Now().Add(74 * time.Hour),
		Version:      1,
	}
}

func TestCreateBookingEndpoint(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		bookings := new(mockBookingService)
		cache := new(mockCacheRepo)
		srv := newTestServer(t, bookings, new(mockCatalogService), cache)

		booking := sampleBooking()
		bookings.On("CreateBooking", mock.Anything, mock.AnythingOfType("*models.Booking")).Return(booking, nil)
		cache.On("InvalidateAvailability", mock.Anything, int64(1)).Return(nil)

		start := time.Now().Add(72 * time.Hour)
		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings", map[string]any{
			"class_id":      1,
			"parent_id":     7,
			"parent_name":   "Dana",
			"children":      []string{"Alex"},
			"session_start": start.Format(time.RFC3339),
			"session_end":   start.Add(2 * time.Hour).Format(time.RFC3339),
		})

		require.Equal(t, http.StatusCreated, rec.Code)

		var got models.Booking
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "YUGI260101001", got.Number)
		assert.Equal(t, int64(1700), got.TotalCents)
		bookings.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("BadTimestamp", func(t *testing.T) {
		srv := newTestServer(t, new(mockBookingService), new(mockCatalogService), new(mockCacheRepo))

		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings", map[string]any{
			"class_id":      1,
			"parent_id":     7,
			"session_start": "tomorrow",
			"session_end":   "later",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("CapacityExceededMapsToConflict", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("CreateBooking", mock.Anything, mock.Anything).Return(nil, database.ErrCapacityExceeded)

		start := time.Now().Add(72 * time.Hour)
		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings", map[string]any{
			"class_id":      1,
			"parent_id":     7,
			"children":      []string{"Alex"},
			"session_start": start.Format(time.RFC3339),
			"session_end":   start.Add(time.Hour).Format(time.RFC3339),
		})

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("PricingErrorMapsToBadRequest", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("CreateBooking", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: sibling price above base price", pricing.ErrInvalidInput))

		start := time.Now().Add(72 * time.Hour)
		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings", map[string]any{
			"class_id":      1,
			"parent_id":     7,
			"children":      []string{"Alex"},
			"sibling_pairs": 1,
			"session_start": start.Format(time.RFC3339),
			"session_end":   start.Add(time.Hour).Format(time.RFC3339),
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "sibling price above base price")
	})

	t.Run("UnknownClassMapsToNotFound", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("CreateBooking", mock.Anything, mock.Anything).Return(nil, database.ErrClassNotFound)

		start := time.Now().Add(72 * time.Hour)
		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings", map[string]any{
			"class_id":      99,
			"parent_id":     7,
			"children":      []string{"Alex"},
			"session_start": start.Format(time.RFC3339),
			"session_end":   start.Add(time.Hour).Format(time.RFC3339),
		})

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetBookingEndpoint(t *testing.T) {
	t.Run("ByID", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("GetBooking", mock.Anything, int64(10)).Return(sampleBooking(), nil)

		rec := doRequest(srv, http.MethodGet, "/api/v1/bookings/10", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var got models.Booking
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, int64(10), got.ID)
	})

	t.Run("ByNumber", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("GetBookingByNumber", mock.Anything, "YUGI260101001").Return(sampleBooking(), nil)

		rec := doRequest(srv, http.MethodGet, "/api/v1/bookings?number=YUGI260101001", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("NotFound", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("GetBooking", mock.Anything, int64(404)).Return(nil, database.ErrBookingNotFound)

		rec := doRequest(srv, http.MethodGet, "/api/v1/bookings/404", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("InvalidID", func(t *testing.T) {
		srv := newTestServer(t, new(mockBookingService), new(mockCatalogService), new(mockCacheRepo))

		rec := doRequest(srv, http.MethodGet, "/api/v1/bookings/abc", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ListByClass", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("GetClassBookings", mock.Anything, int64(1)).Return([]*models.Booking{sampleBooking()}, nil)

		rec := doRequest(srv, http.MethodGet, "/api/v1/bookings?class_id=1", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "YUGI260101001")
	})

	t.Run("ListByParent", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("GetParentBookings", mock.Anything, int64(7)).Return([]*models.Booking{sampleBooking()}, nil)

		rec := doRequest(srv, http.MethodGet, "/api/v1/bookings?parent_id=7", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "YUGI260101001")
	})
}

func TestPaymentAndCancelEndpoints(t *testing.T) {
	t.Run("ConfirmPayment", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("ConfirmPayment", mock.Anything, int64(10), "pay-123").Return(nil)
		confirmed := sampleBooking()
		confirmed.Status = models.StatusConfirmed
		bookings.On("GetBooking", mock.Anything, int64(10)).Return(confirmed, nil)

		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings/10/payment", map[string]string{"payment_ref": "pay-123"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), models.StatusConfirmed)
	})

	t.Run("CancelWindowClosed", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("Cancel", mock.Anything, int64(10), "sick").Return(database.ErrCancellationWindowClosed)

		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings/10/cancel", map[string]string{"reason": "sick"})

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("FailedPaymentWebhook", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("FailPayment", mock.Anything, int64(10)).Return(nil)
		failed := sampleBooking()
		failed.PaymentStatus = models.PaymentFailed
		bookings.On("GetBooking", mock.Anything, int64(10)).Return(failed, nil)

		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings/10/payment", map[string]string{"status": "failed"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), models.PaymentFailed)
		bookings.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("UnknownPaymentStatusRejected", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))

		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings/10/payment", map[string]string{"status": "charged"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ContentionMapsToServiceUnavailable", func(t *testing.T) {
		bookings := new(mockBookingService)
		srv := newTestServer(t, bookings, new(mockCatalogService), new(mockCacheRepo))
		bookings.On("ConfirmPayment", mock.Anything, int64(10), "").Return(database.ErrConcurrentModification)

		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings/10/payment", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("CancelInvalidatesAvailability", func(t *testing.T) {
		bookings := new(mockBookingService)
		cache := new(mockCacheRepo)
		srv := newTestServer(t, bookings, new(mockCatalogService), cache)

		cancelled := sampleBooking()
		cancelled.Status = models.StatusCancelled
		bookings.On("Cancel", mock.Anything, int64(10), "").Return(nil)
		bookings.On("GetBooking", mock.Anything, int64(10)).Return(cancelled, nil)
		cache.On("InvalidateAvailability", mock.Anything, int64(1)).Return(nil)

		rec := doRequest(srv, http.MethodPost, "/api/v1/bookings/10/cancel", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		cache.AssertExpectations(t)
	})
}

func TestClassEndpoints(t *testing.T) {
	t.Run("ListPublished", func(t *testing.T) {
		catalog := new(mockCatalogService)
		srv := newTestServer(t, new(mockBookingService), catalog, new(mockCacheRepo))
		catalog.On("ListPublishedClasses", mock.Anything).Return([]*models.Class{
			{ID: 1, Name: "Pottery for Kids", Status: models.ClassStatusPublished},
		}, nil)

		rec := doRequest(srv, http.MethodGet, "/api/v1/classes", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Pottery for Kids")
	})

	t.Run("Create", func(t *testing.T) {
		catalog := new(mockCatalogService)
		srv := newTestServer(t, new(mockBookingService), catalog, new(mockCacheRepo))
		catalog.On("CreateClass", mock.Anything, mock.AnythingOfType("*models.Class")).Return(nil)

		rec := doRequest(srv, http.MethodPost, "/api/v1/classes", map[string]any{
			"name":         "Chess Club",
			"provider_id":  3,
			"price_cents":  2000,
			"max_capacity": 12,
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		catalog.AssertExpectations(t)
	})

	t.Run("Publish", func(t *testing.T) {
		catalog := new(mockCatalogService)
		srv := newTestServer(t, new(mockBookingService), catalog, new(mockCacheRepo))
		catalog.On("PublishClass", mock.Anything, int64(5)).Return(nil)

		rec := doRequest(srv, http.MethodPost, "/api/v1/classes/5/publish", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), models.ClassStatusPublished)
	})

	t.Run("UpdateInvalidatesAvailability", func(t *testing.T) {
		catalog := new(mockCatalogService)
		cache := new(mockCacheRepo)
		srv := newTestServer(t, new(mockBookingService), catalog, cache)
		catalog.On("UpdateClass", mock.Anything, mock.MatchedBy(func(c *models.Class) bool {
			return c.ID == 5
		})).Return(nil)
		cache.On("InvalidateAvailability", mock.Anything, int64(5)).Return(nil)

		rec := doRequest(srv, http.MethodPut, "/api/v1/classes/5", map[string]any{
			"name":        "Chess Club",
			"price_cents": 2500,
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		cache.AssertExpectations(t)
	})
}

func TestAvailabilityEndpoint(t *testing.T) {
	avail := &models.Availability{ClassID: 1, MaxCapacity: 10, Enrolled: 4, AvailableSpots: 6}

	t.Run("CacheHit", func(t *testing.T) {
		catalog := new(mockCatalogService)
		cache := new(mockCacheRepo)
		srv := newTestServer(t, new(mockBookingService), catalog, cache)
		cache.On("GetAvailability", mock.Anything, int64(1)).Return(avail, nil)

		rec := doRequest(srv, http.MethodGet, "/api/v1/classes/1/availability", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		catalog.AssertNotCalled(t, "GetAvailability", mock.Anything, mock.Anything)
	})

	t.Run("CacheMissFallsThrough", func(t *testing.T) {
		catalog := new(mockCatalogService)
		cache := new(mockCacheRepo)
		srv := newTestServer(t, new(mockBookingService), catalog, cache)
		cache.On("GetAvailability", mock.Anything, int64(1)).Return(nil, nil)
		catalog.On("GetAvailability", mock.Anything, int64(1)).Return(avail, nil)
		cache.On("SetAvailability", mock.Anything, avail).Return(nil)

		rec := doRequest(srv, http.MethodGet, "/api/v1/classes/1/availability", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var got models.Availability
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, int64(6), got.AvailableSpots)
		cache.AssertExpectations(t)
	})

	t.Run("CacheErrorStillServes", func(t *testing.T) {
		catalog := new(mockCatalogService)
		cache := new(mockCacheRepo)
		srv := newTestServer(t, new(mockBookingService), catalog, cache)
		cache.On("GetAvailability", mock.Anything, int64(1)).Return(nil, fmt.Errorf("redis down"))
		catalog.On("GetAvailability", mock.Anything, int64(1)).Return(avail, nil)
		cache.On("SetAvailability", mock.Anything, avail).Return(nil)

		rec := doRequest(srv, http.MethodGet, "/api/v1/classes/1/availability", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, new(mockBookingService), new(mockCatalogService), new(mockCacheRepo))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
