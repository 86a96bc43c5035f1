package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"yugi/internal/config"
	"yugi/internal/database"
	"yugi/internal/domain"
	"yugi/internal/export"
	"yugi/internal/metrics"
	"yugi/internal/models"
	"yugi/internal/pricing"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the booking and catalog REST API.
type HTTPServer struct {
	cfg      config.APIConfig
	bookings domain.BookingService
	catalog  domain.CatalogService
	cache    domain.CacheRepository
	exporter *export.Exporter
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	bookings domain.BookingService,
	catalog domain.CatalogService,
	cache domain.CacheRepository,
	exporter *export.Exporter,
	logger *zerolog.Logger,
) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:      cfg,
		bookings: bookings,
		catalog:  catalog,
		cache:    cache,
		exporter: exporter,
		logger:   logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/bookings", srv.handleBookings)
	mux.HandleFunc("/api/v1/bookings/export", srv.handleExport)
	mux.HandleFunc("/api/v1/bookings/", srv.handleBookingByID)
	mux.HandleFunc("/api/v1/classes", srv.handleClasses)
	mux.HandleFunc("/api/v1/classes/", srv.handleClassByID)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the configured handler, used by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bookingRequest is the create payload.
type bookingRequest struct {
	ClassID      int64    `json:"class_id"`
	ParentID     int64    `json:"parent_id"`
	ParentName   string   `json:"parent_name"`
	Children     []string `json:"children"`
	SessionStart string   `json:"session_start"`
	SessionEnd   string   `json:"session_end"`
	SiblingPairs int      `json:"sibling_pairs"`
	NumAdults    int      `json:"num_adults"`
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createBooking(w, r)
	case http.MethodGet:
		s.listBookings(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) createBooking(w http.ResponseWriter, r *http.Request) {
	var body bookingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start, err := time.Parse(time.RFC3339, body.SessionStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_start; expected RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, body.SessionEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_end; expected RFC3339")
		return
	}

	req := &models.Booking{
		ClassID:      body.ClassID,
		ParentID:     body.ParentID,
		ParentName:   body.ParentName,
		Children:     body.Children,
		SessionStart: start,
		SessionEnd:   end,
		NumChildren:  len(body.Children),
		SiblingPairs: body.SiblingPairs,
		NumAdults:    body.NumAdults,
	}

	booking, err := s.bookings.CreateBooking(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if s.cache != nil {
		_ = s.cache.InvalidateAvailability(r.Context(), booking.ClassID)
	}
	metrics.IncBooking(booking.Status)
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) listBookings(w http.ResponseWriter, r *http.Request) {
	if number := strings.TrimSpace(r.URL.Query().Get("number")); number != "" {
		booking, err := s.bookings.GetBookingByNumber(r.Context(), number)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)
		return
	}

	if classParam := r.URL.Query().Get("class_id"); classParam != "" {
		classID, err := strconv.ParseInt(classParam, 10, 64)
		if err != nil || classID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid class_id")
			return
		}
		bookings, err := s.bookings.GetClassBookings(r.Context(), classID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
		return
	}

	parentID, err := strconv.ParseInt(r.URL.Query().Get("parent_id"), 10, 64)
	if err != nil || parentID <= 0 {
		writeError(w, http.StatusBadRequest, "parent_id or class_id is required")
		return
	}

	bookings, err := s.bookings.GetParentBookings(r.Context(), parentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

// handleBookingByID routes /api/v1/bookings/{id} and its sub-actions.
func (s *HTTPServer) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/bookings/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.getBooking(w, r, id)
	case len(parts) == 2 && parts[1] == "payment" && r.Method == http.MethodPost:
		s.confirmPayment(w, r, id)
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		s.cancelBooking(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) getBooking(w http.ResponseWriter, r *http.Request, id int64) {
	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) confirmPayment(w http.ResponseWriter, r *http.Request, id int64) {
	var body struct {
		PaymentRef string `json:"payment_ref"`
		Status     string `json:"status"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	switch body.Status {
	case "", models.PaymentPaid:
		if err := s.bookings.ConfirmPayment(r.Context(), id, body.PaymentRef); err != nil {
			s.writeDomainError(w, err)
			return
		}
		metrics.IncBooking(models.StatusConfirmed)
	case models.PaymentFailed:
		if err := s.bookings.FailPayment(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid payment status")
		return
	}
	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) cancelBooking(w http.ResponseWriter, r *http.Request, id int64) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if err := s.bookings.Cancel(r.Context(), id, body.Reason); err != nil {
		s.writeDomainError(w, err)
		return
	}

	metrics.IncBooking(models.StatusCancelled)
	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.cache != nil {
		_ = s.cache.InvalidateAvailability(r.Context(), booking.ClassID)
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not configured")
		return
	}

	start, err := time.Parse("2006-01-02", r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start; expected YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end; expected YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}

	f, err := s.exporter.BuildBookingsReport(r.Context(), start, end.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	defer f.Close()

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx", start.Format("2006-01-02"), end.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, fileName))
	if err := f.Write(w); err != nil {
		s.logger.Error().Err(err).Msg("write export response")
	}
}

func (s *HTTPServer) handleClasses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		classes, err := s.catalog.ListPublishedClasses(r.Context())
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"classes": classes})
	case http.MethodPost:
		var class models.Class
		if err := json.NewDecoder(r.Body).Decode(&class); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.catalog.CreateClass(r.Context(), &class); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, class)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleClassByID routes /api/v1/classes/{id} and its sub-actions.
func (s *HTTPServer) handleClassByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/classes/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid class id")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		class, err := s.catalog.GetClass(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, class)
	case len(parts) == 1 && r.Method == http.MethodPut:
		s.updateClass(w, r, id)
	case len(parts) == 2 && parts[1] == "publish" && r.Method == http.MethodPost:
		if err := s.catalog.PublishClass(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": models.ClassStatusPublished})
	case len(parts) == 2 && parts[1] == "deactivate" && r.Method == http.MethodPost:
		if err := s.catalog.DeactivateClass(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": models.ClassStatusInactive})
	case len(parts) == 2 && parts[1] == "availability" && r.Method == http.MethodGet:
		s.getAvailability(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) updateClass(w http.ResponseWriter, r *http.Request, id int64) {
	var class models.Class
	if err := json.NewDecoder(r.Body).Decode(&class); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	class.ID = id

	if err := s.catalog.UpdateClass(r.Context(), &class); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.cache != nil {
		_ = s.cache.InvalidateAvailability(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, class)
}

// getAvailability serves availability snapshots through the cache.
func (s *HTTPServer) getAvailability(w http.ResponseWriter, r *http.Request, id int64) {
	if s.cache != nil {
		if avail, err := s.cache.GetAvailability(r.Context(), id); err == nil && avail != nil {
			writeJSON(w, http.StatusOK, avail)
			return
		}
	}

	avail, err := s.catalog.GetAvailability(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if s.cache != nil {
		if err := s.cache.SetAvailability(r.Context(), avail); err != nil {
			s.logger.Error().Err(err).Int64("class_id", id).Msg("cache availability")
		}
	}
	writeJSON(w, http.StatusOK, avail)
}

// writeDomainError maps service errors to HTTP status codes.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrBookingNotFound), errors.Is(err, database.ErrClassNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrInvalidParticipants),
		errors.Is(err, pricing.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrCapacityExceeded),
		errors.Is(err, database.ErrClassNotAvailable),
		errors.Is(err, database.ErrCancellationWindowClosed):
		writeError(w, http.StatusConflict, err.Error())
	// The service already retried the version CAS; reaching here means
	// the row is under sustained contention.
	case errors.Is(err, database.ErrConcurrentModification),
		errors.Is(err, database.ErrSequenceOverflow):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.IncHTTP(r.URL.Path, strconv.Itoa(recorder.status))
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
