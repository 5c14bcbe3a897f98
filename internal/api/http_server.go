// Package api exposes the booking and settlement engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"servicehub/internal/booking"
	"servicehub/internal/config"
	"servicehub/internal/ledger"
	"servicehub/internal/logging"
	"servicehub/internal/metrics"
	"servicehub/internal/reconcile"
	"servicehub/internal/settlement"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

// Pinger reports storage health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services are the engine components behind the HTTP surface.
type Services struct {
	Bookings   *booking.Machine
	Ledger     *ledger.Ledger
	Settlement *settlement.Engine
	Reports    *reconcile.Reporter
	Health     Pinger
}

// HTTPServer exposes the engine as a JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, svc: svc, auth: NewHTTPAuth(cfg), logger: logging.Component(logger, "http")}
	srv.routes(mux)

	handler := srv.loggingMiddleware(mux)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	a := s.auth

	mux.Handle("GET /healthz", a.Public(s.handleHealth))

	mux.Handle("POST /api/v1/bookings", a.Require(permBookingsWrite, s.handleCreateBooking))
	mux.Handle("GET /api/v1/bookings/available", a.Require(permBookingsRead, s.handleAvailableBookings))
	mux.Handle("GET /api/v1/bookings/{id}", a.Require(permBookingsRead, s.handleGetBooking))
	mux.Handle("POST /api/v1/bookings/{id}/actions", a.Require(permBookingsWrite, s.handleBookingAction))
	mux.Handle("POST /api/v1/bookings/{id}/rating", a.Require(permBookingsWrite, s.handleRateBooking))

	mux.Handle("POST /api/v1/admin/payouts", a.Require(permPayoutsAdmin, s.handlePayouts))
	mux.Handle("POST /api/v1/admin/batches/{id}/{action}", a.Require(permPayoutsAdmin, s.handleBatchAction))
	mux.Handle("POST /api/v1/admin/bookings/{id}/mark-paid", a.Require(permPayoutsAdmin, s.handleMarkPaid))
	mux.Handle("POST /api/v1/admin/credits/restore", a.Require(permCreditsAdmin, s.handleRestoreCredit))

	mux.Handle("GET /api/v1/reports/reconciliation", a.Require(permReportsRead, s.handleReconciliation))
}

// Handler returns the root handler, for embedding and tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.Health.PingContext(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Health check failed")
			writeError(w, http.StatusServiceUnavailable, "unhealthy", "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		ev := s.logger.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = s.logger.Error()
		}
		ev.Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{Error: code, Message: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
