package api

import (
	"net/http"
	"strconv"
	"strings"

	"servicehub/internal/booking"
	"servicehub/internal/models"
)

type bookingActionRequest struct {
	Action       string       `json:"action"`
	ProviderID   int64        `json:"provider_id"`
	Notes        string       `json:"notes"`
	PhotoRefs    []string     `json:"photo_refs"`
	QualityScore int          `json:"quality_score"`
	Actor        models.Actor `json:"actor"`
	Reason       string       `json:"reason"`
}

type completeResponse struct {
	Booking *models.Booking `json:"booking"`
	Payout  *models.Payout  `json:"payout,omitempty"`
}

type rateRequest struct {
	ClientID int64  `json:"client_id"`
	Rating   int    `json:"rating"`
	Review   string `json:"review"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, err := s.svc.Bookings.Create(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	b, err := s.svc.Bookings.Get(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleAvailableBookings(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	bookings, err := s.svc.Bookings.ListAvailable(r.Context(), limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleBookingAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req bookingActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, p, err := s.svc.Bookings.Apply(r.Context(), id, booking.Action{
		Name:       req.Action,
		ProviderID: req.ProviderID,
		Completion: models.Completion{
			Notes:        req.Notes,
			PhotoRefs:    req.PhotoRefs,
			QualityScore: req.QualityScore,
		},
		Actor:  req.Actor,
		Reason: req.Reason,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if strings.EqualFold(strings.TrimSpace(req.Action), booking.ActionComplete) {
		writeJSON(w, http.StatusOK, completeResponse{Booking: b, Payout: p})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleRateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, err := s.svc.Bookings.Rate(r.Context(), id, req.ClientID, req.Rating, req.Review)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
