package api

import (
	"io"
	"net/http"
	"strings"

	"servicehub/internal/models"
	"servicehub/internal/settlement"

	"github.com/shopspring/decimal"
)

type payoutRunRequest struct {
	ProviderIDs   []int64 `json:"provider_ids"`
	ConfirmedBy   string  `json:"confirmed_by"`
	PaymentMethod string  `json:"payment_method"`
	RunAutomated  bool    `json:"run_automated"`
	Force         bool    `json:"force"`
}

type batchActionRequest struct {
	Actor      string `json:"actor"`
	PaymentRef string `json:"payment_ref"`
	Reason     string `json:"reason"`
}

type markPaidRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	Note          string          `json:"note"`
	Actor         string          `json:"actor"`
}

type restoreCreditRequest struct {
	BookingID int64  `json:"booking_id"`
	Actor     string `json:"actor"`
}

func (s *HTTPServer) handlePayouts(w http.ResponseWriter, r *http.Request) {
	var req payoutRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.RunAutomated {
		summary, err := s.svc.Settlement.RunAutomated(r.Context(), settlement.RunOptions{Force: req.Force})
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	result, err := s.svc.Settlement.PayProviders(r.Context(), settlement.ManualPayoutRequest{
		ProviderIDs:   req.ProviderIDs,
		ConfirmedBy:   req.ConfirmedBy,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleBatchAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req batchActionRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	var (
		batch *models.PayoutBatch
		err   error
	)
	switch r.PathValue("action") {
	case "approve":
		batch, err = s.svc.Settlement.ApproveBatch(ctx, id, req.Actor)
	case "process":
		batch, err = s.svc.Settlement.ProcessBatch(ctx, id)
	case "complete":
		batch, err = s.svc.Settlement.CompleteBatch(ctx, id, req.PaymentRef)
	case "reject":
		batch, err = s.svc.Settlement.RejectBatch(ctx, id, req.Actor, req.Reason)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown batch action")
		return
	}

	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *HTTPServer) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req markPaidRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := s.svc.Settlement.MarkBookingPaid(r.Context(), settlement.ManualOverrideRequest{
		BookingID:     id,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Note:          req.Note,
		Actor:         req.Actor,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleRestoreCredit(w http.ResponseWriter, r *http.Request) {
	var req restoreCreditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.BookingID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "booking_id is required")
		return
	}

	usage, err := s.svc.Ledger.RestoreCredit(r.Context(), req.BookingID, strings.TrimSpace(req.Actor))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return true
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "could not read body")
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	return decodeJSON(w, r, dst)
}
