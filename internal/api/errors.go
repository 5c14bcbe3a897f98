package api

import (
	"errors"
	"net/http"

	"servicehub/internal/domain"
)

type apiError struct {
	status  int
	code    string
	message string
}

// classify maps engine errors to a status, a stable code and a message the
// caller can act on.
func classify(err error) apiError {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return apiError{http.StatusBadRequest, "validation_error", verr.Error()}
	case errors.Is(err, domain.ErrValidation):
		return apiError{http.StatusBadRequest, "validation_error", err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return apiError{http.StatusNotFound, "not_found", err.Error()}
	case errors.Is(err, domain.ErrEntitlementExhausted):
		return apiError{http.StatusConflict, "entitlement_exhausted",
			"no credits left for this service in the current cycle; book it as a paid job instead"}
	case errors.Is(err, domain.ErrNoEntitlement):
		return apiError{http.StatusConflict, "no_entitlement", "the package does not cover this service"}
	case errors.Is(err, domain.ErrConcurrentAssignmentLost):
		return apiError{http.StatusConflict, "concurrent_assignment_lost", "this job was just accepted by someone else"}
	case errors.Is(err, domain.ErrAcceptanceExpired):
		return apiError{http.StatusConflict, "acceptance_expired", "the acceptance window for this job has closed"}
	case errors.Is(err, domain.ErrInvalidTransition):
		return apiError{http.StatusConflict, "invalid_transition", err.Error()}
	case errors.Is(err, domain.ErrAlreadyRated):
		return apiError{http.StatusConflict, "already_rated", "this booking has already been rated"}
	case errors.Is(err, domain.ErrNotAssignedProvider):
		return apiError{http.StatusForbidden, "not_assigned_provider", "only the provider assigned to this job can do that"}
	case errors.Is(err, domain.ErrNotBookingParty):
		return apiError{http.StatusForbidden, "not_booking_party", "you are not a party to this booking"}
	case errors.Is(err, domain.ErrBatchIneligible):
		return apiError{http.StatusConflict, "batch_ineligible", err.Error()}
	case errors.Is(err, domain.ErrBatchTotalMismatch):
		return apiError{http.StatusConflict, "batch_total_mismatch", err.Error()}
	case errors.Is(err, domain.ErrNoActiveRule):
		return apiError{http.StatusConflict, "no_active_rule", "configure an active payout rule first"}
	case errors.Is(err, domain.ErrConcurrentModification):
		return apiError{http.StatusConflict, "conflict", "the record changed while you were editing it; reload and retry"}
	default:
		return apiError{http.StatusInternalServerError, "internal_error", "internal error"}
	}
}

func (s *HTTPServer) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	ev := s.logger.Warn()
	if e.status >= http.StatusInternalServerError {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Str("code", e.code).Msg("Request failed")
	writeError(w, e.status, e.code, e.message)
}
