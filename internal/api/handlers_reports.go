package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"servicehub/internal/reconcile"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *HTTPServer) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "from: "+err.Error())
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "to: "+err.Error())
		return
	}

	rep, err := s.svc.Reports.Report(r.Context(), from, to)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	switch strings.ToLower(q.Get("format")) {
	case "", "json":
		writeJSON(w, http.StatusOK, rep)
	case "xlsx":
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
			fmt.Sprintf("reconciliation_%s_%s.xlsx", from.Format("20060102"), to.Format("20060102"))))
		if err := reconcile.ExportXLSX(rep, w); err != nil {
			s.logger.Error().Err(err).Msg("Failed to write reconciliation workbook")
		}
	default:
		writeError(w, http.StatusBadRequest, "validation_error", "format must be json or xlsx")
	}
}

// parseTime accepts RFC 3339 timestamps or YYYY-MM-DD dates (midnight UTC).
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD")
	}
	return t, nil
}
