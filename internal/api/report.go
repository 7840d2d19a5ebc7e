package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"nir-backend/internal/report"
)

const (
	defaultHistoryMinutes = 8 * 60
	defaultHistoryLimit   = 50
	maxHistoryLimit       = 1000
)

// handleReport aggregates the posted shift and returns it as a PDF, or as
// JSON with ?format=json.
func (s *Server) handleReport() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req report.Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBytes)).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid report body: %v", err))
			return
		}
		if err := req.Validate(); err != nil {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}

		summary := req.Summary()
		if r.URL.Query().Get("format") == "json" {
			writeJSON(w, http.StatusOK, summary)
			return
		}

		from, to := req.Span()
		var buf bytes.Buffer
		if err := report.RenderPDF(&buf, summary, from, to, s.now()); err != nil {
			s.logger.Errorw("API: report rendering failed", "error", err)
			sendError(w, http.StatusInternalServerError, "failed to render report")
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", "attachment; filename=shift_report.pdf")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// requireHistory answers 503 when persistence is disabled
func (s *Server) requireHistory(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			sendError(w, http.StatusServiceUnavailable, "history persistence is disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHistorySummary() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		minutes, err := positiveIntParam(r, "minutes", defaultHistoryMinutes)
		if err != nil {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}

		since := s.now().Add(-time.Duration(minutes) * time.Minute)
		summary, err := s.history.GetShiftSummary(r.Context(), since, report.LowPolThreshold)
		if err != nil {
			s.logger.Errorw("API: history summary failed", "error", err)
			sendError(w, http.StatusInternalServerError, "failed to query history")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleHistorySessions() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := positiveIntParam(r, "limit", defaultHistoryLimit)
		if err != nil {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit = min(limit, maxHistoryLimit)

		sessions, err := s.history.GetRecentSessions(r.Context(), limit)
		if err != nil {
			s.logger.Errorw("API: session history failed", "error", err)
			sendError(w, http.StatusInternalServerError, "failed to query history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
	}
}

func positiveIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}
