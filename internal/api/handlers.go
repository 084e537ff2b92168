package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/query"
	"procodus.dev/timeclock/internal/registry"
	"procodus.dev/timeclock/internal/syncer"
)

const monthLayout = "2006-01"

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// dateRange reads the from and to parameters. A missing to means from.
func (s *Server) dateRange(r *http.Request) (query.DateRange, error) {
	q := r.URL.Query()
	from, err := time.ParseInLocation(attendance.DateLayout, q.Get("from"), s.loc)
	if err != nil {
		return query.DateRange{}, fmt.Errorf("invalid from date %q", q.Get("from"))
	}
	to := from
	if v := q.Get("to"); v != "" {
		to, err = time.ParseInLocation(attendance.DateLayout, v, s.loc)
		if err != nil {
			return query.DateRange{}, fmt.Errorf("invalid to date %q", v)
		}
	}
	return query.DateRange{From: from, To: to}, nil
}

func (s *Server) queryFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, query.ErrInvalidRange) {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Error("query failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

// handleHealth serves health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

// handleFacts serves daily facts filtered by employee, group and date range.
func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	rng, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	facts, err := s.reports.GetDailyFacts(r.Context(), query.FactQuery{
		EmployeeRef: r.URL.Query().Get("employee"),
		Group:       r.URL.Query().Get("group"),
		Range:       rng,
	})
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	if facts == nil {
		facts = []attendance.Fact{}
	}
	s.writeJSON(w, http.StatusOK, facts)
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reports.GetDeviceSyncStatus())
}

type syncRequest struct {
	Target string `json:"target"`
	Mode   string `json:"mode"`
}

type syncResponse struct {
	Counts map[string]int `json:"counts"`
}

// handleSync runs a sync. Parameters come from a JSON body or the query string.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	req := syncRequest{Target: r.URL.Query().Get("target"), Mode: r.URL.Query().Get("mode")}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	mode, err := syncer.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Target == "" {
		req.Target = syncer.AllDevices
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.syncTimeout())
	defer cancel()

	counts, err := s.reports.TriggerSync(ctx, req.Target, mode)
	if err != nil {
		var ce *registry.ConnectError
		switch {
		case errors.Is(err, registry.ErrUnknownDevice):
			s.writeError(w, http.StatusNotFound, err)
		case errors.As(err, &ce), errors.Is(err, registry.ErrDeviceNotConnected), errors.Is(err, context.DeadlineExceeded):
			s.writeError(w, http.StatusBadGateway, err)
		default:
			s.logger.Error("sync failed", "target", req.Target, "error", err)
			s.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, syncResponse{Counts: counts})
}

type rederiveResponse struct {
	Written int `json:"written"`
}

func (s *Server) handleRederive(w http.ResponseWriter, r *http.Request) {
	rng, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	n, err := s.rederiver.Rederive(r.Context(), attendance.RederiveRequest{
		EmployeeRef: r.URL.Query().Get("employee"),
		From:        rng.From,
		To:          rng.To,
	})
	if err != nil {
		s.logger.Error("rederive failed", "error", err, "written", n)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rederiveResponse{Written: n})
}

func (s *Server) handleOfferReport(w http.ResponseWriter, r *http.Request) {
	rng, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rows, err := s.reports.OfferAttendance(r.Context(), rng, r.URL.Query().Get("group"))
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleShortLeaveReport(w http.ResponseWriter, r *http.Request) {
	month := time.Now().In(s.loc)
	if v := r.URL.Query().Get("month"); v != "" {
		var err error
		month, err = time.ParseInLocation(monthLayout, v, s.loc)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid month %q, want YYYY-MM", v))
			return
		}
	}
	rows, err := s.reports.ShortLeaveUsage(r.Context(), month, r.URL.Query().Get("group"))
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLateReport(w http.ResponseWriter, r *http.Request) {
	rng, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rows, err := s.reports.LateArrivals(r.Context(), rng, r.URL.Query().Get("group"))
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	if rows == nil {
		rows = []query.LateArrival{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}
