package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"procodus.dev/timeclock/internal/device"
)

type openRequest struct {
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	TimeoutMS int64  `json:"timeout"`
	InPort    int    `json:"inport"`
}

type openResponse struct {
	SessionID string `json:"sessionId"`
	FullSync  *bool  `json:"fullSync,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.OpenSessions()})
}

// handleOpen connects to the terminal at the requested address. Terminals
// are identified by address, so every session to one address shares its log.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.IP == "" {
		http.Error(w, "ip is required", http.StatusBadRequest)
		return
	}

	cfg := device.Config{
		IP:      req.IP,
		Port:    req.Port,
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
		InPort:  req.InPort,
	}.WithDefaults()
	cfg.DeviceID = net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port))

	ctx, cancel := contextWithTimeout(r, cfg.Timeout)
	defer cancel()

	session, err := s.driver.CreateSession(ctx, cfg)
	if err != nil {
		s.logger.Warn("failed to open terminal session", "address", cfg.DeviceID, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &openSession{deviceID: cfg.DeviceID, session: session}
	s.mu.Unlock()

	resp := openResponse{SessionID: id}
	if c, ok := session.(device.FullSyncCapability); ok && c.FullSyncSupport() != device.CapabilityUnknown {
		supported := c.FullSyncSupport() == device.CapabilitySupported
		resp.FullSync = &supported
	}

	s.logger.Debug("terminal session opened", "address", cfg.DeviceID, "session_id", id)
	writeJSON(w, http.StatusCreated, resp)
}

// lookup returns the session named in the path, locked. The caller must unlock it.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*openSession, bool) {
	id := r.PathValue("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return nil, false
	}
	sess.mu.Lock()
	return sess, true
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	defer sess.mu.Unlock()

	info, err := sess.session.Info(r.Context())
	if err != nil {
		s.logger.Warn("failed to read terminal info", "address", sess.deviceID, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	defer sess.mu.Unlock()

	users, err := sess.session.Users(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": users})
}

func (s *Server) handleAttendances(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	defer sess.mu.Unlock()

	full := r.URL.Query().Get("full") == "1"
	logs, err := sess.session.AttendanceLogs(r.Context(), full)
	switch {
	case errors.Is(err, device.ErrFullSyncUnsupported):
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	case err != nil:
		s.logger.Warn("failed to read attendance log", "address", sess.deviceID, "full", full, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if logs == nil {
		logs = []device.RawPunch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": logs})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	defer sess.mu.Unlock()

	if err := sess.session.ClearLog(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.session.Close(); err != nil {
		s.logger.Warn("failed to close terminal session", "address", sess.deviceID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func contextWithTimeout(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = device.DefaultTimeout
	}
	return context.WithTimeout(r.Context(), timeout)
}
