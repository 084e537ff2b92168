package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// BridgeConfig holds the configuration for a BridgeDriver.
type BridgeConfig struct {
	// BaseURL is the root of the bridge sidecar, e.g. http://localhost:8090.
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
}

// BridgeDriver talks to terminals through an HTTP sidecar that owns the
// terminal wire protocol.
//
//	POST   /sessions                        open, returns {"sessionId", "fullSync"}
//	GET    /sessions/{id}/info
//	GET    /sessions/{id}/users
//	GET    /sessions/{id}/attendances?full=1 501 when the terminal rejects full sync
//	DELETE /sessions/{id}/attendances       clear the log buffer
//	DELETE /sessions/{id}                   close
type BridgeDriver struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

// NewBridgeDriver creates a driver for the sidecar at cfg.BaseURL.
func NewBridgeDriver(cfg *BridgeConfig) (*BridgeDriver, error) {
	if cfg == nil {
		return nil, errors.New("bridge config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid bridge url %q", cfg.BaseURL)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return &BridgeDriver{base: base, client: client, logger: cfg.Logger}, nil
}

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

// CreateSession implements Driver.
func (d *BridgeDriver) CreateSession(ctx context.Context, cfg Config) (Session, error) {
	body := openRequest{
		IP:        cfg.IP,
		Port:      cfg.Port,
		TimeoutMS: cfg.Timeout.Milliseconds(),
		InPort:    cfg.InPort,
	}

	var resp openResponse
	if err := d.do(ctx, http.MethodPost, "/sessions", body, &resp); err != nil {
		return nil, fmt.Errorf("open session to %s: %w", cfg.Address(), err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("open session to %s: bridge returned no session id", cfg.Address())
	}

	s := &bridgeSession{driver: d, id: resp.SessionID, capability: CapabilityUnknown}
	if resp.FullSync != nil {
		s.capability = CapabilityUnsupported
		if *resp.FullSync {
			s.capability = CapabilitySupported
		}
	}
	d.logger.Debug("bridge session opened", "device_id", cfg.DeviceID, "session_id", s.id)
	return s, nil
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bridge returned %d: %s", e.Code, e.Body)
}

func (d *BridgeDriver) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	u := *d.base
	p, q, _ := strings.Cut(path, "?")
	u.Path = d.base.Path + p
	u.RawQuery = q

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &statusError{Code: res.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

type bridgeSession struct {
	driver     *BridgeDriver
	id         string
	capability Capability
}

func (s *bridgeSession) path(suffix string) string {
	return "/sessions/" + s.id + suffix
}

func (s *bridgeSession) FullSyncSupport() Capability {
	return s.capability
}

func (s *bridgeSession) Info(ctx context.Context) (Info, error) {
	var info Info
	err := s.driver.do(ctx, http.MethodGet, s.path("/info"), nil, &info)
	return info, err
}

func (s *bridgeSession) Users(ctx context.Context) ([]User, error) {
	var payload any
	if err := s.driver.do(ctx, http.MethodGet, s.path("/users"), nil, &payload); err != nil {
		return nil, err
	}
	return DecodeUsers(payload)
}

func (s *bridgeSession) AttendanceLogs(ctx context.Context, full bool) ([]RawPunch, error) {
	p := s.path("/attendances")
	if full {
		p += "?full=1"
	}

	var payload any
	if err := s.driver.do(ctx, http.MethodGet, p, nil, &payload); err != nil {
		var se *statusError
		if full && errors.As(err, &se) && se.Code == http.StatusNotImplemented {
			s.capability = CapabilityUnsupported
			return nil, ErrFullSyncUnsupported
		}
		return nil, err
	}
	return DecodeLogs(payload)
}

func (s *bridgeSession) ClearLog(ctx context.Context) error {
	return s.driver.do(ctx, http.MethodDelete, s.path("/attendances"), nil, nil)
}

func (s *bridgeSession) Close() error {
	// Close must work after the caller's context has expired.
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	return s.driver.do(ctx, http.MethodDelete, s.path(""), nil, nil)
}

var (
	_ Driver             = (*BridgeDriver)(nil)
	_ FullSyncCapability = (*bridgeSession)(nil)
)
