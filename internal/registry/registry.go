// Package registry owns the configured terminals and their live sessions.
// It is the only component that opens or closes device sessions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/pkg/metrics"
)

// Config holds the configuration for a Registry.
type Config struct {
	Driver  device.Driver
	Logger  *slog.Logger
	Metrics *metrics.SyncMetrics
}

// slot is the per-device state. sem serializes all I/O to the terminal and
// every change of session.
type slot struct {
	sem        chan struct{}
	cfg        device.Config
	session    device.Session
	connected  atomic.Bool
	capability atomic.Int32
	// retired is set under sem once the slot left the registry.
	retired bool
}

func newSlot(cfg device.Config) *slot {
	return &slot{sem: make(chan struct{}, 1), cfg: cfg}
}

func (s *slot) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slot) release() {
	<-s.sem
}

// Registry tracks device configurations and holds at most one live session per device.
type Registry struct {
	driver  device.Driver
	logger  *slog.Logger
	metrics *metrics.SyncMetrics

	mu    sync.RWMutex
	slots map[string]*slot
}

// New creates an empty Registry.
func New(cfg *Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("registry config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Driver == nil {
		return nil, errors.New("device driver cannot be nil")
	}

	return &Registry{
		driver:  cfg.Driver,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		slots:   make(map[string]*slot),
	}, nil
}

func (r *Registry) slot(id string) (*slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[id]
	return s, ok
}

// Register adds or replaces the configuration of a device. Replacing is
// refused only while the device is connected at a different address.
func (r *Registry) Register(cfg device.Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	for {
		r.mu.Lock()
		s, ok := r.slots[cfg.DeviceID]
		if !ok {
			r.slots[cfg.DeviceID] = newSlot(cfg)
			r.mu.Unlock()
			r.logger.Info("device registered", "device_id", cfg.DeviceID, "address", cfg.Address())
			return nil
		}
		r.mu.Unlock()

		if err := s.acquire(context.Background()); err != nil {
			return err
		}
		if s.retired {
			s.release()
			continue
		}
		defer s.release()

		if s.session != nil && s.cfg.Address() != cfg.Address() {
			return &DuplicateDeviceError{
				DeviceID:  cfg.DeviceID,
				Connected: s.cfg.Address(),
				Requested: cfg.Address(),
			}
		}
		s.cfg = cfg
		r.logger.Info("device configuration replaced", "device_id", cfg.DeviceID, "address", cfg.Address())
		return nil
	}
}

// Unregister disconnects and forgets a device. A Connect racing with it
// either finishes first and is torn down here, or finds the device gone.
func (r *Registry) Unregister(id string) error {
	s, ok := r.slot(id)
	if !ok {
		return nil
	}
	if err := s.acquire(context.Background()); err != nil {
		return err
	}
	defer s.release()

	if s.session != nil {
		r.teardown(id, s)
		r.logger.Info("device disconnected", "device_id", id)
	}
	s.retired = true

	r.mu.Lock()
	if r.slots[id] == s {
		delete(r.slots, id)
	}
	r.mu.Unlock()
	return nil
}

// Config returns the registered configuration of a device.
func (r *Registry) Config(id string) (device.Config, bool) {
	s, ok := r.slot(id)
	if !ok {
		return device.Config{}, false
	}
	if err := s.acquire(context.Background()); err != nil {
		return device.Config{}, false
	}
	defer s.release()
	return s.cfg, true
}

// DeviceIDs returns every registered device id in sorted order.
func (r *Registry) DeviceIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Connect opens a session to the device, tearing down any existing session first.
func (r *Registry) Connect(ctx context.Context, id string) error {
	s, ok := r.slot(id)
	if !ok {
		return &ConnectError{DeviceID: id, Reason: "device not registered", Err: ErrUnknownDevice}
	}
	if err := s.acquire(ctx); err != nil {
		return &ConnectError{DeviceID: id, Reason: "device busy", Err: err}
	}
	defer s.release()

	if s.retired {
		return &ConnectError{DeviceID: id, Reason: "device not registered", Err: ErrUnknownDevice}
	}

	if s.session != nil {
		r.logger.Info("closing existing session before reconnect", "device_id", id)
		r.teardown(id, s)
	}

	if r.metrics != nil {
		r.metrics.ConnectAttempts.WithLabelValues(id).Inc()
	}

	cfg := s.cfg
	session, err := withTimeout(ctx, cfg.Timeout,
		func(cctx context.Context) (device.Session, error) {
			return r.driver.CreateSession(cctx, cfg)
		},
		func(late device.Session) { _ = late.Close() },
	)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ConnectFailures.WithLabelValues(id).Inc()
		}
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("timed out after %s", cfg.Timeout)
		}
		r.logger.Warn("device connection failed", "device_id", id, "address", cfg.Address(), "error", err)
		return &ConnectError{DeviceID: id, Reason: reason, Err: err}
	}

	s.session = session
	s.capability.Store(int32(capabilityOf(session)))
	s.connected.Store(true)
	r.updateGauge()

	r.logger.Info("device connected", "device_id", id, "address", cfg.Address())
	return nil
}

func capabilityOf(session device.Session) device.Capability {
	if c, ok := session.(device.FullSyncCapability); ok {
		return c.FullSyncSupport()
	}
	return device.CapabilityUnknown
}

// teardown closes the session of s. The caller holds s.sem.
func (r *Registry) teardown(id string, s *slot) {
	if s.session == nil {
		return
	}
	if err := s.session.Close(); err != nil {
		r.logger.Warn("error closing device session", "device_id", id, "error", err)
	}
	s.session = nil
	s.connected.Store(false)
	s.capability.Store(int32(device.CapabilityUnknown))
	r.updateGauge()
}

// Disconnect closes the session of a device. It is a no-op when not connected.
func (r *Registry) Disconnect(id string) error {
	s, ok := r.slot(id)
	if !ok || !s.connected.Load() {
		return nil
	}
	if err := s.acquire(context.Background()); err != nil {
		return err
	}
	defer s.release()

	if s.session != nil {
		r.teardown(id, s)
		r.logger.Info("device disconnected", "device_id", id)
	}
	return nil
}

// IsConnected reports whether the device has a live session. It never blocks on device I/O.
func (r *Registry) IsConnected(id string) bool {
	s, ok := r.slot(id)
	return ok && s.connected.Load()
}

// ListConnected returns the ids of devices with a live session, sorted.
func (r *Registry) ListConnected() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.slots))
	for id, s := range r.slots {
		if s.connected.Load() {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// FullSyncSupport returns what the live session last reported about full-buffer requests.
func (r *Registry) FullSyncSupport(id string) device.Capability {
	s, ok := r.slot(id)
	if !ok {
		return device.CapabilityUnknown
	}
	return device.Capability(s.capability.Load())
}

// DisconnectAll closes every open session concurrently. Failures are logged.
func (r *Registry) DisconnectAll() {
	ids := r.ListConnected()
	if len(ids) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Disconnect(id); err != nil {
				r.logger.Error("failed to disconnect device", "device_id", id, "error", err)
			}
		}(id)
	}
	wg.Wait()

	r.logger.Info("all devices disconnected", "count", len(ids))
}

func (r *Registry) updateGauge() {
	if r.metrics != nil {
		r.metrics.ConnectedDevices.Set(float64(len(r.ListConnected())))
	}
}

// withTimeout runs fn bounded by timeout. When the deadline passes first the
// result of fn is handed to abandon once it arrives.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error), abandon func(T)) (T, error) {
	if timeout <= 0 {
		timeout = device.DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		ch <- result{v, err}
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-cctx.Done():
		if abandon != nil {
			go func() {
				if res := <-ch; res.err == nil {
					abandon(res.v)
				}
			}()
		}
		var zero T
		return zero, cctx.Err()
	}
}
