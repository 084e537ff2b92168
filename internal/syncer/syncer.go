// Package syncer pulls attendance logs from every registered terminal,
// normalizes them and hands the events to a Sink.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/internal/punch"
	"procodus.dev/timeclock/internal/registry"
	"procodus.dev/timeclock/pkg/metrics"
)

// AllDevices is the Trigger target that sweeps every device.
const AllDevices = "all"

// DefaultTriggerTimeout bounds an on-demand sync run.
const DefaultTriggerTimeout = 5 * time.Minute

// Sink receives the normalized events of one device sync.
type Sink interface {
	Deliver(ctx context.Context, deviceID string, events []punch.Event) error
}

// DeviceSource lists the configured terminals.
type DeviceSource interface {
	Devices(ctx context.Context) ([]device.Config, error)
}

// SyncRecorder persists the outcome of a device sync.
type SyncRecorder interface {
	RecordSync(ctx context.Context, deviceID string, count int, at time.Time) error
}

// Config holds the configuration for an Orchestrator.
type Config struct {
	Registry   *registry.Registry
	Normalizer *punch.Normalizer
	// Sink receives every synced batch. Optional.
	Sink Sink
	// Devices is re-read before every sweep. Optional; without it the
	// registry's current devices are swept.
	Devices DeviceSource
	// Recorder stores per-device sync results. Optional.
	Recorder SyncRecorder
	// Directory receives device users from SyncUsers. Optional.
	Directory    attendance.Directory
	DefaultGroup string
	// ClearAfterSync erases a terminal's log once its batch was delivered.
	ClearAfterSync bool
	Logger         *slog.Logger
	Metrics        *metrics.SyncMetrics
	// TriggerTimeout bounds a run started by Trigger. Defaults to DefaultTriggerTimeout.
	TriggerTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Status is the last known sync state of a device.
type Status struct {
	DeviceID      string    `json:"deviceId"`
	Connected     bool      `json:"connected"`
	LastSyncCount int       `json:"lastSyncCount"`
	LastSyncAt    time.Time `json:"lastSyncAt"`
	LastError     string    `json:"lastError,omitempty"`
}

// Orchestrator runs device syncs.
type Orchestrator struct {
	registry       *registry.Registry
	normalizer     *punch.Normalizer
	sink           Sink
	devices        DeviceSource
	recorder       SyncRecorder
	directory      attendance.Directory
	defaultGroup   string
	clearAfterSync bool
	logger         *slog.Logger
	metrics        *metrics.SyncMetrics
	triggerTimeout time.Duration
	now            func() time.Time

	mu     sync.RWMutex
	status map[string]*Status
	known  map[string]struct{}

	flight singleflight.Group
}

// New creates an Orchestrator.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("syncer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if cfg.Normalizer == nil {
		return nil, errors.New("normalizer cannot be nil")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	triggerTimeout := cfg.TriggerTimeout
	if triggerTimeout <= 0 {
		triggerTimeout = DefaultTriggerTimeout
	}

	return &Orchestrator{
		registry:       cfg.Registry,
		normalizer:     cfg.Normalizer,
		sink:           cfg.Sink,
		devices:        cfg.Devices,
		recorder:       cfg.Recorder,
		directory:      cfg.Directory,
		defaultGroup:   cfg.DefaultGroup,
		clearAfterSync: cfg.ClearAfterSync,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		triggerTimeout: triggerTimeout,
		now:            now,
		status:         make(map[string]*Status),
		known:          make(map[string]struct{}),
	}, nil
}

// SyncDevice reads the log of a connected device and returns its normalized
// events ordered by time. In Full mode the complete buffer is requested first
// and the standard call is used when the terminal refuses. A malformed log
// yields no events. Fails with registry.ErrDeviceNotConnected when the
// device has no live session.
func (o *Orchestrator) SyncDevice(ctx context.Context, deviceID string, mode Mode) ([]punch.Event, error) {
	if !o.registry.IsConnected(deviceID) {
		return nil, fmt.Errorf("sync %s: %w", deviceID, registry.ErrDeviceNotConnected)
	}

	if o.metrics != nil {
		timer := prometheus.NewTimer(o.metrics.SyncDuration.WithLabelValues(string(mode)))
		defer timer.ObserveDuration()
	}

	raws, err := o.fetch(ctx, deviceID, mode)
	if errors.Is(err, device.ErrMalformedLog) {
		o.logger.Warn("device returned a malformed log, treating as empty",
			"device_id", deviceID,
			"error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	events := o.normalizer.NormalizeBatch(raws, deviceID)
	punch.SortByTime(events)

	if o.metrics != nil {
		o.metrics.RecordsRetrieved.WithLabelValues(deviceID, string(mode)).Add(float64(len(events)))
	}
	o.logger.Debug("device log read",
		"device_id", deviceID,
		"mode", mode,
		"raw", len(raws),
		"events", len(events))
	return events, nil
}

func (o *Orchestrator) fetch(ctx context.Context, deviceID string, mode Mode) ([]device.RawPunch, error) {
	capability := o.registry.FullSyncSupport(deviceID)
	if !mode.full() || capability == device.CapabilityUnsupported {
		return o.registry.AttendanceLogs(ctx, deviceID, false)
	}

	// Both requests share one borrowed session so a refused full request
	// does not cost the connection.
	var raws []device.RawPunch
	err := o.registry.Borrow(ctx, deviceID, "logs_full", func(ctx context.Context, s device.Session) error {
		var err error
		raws, err = s.AttendanceLogs(ctx, true)
		if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if capability == device.CapabilitySupported && !errors.Is(err, device.ErrFullSyncUnsupported) {
			return err
		}

		o.logger.Debug("full log request refused, using standard request",
			"device_id", deviceID,
			"error", err)
		raws, err = s.AttendanceLogs(ctx, false)
		return err
	})
	return raws, err
}

// SyncAndDeliver syncs one connected device, delivers the batch to the sink,
// optionally clears the terminal log and records the result.
func (o *Orchestrator) SyncAndDeliver(ctx context.Context, deviceID string, mode Mode) (int, error) {
	n, err := o.syncAndDeliver(ctx, deviceID, mode)
	o.record(ctx, deviceID, n, err)
	return n, err
}

func (o *Orchestrator) syncAndDeliver(ctx context.Context, deviceID string, mode Mode) (int, error) {
	events, err := o.SyncDevice(ctx, deviceID, mode)
	if err != nil {
		return 0, err
	}

	if o.sink != nil && len(events) > 0 {
		if err := o.sink.Deliver(ctx, deviceID, events); err != nil {
			return 0, fmt.Errorf("deliver batch from %s: %w", deviceID, err)
		}
	}

	if o.clearAfterSync && len(events) > 0 {
		if err := o.registry.ClearLog(ctx, deviceID); err != nil {
			o.logger.Warn("failed to clear device log", "device_id", deviceID, "error", err)
		}
	}
	return len(events), nil
}

func (o *Orchestrator) record(ctx context.Context, deviceID string, count int, err error) {
	at := o.now()

	o.mu.Lock()
	st, ok := o.status[deviceID]
	if !ok {
		st = &Status{DeviceID: deviceID}
		o.status[deviceID] = st
	}
	st.LastSyncCount = count
	st.LastSyncAt = at
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	o.mu.Unlock()

	if o.recorder != nil {
		if rerr := o.recorder.RecordSync(ctx, deviceID, count, at); rerr != nil {
			o.logger.Warn("failed to record sync result", "device_id", deviceID, "error", rerr)
		}
	}
}

// SyncAllDevices syncs every device in parallel and returns the number of
// events retrieved per device. Devices without a session are connected
// first. Any failure of a device is logged and counted as 0; it never aborts
// the sweep.
func (o *Orchestrator) SyncAllDevices(ctx context.Context, mode Mode) map[string]int {
	runID := uuid.NewString()
	logger := o.logger.With("sync_run", runID, "mode", mode)
	started := o.now()

	o.refreshDevices(ctx, logger)
	ids := o.registry.DeviceIDs()

	counts := make([]int, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			counts[i] = o.syncOne(ctx, logger, id, mode)
		}(i, id)
	}
	wg.Wait()

	result := make(map[string]int, len(ids))
	total := 0
	for i, id := range ids {
		result[id] = counts[i]
		total += counts[i]
	}

	if o.metrics != nil {
		o.metrics.SweepsTotal.WithLabelValues(string(mode)).Inc()
	}
	logger.Info("sync sweep finished",
		"devices", len(ids),
		"connected", len(o.registry.ListConnected()),
		"events", total,
		"duration", time.Since(started))
	return result
}

func (o *Orchestrator) syncOne(ctx context.Context, logger *slog.Logger, id string, mode Mode) int {
	if !o.registry.IsConnected(id) {
		if err := o.registry.Connect(ctx, id); err != nil {
			logger.Warn("skipping unreachable device", "device_id", id, "error", err)
			o.record(ctx, id, 0, err)
			return 0
		}
	}

	n, err := o.SyncAndDeliver(ctx, id, mode)
	if err != nil {
		logger.Error("device sync failed", "device_id", id, "error", err)
		return 0
	}
	return n
}

// refreshDevices registers the configured devices and forgets removed ones.
func (o *Orchestrator) refreshDevices(ctx context.Context, logger *slog.Logger) {
	if o.devices == nil {
		return
	}
	cfgs, err := o.devices.Devices(ctx)
	if err != nil {
		logger.Error("failed to load device configuration, sweeping known devices", "error", err)
		return
	}

	current := make(map[string]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		if err := o.registry.Register(cfg); err != nil {
			logger.Warn("failed to register device", "device_id", cfg.DeviceID, "error", err)
		}
		current[cfg.DeviceID] = struct{}{}
	}

	o.mu.Lock()
	previous := o.known
	o.known = current
	o.mu.Unlock()

	var added, removed []string
	for id := range current {
		if _, ok := previous[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range o.registry.DeviceIDs() {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	for _, id := range removed {
		if err := o.registry.Unregister(id); err != nil {
			logger.Warn("failed to disconnect removed device", "device_id", id, "error", err)
		}
		o.mu.Lock()
		delete(o.status, id)
		o.mu.Unlock()
	}
	if len(previous) > 0 && (len(added) > 0 || len(removed) > 0) {
		logger.Info("device set changed", "added", added, "removed", removed)
	}
}

// Trigger runs a sync on demand. target is a device id or AllDevices.
// Concurrent triggers for the same target and mode share one run. The run
// outlives the caller that started it and is bounded by the trigger timeout.
func (o *Orchestrator) Trigger(ctx context.Context, target string, mode Mode) (map[string]int, error) {
	if target == "" {
		target = AllDevices
	}

	v, err, _ := o.flight.Do(target+"/"+string(mode), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.triggerTimeout)
		defer cancel()

		if target == AllDevices {
			return o.SyncAllDevices(ctx, mode), nil
		}

		if _, ok := o.registry.Config(target); !ok {
			return nil, fmt.Errorf("device %s: %w", target, registry.ErrUnknownDevice)
		}
		if !o.registry.IsConnected(target) {
			if err := o.registry.Connect(ctx, target); err != nil {
				o.record(ctx, target, 0, err)
				return nil, err
			}
		}
		n, err := o.SyncAndDeliver(ctx, target, mode)
		if err != nil {
			return nil, err
		}
		return map[string]int{target: n}, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.(map[string]int)
	out := make(map[string]int, len(shared))
	for k, n := range shared {
		out[k] = n
	}
	return out, nil
}

// Status returns the sync state of every registered device ordered by id.
func (o *Orchestrator) Status() []Status {
	ids := o.registry.DeviceIDs()

	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		st := Status{DeviceID: id}
		if s, ok := o.status[id]; ok {
			st = *s
		}
		st.Connected = o.registry.IsConnected(id)
		out = append(out, st)
	}
	return out
}

// SyncUsers adds the users enrolled on a connected device to the directory.
// New employees get the default group. Returns how many were added.
func (o *Orchestrator) SyncUsers(ctx context.Context, deviceID string) (int, error) {
	if o.directory == nil {
		return 0, errors.New("no employee directory configured")
	}

	users, err := o.registry.Users(ctx, deviceID)
	if err != nil {
		return 0, err
	}

	employees := make([]attendance.Employee, 0, len(users))
	for _, u := range users {
		ref, ok := punch.Identifier(device.RawPunch{"uid": u.UID, "userId": u.UserID})
		if !ok {
			o.logger.Warn("skipping device user without identifier", "device_id", deviceID, "name", u.Name)
			continue
		}
		employees = append(employees, attendance.Employee{Ref: ref, Name: u.Name, Group: o.defaultGroup, Active: true})
	}

	added, err := o.directory.EnsureEmployees(ctx, employees)
	if err != nil {
		return 0, fmt.Errorf("store users of %s: %w", deviceID, err)
	}
	o.logger.Info("device users synced",
		"device_id", deviceID,
		"users", len(users),
		"added", added)
	return added, nil
}
