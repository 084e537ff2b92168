package registry

import (
	"context"
	"errors"
	"fmt"

	"procodus.dev/timeclock/internal/device"
)

// Borrow runs fn with the live session of a device. Calls to one device are
// serialized. fn is bounded by the device timeout; on timeout or on a
// transport error the session is torn down before Borrow returns. The session
// must not be retained after fn returns.
func (r *Registry) Borrow(ctx context.Context, id string, op string, fn func(context.Context, device.Session) error) error {
	s, ok := r.slot(id)
	if !ok {
		return fmt.Errorf("device %s: %w", id, ErrUnknownDevice)
	}
	if err := s.acquire(ctx); err != nil {
		return fmt.Errorf("device %s: %w", id, err)
	}
	defer s.release()

	if s.session == nil {
		return fmt.Errorf("device %s: %w", id, ErrDeviceNotConnected)
	}

	session := s.session
	_, err := withTimeout(ctx, s.cfg.Timeout,
		func(cctx context.Context) (struct{}, error) {
			return struct{}{}, fn(cctx, session)
		},
		nil,
	)
	if s.session != nil {
		s.capability.Store(int32(capabilityOf(s.session)))
	}
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		r.callFailed(id, op, "timeout")
		r.logger.Warn("device call timed out, closing session",
			"device_id", id,
			"operation", op,
			"timeout", s.cfg.Timeout)
		r.teardown(id, s)
	case errors.Is(err, context.Canceled):
	case errors.Is(err, device.ErrFullSyncUnsupported), errors.Is(err, device.ErrMalformedLog):
		// The terminal answered; the session is healthy.
	default:
		r.callFailed(id, op, "error")
		r.logger.Warn("device call failed, closing session",
			"device_id", id,
			"operation", op,
			"error", err)
		r.teardown(id, s)
	}
	return fmt.Errorf("device %s %s: %w", id, op, err)
}

func (r *Registry) callFailed(id, op, reason string) {
	if r.metrics != nil {
		r.metrics.DeviceCallErrors.WithLabelValues(id, op, reason).Inc()
	}
}

// Info returns terminal information through the live session.
func (r *Registry) Info(ctx context.Context, id string) (device.Info, error) {
	var info device.Info
	err := r.Borrow(ctx, id, "info", func(ctx context.Context, s device.Session) error {
		var err error
		info, err = s.Info(ctx)
		return err
	})
	return info, err
}

// Users returns the enrolled users through the live session.
func (r *Registry) Users(ctx context.Context, id string) ([]device.User, error) {
	var users []device.User
	err := r.Borrow(ctx, id, "users", func(ctx context.Context, s device.Session) error {
		var err error
		users, err = s.Users(ctx)
		return err
	})
	return users, err
}

// AttendanceLogs returns the raw log buffer through the live session.
func (r *Registry) AttendanceLogs(ctx context.Context, id string, full bool) ([]device.RawPunch, error) {
	op := "logs"
	if full {
		op = "logs_full"
	}

	var logs []device.RawPunch
	err := r.Borrow(ctx, id, op, func(ctx context.Context, s device.Session) error {
		var err error
		logs, err = s.AttendanceLogs(ctx, full)
		return err
	})
	return logs, err
}

// ClearLog erases the terminal's log buffer.
func (r *Registry) ClearLog(ctx context.Context, id string) error {
	return r.Borrow(ctx, id, "clear_log", func(ctx context.Context, s device.Session) error {
		return s.ClearLog(ctx)
	})
}

// Probe opens a throwaway session to cfg, reads its info and closes it. It is
// used to test a configuration before registering it and never touches
// registered sessions. A terminal that answers with no information fails.
func (r *Registry) Probe(ctx context.Context, cfg device.Config) (device.Info, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return device.Info{}, err
	}

	session, err := withTimeout(ctx, cfg.Timeout,
		func(cctx context.Context) (device.Session, error) {
			return r.driver.CreateSession(cctx, cfg)
		},
		func(late device.Session) { _ = late.Close() },
	)
	if err != nil {
		return device.Info{}, &ConnectError{DeviceID: cfg.DeviceID, Reason: err.Error(), Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("error closing probe session", "address", cfg.Address(), "error", err)
		}
	}()

	info, err := withTimeout(ctx, cfg.Timeout, session.Info, nil)
	if err != nil {
		return device.Info{}, fmt.Errorf("probe %s: %w", cfg.Address(), err)
	}
	if info.IsZero() {
		return device.Info{}, fmt.Errorf("probe %s: device returned no information", cfg.Address())
	}
	return info, nil
}
