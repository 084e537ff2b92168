package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/timeclock/pkg/generator"
)

// SimulatedConfig holds the configuration for a SimulatedDriver.
type SimulatedConfig struct {
	Seed uint64
	// Users is the number of enrolled users per terminal.
	Users int
	// HistoryDays is how many past days each terminal's buffer starts with.
	HistoryDays int
	// FullSync controls what terminals report for full-buffer requests.
	FullSync Capability
	Location *time.Location
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// SimulatedDriver serves synthetic terminals. Each device id gets its own
// deterministic workforce and log buffer, shared by every session to it.
type SimulatedDriver struct {
	cfg SimulatedConfig

	mu        sync.Mutex
	terminals map[string]*simTerminal
}

type simTerminal struct {
	mu      sync.Mutex
	profile *generator.Terminal
	staff   []generator.Employee
	gen     *generator.PunchGenerator
	logs    []RawPunch
	through time.Time // buffer contains every day before this
	// read marks how much of logs the last incremental read returned
	read int
}

// NewSimulatedDriver creates a simulated driver.
func NewSimulatedDriver(cfg *SimulatedConfig) (*SimulatedDriver, error) {
	if cfg == nil {
		return nil, errors.New("simulated driver config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	c := *cfg
	if c.Users <= 0 {
		c.Users = 25
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = 7
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &SimulatedDriver{cfg: c, terminals: make(map[string]*simTerminal)}, nil
}

func (d *SimulatedDriver) terminal(id string) *simTerminal {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.terminals[id]; ok {
		return t
	}

	seed := d.cfg.Seed
	for _, c := range id {
		seed = seed*31 + uint64(c)
	}
	faker := gofakeit.New(seed)
	staff := generator.NewWorkforce(faker, d.cfg.Users)

	y, m, day := d.cfg.Now().In(d.cfg.Location).Date()
	today := time.Date(y, m, day, 0, 0, 0, 0, d.cfg.Location)

	profile := generator.NewTerminal(faker)
	if profile == nil {
		profile = &generator.Terminal{Serial: id, Name: id}
	}

	t := &simTerminal{
		profile: profile,
		staff:   staff,
		gen:     generator.NewPunchGenerator(faker, staff, generator.DefaultRates(), d.cfg.Location),
		through: today.AddDate(0, 0, -d.cfg.HistoryDays),
	}
	d.terminals[id] = t
	return t
}

// CreateSession implements Driver.
func (d *SimulatedDriver) CreateSession(ctx context.Context, cfg Config) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.IP == "" {
		return nil, fmt.Errorf("simulated terminal %q has no address", cfg.DeviceID)
	}
	d.cfg.Logger.Debug("simulated session opened", "device_id", cfg.DeviceID)
	return &simSession{driver: d, term: d.terminal(cfg.DeviceID)}, nil
}

type simSession struct {
	driver *SimulatedDriver
	term   *simTerminal
	closed bool
}

// advance appends generated punches for every elapsed day, including today.
func (s *simSession) advance() {
	now := s.driver.cfg.Now().In(s.driver.cfg.Location)
	for !s.term.through.After(now) {
		s.term.logs = append(s.term.logs, s.term.gen.Day(s.term.through)...)
		s.term.through = s.term.through.AddDate(0, 0, 1)
	}
}

func (s *simSession) check(ctx context.Context) error {
	if s.closed {
		return errors.New("session closed")
	}
	return ctx.Err()
}

func (s *simSession) FullSyncSupport() Capability {
	return s.driver.cfg.FullSync
}

func (s *simSession) Info(ctx context.Context) (Info, error) {
	if err := s.check(ctx); err != nil {
		return Info{}, err
	}
	s.term.mu.Lock()
	defer s.term.mu.Unlock()
	s.advance()

	return Info{
		SerialNumber: s.term.profile.Serial,
		DeviceName:   s.term.profile.Name,
		Firmware:     s.term.profile.Firmware,
		UserCount:    len(s.term.staff),
		LogCount:     len(s.term.logs),
		LogCapacity:  s.term.profile.LogCapacity,
	}, nil
}

func (s *simSession) Users(ctx context.Context) ([]User, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.term.mu.Lock()
	defer s.term.mu.Unlock()

	users := make([]User, 0, len(s.term.staff))
	for _, e := range s.term.staff {
		users = append(users, User{UID: e.UID, UserID: e.UID, Name: e.Name, CardNo: e.CardNumber})
	}
	return users, nil
}

// AttendanceLogs returns the whole buffer for full requests and the entries
// added since the previous incremental read otherwise.
func (s *simSession) AttendanceLogs(ctx context.Context, full bool) ([]RawPunch, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if full && s.driver.cfg.FullSync == CapabilityUnsupported {
		return nil, ErrFullSyncUnsupported
	}

	s.term.mu.Lock()
	defer s.term.mu.Unlock()
	s.advance()

	from := s.term.read
	if full {
		from = 0
	}
	out := make([]RawPunch, len(s.term.logs)-from)
	copy(out, s.term.logs[from:])
	s.term.read = len(s.term.logs)
	return out, nil
}

func (s *simSession) ClearLog(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.term.mu.Lock()
	defer s.term.mu.Unlock()
	s.term.logs = nil
	s.term.read = 0
	return nil
}

func (s *simSession) Close() error {
	s.closed = true
	return nil
}

var (
	_ Driver             = (*SimulatedDriver)(nil)
	_ FullSyncCapability = (*simSession)(nil)
)
