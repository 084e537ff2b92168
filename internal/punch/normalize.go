package punch

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"procodus.dev/timeclock/internal/device"
	"procodus.dev/timeclock/pkg/metrics"
)

// MinYear is the earliest plausible punch year. Terminals with a reset clock
// report dates around 2000.
const MinYear = 2020

// IdentifierAliases lists the fields that may carry the user identifier, in
// priority order. See Identifier for how an alias is chosen.
var IdentifierAliases = []string{"uid", "deviceUserId", "userId", "id", "userSn", "user_id", "employeeId"}

// TimestampAliases lists the fields that may carry the record time, in priority order.
var TimestampAliases = []string{"recordTime", "record_time", "timestamp"}

var (
	stateAliases = []string{"state"}
	typeAliases  = []string{"type", "verifyType"}
)

// Reason classifies a rejected punch.
type Reason string

const (
	ReasonBadTimestamp      Reason = "bad_timestamp"
	ReasonMissingIdentifier Reason = "missing_identifier"
)

// ErrRejected matches any RejectedError.
var ErrRejected = errors.New("punch rejected")

// RejectedError reports why a raw punch was not turned into an event.
type RejectedError struct {
	Reason Reason
	Detail string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("punch rejected (%s): %s", e.Reason, e.Detail)
}

// Is makes errors.Is(err, ErrRejected) match.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Config holds the configuration for a Normalizer.
type Config struct {
	// Location interprets timestamps without a zone. Defaults to time.Local.
	Location   *time.Location
	Directions DirectionTable
	Logger     *slog.Logger
	Metrics    *metrics.SyncMetrics
}

// Normalizer validates and canonicalizes raw punches. It holds no state
// between calls.
type Normalizer struct {
	loc        *time.Location
	directions DirectionTable
	logger     *slog.Logger
	metrics    *metrics.SyncMetrics
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(cfg *Config) (*Normalizer, error) {
	if cfg == nil {
		return nil, errors.New("normalizer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	dirs := cfg.Directions
	if dirs.ByState == nil && dirs.ByPair == nil {
		dirs = DefaultDirections()
	}

	return &Normalizer{
		loc:        loc,
		directions: dirs,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Normalize converts one raw punch from sourceDeviceID into an Event, or
// returns a *RejectedError.
func (n *Normalizer) Normalize(raw device.RawPunch, sourceDeviceID string) (Event, error) {
	at, err := n.timestamp(raw)
	if err != nil {
		n.logger.Debug("discarding punch with invalid timestamp",
			"device_id", sourceDeviceID,
			"error", err)
		return Event{}, &RejectedError{Reason: ReasonBadTimestamp, Detail: err.Error()}
	}

	ref, ok := Identifier(raw)
	if !ok {
		n.logger.Warn("discarding punch without a usable identifier",
			"device_id", sourceDeviceID,
			"occurred_at", at)
		return Event{}, &RejectedError{Reason: ReasonMissingIdentifier, Detail: "no identifier alias holds a usable value"}
	}

	state := cast.ToInt(first(raw, stateAliases))
	typ := cast.ToInt(first(raw, typeAliases))

	return Event{
		EmployeeRef:    ref,
		OccurredAt:     at,
		Direction:      n.directions.Resolve(state, typ),
		SourceDeviceID: sourceDeviceID,
	}, nil
}

// NormalizeBatch normalizes raws, drops rejected entries and duplicates.
func (n *Normalizer) NormalizeBatch(raws []device.RawPunch, sourceDeviceID string) []Event {
	events := make([]Event, 0, len(raws))
	rejected := map[Reason]int{}

	for _, raw := range raws {
		e, err := n.Normalize(raw, sourceDeviceID)
		if err != nil {
			var re *RejectedError
			if errors.As(err, &re) {
				rejected[re.Reason]++
			}
			continue
		}
		events = append(events, e)
	}

	if n.metrics != nil {
		for reason, count := range rejected {
			n.metrics.RecordsRejected.WithLabelValues(sourceDeviceID, string(reason)).Add(float64(count))
		}
	}
	if len(rejected) > 0 {
		n.logger.Info("rejected punches in batch",
			"device_id", sourceDeviceID,
			"bad_timestamp", rejected[ReasonBadTimestamp],
			"missing_identifier", rejected[ReasonMissingIdentifier],
			"accepted", len(events))
	}

	return Dedupe(events)
}

// Identifier returns the trimmed user identifier of raw. The first alias in
// IdentifierAliases holding a non-empty value is used: nil, false, numeric
// zero and the empty string pass on to the next alias. A chosen value that
// trims to nothing or to "0" makes the punch unusable; later aliases are not
// consulted.
func Identifier(raw device.RawPunch) (string, bool) {
	for _, alias := range IdentifierAliases {
		v, ok := raw[alias]
		if !ok || empty(v) {
			continue
		}
		s := strings.TrimSpace(cast.ToString(v))
		if s == "" || s == "0" {
			return "", false
		}
		return s, true
	}
	return "", false
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	}
	if f, err := cast.ToFloat64E(v); err == nil {
		return f == 0
	}
	return false
}

func first(raw device.RawPunch, aliases []string) any {
	for _, alias := range aliases {
		if v, ok := raw[alias]; ok && v != nil {
			return v
		}
	}
	return nil
}

func (n *Normalizer) timestamp(raw device.RawPunch) (time.Time, error) {
	v := first(raw, TimestampAliases)
	if v == nil {
		return time.Time{}, errors.New("no timestamp field")
	}

	t, err := ParseTime(v, n.loc)
	if err != nil {
		return time.Time{}, err
	}
	if y := t.In(n.loc).Year(); y < MinYear {
		return time.Time{}, fmt.Errorf("year %d before %d", y, MinYear)
	}
	return t, nil
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e12

// jsDate matches the string form of a JavaScript Date, e.g.
// "Mon Mar 04 2024 09:00:00 GMT+0530 (India Standard Time)".
var jsDate = regexp.MustCompile(`^(\w{3} \w{3} \d{2} \d{4} \d{2}:\d{2}:\d{2} GMT[+-]\d{4})`)

// ParseTime interprets a terminal timestamp. It accepts time.Time values,
// epoch seconds or milliseconds, RFC 3339 and common date-time strings, and
// JavaScript Date strings. Values without a zone are read in loc.
func ParseTime(v any, loc *time.Location) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, errors.New("zero time")
		}
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, errors.New("empty timestamp")
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(i), nil
		}
		if m := jsDate.FindStringSubmatch(s); m != nil {
			return time.Parse("Mon Jan 02 2006 15:04:05 GMT-0700", m[1])
		}
		return cast.ToTimeInDefaultLocationE(s, loc)
	case bool:
		return time.Time{}, fmt.Errorf("unusable timestamp %v", t)
	default:
		i, err := cast.ToInt64E(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("unusable timestamp %v: %w", v, err)
		}
		return fromEpoch(i), nil
	}
}

func fromEpoch(i int64) time.Time {
	if i > epochMillisThreshold || i < -epochMillisThreshold {
		return time.UnixMilli(i)
	}
	return time.Unix(i, 0)
}
