// Package punch turns raw terminal log entries into validated attendance events.
package punch

import (
	"sort"
	"time"
)

// Direction is the inferred meaning of a punch.
type Direction string

const (
	In      Direction = "IN"
	Out     Direction = "OUT"
	Unknown Direction = "UNKNOWN"
)

// Event is a normalized, validated punch. Events are immutable once created.
type Event struct {
	EmployeeRef    string    `json:"employeeRef"`
	OccurredAt     time.Time `json:"occurredAt"`
	Direction      Direction `json:"direction"`
	SourceDeviceID string    `json:"sourceDeviceId"`
}

// Key identifies an event for duplicate suppression. Terminals record
// whole seconds, so sub-second differences are not distinct events.
type Key struct {
	EmployeeRef    string
	OccurredAt     int64
	SourceDeviceID string
}

// Key returns the duplicate-suppression key of e.
func (e Event) Key() Key {
	return Key{
		EmployeeRef:    e.EmployeeRef,
		OccurredAt:     e.OccurredAt.Unix(),
		SourceDeviceID: e.SourceDeviceID,
	}
}

// Dedupe drops later occurrences of an already seen key, preserving order.
func Dedupe(events []Event) []Event {
	seen := make(map[Key]struct{}, len(events))
	out := events[:0:0]
	for _, e := range events {
		k := e.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// SortByTime orders events chronologically. Ties are broken by device and
// direction so the result does not depend on arrival order.
func SortByTime(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if a.SourceDeviceID != b.SourceDeviceID {
			return a.SourceDeviceID < b.SourceDeviceID
		}
		return a.Direction < b.Direction
	})
}
