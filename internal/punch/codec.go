package punch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Batch is a group of events from one device sync, as carried on the event bus.
type Batch struct {
	ID       string
	DeviceID string
	SyncedAt time.Time
	Events   []Event
}

// NewBatch stamps events from deviceID with a fresh batch id.
func NewBatch(deviceID string, events []Event) Batch {
	return Batch{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		SyncedAt: time.Now().UTC(),
		Events:   events,
	}
}

// MarshalBatch encodes b as a protobuf Struct.
func MarshalBatch(b Batch) ([]byte, error) {
	events := make([]any, 0, len(b.Events))
	for _, e := range b.Events {
		events = append(events, map[string]any{
			"employeeRef":    e.EmployeeRef,
			"occurredAt":     e.OccurredAt.UTC().Format(time.RFC3339Nano),
			"direction":      string(e.Direction),
			"sourceDeviceId": e.SourceDeviceID,
		})
	}

	s, err := structpb.NewStruct(map[string]any{
		"id":       b.ID,
		"deviceId": b.DeviceID,
		"syncedAt": b.SyncedAt.UTC().Format(time.RFC3339Nano),
		"events":   events,
	})
	if err != nil {
		return nil, fmt.Errorf("build batch message: %w", err)
	}
	return proto.Marshal(s)
}

// UnmarshalBatch decodes a batch produced by MarshalBatch. Times are returned in UTC.
func UnmarshalBatch(data []byte) (Batch, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Batch{}, fmt.Errorf("decode batch message: %w", err)
	}

	fields := s.AsMap()
	b := Batch{
		ID:       cast.ToString(fields["id"]),
		DeviceID: cast.ToString(fields["deviceId"]),
	}
	if ts := cast.ToString(fields["syncedAt"]); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Batch{}, fmt.Errorf("batch %s: syncedAt: %w", b.ID, err)
		}
		b.SyncedAt = t.UTC()
	}

	list, _ := fields["events"].([]any)
	b.Events = make([]Event, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return Batch{}, fmt.Errorf("batch %s: event %d is not an object", b.ID, i)
		}
		at, err := time.Parse(time.RFC3339Nano, cast.ToString(m["occurredAt"]))
		if err != nil {
			return Batch{}, fmt.Errorf("batch %s: event %d: %w", b.ID, i, err)
		}
		b.Events = append(b.Events, Event{
			EmployeeRef:    cast.ToString(m["employeeRef"]),
			OccurredAt:     at.UTC(),
			Direction:      Direction(cast.ToString(m["direction"])),
			SourceDeviceID: cast.ToString(m["sourceDeviceId"]),
		})
	}
	return b, nil
}
