package device

import (
	"fmt"

	"github.com/spf13/cast"
)

// DecodeLogs turns a driver payload into raw punches. The payload may be a
// sequence of records or an object whose "data" field is that sequence.
// Elements that are not objects are skipped.
func DecodeLogs(payload any) ([]RawPunch, error) {
	items, err := sequence(payload)
	if err != nil {
		return nil, err
	}

	out := make([]RawPunch, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// DecodeUsers turns a driver payload into users. Identifier fields may be
// strings or numbers.
func DecodeUsers(payload any) ([]User, error) {
	items, err := sequence(payload)
	if err != nil {
		return nil, err
	}

	out := make([]User, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, User{
			UID:    cast.ToString(m["uid"]),
			UserID: cast.ToString(m["userId"]),
			Name:   cast.ToString(m["name"]),
			Role:   cast.ToInt(m["role"]),
			CardNo: cast.ToString(m["cardno"]),
		})
	}
	return out, nil
}

func sequence(payload any) ([]any, error) {
	switch v := payload.(type) {
	case []any:
		return v, nil
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, nil
	case map[string]any:
		if data, ok := v["data"]; ok {
			switch d := data.(type) {
			case []any, []map[string]any:
				return sequence(d)
			}
		}
		return nil, &MalformedLogError{Got: "object without data sequence"}
	case nil:
		return nil, &MalformedLogError{Got: "null"}
	default:
		return nil, &MalformedLogError{Got: fmt.Sprintf("%T", payload)}
	}
}
