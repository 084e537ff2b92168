package syncer

import (
	"fmt"
	"strings"
)

// Mode selects how much of a terminal's log buffer is requested.
type Mode string

const (
	// Incremental requests only the terminal's standard log retrieval.
	Incremental Mode = "incremental"
	// Full requests the complete historical buffer, falling back to
	// Incremental when the terminal refuses.
	Full Mode = "full"
)

// ParseMode parses "incremental" or "full". An empty string is Incremental.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Incremental:
		return Incremental, nil
	case Full:
		return Full, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q", s)
	}
}

func (m Mode) full() bool {
	return m == Full
}
