package punch

// Terminal state codes.
const (
	StateCheckIn     = 0
	StateCheckOut    = 1
	StateBreakOut    = 2
	StateBreakIn     = 3
	StateOvertimeIn  = 4
	StateOvertimeOut = 5
)

// DirectionTable maps terminal state/type codes to a direction.
// An exact (state, type) pair wins over a state-only entry.
type DirectionTable struct {
	ByState map[int]Direction
	ByPair  map[[2]int]Direction
}

// DefaultDirections returns the table for the standard terminal state codes.
func DefaultDirections() DirectionTable {
	return DirectionTable{
		ByState: map[int]Direction{
			StateCheckIn:     In,
			StateCheckOut:    Out,
			StateBreakOut:    Out,
			StateBreakIn:     In,
			StateOvertimeIn:  In,
			StateOvertimeOut: Out,
		},
	}
}

// Resolve returns the direction for the code pair, or Unknown.
func (t DirectionTable) Resolve(state, typ int) Direction {
	if d, ok := t.ByPair[[2]int{state, typ}]; ok {
		return d
	}
	if d, ok := t.ByState[state]; ok {
		return d
	}
	return Unknown
}
