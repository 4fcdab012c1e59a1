package tailer

import "time"

// State is a step of the tail cycle
type State int32

const (
	Idle State = iota
	Detecting
	Reading
	Committing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case Reading:
		return "reading"
	case Committing:
		return "committing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of one tailer
type Status struct {
	Path      string    `json:"path"`
	State     string    `json:"state"`
	Size      int64     `json:"size"`       // Last observed file size
	Committed int64     `json:"committed"`  // Durable offset
	ReadPos   int64     `json:"read_pos"`   // Bytes consumed, including a buffered partial line
	Pending   int       `json:"pending"`    // Buffered partial line bytes
	Pinned    bool      `json:"pinned"`     // A failed line holds the offset
	PinnedAt  int64     `json:"pinned_at"`  // Start of the first failed line
	Rotations int       `json:"rotations"`  // Truncations and rotations seen
	LastError string    `json:"last_error"` // Most recent failure, empty when healthy
	Updated   time.Time `json:"updated"`
}
