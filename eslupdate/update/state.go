package update

// State is a step of an update job. Jobs move forward only; Failed and Done
// are terminal.
type State int

const (
	Idle State = iota
	Capturing
	Encoding
	Connecting
	Publishing
	Closing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Encoding:
		return "encoding"
	case Connecting:
		return "connecting"
	case Publishing:
		return "publishing"
	case Closing:
		return "closing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// next lists the legal transitions out of each state.
var next = map[State][]State{
	Idle:       {Capturing},
	Capturing:  {Encoding, Failed},
	Encoding:   {Connecting},
	Connecting: {Publishing, Failed},
	Publishing: {Closing, Failed},
	Closing:    {Done},
}

// CanTransition reports whether a job may move from s to to.
func (s State) CanTransition(to State) bool {
	for _, n := range next[s] {
		if n == to {
			return true
		}
	}
	return false
}
