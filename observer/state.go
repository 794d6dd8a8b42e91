package observer

// Status is the circuit state of one observer.
type Status uint8

const (
	// StatusEnabled observers receive every matching event.
	StatusEnabled Status = iota
	// StatusDisabled observers are skipped until a probe is due.
	StatusDisabled
	// StatusProbing observers have exactly one probe dispatch in flight.
	StatusProbing
)

func (s Status) String() string {
	switch s {
	case StatusEnabled:
		return "enabled"
	case StatusDisabled:
		return "disabled"
	case StatusProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// State is the tagged breaker state of an observer: its status plus the
// consecutive failure and probe success counters.
type State struct {
	Status    Status
	Failures  uint32
	Successes uint32
}

const counterMask = 1<<24 - 1

// pack encodes a State into one word so it can be swapped atomically.
// Layout: bits 0-7 status, 8-31 failures, 32-55 successes.
func (s State) pack() uint64 {
	f := uint64(min(s.Failures, counterMask))
	ok := uint64(min(s.Successes, counterMask))
	return uint64(s.Status) | f<<8 | ok<<32
}

func unpack(v uint64) State {
	return State{
		Status:    Status(v & 0xff),
		Failures:  uint32(v >> 8 & counterMask),
		Successes: uint32(v >> 32 & counterMask),
	}
}

// transition is the pure breaker state machine. probe reports whether the
// outcome belongs to a probe dispatch. It returns the next state.
func (s State) transition(success, probe bool, failureThreshold, recoveryThreshold uint32) State {
	switch s.Status {
	case StatusEnabled:
		if probe {
			return s
		}
		if success {
			return State{Status: StatusEnabled}
		}
		s.Failures++
		if s.Failures >= failureThreshold {
			return State{Status: StatusDisabled, Failures: s.Failures}
		}
		return s
	case StatusProbing:
		if !probe {
			return s
		}
		if !success {
			return State{Status: StatusDisabled, Failures: s.Failures}
		}
		s.Successes++
		if s.Successes >= recoveryThreshold {
			return State{Status: StatusEnabled}
		}
		return State{Status: StatusDisabled, Failures: s.Failures, Successes: s.Successes}
	default:
		// Stale outcomes from dispatches admitted before the breaker opened.
		return s
	}
}
