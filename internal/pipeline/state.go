package pipeline

// State is the lifecycle stage of a Pipeline.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// State returns the current lifecycle stage.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	if State(p.state.Swap(int32(s))) == s {
		return
	}
	logs.Diagf("state -> %s", s)
	for _, fn := range p.listeners {
		fn(s)
	}
}
