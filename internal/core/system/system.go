package system

import "time"

// Phase defines execution ordering within a single frame.
type Phase int

const (
	PhaseTimers     Phase = iota // 0: scheduler pass within the frame budget
	PhaseEvents                  // 1: pump events posted last frame
	PhaseUpdate                  // 2: onStart / onUpdate
	PhasePostUpdate              // 3: metrics, gauges
	PhasePersist                 // 4: fault journal flush
	PhaseCleanup                 // 5: destroy queued entities
)

func (p Phase) String() string {
	switch p {
	case PhaseTimers:
		return "timers"
	case PhaseEvents:
		return "events"
	case PhaseUpdate:
		return "update"
	case PhasePostUpdate:
		return "post-update"
	case PhasePersist:
		return "persist"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is the interface every frame system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
