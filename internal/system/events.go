package system

import (
	"time"

	"github.com/l1jgo/scriptrt/internal/core/event"
	coresys "github.com/l1jgo/scriptrt/internal/core/system"
)

// EventPumpSystem swaps the bus double-buffer and delivers events posted
// during the previous frame. Phase 1 (Events).
type EventPumpSystem struct {
	bus *event.Bus
}

func NewEventPumpSystem(bus *event.Bus) *EventPumpSystem {
	return &EventPumpSystem{bus: bus}
}

func (s *EventPumpSystem) Phase() coresys.Phase { return coresys.PhaseEvents }

func (s *EventPumpSystem) Update(_ time.Duration) {
	s.bus.Pump()
}
