package system

import (
	"time"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	coresys "github.com/l1jgo/scriptrt/internal/core/system"
)

// CleanupSystem flushes the deferred entity destruction queue at frame end.
// The world notifies its destroy listeners, which run the behavior destroy
// protocol. Phase 5 (Cleanup).
type CleanupSystem struct {
	world *ecs.World
	last  int
}

func NewCleanupSystem(world *ecs.World) *CleanupSystem {
	return &CleanupSystem{world: world}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.last = s.world.FlushDestroyQueue()
}

// Last returns how many entities the latest flush destroyed.
func (s *CleanupSystem) Last() int { return s.last }
