package system

import (
	"time"

	coresys "github.com/l1jgo/scriptrt/internal/core/system"
	"github.com/l1jgo/scriptrt/internal/scripting"
)

// ScriptSystem starts and updates attached behaviors. Phase 2 (Update).
type ScriptSystem struct {
	host *scripting.Host
}

func NewScriptSystem(host *scripting.Host) *ScriptSystem {
	return &ScriptSystem{host: host}
}

func (s *ScriptSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *ScriptSystem) Update(dt time.Duration) {
	s.host.Tick(dt)
}
