package scripting

import (
	"errors"
	"fmt"
	"time"

	"github.com/l1jgo/scriptrt/internal/capability"
	"github.com/l1jgo/scriptrt/internal/core/ecs"
)

var (
	ErrAlreadyAttached = errors.New("scripting: entity already has a behavior")
	ErrNoEntity        = errors.New("scripting: zero entity id")
	ErrNoHooks         = errors.New("scripting: behavior defines no lifecycle hooks")
	ErrNoBuilder       = errors.New("scripting: host has no capability builder")
)

// AttachmentError reports a duplicate attach.
type AttachmentError struct {
	Entity ecs.EntityID
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attach entity %s: %v", e.Entity, ErrAlreadyAttached)
}

func (e *AttachmentError) Is(target error) bool { return target == ErrAlreadyAttached }

// State of a behavior instance. Transitions only move forward.
type State uint8

const (
	Uninitialized State = iota
	Running
	Destroyed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Destroyed:
		return "destroyed"
	}
	return "unknown"
}

// Behavior is a validated set of optional lifecycle hooks.
//
// Bind, when set, receives the entity's surface at attach time, before any
// hook runs. Release, when set, runs once after the instance is destroyed.
type Behavior struct {
	Name   string
	Params map[string]any

	OnStart   func(api *capability.API) error
	OnUpdate  func(api *capability.API, dt time.Duration) error
	OnDestroy func(api *capability.API) error

	Bind    func(api *capability.API)
	Release func()
}

func (b Behavior) hasHooks() bool {
	return b.OnStart != nil || b.OnUpdate != nil || b.OnDestroy != nil
}

// Instance is one attached behavior.
type Instance struct {
	entity   ecs.EntityID
	behavior Behavior
	state    State
	api      *capability.API
	failures int
}

func (i *Instance) Entity() ecs.EntityID { return i.entity }
func (i *Instance) Name() string         { return i.behavior.Name }
func (i *Instance) State() State         { return i.state }
func (i *Instance) API() *capability.API { return i.api }
func (i *Instance) Failures() int        { return i.failures }
func (i *Instance) HasDestroyHook() bool { return i.behavior.OnDestroy != nil }
