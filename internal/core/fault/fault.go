// Package fault is the invocation boundary for behavior-authored callbacks.
// Every hook, timer and event handler runs through a Guard, which recovers
// panics, logs failures with the owning entity and callback kind, and forwards
// them to an optional Reporter. A failure never propagates to the caller.
package fault

import (
	"fmt"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"go.uber.org/zap"
)

// Kind names the callback site that failed.
type Kind string

const (
	KindStart   Kind = "onStart"
	KindUpdate  Kind = "onUpdate"
	KindDestroy Kind = "onDestroy"
	KindTimer   Kind = "timer"
	KindEvent   Kind = "event"
)

// CallbackError wraps an error returned (or a panic raised) by a callback.
type CallbackError struct {
	Entity ecs.EntityID
	Kind   Kind
	Detail string // behavior name, timer id or event name
	Err    error
}

func (e *CallbackError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s callback of entity %s (%s): %v", e.Kind, e.Entity, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s callback of entity %s: %v", e.Kind, e.Entity, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// PanicError carries a recovered panic value.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic: %v", p.Value) }

// Reporter receives every callback failure after it has been logged. It is the
// host's hook for policies such as disabling a repeatedly failing behavior.
// Reporters run on the frame loop and must not block.
type Reporter func(*CallbackError)

// Guard runs callbacks under panic recovery.
type Guard struct {
	log      *zap.Logger
	reporter Reporter
	failures uint64
}

func NewGuard(log *zap.Logger, reporter Reporter) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{log: log, reporter: reporter}
}

// SetReporter replaces the reporter. Pass nil to stop reporting.
func (g *Guard) SetReporter(r Reporter) { g.reporter = r }

// Failures returns how many callbacks have failed so far.
func (g *Guard) Failures() uint64 { return g.failures }

// Run invokes fn and returns the resulting CallbackError, or nil on success.
func (g *Guard) Run(entity ecs.EntityID, kind Kind, detail string, fn func() error) *CallbackError {
	err := invoke(fn)
	if err == nil {
		return nil
	}
	cbErr := &CallbackError{Entity: entity, Kind: kind, Detail: detail, Err: err}
	g.failures++
	g.log.Error("behavior callback failed",
		zap.Uint64("entity", uint64(entity)),
		zap.String("callback", string(kind)),
		zap.String("detail", detail),
		zap.Error(err),
	)
	if g.reporter != nil {
		g.reporter(cbErr)
	}
	return cbErr
}

func invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
