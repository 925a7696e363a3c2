package utils

import "sync/atomic"

// DroppableState is the lifecycle of a background loop which can be
// started once and stopped once.
type DroppableState int32

const (
	StateInitializing DroppableState = iota
	StateNormal
	StateDropping
	StateDropped
)

func (s DroppableState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateNormal:
		return "normal"
	case StateDropping:
		return "dropping"
	case StateDropped:
		return "dropped"
	}
	return "unknown"
}

// DroppableStateHolder's zero value is StateInitializing.
type DroppableStateHolder struct {
	v atomic.Int32
}

func (d *DroppableStateHolder) Set(state DroppableState) {
	d.v.Store(int32(state))
}

func (d *DroppableStateHolder) Get() DroppableState {
	return DroppableState(d.v.Load())
}

// Cas moves the state from old to target. On failure the current state is
// returned.
func (d *DroppableStateHolder) Cas(old, target DroppableState) (current DroppableState, swapped bool) {
	if d.v.CompareAndSwap(int32(old), int32(target)) {
		return target, true
	}
	return d.Get(), false
}
