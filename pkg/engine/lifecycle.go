package engine

import "sync/atomic"

// Lifecycle is the coarse state of an engine, independent of the per-tick stage.
type Lifecycle uint32

const (
	LifecycleInit         Lifecycle = iota // Systems can be registered, state can be restored
	LifecycleRunning                       // Ticking
	LifecycleShuttingDown                  // Received a shutdown signal, finishing the current tick
	LifecycleShutDown                      // Stopped
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleInit:
		return "INIT"
	case LifecycleRunning:
		return "RUNNING"
	case LifecycleShuttingDown:
		return "SHUTTING_DOWN"
	case LifecycleShutDown:
		return "SHUT_DOWN"
	default:
		return "UNDEFINED"
	}
}

type lifecycleManager struct {
	current atomic.Uint32
}

func (m *lifecycleManager) Current() Lifecycle {
	return Lifecycle(m.current.Load())
}

func (m *lifecycleManager) Store(l Lifecycle) {
	m.current.Store(uint32(l))
}

func (m *lifecycleManager) CompareAndSwap(oldState, newState Lifecycle) (swapped bool) {
	return m.current.CompareAndSwap(uint32(oldState), uint32(newState))
}
