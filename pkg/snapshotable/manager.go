// Package snapshotable provides double-buffered containers for state that is mutated concurrently
// during the live phase of a tick and read from a stable snapshot everywhere else.
//
// Every container keeps a live value that workers write to and a snapshot value that readers see.
// The snapshot only advances when the owning Manager's CopyAll runs during the synchronization
// phase. Readers never block and never observe a value newer than the last synchronization.
package snapshotable

import (
	"sync"

	"github.com/argus-labs/tickcore/pkg/assert"
	"github.com/argus-labs/tickcore/pkg/tickstage"
	"github.com/rotisserie/eris"
)

var (
	// ErrDuplicateRegistration is returned when an instance is registered with a manager twice.
	ErrDuplicateRegistration = eris.New("snapshotable already registered")

	// ErrIndexOutOfRange is returned by positional list operations.
	ErrIndexOutOfRange = eris.New("index out of range")
)

// Snapshotable is a value with a live and a snapshot side.
type Snapshotable interface {
	// CopySnapshot folds the live value into the snapshot. Only the synchronizer calls it, once
	// per tick, never concurrently with itself on the same instance.
	CopySnapshot()
}

// Manager owns the Snapshotable instances of a single owner and advances them together.
type Manager struct {
	stages *tickstage.Tracker

	mu         sync.Mutex
	instances  []Snapshotable
	registered map[Snapshotable]struct{}
}

// NewManager creates a manager whose containers check stages against stages. A nil tracker uses
// the process-wide default.
func NewManager(stages *tickstage.Tracker) *Manager {
	if stages == nil {
		stages = tickstage.Default()
	}
	return &Manager{
		stages:     stages,
		instances:  make([]Snapshotable, 0, 4),
		registered: make(map[Snapshotable]struct{}, 4),
	}
}

// Register adds s to the manager. It must happen before s is first used and must not race with
// CopyAll.
func (m *Manager) Register(s Snapshotable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.registered[s]; exists {
		return eris.Wrapf(ErrDuplicateRegistration, "%T", s)
	}
	m.registered[s] = struct{}{}
	m.instances = append(m.instances, s)
	return nil
}

func (m *Manager) mustRegister(s Snapshotable) {
	assert.NoError(m.Register(s), "failed to register new snapshotable")
}

// CopyAll copies the snapshot of every registered instance in registration order.
func (m *Manager) CopyAll() {
	m.mu.Lock()
	instances := m.instances
	m.mu.Unlock()

	for _, s := range instances {
		s.CopySnapshot()
	}
}

// Len returns the number of registered instances.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

// Stages returns the tracker the manager's containers check against.
func (m *Manager) Stages() *tickstage.Tracker {
	return m.stages
}
