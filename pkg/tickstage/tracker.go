package tickstage

import (
	"sync/atomic"

	"github.com/argus-labs/tickcore/pkg/assert"
	"github.com/rotisserie/eris"
)

// ErrStageViolation is returned when an operation is invoked outside the stages it is legal in.
var ErrStageViolation = eris.New("tick stage violation")

// Tracker holds the current stage of the process. Only the tick driver advances it; every other
// caller reads it or checks against it.
type Tracker struct {
	current     atomic.Uint32
	alwaysLegal Set
}

type TrackerOption func(*Tracker)

// WithAlwaysLegal flags stages in which every check passes. Work that runs in those stages must
// not touch per-tick snapshot state.
func WithAlwaysLegal(s Set) TrackerOption {
	return func(t *Tracker) {
		t.alwaysLegal = s
	}
}

// NewTracker creates a tracker positioned at TickStart with Global flagged always-legal.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{alwaysLegal: Of(Global)}
	for _, opt := range opts {
		opt(t)
	}
	t.Store(TickStart)
	return t
}

func (t *Tracker) Current() Stage {
	return Stage(t.current.Load())
}

func (t *Tracker) Store(stage Stage) {
	assert.That(stage.IsValid(), "invalid tick stage %d", stage)
	t.current.Store(uint32(stage))
}

func (t *Tracker) Swap(stage Stage) (old Stage) {
	assert.That(stage.IsValid(), "invalid tick stage %d", stage)
	return Stage(t.current.Swap(uint32(stage)))
}

func (t *Tracker) CompareAndSwap(oldStage, newStage Stage) (swapped bool) {
	assert.That(newStage.IsValid(), "invalid tick stage %d", newStage)
	return t.current.CompareAndSwap(uint32(oldStage), uint32(newStage))
}

// Check returns ErrStageViolation if the current stage is not in allowed.
func (t *Tracker) Check(allowed Set) error {
	current := t.Current()
	if allowed.Contains(current) || t.alwaysLegal.Contains(current) {
		return nil
	}
	return eris.Wrapf(ErrStageViolation, "current stage %s, allowed %s", current, allowed)
}

// MustCheck is Check for callers that cannot recover from a mis-sequenced tick driver.
func (t *Tracker) MustCheck(allowed Set) {
	current := t.Current()
	assert.That(allowed.Contains(current) || t.alwaysLegal.Contains(current),
		"tick stage violation: current stage %s, allowed %s", current, allowed)
}

var defaultTracker = NewTracker() //nolint:gochecknoglobals // process-wide stage

// Default returns the process-wide tracker used by components that are not handed one explicitly.
func Default() *Tracker {
	return defaultTracker
}
