// Package tickstage tracks which phase of the tick the process is in and rejects operations that
// are invoked outside the phases they are legal in.
package tickstage

import (
	"math/bits"
	"strings"

	"github.com/rotisserie/eris"
)

// Stage is a single phase of a tick. Each stage occupies one bit so stages can be combined into a
// Set and checked with a single mask.
type Stage uint32

const (
	TickStart   Stage = 1 << iota // Global tasks queued since the last tick are drained
	Stage1                        // First live phase: workers mutate live values
	Stage2P                       // Second live phase: post-update systems
	Finalize                      // Entity finalize: removals and region migration
	PreSnapshot                   // Live mutation has stopped, dirty lists are queryable
	Snapshot                      // Live values are folded into snapshots
	Global                        // Serial global work, outside the per-tick sequence
)

// Sequence is the order the tick driver moves through the sequential stages.
var Sequence = []Stage{TickStart, Stage1, Stage2P, Finalize, PreSnapshot, Snapshot} //nolint:gochecknoglobals // read-only

var stageNames = map[Stage]string{ //nolint:gochecknoglobals // read-only
	TickStart:   "TICKSTART",
	Stage1:      "STAGE1",
	Stage2P:     "STAGE2P",
	Finalize:    "FINALIZE",
	PreSnapshot: "PRESNAPSHOT",
	Snapshot:    "SNAPSHOT",
	Global:      "GLOBAL",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "UNDEFINED"
}

// IsValid reports whether s is exactly one known stage.
func (s Stage) IsValid() bool {
	_, ok := stageNames[s]
	return ok
}

// ParseStage converts a stage name (case-insensitive) to a Stage.
func ParseStage(name string) (Stage, error) {
	upper := strings.ToUpper(name)
	for stage, n := range stageNames {
		if n == upper {
			return stage, nil
		}
	}
	return 0, eris.Errorf("invalid tick stage: %s", name)
}

// -------------------------------------------------------------------------------------------------
// Stage sets
// -------------------------------------------------------------------------------------------------

// Set is a bitmask of stages.
type Set uint32

const (
	// None matches no stage. A check against None always fails unless the current stage is flagged
	// always-legal.
	None Set = 0

	// Live is the live mutation window.
	Live = Set(Stage1) | Set(Stage2P)

	// Mutable covers every stage where live values may change, which is everything except the
	// synchronization window.
	Mutable = Set(TickStart) | Live | Set(Finalize) | Set(Global)

	// Generation is where regions may be created on demand.
	Generation = Mutable

	// Synchronization is the window between the end of finalize and the start of the next tick.
	Synchronization = Set(PreSnapshot) | Set(Snapshot)

	// Any matches every stage.
	Any = Set(TickStart) | Live | Set(Finalize) | Synchronization | Set(Global)
)

// Of builds a Set out of stages.
func Of(stages ...Stage) Set {
	var s Set
	for _, stage := range stages {
		s |= Set(stage)
	}
	return s
}

// Not returns every known stage that is not in s.
func Not(s Set) Set {
	return Any &^ s
}

func (s Set) Contains(stage Stage) bool {
	return s&Set(stage) != 0
}

func (s Set) Len() int {
	return bits.OnesCount32(uint32(s))
}

func (s Set) String() string {
	if s == None {
		return "{}"
	}
	var names []string
	for bit := Set(1); bit != 0 && bit <= s; bit <<= 1 {
		if s&bit != 0 {
			names = append(names, Stage(bit).String())
		}
	}
	return "{" + strings.Join(names, "|") + "}"
}
