package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/session"
)

// State is a step of the session lifecycle.
type State int

const (
	Idle State = iota
	Launching
	Configuring
	Solving
	Extracting
	Closed
	Failed
)

var stateNames = [...]string{"Idle", "Launching", "Configuring", "Solving", "Extracting", "Closed", "Failed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == Closed || s == Failed }

var forward = map[State]State{
	Idle:        Launching,
	Launching:   Configuring,
	Configuring: Solving,
	Solving:     Extracting,
	Extracting:  Closed,
}

// CanTransition allows each state's single successor, and Failed from any
// non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	next, ok := forward[from]
	return ok && next == to
}

// Event is emitted on every state change.
type Event struct {
	SessionID uuid.UUID
	From      State
	To        State
	At        time.Time
	Err       error
}

// Observer receives events synchronously, in order, from the orchestrating
// goroutine. Implementations must not block.
type Observer interface {
	OnTransition(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnTransition(e Event) { f(e) }

// Session is the state of one orchestration. It is owned by the goroutine
// running it and never shared while live.
type Session struct {
	ID            uuid.UUID
	State         State
	SetupName     string
	Sweep         engine.SweepConfig
	Retries       int
	EngineVersion string
	StartedAt     time.Time
	FinishedAt    time.Time
	History       []Event

	lease *session.Lease
}

// Summary is an immutable copy of a finished session.
type Summary struct {
	ID            uuid.UUID          `json:"id"`
	State         string             `json:"state"`
	SetupName     string             `json:"setup_name"`
	Sweep         engine.SweepConfig `json:"sweep"`
	Retries       int                `json:"retries"`
	EngineVersion string             `json:"engine_version"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	Transitions   []string           `json:"transitions"`
}

func (s *Session) Summary() Summary {
	out := Summary{
		ID:            s.ID,
		State:         s.State.String(),
		SetupName:     s.SetupName,
		Sweep:         s.Sweep,
		Retries:       s.Retries,
		EngineVersion: s.EngineVersion,
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
	}
	for _, e := range s.History {
		out.Transitions = append(out.Transitions, e.From.String()+"->"+e.To.String())
	}
	return out
}
