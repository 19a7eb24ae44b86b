package terminology

// State is a step of the per-request detection pipeline.
type State string

const (
	StateReceived      State = "received"
	StateTier1         State = "tier1_matching"
	StateTier2         State = "tier2_vector_search"
	StateTier3         State = "tier3_fallback_if_empty"
	StateComposing     State = "composing"
	StateDone          State = "done"
	StatePartiallyDone State = "partially_done"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transition can follow.
func (s State) Terminal() bool {
	return s == StateDone || s == StatePartiallyDone || s == StateFailed
}

// Names reported in degradedTiers.
const (
	TierAnalyzer   = "analyzer"
	TierVector     = "vector"
	TierGenerative = "generative"
)

var transitions = map[State][]State{
	StateReceived:  {StateTier1},
	StateTier1:     {StateTier2},
	StateTier2:     {StateTier3, StateComposing},
	StateTier3:     {StateComposing},
	StateComposing: {StateDone, StatePartiallyDone},
}

// CanTransition reports whether the pipeline may move from one state to the
// next. Failed is reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// run tracks one request through the state machine.
type run struct {
	state    State
	trace    []State
	degraded []string
}

func newRun() *run {
	return &run{state: StateReceived, trace: []State{StateReceived}}
}

func (r *run) to(s State) {
	if !CanTransition(r.state, s) {
		panic("terminology: invalid transition " + string(r.state) + " -> " + string(s))
	}
	r.state = s
	r.trace = append(r.trace, s)
}

func (r *run) degrade(tier string) {
	for _, t := range r.degraded {
		if t == tier {
			return
		}
	}
	r.degraded = append(r.degraded, tier)
}

func (r *run) finish() {
	if len(r.degraded) > 0 {
		r.to(StatePartiallyDone)
		return
	}
	r.to(StateDone)
}
