package harvest

import "fmt"

// State is a step of the orchestrator's per-crawl state machine.
type State int

const (
	Idle State = iota
	FilterSelected
	AwaitingSettle
	PageReady
	Paginating
	FilterDone
	AllFiltersDone
)

var stateNames = map[State]string{
	Idle:           "idle",
	FilterSelected: "filter_selected",
	AwaitingSettle: "awaiting_settle",
	PageReady:      "page_ready",
	Paginating:     "paginating",
	FilterDone:     "filter_done",
	AllFiltersDone: "all_filters_done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Every in-filter state may fall through to FilterDone when the iteration is
// aborted.
var transitions = map[State][]State{
	Idle:           {FilterSelected, AllFiltersDone},
	FilterSelected: {AwaitingSettle, FilterDone},
	AwaitingSettle: {PageReady, FilterDone},
	PageReady:      {Paginating, FilterDone},
	Paginating:     {PageReady, FilterDone},
	FilterDone:     {FilterSelected, AllFiltersDone},
}

type machine struct {
	state State
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal state transition %s -> %s", m.state, next)
}
