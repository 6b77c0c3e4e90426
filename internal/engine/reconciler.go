package engine

import "time"

// Phase is the reconciler state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseFetching:
		return "fetching"
	case PhaseSettled:
		return "settled"
	default:
		return "idle"
	}
}

// Ticket tags a fetch with the generation that issued it.
type Ticket struct {
	Date       time.Time
	Generation uint64
}

// SelectionState is a snapshot of the reconciler.
type SelectionState struct {
	ActiveDate    *time.Time
	Generation    uint64
	Phase         Phase
	Transitioning bool
	Discarded     uint64
}

// Reconciler decides which fetch result may reach the view.
// Only the ticket of the latest selection can settle; everything else is
// discarded silently. It is not safe for concurrent use; the engine loop owns it.
type Reconciler struct {
	phase      Phase
	active     *time.Time
	generation uint64
	result     SlotsResult

	// transitioning is set by SelectWeek and cleared by the next settle.
	// While set, only tickets issued after transitionGen may settle.
	transitioning bool
	transitionGen uint64

	discarded uint64
}

// NewReconciler returns an idle reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Select makes date the active date and returns the ticket for its fetch.
// Selecting the active date again still opens a new generation.
func (r *Reconciler) Select(date time.Time) Ticket {
	r.generation++
	d := date
	r.active = &d
	r.phase = PhaseFetching
	r.result = nil
	return Ticket{Date: date, Generation: r.generation}
}

// SelectWeek applies a week change and always raises the transition guard.
// It never starts a fetch. When the active date is outside w it is cleared
// and any outstanding fetch is invalidated; when it stays visible, only the
// current ticket may still settle. It reports whether the active date was
// cleared.
func (r *Reconciler) SelectWeek(w WeekWindow) bool {
	r.transitioning = true
	if r.active != nil && w.Contains(*r.active) {
		if r.generation > 0 {
			r.transitionGen = r.generation - 1
		}
		return false
	}
	r.generation++
	r.active = nil
	r.phase = PhaseIdle
	r.result = nil
	r.transitionGen = r.generation
	return true
}

// Complete offers the result of the fetch identified by t.
// It returns true when the result settles the current selection and must be
// published, false when it was superseded.
func (r *Reconciler) Complete(t Ticket, res SlotsResult) bool {
	if t.Generation != r.generation || r.phase != PhaseFetching {
		r.discarded++
		return false
	}
	if r.transitioning && t.Generation <= r.transitionGen {
		r.discarded++
		return false
	}
	if _, loading := res.(Loading[[]IntervalScheduleTimeSlot]); loading || res == nil {
		return false
	}
	r.phase = PhaseSettled
	r.result = res
	r.transitioning = false
	return true
}

// Current returns the ticket of the in-flight fetch, if any.
func (r *Reconciler) Current() (Ticket, bool) {
	if r.phase != PhaseFetching || r.active == nil {
		return Ticket{}, false
	}
	return Ticket{Date: *r.active, Generation: r.generation}, true
}

// Result returns the settled result, nil unless the phase is PhaseSettled.
func (r *Reconciler) Result() SlotsResult {
	return r.result
}

// State returns a snapshot safe to hand to other goroutines.
func (r *Reconciler) State() SelectionState {
	st := SelectionState{
		Generation:    r.generation,
		Phase:         r.phase,
		Transitioning: r.transitioning,
		Discarded:     r.discarded,
	}
	if r.active != nil {
		d := *r.active
		st.ActiveDate = &d
	}
	return st
}
