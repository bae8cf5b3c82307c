package workerd

import "sync"

// SlotState is one worker slot's position in the state machine of spec
// §4.8: "Free → Reserved (on incoming Job acceptance) → Transferring
// (tool/file sync) → Running → Reporting → Free. Any transition may
// short-circuit to Free on error or loss of connection, killing any
// spawned child."
type SlotState uint8

const (
	Free SlotState = iota
	Reserved
	Transferring
	Running
	Reporting
)

func (s SlotState) String() string {
	switch s {
	case Free:
		return "Free"
	case Reserved:
		return "Reserved"
	case Transferring:
		return "Transferring"
	case Running:
		return "Running"
	case Reporting:
		return "Reporting"
	default:
		return "Unknown"
	}
}

// Slot is one unit of worker execution capacity.
type Slot struct {
	mu    sync.Mutex
	state SlotState
}

func (s *Slot) State() SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transitions enumerates every legal (from, to) edge of the state
// machine, including the any-state-to-Free short-circuit on error or
// connection loss.
var transitions = map[SlotState]map[SlotState]bool{
	Free:         {Reserved: true},
	Reserved:     {Transferring: true, Running: true, Free: true},
	Transferring: {Running: true, Free: true},
	Running:      {Reporting: true, Free: true},
	Reporting:    {Free: true},
}

// ErrIllegalTransition is returned by Slot.Transition when to is not
// reachable from the slot's current state.
type ErrIllegalTransition struct {
	From, To SlotState
}

func (e *ErrIllegalTransition) Error() string {
	return e.From.String() + " -> " + e.To.String() + " is not a legal slot transition"
}

// Transition moves the slot to to, or returns ErrIllegalTransition if the
// edge doesn't exist in the state machine above.
func (s *Slot) Transition(to SlotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !transitions[s.state][to] {
		return &ErrIllegalTransition{From: s.state, To: to}
	}
	s.state = to
	return nil
}

// Abort short-circuits the slot straight to Free, per spec §4.8 "Any
// transition may short-circuit to Free on error or loss of connection".
// Unlike Transition, this always succeeds: it models an external failure,
// not a protocol step.
func (s *Slot) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Free
}

// Pool is a fixed set of Slots a worker admits Jobs against.
type Pool struct {
	slots []*Slot
}

// NewPool creates a Pool of n Free slots.
func NewPool(n int) *Pool {
	p := &Pool{slots: make([]*Slot, n)}
	for i := range p.slots {
		p.slots[i] = &Slot{}
	}
	return p
}

// Reserve finds a Free slot and transitions it to Reserved, implementing
// admission control (spec §4.8 "Accept a connection only if ... it has
// free slots"). Returns nil if none are free.
func (p *Pool) Reserve() *Slot {
	for _, s := range p.slots {
		if s.Transition(Reserved) == nil {
			return s
		}
	}
	return nil
}

// Free reports how many slots are currently Free.
func (p *Pool) Free() int {
	n := 0
	for _, s := range p.slots {
		if s.State() == Free {
			n++
		}
	}
	return n
}

// Len reports the Pool's total slot count.
func (p *Pool) Len() int { return len(p.slots) }
