package registry

import (
	"fmt"
	"rtc-soak/session"
	"sync"
)

type JoinState int

const (
	Disconnected JoinState = iota
	Joining
	Joined
	Leaving
)

func (s JoinState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Leaving:
		return "leaving"
	default:
		return fmt.Sprintf("JoinState(%d)", int(s))
	}
}

type SubscribeState int

const (
	Unsubscribed SubscribeState = iota
	Subscribing
	Subscribed
)

func (s SubscribeState) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("SubscribeState(%d)", int(s))
	}
}

// State is a point-in-time copy of a record's mutable fields.
type State struct {
	Join     JoinState
	Sub      SubscribeState
	Assigned session.Identity
}

// Record is one simulated participant bound to a display slot.
//
// The join and subscribe states are only changed through the transition
// methods below. Every transition keeps the record consistent: a record that
// is not joined is never subscribed, and subscribing starts only from joined.
// Transitions return false and leave the record untouched when called from
// the wrong state.
type Record struct {
	Slot    int
	Desired session.Identity
	Session session.Session

	mu       sync.Mutex
	join     JoinState
	sub      SubscribeState
	assigned session.Identity
}

func newRecord(slot int, desired session.Identity, sess session.Session) *Record {
	return &Record{
		Slot:    slot,
		Desired: desired,
		Session: sess,
	}
}

func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{Join: r.join, Sub: r.sub, Assigned: r.assigned}
}

func (r *Record) JoinState() JoinState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.join
}

func (r *Record) SubscribeState() SubscribeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub
}

// Assigned is the identity granted by the channel, zero while not joined.
func (r *Record) Assigned() session.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assigned
}

func (r *Record) BeginJoin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.join != Disconnected {
		return false
	}
	r.join = Joining
	return true
}

func (r *Record) CompleteJoin(assigned session.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.join != Joining {
		return false
	}
	r.join = Joined
	r.assigned = assigned
	return true
}

// AbortJoin reverts a failed join attempt.
func (r *Record) AbortJoin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.join != Joining {
		return false
	}
	r.join = Disconnected
	r.sub = Unsubscribed
	r.assigned = 0
	return true
}

func (r *Record) BeginLeave() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.join != Joined {
		return false
	}
	r.join = Leaving
	return true
}

// CompleteLeave always ends disconnected, whether or not the leave call
// itself succeeded.
func (r *Record) CompleteLeave() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.join != Leaving {
		return false
	}
	r.join = Disconnected
	r.sub = Unsubscribed
	r.assigned = 0
	return true
}

func (r *Record) BeginSubscribe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.join != Joined || r.sub != Unsubscribed {
		return false
	}
	r.sub = Subscribing
	return true
}

func (r *Record) CompleteSubscribe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.join != Joined || r.sub != Subscribing {
		return false
	}
	r.sub = Subscribed
	return true
}

// BeginUnsubscribe only reports whether there is anything to tear down; the
// record stays subscribed until CompleteUnsubscribe.
func (r *Record) BeginUnsubscribe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub == Subscribed
}

func (r *Record) CompleteUnsubscribe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != Subscribed {
		return false
	}
	r.sub = Unsubscribed
	return true
}

func (r *Record) String() string {
	st := r.State()
	return fmt.Sprintf("slot=%d identity=%s join=%s sub=%s", r.Slot, st.Assigned, st.Join, st.Sub)
}
