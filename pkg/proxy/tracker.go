package proxy

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/NicolasHaas/poolproxy/pkg/payout"
	"github.com/NicolasHaas/poolproxy/pkg/stratum"
)

// Direction tags which socket a message was read from.
type Direction int

const (
	FromClient Direction = iota
	FromUpstream
)

func (d Direction) String() string {
	if d == FromClient {
		return "->"
	}
	return "<-"
}

// OutcomeKind says what the tracker made of one message.
type OutcomeKind int

const (
	Ignored OutcomeKind = iota
	Authorized
	Submitted
	TargetSet
	ShareAccepted
	ShareRejected
	Unmatched // upstream response whose id is not a pending submit
)

// Outcome is the tracker's verdict on a message. Share is set for ShareAccepted.
type Outcome struct {
	Kind  OutcomeKind
	Share payout.Share
}

// Tracker holds one session's inspected state. The client and upstream
// pumps call it concurrently; each field has a single writer direction but
// the mutex keeps reads from the other direction coherent.
type Tracker struct {
	mu         sync.Mutex
	session    string
	address    string
	target     *big.Int
	pending    []string
	maxPending int
}

// NewTracker creates a tracker keeping at most maxPending unacknowledged
// submit ids (0 means unbounded).
func NewTracker(session string, maxPending int) *Tracker {
	return &Tracker{session: session, maxPending: maxPending}
}

// Handle applies one decoded message read from dir.
func (t *Tracker) Handle(dir Direction, msg *stratum.Message) (Outcome, error) {
	if dir == FromClient {
		return t.handleClient(msg)
	}
	return t.handleUpstream(msg)
}

func (t *Tracker) handleClient(msg *stratum.Message) (Outcome, error) {
	switch msg.Kind() {
	case stratum.MethodAuthorize:
		login, err := msg.StringParam(0)
		if err != nil {
			return Outcome{}, fmt.Errorf("authorize: %w", err)
		}
		// Last login wins, including one without an address.
		address, ok := stratum.AuthorizeAddress(login)
		t.mu.Lock()
		t.address = address
		t.mu.Unlock()
		if !ok {
			return Outcome{}, fmt.Errorf("authorize: login %q has no address segment", login)
		}
		return Outcome{Kind: Authorized}, nil

	case stratum.MethodSubmit:
		id, ok := msg.IDKey()
		if !ok {
			return Outcome{}, fmt.Errorf("submit without id")
		}
		t.mu.Lock()
		t.pending = append(t.pending, id)
		if t.maxPending > 0 && len(t.pending) > t.maxPending {
			t.pending = t.pending[len(t.pending)-t.maxPending:]
		}
		t.mu.Unlock()
		return Outcome{Kind: Submitted}, nil

	default:
		return Outcome{}, nil
	}
}

func (t *Tracker) handleUpstream(msg *stratum.Message) (Outcome, error) {
	if msg.Kind() == stratum.MethodSetTarget {
		hex, err := msg.StringParam(0)
		if err != nil {
			return Outcome{}, fmt.Errorf("set_target: %w", err)
		}
		target, err := stratum.ParseTarget(hex)
		if err != nil {
			return Outcome{}, fmt.Errorf("set_target: %w", err)
		}
		t.mu.Lock()
		t.target = target
		t.mu.Unlock()
		return Outcome{Kind: TargetSet}, nil
	}

	id, ok := msg.IDKey()
	if !ok || msg.HasMethod() {
		return Outcome{}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.takePendingLocked(id) {
		return Outcome{Kind: Unmatched}, nil
	}
	if msg.HasError() {
		return Outcome{Kind: ShareRejected}, nil
	}
	share := payout.Share{
		Session:  t.session,
		SubmitID: id,
		Address:  t.address,
	}
	if t.target != nil {
		share.Target = new(big.Int).Set(t.target)
	}
	return Outcome{Kind: ShareAccepted, Share: share}, nil
}

// takePendingLocked removes the oldest occurrence of id.
func (t *Tracker) takePendingLocked(id string) bool {
	for i, p := range t.pending {
		if p == id {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Address returns the most recently authorized payout address.
func (t *Tracker) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.address
}

// Target returns a copy of the most recent share target, or nil.
func (t *Tracker) Target() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.target == nil {
		return nil
	}
	return new(big.Int).Set(t.target)
}

// Pending returns a snapshot of unacknowledged submit ids, oldest first.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.pending...)
}
