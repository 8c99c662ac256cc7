package payout

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory Gateway. It pays every request unless Decline or Err
// is set, and remembers what it did so Status can answer for it.
type Fake struct {
	mu      sync.Mutex
	Decline string
	Err     error
	calls   []Request
	states  map[uuid.UUID]Status
}

func NewFake() *Fake {
	return &Fake{states: make(map[uuid.UUID]Status)}
}

func (f *Fake) Payout(_ context.Context, req Request) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Decline != "" {
		f.states[req.Reference] = Status{State: StateFailed, Reason: f.Decline}
		return &Result{Success: false, Reason: f.Decline}, nil
	}
	ref := fmt.Sprintf("fake-%s", req.Reference)
	f.states[req.Reference] = Status{State: StatePaid, ExternalRef: ref}
	return &Result{Success: true, ExternalRef: ref}, nil
}

func (f *Fake) Status(_ context.Context, reference uuid.UUID) (*Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[reference]
	if !ok {
		return &Status{State: StateNotFound}, nil
	}
	return &st, nil
}

// SetState overrides what Status reports for a reference.
func (f *Fake) SetState(reference uuid.UUID, st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[reference] = st
}

// Calls returns the payout requests received so far.
func (f *Fake) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.calls...)
}
