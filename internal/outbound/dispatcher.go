// Package outbound tracks the CALLs an engine has sent and is waiting on.
package outbound

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDuplicateID indicates a correlation id is already pending.
	ErrDuplicateID = errors.New("duplicate correlation id")
	// ErrClosed indicates the table is closed.
	ErrClosed = errors.New("pending call table closed")
	// ErrTimeout indicates no response arrived within the table's timeout.
	ErrTimeout = errors.New("call timed out")
)

// Pending is one outstanding CALL. It receives exactly one outcome.
type Pending struct {
	id     string
	action string
	sentAt time.Time

	done    chan struct{}
	once    sync.Once
	payload json.RawMessage
	err     error

	timer *time.Timer
}

// ID returns the correlation id.
func (p *Pending) ID() string { return p.id }

// Action returns the action of the CALL, used to pick the response schema.
func (p *Pending) Action() string { return p.action }

// SentAt returns when the call was registered.
func (p *Pending) SentAt() time.Time { return p.sentAt }

// Done is closed once an outcome has been delivered.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Outcome returns the delivered payload or error. It must only be called
// after Done is closed.
func (p *Pending) Outcome() (json.RawMessage, error) { return p.payload, p.err }

// Deliver records the outcome. Only the first delivery has any effect; the
// return value reports whether this call was it.
func (p *Pending) Deliver(payload json.RawMessage, err error) bool {
	delivered := false
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.payload, p.err = payload, err
		close(p.done)
		delivered = true
	})
	return delivered
}

// Table maps correlation ids to pending calls for a single connection.
type Table struct {
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]*Pending
	closed   bool
	closeErr error
}

// New constructs a Table. A positive timeout makes every registered call
// fail with ErrTimeout, and leave the table, if unresolved after timeout.
func New(timeout time.Duration) *Table {
	return &Table{timeout: timeout, pending: make(map[string]*Pending)}
}

// Register creates the pending entry for id.
func (t *Table) Register(id, action string) (*Pending, error) {
	p := &Pending{id: id, action: action, sentAt: time.Now(), done: make(chan struct{})}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, t.closeErr
	}
	if _, exists := t.pending[id]; exists {
		return nil, ErrDuplicateID
	}
	t.pending[id] = p

	if t.timeout > 0 {
		p.timer = time.AfterFunc(t.timeout, func() {
			if t.remove(id, p) {
				p.Deliver(nil, ErrTimeout)
			}
		})
	}
	return p, nil
}

// Resolve removes and returns the entry for id. Unknown ids report false.
func (t *Table) Resolve(id string) (*Pending, bool) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if ok && p.timer != nil {
		p.timer.Stop()
	}
	return p, ok
}

// Remove drops the entry for id without delivering an outcome.
func (t *Table) Remove(id string) bool {
	p, ok := t.Resolve(id)
	return ok && p != nil
}

// Close fails every pending call with err (ErrClosed when nil) and rejects
// further registrations.
func (t *Table) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.closeErr = err
	drained := t.pending
	t.pending = make(map[string]*Pending)
	t.mu.Unlock()

	for _, p := range drained {
		p.Deliver(nil, err)
	}
}

// Len returns the number of pending calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Table) remove(id string, p *Pending) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.pending[id]; ok && cur == p {
		delete(t.pending, id)
		return true
	}
	return false
}
