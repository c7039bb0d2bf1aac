package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp"
)

// completion is the single outcome delivered to a pending call.
type completion struct {
	payload json.RawMessage
	err     error
}

type pendingCall struct {
	id       string
	action   string
	issuedAt time.Time

	// done has capacity one and receives exactly one completion, sent by
	// whoever removed the call from the table.
	done chan completion
}

// pendingTable tracks outbound calls awaiting an answer. A call leaves the
// table exactly once, and only the code path that removed it may complete it.
type pendingTable struct {
	mu     sync.Mutex
	calls  map[string]*pendingCall
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: map[string]*pendingCall{}}
}

func (t *pendingTable) register(id, action string, issuedAt time.Time) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrSessionClosed
	}
	if _, ok := t.calls[id]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateCorrelationID, id)
	}
	call := &pendingCall{
		id:       id,
		action:   action,
		issuedAt: issuedAt,
		done:     make(chan completion, 1),
	}
	t.calls[id] = call
	return call, nil
}

// take removes the call from the table. The caller owns its completion.
func (t *pendingTable) take(id string) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return call, ok
}

// remove drops the call without completing it. It reports false when the
// call already left the table, in which case its completion is in flight.
func (t *pendingTable) remove(id string) bool {
	_, ok := t.take(id)
	return ok
}

func (t *pendingTable) resolveResult(id string, payload json.RawMessage) error {
	call, ok := t.take(id)
	if !ok {
		return fmt.Errorf("%w: result for %q", ErrUnknownCorrelationID, id)
	}
	call.done <- completion{payload: payload}
	return nil
}

func (t *pendingTable) resolveError(id string, code ocpp.ErrorCode, description string, details json.RawMessage) error {
	call, ok := t.take(id)
	if !ok {
		return fmt.Errorf("%w: error for %q", ErrUnknownCorrelationID, id)
	}
	call.done <- completion{err: &RemoteCallError{
		Code:        code,
		Description: description,
		Details:     details,
	}}
	return nil
}

// cancelAll completes every pending call with ErrConnectionClosed and
// refuses further registrations. It returns the number of calls cancelled.
func (t *pendingTable) cancelAll(reason error) int {
	err := error(ErrConnectionClosed)
	if reason != nil {
		err = fmt.Errorf("%w: %v", ErrConnectionClosed, reason)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	n := len(t.calls)
	for id, call := range t.calls {
		delete(t.calls, id)
		call.done <- completion{err: err}
	}
	return n
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
