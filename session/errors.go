package session

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/lorenzodonini/ocpp-go/ocpp"
)

const (
	// ErrDuplicateCorrelationID is returned when a call is registered under
	// an id that is still awaiting its answer.
	ErrDuplicateCorrelationID = errors.ConstError("duplicate correlation id")

	// ErrUnknownCorrelationID is returned when the peer answers an id that
	// is not pending, either because it never was or because it already
	// resolved or timed out.
	ErrUnknownCorrelationID = errors.ConstError("unknown correlation id")

	// ErrCallTimeout is returned when no answer arrived within the deadline.
	ErrCallTimeout = errors.ConstError("call timed out")

	// ErrSessionClosed is returned for calls attempted once the session
	// has started closing.
	ErrSessionClosed = errors.ConstError("session closed")

	// ErrConnectionClosed resolves every call still pending when the
	// session closes.
	ErrConnectionClosed = errors.ConstError("connection closed")

	// ErrNotSupported may be returned (or wrapped) by a handler to answer
	// with the NotSupported error code.
	ErrNotSupported = errors.ConstError("not supported")
)

// RemoteCallError is the failure reported by the peer in a CallError.
type RemoteCallError struct {
	Code        ocpp.ErrorCode
	Description string
	Details     []byte
}

func (e *RemoteCallError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("remote call error %s", e.Code)
	}
	return fmt.Sprintf("remote call error %s: %s", e.Code, e.Description)
}
