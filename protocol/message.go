// Package protocol holds the OCPP-J wire envelope: the three message kinds a
// charge point and a central system exchange over a websocket, and the codec
// that turns them into text frames and back.
package protocol

import (
	"encoding/json"

	"github.com/lorenzodonini/ocpp-go/ocpp"
)

// MessageType is the leading discriminant of every OCPP-J frame.
type MessageType int

const (
	CallType       MessageType = 2
	CallResultType MessageType = 3
	CallErrorType  MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case CallType:
		return "CALL"
	case CallResultType:
		return "CALLRESULT"
	case CallErrorType:
		return "CALLERROR"
	}
	return "UNKNOWN"
}

// Error codes a CallError may carry, as listed by OCPP-J 1.6.
const (
	NotImplemented                ocpp.ErrorCode = "NotImplemented"
	NotSupported                  ocpp.ErrorCode = "NotSupported"
	InternalError                 ocpp.ErrorCode = "InternalError"
	ProtocolError                 ocpp.ErrorCode = "ProtocolError"
	SecurityError                 ocpp.ErrorCode = "SecurityError"
	FormationViolation            ocpp.ErrorCode = "FormationViolation"
	PropertyConstraintViolation   ocpp.ErrorCode = "PropertyConstraintViolation"
	OccurrenceConstraintViolation ocpp.ErrorCode = "OccurenceConstraintViolation"
	TypeConstraintViolation       ocpp.ErrorCode = "TypeConstraintViolation"
	GenericError                  ocpp.ErrorCode = "GenericError"
)

var errorCodes = map[ocpp.ErrorCode]struct{}{
	NotImplemented:                {},
	NotSupported:                  {},
	InternalError:                 {},
	ProtocolError:                 {},
	SecurityError:                 {},
	FormationViolation:            {},
	PropertyConstraintViolation:   {},
	OccurrenceConstraintViolation: {},
	TypeConstraintViolation:       {},
	GenericError:                  {},
}

// IsValidErrorCode reports whether code belongs to the OCPP-J 1.6 set.
func IsValidErrorCode(code ocpp.ErrorCode) bool {
	_, ok := errorCodes[code]
	return ok
}

// Envelope is implemented by *Call, *CallResult and *CallError.
type Envelope interface {
	MessageType() MessageType
	MessageID() string
}

// Call is a request initiated by either side.
type Call struct {
	ID      string
	Action  string
	Payload json.RawMessage
}

func (c *Call) MessageType() MessageType { return CallType }
func (c *Call) MessageID() string        { return c.ID }

// CallResult is the successful answer to a Call with the same ID.
type CallResult struct {
	ID      string
	Payload json.RawMessage
}

func (r *CallResult) MessageType() MessageType { return CallResultType }
func (r *CallResult) MessageID() string        { return r.ID }

// CallError is the failed answer to a Call with the same ID.
type CallError struct {
	ID               string
	ErrorCode        ocpp.ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

func (e *CallError) MessageType() MessageType { return CallErrorType }
func (e *CallError) MessageID() string        { return e.ID }

// NewCallError builds the CallError answering the call with the given id.
func NewCallError(id string, code ocpp.ErrorCode, description string) *CallError {
	return &CallError{
		ID:               id,
		ErrorCode:        code,
		ErrorDescription: description,
	}
}
