package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
	"github.com/lorenzodonini/ocpp-go/ocpp"
)

// ErrMalformedEnvelope is returned by Decode for any frame that is not a
// well-formed OCPP-J message.
const ErrMalformedEnvelope = errors.ConstError("malformed envelope")

var emptyObject = json.RawMessage("{}")

// Encode renders an envelope as a JSON array ready to be written as a single
// text frame. Nil payloads are written as an empty object.
func Encode(env Envelope) ([]byte, error) {
	var fields []interface{}
	switch msg := env.(type) {
	case *Call:
		fields = []interface{}{CallType, msg.ID, msg.Action, orEmpty(msg.Payload)}
	case *CallResult:
		fields = []interface{}{CallResultType, msg.ID, orEmpty(msg.Payload)}
	case *CallError:
		fields = []interface{}{CallErrorType, msg.ID, msg.ErrorCode, msg.ErrorDescription, orEmpty(msg.ErrorDetails)}
	default:
		return nil, fmt.Errorf("unsupported envelope %T", env)
	}
	return json.Marshal(fields)
}

// Decode parses one frame. It has no side effects; every failure wraps
// ErrMalformedEnvelope.
func Decode(data []byte) (Envelope, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, malformed("frame is not a JSON array: %v", err)
	}
	if len(fields) < 3 {
		return nil, malformed("expected at least 3 elements, got %d", len(fields))
	}

	var msgType MessageType
	if err := json.Unmarshal(fields[0], &msgType); err != nil {
		return nil, malformed("invalid message type %s", fields[0])
	}
	id, err := decodeString(fields[1], "unique id")
	if err != nil {
		return nil, err
	}

	switch msgType {
	case CallType:
		if len(fields) != 4 {
			return nil, malformed("%v expects 4 elements, got %d", msgType, len(fields))
		}
		action, err := decodeString(fields[2], "action")
		if err != nil {
			return nil, err
		}
		if !isObject(fields[3]) {
			return nil, malformed("%v payload must be an object", msgType)
		}
		return &Call{ID: id, Action: action, Payload: fields[3]}, nil
	case CallResultType:
		if len(fields) != 3 {
			return nil, malformed("%v expects 3 elements, got %d", msgType, len(fields))
		}
		if !isObject(fields[2]) {
			return nil, malformed("%v payload must be an object", msgType)
		}
		return &CallResult{ID: id, Payload: fields[2]}, nil
	case CallErrorType:
		if len(fields) != 5 {
			return nil, malformed("%v expects 5 elements, got %d", msgType, len(fields))
		}
		code, err := decodeString(fields[2], "error code")
		if err != nil {
			return nil, err
		}
		var description string
		if err := json.Unmarshal(fields[3], &description); err != nil {
			return nil, malformed("error description must be a string")
		}
		details := fields[4]
		if isNull(details) {
			details = nil
		} else if !isObject(details) {
			return nil, malformed("error details must be an object")
		}
		return &CallError{
			ID:               id,
			ErrorCode:        ocpp.ErrorCode(code),
			ErrorDescription: description,
			ErrorDetails:     details,
		}, nil
	default:
		return nil, malformed("unknown message type %d", int(msgType))
	}
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, fmt.Sprintf(format, args...))
}

func decodeString(raw json.RawMessage, field string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", malformed("%s must be a string", field)
	}
	if s == "" {
		return "", malformed("%s is empty", field)
	}
	return s, nil
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return emptyObject
	}
	return raw
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
