package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"charge_point/protocol"
)

// Call sends a request for action and blocks until the peer answers, the
// timeout elapses, ctx is done or the session closes. A timeout <= 0 uses
// the session's CallTimeout. Calls from different goroutines proceed
// independently.
//
// Failures are ErrCallTimeout, *RemoteCallError, ErrSessionClosed,
// ErrConnectionClosed, ErrDuplicateCorrelationID or the context error.
func (s *Session) Call(ctx context.Context, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.config.CallTimeout
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", action, err)
	}
	if s.config.Schemas != nil {
		if err := s.config.Schemas.ValidateRequest(action, raw); err != nil {
			return nil, err
		}
	}

	switch state := s.State(); state {
	case StateOpen:
	case StateConnecting:
		return nil, fmt.Errorf("cannot call %s: session not started", action)
	default:
		return nil, fmt.Errorf("%w: cannot call %s", ErrSessionClosed, action)
	}

	id := s.config.NewMessageID()
	pending, err := s.pending.register(id, action, s.config.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("cannot call %s: %w", action, err)
	}
	log := s.config.Logger.WithFields(logrus.Fields{"message": action, "id": id})

	if err := s.send(&protocol.Call{ID: id, Action: action, Payload: raw}); err != nil {
		s.pending.remove(id)
		return nil, fmt.Errorf("sending %s: %w", action, err)
	}
	log.Debug("call sent")

	timer := s.config.Clock.NewTimer(timeout)
	defer timer.Stop()

	var result completion
	select {
	case result = <-pending.done:
	case <-timer.Chan():
		if s.pending.remove(id) {
			log.Warnf("no answer after %v", timeout)
			return nil, fmt.Errorf("%w: %s %s after %v", ErrCallTimeout, action, id, timeout)
		}
		result = <-pending.done
	case <-ctx.Done():
		if s.pending.remove(id) {
			return nil, ctx.Err()
		}
		result = <-pending.done
	}

	if result.err != nil {
		log.WithError(result.err).Debug("call failed")
		return nil, result.err
	}
	log.WithField("elapsed", s.config.Clock.Now().Sub(pending.issuedAt)).Debug("call answered")
	if s.config.Schemas != nil {
		if err := s.config.Schemas.ValidateResponse(action, result.payload); err != nil {
			return nil, err
		}
	}
	return result.payload, nil
}

// Invoke is Call with typed payloads: request is marshalled and the result
// payload is unmarshalled into response, which may be nil to discard it.
func (s *Session) Invoke(ctx context.Context, action string, request, response interface{}) error {
	payload, err := s.Call(ctx, action, request, 0)
	if err != nil {
		return err
	}
	if response == nil {
		return nil
	}
	if err := json.Unmarshal(payload, response); err != nil {
		return fmt.Errorf("decoding %s response: %w", action, err)
	}
	return nil
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	return json.Marshal(payload)
}
