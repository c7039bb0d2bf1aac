package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/sirupsen/logrus"

	"charge_point/protocol"
	"charge_point/schema"
)

// HandlerFunc serves one inbound call. The returned value is marshalled as
// the CallResult payload. Returning an *ocpp.Error answers with its code and
// description; ErrNotSupported answers NotSupported; any other error answers
// InternalError with the error message.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Dispatcher routes inbound calls to the handler registered for their action.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	schemas  *schema.Registry
	logger   *logrus.Entry
}

// NewDispatcher returns an empty dispatcher. schemas may be nil, in which
// case payloads are passed to handlers unchecked.
func NewDispatcher(logger *logrus.Entry, schemas *schema.Registry) *Dispatcher {
	return &Dispatcher{
		handlers: map[string]HandlerFunc{},
		schemas:  schemas,
		logger:   logger,
	}
}

// AddHandler registers fn for action, replacing any previous handler.
func (d *Dispatcher) AddHandler(action string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = fn
}

// Handles reports whether a handler is registered for action.
func (d *Dispatcher) Handles(action string) bool {
	_, ok := d.handler(action)
	return ok
}

func (d *Dispatcher) handler(action string) (HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.handlers[action]
	return fn, ok && fn != nil
}

// Dispatch invokes the handler for call and returns the envelope to send
// back: a CallResult on success, a CallError otherwise. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, call *protocol.Call) (reply protocol.Envelope) {
	log := d.logger.WithFields(logrus.Fields{"message": call.Action, "id": call.ID})

	fn, ok := d.handler(call.Action)
	if !ok {
		log.Warn("no handler registered")
		return protocol.NewCallError(call.ID, protocol.NotImplemented,
			fmt.Sprintf("no handler for action %s", call.Action))
	}

	if d.schemas != nil {
		if err := d.schemas.ValidateRequest(call.Action, call.Payload); err != nil {
			log.WithError(err).Warn("rejecting invalid request")
			return protocol.NewCallError(call.ID, protocol.FormationViolation, err.Error())
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler panicked: %v", r)
			reply = protocol.NewCallError(call.ID, protocol.InternalError,
				fmt.Sprintf("handler for %s failed", call.Action))
		}
	}()

	result, err := fn(ctx, call.Payload)
	if err != nil {
		log.WithError(err).Info("handler returned an error")
		return faultToCallError(call.ID, err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		log.WithError(err).Error("cannot encode handler result")
		return protocol.NewCallError(call.ID, protocol.InternalError, "cannot encode result")
	}
	if string(payload) == "null" {
		payload = nil
	}
	if d.schemas != nil {
		if err := d.schemas.ValidateResponse(call.Action, payload); err != nil {
			log.WithError(err).Error("handler produced an invalid response")
			return protocol.NewCallError(call.ID, protocol.InternalError, err.Error())
		}
	}
	return &protocol.CallResult{ID: call.ID, Payload: payload}
}

func faultToCallError(id string, err error) *protocol.CallError {
	var ocppErr *ocpp.Error
	switch {
	case errors.As(err, &ocppErr) && protocol.IsValidErrorCode(ocppErr.Code):
		return protocol.NewCallError(id, ocppErr.Code, ocppErr.Description)
	case ocppErr != nil:
		return protocol.NewCallError(id, protocol.InternalError, ocppErr.Description)
	case errors.Is(err, ErrNotSupported):
		return protocol.NewCallError(id, protocol.NotSupported, err.Error())
	default:
		return protocol.NewCallError(id, protocol.InternalError, err.Error())
	}
}
