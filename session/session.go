// Package session runs one OCPP-J conversation over an established
// connection: it reads and classifies frames, serves inbound calls through a
// Dispatcher and correlates answers to the calls it sent.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"charge_point/protocol"
	"charge_point/schema"
)

// Transport is an ordered, reliable, message-framed duplex channel. Close
// must unblock a pending ReadMessage.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// State of a session. Closed is terminal.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config holds the dependencies of a Session.
type Config struct {
	Transport   Transport
	Dispatcher  *Dispatcher
	Clock       clock.Clock
	Logger      *logrus.Entry
	CallTimeout time.Duration

	// Schemas, when set, validates outbound requests and inbound results.
	Schemas *schema.Registry

	// NewMessageID generates correlation ids. Defaults to random UUIDs.
	NewMessageID func() string

	// OnStateChange, when set, is called after every state transition.
	OnStateChange func(State)
}

// Validate returns an error if the config cannot be used to build a Session.
func (c Config) Validate() error {
	if c.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if c.Dispatcher == nil {
		return errors.NotValidf("nil Dispatcher")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.CallTimeout <= 0 {
		return errors.NotValidf("non-positive CallTimeout")
	}
	return nil
}

// Session owns a transport for its whole life. The reader goroutine is the
// only one reading; every write goes through send, which serializes them.
type Session struct {
	config  Config
	tomb    tomb.Tomb
	pending *pendingTable

	// sending guards transport writes.
	sending sync.Mutex

	mu      sync.Mutex
	state   State
	started bool

	readerDone chan struct{}
}

// New returns a session in the Connecting state. Start must be called
// before any call is made or frame is read.
func New(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.NewMessageID == nil {
		config.NewMessageID = uuid.NewString
	}
	return &Session{
		config:     config,
		pending:    newPendingTable(),
		state:      StateConnecting,
		readerDone: make(chan struct{}),
	}, nil
}

// Start moves the session to Open and starts reading frames.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start session in state %v", state)
	}
	s.state = StateOpen
	s.started = true
	s.mu.Unlock()
	s.stateChanged(StateOpen)

	s.tomb.Go(s.loop)
	return nil
}

// Kill asks the session to close without waiting.
func (s *Session) Kill() {
	s.tomb.Kill(nil)
}

// Wait blocks until a started session is closed and returns the reason it
// stopped, nil for a requested stop.
func (s *Session) Wait() error {
	return s.tomb.Wait()
}

// Dead is closed once a started session is closed.
func (s *Session) Dead() <-chan struct{} {
	return s.tomb.Dead()
}

// Stop closes the session and waits for it to finish.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateClosed
		s.mu.Unlock()
		s.pending.cancelAll(nil)
		// Let the tomb die so Wait and Dead behave as after a started run.
		s.tomb.Kill(nil)
		s.tomb.Go(func() error { return nil })
		s.stateChanged(StateClosed)
		return s.config.Transport.Close()
	}
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	s.Kill()
	return s.Wait()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of outbound calls awaiting an answer.
func (s *Session) Pending() int {
	return s.pending.len()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.stateChanged(state)
}

func (s *Session) stateChanged(state State) {
	s.config.Logger.WithField("state", state.String()).Debug("session state changed")
	if s.config.OnStateChange != nil {
		s.config.OnStateChange(state)
	}
}

func (s *Session) loop() error {
	ctx := s.tomb.Context(nil)
	s.tomb.Go(func() error {
		return s.readLoop(ctx)
	})

	<-s.tomb.Dying()
	s.setState(StateClosing)
	reason := s.tomb.Err()
	if n := s.pending.cancelAll(reason); n > 0 {
		s.config.Logger.Infof("cancelled %d pending calls", n)
	}
	if err := s.config.Transport.Close(); err != nil {
		s.config.Logger.WithError(err).Debug("closing transport")
	}
	<-s.readerDone
	s.setState(StateClosed)
	return nil
}

func (s *Session) readLoop(ctx context.Context) error {
	defer close(s.readerDone)
	for {
		data, err := s.config.Transport.ReadMessage()
		if err != nil {
			select {
			case <-s.tomb.Dying():
				return nil
			default:
			}
			s.config.Logger.WithError(err).Warn("transport read failed")
			return fmt.Errorf("reading from transport: %w", err)
		}
		s.handleFrame(ctx, data)
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.config.Logger.WithError(err).Warnf("dropping frame %q", truncate(data, 128))
		return
	}

	switch msg := env.(type) {
	case *protocol.Call:
		s.config.Logger.WithFields(logrus.Fields{"message": msg.Action, "id": msg.ID}).Debug("call received")
		s.tomb.Go(func() error {
			s.serve(ctx, msg)
			return nil
		})
	case *protocol.CallResult:
		if err := s.pending.resolveResult(msg.ID, msg.Payload); err != nil {
			s.config.Logger.WithError(err).Warn("protocol anomaly, dropping result")
		}
	case *protocol.CallError:
		if err := s.pending.resolveError(msg.ID, msg.ErrorCode, msg.ErrorDescription, msg.ErrorDetails); err != nil {
			s.config.Logger.WithError(err).Warn("protocol anomaly, dropping error")
		}
	}
}

func (s *Session) serve(ctx context.Context, call *protocol.Call) {
	reply := s.config.Dispatcher.Dispatch(ctx, call)
	if err := s.send(reply); err != nil {
		s.config.Logger.WithFields(logrus.Fields{"message": call.Action, "id": call.ID}).
			WithError(err).Warn("cannot answer call")
	}
}

func (s *Session) send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("encoding %v: %w", env.MessageType(), err)
	}

	s.sending.Lock()
	defer s.sending.Unlock()
	if state := s.State(); state != StateOpen {
		return fmt.Errorf("%w: cannot send in state %v", ErrSessionClosed, state)
	}
	return s.config.Transport.WriteMessage(data)
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
