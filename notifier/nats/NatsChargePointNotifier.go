package notifier

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/clock"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"charge_point/common"
	"charge_point/notifier"
)

type Function func(string, []byte, chan common.Response)

// publisher is the part of *nats.Conn the notification loop needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

type natsChargePointNotifier struct {
	chargePointID string
	url           string
	subject       string

	notification chan notifier.Notification // events raised by the charge point
	connection   *nats.Conn
	publisher    publisher
	subscription *nats.Subscription
	handlers     map[string]Function
	timeout      time.Duration // time to wait for an action before answering with a timeout
	clock        clock.Clock
	validate     *validator.Validate
	logger       *logrus.Entry

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (n *natsChargePointNotifier) SetTimeout(timeout time.Duration) {
	n.timeout = timeout
}

func (n *natsChargePointNotifier) Timeout() time.Duration {
	return n.timeout
}

func (n *natsChargePointNotifier) AddHandler(action string, fn Function) {
	n.handlers[action] = fn
}

func (n *natsChargePointNotifier) SetChannel(notification chan notifier.Notification) {
	n.notification = notification
}

func (n *natsChargePointNotifier) notificationFromChargePoint() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case event := <-n.notification:
			n.publish(event)
		}
	}
}

func (n *natsChargePointNotifier) publish(event notifier.Notification) {
	bt, err := json.Marshal(event.Data)
	if err != nil {
		n.logger.Errorf("cannot encode %s notification: %v", event.Topic, err)
		return
	}
	if err := n.publisher.Publish(event.Topic, bt); err != nil {
		n.logger.Errorf("cannot publish %s notification: %v", event.Topic, err)
	}
}

// handleRequest answers one command received with request/reply.
func (n *natsChargePointNotifier) handleRequest(data []byte) []byte {
	var command common.Command
	if err := json.Unmarshal(data, &command); err != nil {
		return n.reply(common.NewErrorResponse("command.format.not.valid", "command is not valid JSON"))
	}
	n.logger.Debugf("request %s", data)
	if err := n.validate.Struct(&command); err != nil {
		return n.reply(common.NewErrorResponse("command.format.not.valid", "command is not valid"))
	}
	if command.ChargePointId != n.chargePointID {
		return n.reply(common.NewErrorResponse("command.charge.point.unknown", fmt.Sprintf("charge point %q is not served here", command.ChargePointId)))
	}
	fn, exists := n.handlers[command.Action]
	if !exists {
		return n.reply(common.NewErrorResponse("command.action.not.found", fmt.Sprintf("no action %q", command.Action)))
	}

	payload, err := json.Marshal(command.Payload)
	if err != nil {
		return n.reply(common.NewErrorResponse("command.format.not.valid", err.Error()))
	}

	// Buffered so a late action does not block once the request timed out.
	responseChannel := make(chan common.Response, 1)
	go fn(command.ChargePointId, payload, responseChannel)

	select {
	case response := <-responseChannel:
		return n.reply(response)
	case <-n.clock.After(n.timeout):
		return n.reply(common.NewErrorResponse("request.timeout", fmt.Sprintf("no answer to %q within %v", command.Action, n.timeout)))
	}
}

func (n *natsChargePointNotifier) reply(response common.Response) []byte {
	bt, err := json.Marshal(response)
	if err != nil {
		n.logger.Errorf("cannot encode response: %v", err)
		bt, _ = json.Marshal(common.NewErrorResponse("response.format.not.valid", err.Error()))
	}
	if response.Err != nil {
		n.logger.Warnf("request failed: %s", bt)
	} else {
		n.logger.Debugf("response %s", bt)
	}
	return bt
}

// Start connects to NATS, starts publishing notifications and subscribes to
// the request subject.
func (n *natsChargePointNotifier) Start() error {
	nc, err := nats.Connect(n.url, nats.Name("charge_point "+n.chargePointID))
	if err != nil {
		return fmt.Errorf("connecting to nats at %s: %w", n.url, err)
	}
	subscription, err := nc.Subscribe(n.subject, func(m *nats.Msg) {
		if err := m.Respond(n.handleRequest(m.Data)); err != nil {
			n.logger.Errorf("cannot respond: %v", err)
		}
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribing to %s: %w", n.subject, err)
	}
	n.connection = nc
	n.publisher = nc
	n.subscription = subscription
	n.startPublishing()
	n.logger.Infof("nats notifier listening on %s", n.subject)
	return nil
}

func (n *natsChargePointNotifier) startPublishing() {
	if n.notification == nil {
		return
	}
	n.wg.Add(1)
	go n.notificationFromChargePoint()
}

// Stop is safe to call more than once, from any goroutine.
func (n *natsChargePointNotifier) Stop() {
	n.stopOnce.Do(n.stop)
}

func (n *natsChargePointNotifier) stop() {
	close(n.done)
	n.wg.Wait()
	if n.subscription != nil {
		_ = n.subscription.Unsubscribe()
	}
	if n.connection != nil {
		n.connection.Close()
		n.logger.Info("NatsStopped")
	}
}

// New returns a notifier serving commands for one charge point.
func New(chargePointID, url, subject string, logger *logrus.Entry, clk clock.Clock) *natsChargePointNotifier {
	return &natsChargePointNotifier{
		chargePointID: chargePointID,
		url:           url,
		subject:       subject,
		handlers:      make(map[string]Function),
		timeout:       30 * time.Second,
		clock:         clk,
		validate:      validator.New(),
		logger:        logger,
		done:          make(chan struct{}),
	}
}
