// Package chargepoint holds the charge point side of the OCPP 1.6 core
// profile: registration with the central system, heartbeats, reported
// connector statuses and the configuration it serves.
package chargepoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	jujuerrors "github.com/juju/errors"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"

	"charge_point/notifier"
	"charge_point/session"
)

// ErrUnexpectedStatus is returned by Boot when the central system answers
// with a status outside Accepted, Pending and Rejected.
const ErrUnexpectedStatus = jujuerrors.ConstError("unexpected registration status")

// Caller issues typed calls to the central system. *session.Session
// implements it.
type Caller interface {
	Invoke(ctx context.Context, action string, request, response interface{}) error
}

type RegistrationConfig struct {
	Caller      Caller
	Clock       clock.Clock
	Logger      *logrus.Entry
	ChargePoint *ChargePoint

	Vendor string
	Model  string

	// HeartbeatInterval is used when the central system does not return a
	// positive interval.
	HeartbeatInterval time.Duration

	// Notifications, when set, receives registration and status events.
	// Sends never block.
	Notifications chan<- notifier.Notification
}

func (c RegistrationConfig) Validate() error {
	if c.Caller == nil {
		return jujuerrors.NotValidf("nil Caller")
	}
	if c.Clock == nil {
		return jujuerrors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return jujuerrors.NotValidf("nil Logger")
	}
	if c.ChargePoint == nil {
		return jujuerrors.NotValidf("nil ChargePoint")
	}
	if c.Vendor == "" {
		return jujuerrors.NotValidf("empty Vendor")
	}
	if c.Model == "" {
		return jujuerrors.NotValidf("empty Model")
	}
	if c.HeartbeatInterval <= 0 {
		return jujuerrors.NotValidf("non-positive HeartbeatInterval")
	}
	return nil
}

// Registration announces the charge point with BootNotification and keeps
// the outcome.
type Registration struct {
	config RegistrationConfig

	mu       sync.Mutex
	status   core.RegistrationStatus
	interval time.Duration
}

func NewRegistration(config RegistrationConfig) (*Registration, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Registration{config: config, interval: config.HeartbeatInterval}, nil
}

// Status returns the outcome of the latest boot attempt, and false while no
// attempt has completed.
func (r *Registration) Status() (core.RegistrationStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.status != ""
}

// Interval is the heartbeat interval currently in force.
func (r *Registration) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Boot sends BootNotification and records the answer. When accepted, the
// charge point reports connector 0 as Available before Boot returns. A
// failed call leaves the status unset; there is no retry.
func (r *Registration) Boot(ctx context.Context) (core.RegistrationStatus, error) {
	r.mu.Lock()
	r.status = ""
	r.mu.Unlock()

	logger := r.config.Logger.WithField("message", core.BootNotificationFeatureName)
	request := &core.BootNotificationRequest{
		ChargePointVendor: r.config.Vendor,
		ChargePointModel:  r.config.Model,
	}
	var confirmation core.BootNotificationConfirmation
	if err := r.config.Caller.Invoke(ctx, core.BootNotificationFeatureName, request, &confirmation); err != nil {
		logger.Errorf("boot notification failed: %v", err)
		return "", err
	}

	switch confirmation.Status {
	case core.RegistrationStatusAccepted, core.RegistrationStatusPending, core.RegistrationStatusRejected:
	default:
		return "", fmt.Errorf("%w %q", ErrUnexpectedStatus, confirmation.Status)
	}

	r.mu.Lock()
	r.status = confirmation.Status
	if confirmation.Interval > 0 {
		r.interval = time.Duration(confirmation.Interval) * time.Second
	}
	interval := r.interval
	r.mu.Unlock()

	logger.WithField("interval", interval).Infof("registration %v", confirmation.Status)
	data := map[string]interface{}{
		"chargePointId": r.config.ChargePoint.ID(),
		"status":        confirmation.Status,
		"interval":      int(interval / time.Second),
	}
	if confirmation.CurrentTime != nil {
		data["currentTime"] = confirmation.CurrentTime.FormatTimestamp()
	}
	r.publish(notifier.TopicBootNotification, data)

	if confirmation.Status != core.RegistrationStatusAccepted {
		return confirmation.Status, nil
	}
	if err := r.NotifyStatus(ctx, 0, core.ChargePointStatusAvailable, core.NoError); err != nil {
		return confirmation.Status, err
	}
	return confirmation.Status, nil
}

// NotifyStatus reports a connector status to the central system and records
// it once acknowledged.
func (r *Registration) NotifyStatus(ctx context.Context, connectorID int, status core.ChargePointStatus, errorCode core.ChargePointErrorCode) error {
	now := r.config.Clock.Now().UTC().Truncate(time.Second)
	request := &core.StatusNotificationRequest{
		ConnectorId: connectorID,
		ErrorCode:   errorCode,
		Status:      status,
		Timestamp:   types.NewDateTime(now),
		VendorId:    r.config.Vendor,
	}
	if err := r.config.Caller.Invoke(ctx, core.StatusNotificationFeatureName, request, nil); err != nil {
		r.config.Logger.WithField("message", core.StatusNotificationFeatureName).Errorf("connector %d: %v", connectorID, err)
		return err
	}
	r.config.ChargePoint.SetStatus(connectorID, status, errorCode, now)
	r.publish(notifier.TopicStatusNotification, map[string]interface{}{
		"chargePointId": r.config.ChargePoint.ID(),
		"connectorId":   connectorID,
		"status":        status,
		"errorCode":     errorCode,
		"timestamp":     now.Format(time.RFC3339),
	})
	return nil
}

// Heartbeat sends one Heartbeat and returns the central system time.
func (r *Registration) Heartbeat(ctx context.Context) (time.Time, error) {
	var confirmation core.HeartbeatConfirmation
	if err := r.config.Caller.Invoke(ctx, core.HeartbeatFeatureName, &core.HeartbeatRequest{}, &confirmation); err != nil {
		return time.Time{}, err
	}
	if confirmation.CurrentTime == nil {
		return time.Time{}, nil
	}
	return confirmation.CurrentTime.Time, nil
}

// RunHeartbeat sends a Heartbeat every Interval until ctx is done or the
// session closes. Failed heartbeats are logged and the loop goes on.
func (r *Registration) RunHeartbeat(ctx context.Context) error {
	logger := r.config.Logger.WithField("message", core.HeartbeatFeatureName)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.config.Clock.After(r.Interval()):
		}
		currentTime, err := r.Heartbeat(ctx)
		switch {
		case err == nil:
			logger.Debugf("central system time %v", currentTime)
		case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrConnectionClosed):
			return err
		case ctx.Err() != nil:
			return nil
		default:
			logger.Warnf("heartbeat failed: %v", err)
		}
	}
}

func (r *Registration) publish(topic string, data map[string]interface{}) {
	if r.config.Notifications == nil {
		return
	}
	if !notifier.Publish(r.config.Notifications, notifier.Notification{Topic: topic, Data: data}) {
		r.config.Logger.Warnf("notification %s dropped", topic)
	}
}
