package actions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/chargepoint"
	"charge_point/common"
	"charge_point/protocol"
	"charge_point/session"
)

type scriptedCaller struct {
	answers map[string]string
	errs    map[string]error
	sent    map[string]json.RawMessage
}

func (c *scriptedCaller) Invoke(_ context.Context, action string, request, response interface{}) error {
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}
	c.sent[action] = data
	if err := c.errs[action]; err != nil {
		return err
	}
	if response == nil || c.answers[action] == "" {
		return nil
	}
	return json.Unmarshal([]byte(c.answers[action]), response)
}

func newTestActions(t *testing.T) (CoreProfileActions, *scriptedCaller, *chargepoint.Registration) {
	a, caller, registration, _ := newLoggedActions(t)
	return a, caller, registration
}

func newLoggedActions(t *testing.T) (CoreProfileActions, *scriptedCaller, *chargepoint.Registration, *logtest.Hook) {
	caller := &scriptedCaller{answers: map[string]string{}, errs: map[string]error{}, sent: map[string]json.RawMessage{}}
	logger, hook := logtest.NewNullLogger()
	cp := chargepoint.NewChargePoint("CP-1")
	registration, err := chargepoint.NewRegistration(chargepoint.RegistrationConfig{
		Caller:            caller,
		Clock:             testclock.NewClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
		Logger:            logrus.NewEntry(logger),
		ChargePoint:       cp,
		Vendor:            "Vendor",
		Model:             "Model",
		HeartbeatInterval: time.Minute,
	})
	require.NoError(t, err)
	entry := logrus.NewEntry(logger).WithField("client", "CP-1")
	return InitializeCoreProfileActions(context.Background(), entry, caller, registration, cp), caller, registration, hook
}

func run(fn Function, payload string) common.Response {
	responses := make(chan common.Response, 1)
	fn("CP-1", []byte(payload), responses)
	return <-responses
}

func TestHeartbeat(t *testing.T) {
	a, caller, _ := newTestActions(t)
	caller.answers[core.HeartbeatFeatureName] = `{"currentTime":"2024-05-01T10:05:00Z"}`

	response := run(a.Heartbeat, "")
	require.Nil(t, response.Err)
	payload := response.Payload.(map[string]interface{})
	assert.Equal(t, time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC), payload["currentTime"].(time.Time).UTC())
}

func TestStatusNotification(t *testing.T) {
	a, caller, _ := newTestActions(t)

	response := run(a.StatusNotification, `{"connectorId":1,"status":"Charging"}`)
	require.Nil(t, response.Err)

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(caller.sent[core.StatusNotificationFeatureName], &sent))
	assert.EqualValues(t, 1, sent["connectorId"])
	assert.Equal(t, "Charging", sent["status"])
	assert.Equal(t, "NoError", sent["errorCode"])

	response = run(a.Connectors, "")
	connectors := response.Payload.(map[string]interface{})["connectors"].([]chargepoint.Connector)
	require.Len(t, connectors, 1)
	assert.Equal(t, core.ChargePointStatusCharging, connectors[0].Status)
}

func TestStatusNotificationInvalid(t *testing.T) {
	a, caller, _ := newTestActions(t)

	for _, payload := range []string{`{"connectorId":1,"status":"Dancing"}`, `{"connectorId":-1,"status":"Available"}`, `{"connectorId":1}`, `not json`} {
		response := run(a.StatusNotification, payload)
		require.NotNil(t, response.Err, payload)
		assert.Equal(t, "command.status.notification.payload.not.valid", response.Err.Code)
	}
	assert.Empty(t, caller.sent)
}

func TestDataTransfer(t *testing.T) {
	testCases := []struct {
		answer string
		code   string
	}{
		{`{"status":"Accepted","data":"pong"}`, ""},
		{`{"status":"Rejected"}`, "command.data.transfer.rejected"},
		{`{"status":"UnknownVendorId"}`, "command.data.transfer.unknown.vendor"},
		{`{"status":"UnknownMessageId"}`, "command.data.transfer.unknown.message"},
	}
	for _, tc := range testCases {
		a, caller, _ := newTestActions(t)
		caller.answers[core.DataTransferFeatureName] = tc.answer

		response := run(a.DataTransfer, `{"vendorId":"com.example","messageId":"ping","data":"x"}`)
		if tc.code == "" {
			require.Nil(t, response.Err)
			assert.Equal(t, "pong", response.Payload.(map[string]interface{})["data"])
			continue
		}
		require.NotNil(t, response.Err, tc.answer)
		assert.Equal(t, tc.code, response.Err.Code)
	}
}

func TestAuthorize(t *testing.T) {
	a, caller, _ := newTestActions(t)
	caller.answers[core.AuthorizeFeatureName] = `{"idTagInfo":{"status":"Accepted","parentIdTag":"GROUP"}}`

	response := run(a.Authorize, `{"idTag":"04E91C5A"}`)
	require.Nil(t, response.Err)
	payload := response.Payload.(map[string]interface{})
	assert.EqualValues(t, "Accepted", payload["status"])
	assert.Equal(t, "GROUP", payload["parentIdTag"])
	assert.JSONEq(t, `{"idTag":"04E91C5A"}`, string(caller.sent[core.AuthorizeFeatureName]))

	response = run(a.Authorize, `{"idTag":"an id tag longer than twenty"}`)
	require.NotNil(t, response.Err)
	assert.Equal(t, "command.authorize.payload.not.valid", response.Err.Code)
}

func TestCallFailures(t *testing.T) {
	testCases := []struct {
		err  error
		code string
	}{
		{&session.RemoteCallError{Code: protocol.SecurityError, Description: "denied"}, "command.call.error"},
		{session.ErrCallTimeout, "command.call.timeout"},
		{session.ErrSessionClosed, "command.session.closed"},
		{session.ErrConnectionClosed, "command.session.closed"},
		{assert.AnError, "command.message.not.send"},
	}
	for _, tc := range testCases {
		a, caller, _ := newTestActions(t)
		caller.errs[core.HeartbeatFeatureName] = tc.err
		response := run(a.Heartbeat, "")
		require.NotNil(t, response.Err)
		assert.Equal(t, tc.code, response.Err.Code)
	}
}

func TestRegistrationAction(t *testing.T) {
	a, caller, registration := newTestActions(t)

	response := run(a.Registration, "")
	require.NotNil(t, response.Err)

	caller.answers[core.BootNotificationFeatureName] = `{"currentTime":"2024-05-01T10:00:00Z","interval":120,"status":"Pending"}`
	_, err := registration.Boot(context.Background())
	require.NoError(t, err)

	response = run(a.Registration, "")
	require.Nil(t, response.Err)
	payload := response.Payload.(map[string]interface{})
	assert.Equal(t, core.RegistrationStatusPending, payload["status"])
	assert.Equal(t, 120, payload["interval"])
}

func TestHandlers(t *testing.T) {
	a, _, _ := newTestActions(t)
	handlers := a.Handlers()
	for _, action := range []string{HEARTBEAT, STATUS_NOTIFICATION, DATA_TRANSFER, AUTHORIZE, CONNECTORS, REGISTRATION} {
		assert.Contains(t, handlers, action)
	}
}

func TestFailuresLogThroughChargePointLogger(t *testing.T) {
	a, caller, _, hook := newLoggedActions(t)
	caller.errs[core.AuthorizeFeatureName] = session.ErrCallTimeout

	response := run(a.Authorize, `{"idTag":"04E91C5A"}`)
	require.NotNil(t, response.Err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "CP-1", entry.Data["client"])
	assert.Equal(t, core.AuthorizeFeatureName, entry.Data["message"])
}
