package notifier

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/common"
	"charge_point/notifier"
)

type published struct {
	subject string
	data    string
}

type fakePublisher struct {
	mu   sync.Mutex
	fail bool
	msgs chan published
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("nats: connection closed")
	}
	p.msgs <- published{subject: subject, data: string(data)}
	return nil
}

func newTestNotifier(t *testing.T) (*natsChargePointNotifier, *testclock.Clock, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	clock := testclock.NewClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	n := New("CP-1", "nats://127.0.0.1:4222", "request", logrus.NewEntry(logger), clock)
	n.AddHandler("echo", func(_ string, payload []byte, responses chan common.Response) {
		var data interface{}
		_ = json.Unmarshal(payload, &data)
		responses <- common.Response{Payload: data}
	})
	return n, clock, hook
}

func decodeResponse(t *testing.T, data []byte) common.Response {
	var response common.Response
	require.NoError(t, json.Unmarshal(data, &response))
	return response
}

func TestHandleRequest(t *testing.T) {
	n, _, _ := newTestNotifier(t)

	response := decodeResponse(t, n.handleRequest([]byte(`{"action":"echo","chargePointId":"CP-1","payload":{"a":1}}`)))
	require.Nil(t, response.Err)
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, response.Payload)
}

func TestHandleRequestRejects(t *testing.T) {
	testCases := []struct {
		request string
		code    string
	}{
		{`{"action":`, "command.format.not.valid"},
		{`{"chargePointId":"CP-1"}`, "command.format.not.valid"},
		{`{"action":"echo"}`, "command.format.not.valid"},
		{`{"action":"echo","chargePointId":"CP-2"}`, "command.charge.point.unknown"},
		{`{"action":"reset","chargePointId":"CP-1"}`, "command.action.not.found"},
	}

	n, _, _ := newTestNotifier(t)
	for _, tc := range testCases {
		response := decodeResponse(t, n.handleRequest([]byte(tc.request)))
		require.NotNil(t, response.Err, tc.request)
		assert.Equal(t, tc.code, response.Err.Code, tc.request)
	}
}

func TestHandleRequestTimeout(t *testing.T) {
	n, clock, _ := newTestNotifier(t)
	n.SetTimeout(time.Minute)
	assert.Equal(t, time.Minute, n.Timeout())

	release := make(chan struct{})
	finished := make(chan struct{})
	n.AddHandler("slow", func(_ string, _ []byte, responses chan common.Response) {
		<-release
		responses <- common.Response{Payload: "late"}
		close(finished)
	})

	replies := make(chan []byte, 1)
	go func() {
		replies <- n.handleRequest([]byte(`{"action":"slow","chargePointId":"CP-1"}`))
	}()
	require.NoError(t, clock.WaitAdvance(time.Minute, 5*time.Second, 1))

	response := decodeResponse(t, <-replies)
	require.NotNil(t, response.Err)
	assert.Equal(t, "request.timeout", response.Err.Code)

	// The late answer must not block the action.
	close(release)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("late action blocked")
	}
}

func TestNotificationsArePublished(t *testing.T) {
	n, _, hook := newTestNotifier(t)
	publisher := &fakePublisher{msgs: make(chan published, 4)}
	n.publisher = publisher
	events := make(chan notifier.Notification, 4)
	n.SetChannel(events)
	n.startPublishing()
	defer n.Stop()

	events <- notifier.Notification{Topic: notifier.TopicSessionState, Data: map[string]interface{}{"state": "Open"}}
	select {
	case msg := <-publisher.msgs:
		assert.Equal(t, notifier.TopicSessionState, msg.subject)
		assert.JSONEq(t, `{"state":"Open"}`, msg.data)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not published")
	}

	publisher.mu.Lock()
	publisher.fail = true
	publisher.mu.Unlock()
	n.publish(notifier.Notification{Topic: notifier.TopicBootNotification, Data: map[string]interface{}{"status": "Accepted"}})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestStopIsIdempotent(t *testing.T) {
	n, _, _ := newTestNotifier(t)
	n.Stop()
	n.Stop()
}

func TestConcurrentStop(t *testing.T) {
	n, _, _ := newTestNotifier(t)
	n.publisher = &fakePublisher{msgs: make(chan published, 1)}
	n.SetChannel(make(chan notifier.Notification))
	n.startPublishing()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotPanics(t, n.Stop)
		}()
	}
	wg.Wait()

	select {
	case <-n.done:
	default:
		t.Fatal("done channel left open")
	}
}
