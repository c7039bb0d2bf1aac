// Package notifier carries charge point events to whatever bridge publishes
// them.
package notifier

// Topics published by the charge point.
const (
	TopicBootNotification   = "boot.notification"
	TopicStatusNotification = "status.notification"
	TopicSessionState       = "session.state"
)

type Notification struct {
	Topic string                 `json:"topic"`
	Data  map[string]interface{} `json:"data"`
}

// Publish hands n to ch without blocking. A nil channel or a full buffer
// drops the notification and reports false.
func Publish(ch chan<- Notification, n Notification) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- n:
		return true
	default:
		return false
	}
}
