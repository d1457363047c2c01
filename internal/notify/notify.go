// Package notify carries user-facing status messages out of the engine.
// Components publish severity-tagged notifications to a Hub; the host
// application subscribes and renders them however it likes. Every
// notification is also written to the structured log.
package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Severity of a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is one status message for the user.
type Notification struct {
	Severity Severity
	Message  string
	Time     time.Time
}

// Notifier is the publishing side of the hub.
type Notifier interface {
	Notify(severity Severity, message string)
}

// Hub fans notifications out to subscribers and the log.
type Hub struct {
	mu   sync.Mutex
	subs []func(Notification)
	log  *logrus.Logger
}

// NewHub returns a hub logging through log. A nil log falls back to the
// logrus standard logger.
func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{log: log}
}

// Subscribe registers fn for every subsequent notification. Subscribers are
// invoked synchronously in registration order.
func (h *Hub) Subscribe(fn func(Notification)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

// Notify publishes one message.
func (h *Hub) Notify(severity Severity, message string) {
	n := Notification{Severity: severity, Message: message, Time: time.Now().UTC()}

	entry := h.log.WithField("severity", string(severity))
	switch severity {
	case SeverityError:
		entry.Error(message)
	case SeverityWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}

	h.mu.Lock()
	subs := make([]func(Notification), len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
}
