package notify

import (
	"context"
	"time"
)

// Urgency maps to desktop-notification urgency levels.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// Notifier is the narrow interface job execution code depends on.
// Delivery is fire-and-forget: failures never propagate to the caller.
type Notifier interface {
	Notify(title, body string, urgency Urgency)
}

// Notification is one queued delivery.
type Notification struct {
	Title   string
	Body    string
	Urgency Urgency
	At      time.Time
}

// Sink delivers a notification to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Config controls the async delivery pipeline.
type Config struct {
	Enabled     bool
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

// NopNotifier drops everything. Useful in tests.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string, Urgency) {}
