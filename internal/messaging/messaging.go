// Package messaging publishes relay notifications to a message broker.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/telhawk-systems/klaviyo-relay/internal/models"
)

// SubjectEventsDispatched carries a models.DispatchNotification for every
// event Klaviyo accepted.
const SubjectEventsDispatched = "relay.events.dispatched"

// Header keys set on published notifications.
const (
	HeaderNotificationID = "Relay-Notification-Id"
	HeaderMode           = "Relay-Dispatch-Mode"
)

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to subject. It is fire-and-forget.
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error

	// Close releases any resources held by the publisher.
	Close() error
}

// PublishOption configures message publishing behavior.
type PublishOption func(*publishOptions)

type publishOptions struct {
	headers map[string]string
}

// WithHeader adds a header to the published message.
func WithHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

func applyOptions(opts []PublishOption) publishOptions {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DispatchNotifier announces accepted events on a subject as JSON.
type DispatchNotifier struct {
	pub     Publisher
	subject string
}

// NewDispatchNotifier publishes through pub. An empty subject uses SubjectEventsDispatched.
func NewDispatchNotifier(pub Publisher, subject string) *DispatchNotifier {
	if subject == "" {
		subject = SubjectEventsDispatched
	}
	return &DispatchNotifier{pub: pub, subject: subject}
}

// NotifyDispatched publishes n.
func (d *DispatchNotifier) NotifyDispatched(ctx context.Context, n models.DispatchNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := d.pub.Publish(ctx, d.subject, data,
		WithHeader(HeaderNotificationID, n.ID),
		WithHeader(HeaderMode, n.Mode),
	); err != nil {
		return fmt.Errorf("publish to %s: %w", d.subject, err)
	}
	return nil
}
