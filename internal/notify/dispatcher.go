package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"ms-booking/internal/kafka"
	"ms-booking/internal/lifecycle"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
)

// NotificationSink receives notifications for delivery to connected clients.
type NotificationSink interface {
	Deliver(ctx context.Context, n models.Notification) error
}

// Publisher is the transport used when notifications leave the process.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Dispatcher emits one notification per committed transition.
type Dispatcher struct {
	sink        NotificationSink
	publisher   Publisher
	topicPrefix string
	clock       lifecycle.Clock
	logger      *logger.Logger
	onDispatch  func(models.NotificationType, error)
}

// NewDispatcher publishes through publisher when it is non-nil and delivers
// straight to sink otherwise.
func NewDispatcher(sink NotificationSink, publisher Publisher, topicPrefix string, clock lifecycle.Clock, log *logger.Logger) *Dispatcher {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	return &Dispatcher{
		sink:        sink,
		publisher:   publisher,
		topicPrefix: topicPrefix,
		clock:       clock,
		logger:      log,
	}
}

// OnDispatch registers a hook called after every dispatch attempt.
func (d *Dispatcher) OnDispatch(fn func(models.NotificationType, error)) {
	d.onDispatch = fn
}

// Dispatch never fails the caller: the transition behind n has already
// committed, so delivery errors are only logged.
func (d *Dispatcher) Dispatch(ctx context.Context, n models.Notification) {
	if n.ID == "" {
		n.ID = utils.NewID()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = d.clock.Now().UTC()
	}

	err := d.send(ctx, n)
	if err != nil {
		d.logger.Error("NOTIFY", fmt.Sprintf("Failed to dispatch %s for %s: %v", n.Type, n.EntityID, err))
	} else {
		d.logger.Debug("NOTIFY", fmt.Sprintf("Dispatched %s for %s", n.Type, n.EntityID))
	}
	if d.onDispatch != nil {
		d.onDispatch(n.Type, err)
	}
}

func (d *Dispatcher) send(ctx context.Context, n models.Notification) error {
	if d.publisher == nil {
		if d.sink == nil {
			return nil
		}
		return d.sink.Deliver(ctx, n)
	}
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return d.publisher.Publish(ctx, kafka.TopicFor(d.topicPrefix, n.Type), n.EntityID, value)
}
