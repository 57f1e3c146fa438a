package notify

import (
	"context"
	"fmt"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"time"

	"github.com/go-redis/redis/v8"
)

const seenKeyPrefix = "notification_seen:"

// Deduper remembers delivered notifications so redeliveries are dropped.
// Instances that each fan out to their own clients set a distinct Scope.
type Deduper struct {
	Client *redis.Client
	TTL    time.Duration
	Scope  string
}

func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Deduper{Client: client, TTL: ttl}
}

// FirstDelivery marks n as seen and reports whether this is the first time.
func (d *Deduper) FirstDelivery(ctx context.Context, n models.Notification) (bool, error) {
	key := seenKeyPrefix + n.DedupeKey()
	if d.Scope != "" {
		key = seenKeyPrefix + d.Scope + ":" + n.DedupeKey()
	}
	ok, err := d.Client.SetNX(ctx, key, n.ID, d.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record delivery of %s: %w", n.DedupeKey(), err)
	}
	return ok, nil
}

// Relay forwards notifications consumed from Kafka to the local sink exactly once.
type Relay struct {
	deduper *Deduper
	sink    NotificationSink
	logger  *logger.Logger
}

func NewRelay(deduper *Deduper, sink NotificationSink, log *logger.Logger) *Relay {
	return &Relay{deduper: deduper, sink: sink, logger: log}
}

func (r *Relay) Handle(ctx context.Context, n models.Notification) error {
	if r.deduper != nil {
		first, err := r.deduper.FirstDelivery(ctx, n)
		if err != nil {
			// Deliver anyway when Redis is unavailable.
			r.logger.Warn("NOTIFY", err.Error())
		} else if !first {
			r.logger.Debug("NOTIFY", fmt.Sprintf("Dropping duplicate %s", n.DedupeKey()))
			return nil
		}
	}
	return r.sink.Deliver(ctx, n)
}
