package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/circuitbreaker"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher is the part of a Redis client the relay needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// AuditEvent is the message published for every relayed event.
type AuditEvent struct {
	InstanceID string       `json:"instance_id"`
	Event      domain.Event `json:"event"`
}

// EventRelay copies connection state changes and stream lifecycle events
// from the local bus to a Redis channel so other instances can audit them.
type EventRelay struct {
	client     Publisher
	channel    string
	instanceID string
	maxRetry   time.Duration
	breaker    *circuitbreaker.Breaker
	logger     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEventRelay(client Publisher, channel, instanceID string, maxRetry time.Duration, logger *zap.SugaredLogger) *EventRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventRelay{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		maxRetry:   maxRetry,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// WithBreaker makes Publish fail fast with circuitbreaker.ErrOpen after
// repeated failed publishes, so an unreachable Redis does not stall the
// relay's queue behind a full retry cycle per event.
func (r *EventRelay) WithBreaker(b *circuitbreaker.Breaker) *EventRelay {
	b.OnStateChange(func(from, to circuitbreaker.State) {
		r.logger.Warnw("relay circuit changed", "from", from, "to", to, "channel", r.channel)
	})
	r.breaker = b
	return r
}

// Start subscribes the relay to bus. Stop cancels pending retries.
func (r *EventRelay) Start(bus ports.EventBus) (stop func()) {
	unsubscribe := bus.Subscribe("redis-relay", ports.EventFilter{
		Types: []domain.EventType{
			domain.EventConnectionStateChanged,
			domain.EventStreamLifecycle,
		},
	}, func(event domain.Event) {
		if err := r.Publish(r.ctx, event); err != nil {
			r.logger.Warnw("dropping relayed event",
				"type", event.Type,
				"connection_id", event.ConnectionID,
				"error", err,
			)
		}
	})

	return func() {
		r.cancel()
		unsubscribe()
	}
}

// Publish sends one event, retrying with exponential backoff until maxRetry
// has elapsed or ctx is done. A non-positive maxRetry makes a single attempt.
func (r *EventRelay) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(AuditEvent{InstanceID: r.instanceID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 50 * time.Millisecond
	ebo.MaxElapsedTime = r.maxRetry
	ebo.Reset()

	var policy backoff.BackOff = ebo
	if r.maxRetry <= 0 {
		// A zero MaxElapsedTime means no limit in backoff.
		policy = backoff.WithMaxRetries(ebo, 0)
	}

	attempt := 0
	op := func() error {
		attempt++
		return r.client.Publish(ctx, r.channel, data).Err()
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Debugw("retrying event publish",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	publish := func() error {
		return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
	}
	if r.breaker != nil {
		err = r.breaker.Execute(publish)
	} else {
		err = publish()
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to publish event after %d attempts: %w", attempt, err)
	}

	r.logger.Debugw("relayed event",
		"type", event.Type,
		"connection_id", event.ConnectionID,
		"channel", r.channel,
	)
	return nil
}
