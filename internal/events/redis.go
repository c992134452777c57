package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/metrics"
)

// RedisRelay bridges a Bus to a Redis pub/sub channel so several bt
// processes sharing one database also share real-time events. Local events
// are forwarded out; remote events are injected into the local bus.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	bus     *Bus
	log     *logrus.Entry
}

// NewRedisRelay creates a relay for bus over channel.
func NewRedisRelay(client redis.UniversalClient, channel string, bus *Bus, log *logrus.Entry) *RedisRelay {
	if log == nil {
		log = logging.Discard()
	}
	return &RedisRelay{client: client, channel: channel, bus: bus, log: log}
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("events: redis ping %s: %w", addr, err)
	}
	return client, nil
}

// Run relays in both directions until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	local, cancel := r.bus.Subscribe(r.bus.cap())
	defer cancel()

	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()
	remote := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-local:
			if !ok {
				return nil
			}
			if e.Origin != r.bus.ID() {
				continue
			}
			r.forward(ctx, e)
		case msg, ok := <-remote:
			if !ok {
				return nil
			}
			r.inject(msg.Payload)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, e Event) {
	payload, err := EncodeEvent(e)
	if err != nil {
		r.log.WithError(err).WithField("event", e.Type).Warn("relay encode failed")
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		metrics.BroadcastDropped.WithLabelValues("relay").Inc()
		r.log.WithError(err).WithField("event", e.Type).Warn("relay publish failed")
	}
}

func (r *RedisRelay) inject(payload string) {
	e, err := DecodeEvent(payload)
	if err != nil {
		r.log.WithError(err).Warn("relay decode failed")
		return
	}
	if e.Origin == r.bus.ID() {
		return
	}
	r.bus.Publish(e)
}

// EncodeEvent serializes e for the relay channel.
func EncodeEvent(e Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeEvent parses a relayed event. Data decodes into generic JSON values.
func DecodeEvent(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("events: decode: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("events: decode: missing event type")
	}
	return e, nil
}

func (b *Bus) cap() int {
	return cap(b.queue)
}
