package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/emberlink/ember/internal/logging"
	"github.com/emberlink/ember/internal/metrics"
)

// Bus publishes domain events over an in-process watermill Pub/Sub.
// Publication is fire-and-forget with a bounded local retry; durable
// delivery is the downstream broker's concern.
type Bus struct {
	pubsub     *gochannel.GoChannel
	retryLimit int
	log        zerolog.Logger
}

type Config struct {
	Buffer     int
	RetryLimit int
}

func NewBus(cfg Config) *Bus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            int64(cfg.Buffer),
		BlockPublishUntilSubscriberAck: false,
	}, watermill.NopLogger{})
	return &Bus{
		pubsub:     ps,
		retryLimit: cfg.RetryLimit,
		log:        logging.Component("events"),
	}
}

// Publish emits one event on the topic named by its kind. The event id
// becomes the message UUID so consumers can dedup.
func (b *Bus) Publish(ev Event) {
	data, err := ev.Marshal()
	if err != nil {
		b.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("marshal event")
		metrics.EventPublishFailures.Inc()
		return
	}

	msg := message.NewMessage(ev.EventID, data)
	msg.Metadata.Set("kind", string(ev.Kind))

	for attempt := 0; ; attempt++ {
		err = b.pubsub.Publish(string(ev.Kind), msg)
		if err == nil {
			return
		}
		if attempt >= b.retryLimit {
			break
		}
	}
	metrics.EventPublishFailures.Inc()
	b.log.Error().Err(err).Str("kind", string(ev.Kind)).Str("event_id", ev.EventID).Msg("publish failed")
}

// Subscribe returns the message stream for one event kind. Used by the
// in-process forwarders to external sinks, and by tests.
func (b *Bus) Subscribe(ctx context.Context, kind Kind) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, string(kind))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", kind, err)
	}
	return ch, nil
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}
