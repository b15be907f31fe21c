package broadcast

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/danmuck/mslogger/internal/decoder"
	"github.com/danmuck/mslogger/internal/observability"
)

const DefaultTopic = "mslogger.samples"

var ErrClosed = errors.New("broadcast: sink closed")

// NewGoChannel returns an in-process pub/sub usable as both the sink's
// publisher and a local subscriber. Publish waits for subscriber acks so
// samples arrive in publish order.
func NewGoChannel(logger zerolog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, NewLoggerAdapter(logger))
}

// NewNATSPublisher connects to a core NATS server at url.
func NewNATSPublisher(url string, logger zerolog.Logger) (message.Publisher, error) {
	pub, err := nats.NewPublisher(nats.PublisherConfig{
		URL:       url,
		Marshaler: &nats.NATSMarshaler{},
		JetStream: nats.JetStreamConfig{Disabled: true},
	}, NewLoggerAdapter(logger))
	if err != nil {
		return nil, fmt.Errorf("broadcast: nats publisher: %w", err)
	}
	return pub, nil
}

// Sink publishes samples to one topic.
type Sink struct {
	pub    message.Publisher
	topic  string
	now    func() time.Time
	logger zerolog.Logger

	seq       atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewSink(pub message.Publisher, topic string) *Sink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Sink{
		pub:    pub,
		topic:  topic,
		now:    time.Now,
		logger: observability.Component("broadcast"),
	}
}

func (s *Sink) Topic() string { return s.topic }

func (s *Sink) Publish(sample decoder.Sample) error {
	if s.closed.Load() {
		return ErrClosed
	}
	payload, err := Encode(sample)
	if err != nil {
		return err
	}
	at := s.now()
	msg := message.NewMessage(newID(at), payload)
	msg.Metadata.Set(MetadataSeq, strconv.FormatUint(s.seq.Add(1), 10))
	msg.Metadata.Set(MetadataTimestamp, strconv.FormatInt(at.UnixMilli(), 10))
	msg.Metadata.Set(MetadataContentType, "application/json")
	if err := s.pub.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("broadcast: publish: %w", err)
	}
	return nil
}

// Consume is an acquire.Consumer that logs publish failures.
func (s *Sink) Consume(sample decoder.Sample) {
	if err := s.Publish(sample); err != nil {
		s.logger.Warn().Err(err).Str("topic", s.topic).Msg("broadcast failed")
	}
}

// Close closes the underlying publisher once.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.pub.Close()
	})
	return err
}
