package main

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/danmuck/mslogger/internal/broadcast"
	"github.com/danmuck/mslogger/internal/config"
	"github.com/danmuck/mslogger/internal/observability"
)

// startBroadcast publishes over NATS when a URL is configured. Otherwise
// samples go to an in-process channel whose only subscriber logs them.
func startBroadcast(ctx context.Context, cfg config.BroadcastConfig) (*broadcast.Sink, error) {
	logger := observability.Component("broadcast")
	if cfg.NATSURL != "" {
		pub, err := broadcast.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("url", cfg.NATSURL).Str("topic", cfg.Topic).Msg("broadcasting over NATS")
		return broadcast.NewSink(pub, cfg.Topic), nil
	}

	pubSub := broadcast.NewGoChannel(logger)
	sink := broadcast.NewSink(pubSub, cfg.Topic)
	messages, err := pubSub.Subscribe(ctx, sink.Topic())
	if err != nil {
		_ = pubSub.Close()
		return nil, err
	}
	go echo(messages)
	logger.Info().Str("topic", sink.Topic()).Msg("broadcasting in-process")
	return sink, nil
}

func echo(messages <-chan *message.Message) {
	logger := observability.Component("broadcast")
	for msg := range messages {
		sample, err := broadcast.Decode(msg.Payload)
		msg.Ack()
		if err != nil {
			logger.Warn().Err(err).Str("id", msg.UUID).Msg("undecodable sample")
			continue
		}
		logger.Debug().Str("seq", msg.Metadata.Get(broadcast.MetadataSeq)).Interface("values", sample).Msg("sample")
	}
}
