package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/danmuck/mslogger/internal/decoder"
	"github.com/danmuck/mslogger/internal/testutil/testlog"
)

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

func TestSinkPublishesSamplesInOrder(t *testing.T) {
	testlog.Start(t)
	pubSub := NewGoChannel(zerolog.Nop())
	messages, err := pubSub.Subscribe(context.Background(), DefaultTopic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sink := NewSink(pubSub, "")
	defer sink.Close()

	const n = 25
	published := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := sink.Publish(decoder.Sample{"rpm": float64(1000 + i)}); err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	prevID := ""
	for i := 0; i < n; i++ {
		msg := receive(t, messages)
		if _, err := ulid.Parse(msg.UUID); err != nil {
			t.Fatalf("message id is not a ULID: %q", msg.UUID)
		}
		if msg.UUID <= prevID {
			t.Fatalf("ids not increasing: %s after %s", msg.UUID, prevID)
		}
		prevID = msg.UUID
		if got, want := msg.Metadata.Get(MetadataSeq), strconv.Itoa(i+1); got != want {
			t.Fatalf("seq=%s want %s", got, want)
		}
		if _, err := strconv.ParseInt(msg.Metadata.Get(MetadataTimestamp), 10, 64); err != nil {
			t.Fatalf("ts metadata: %v", err)
		}
		if got := msg.Metadata.Get(MetadataContentType); got != "application/json" {
			t.Fatalf("content-type=%q", got)
		}
		sample, err := Decode(msg.Payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if sample["rpm"] != float64(1000+i) {
			t.Fatalf("message %d carries rpm=%v", i, sample["rpm"])
		}
	}
	if err := <-published; err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestSinkPayloadIsFlatJSONObject(t *testing.T) {
	testlog.Start(t)
	pubSub := NewGoChannel(zerolog.Nop())
	messages, err := pubSub.Subscribe(context.Background(), "flat")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sink := NewSink(pubSub, "flat")
	defer sink.Close()

	go sink.Consume(decoder.Sample{"rpm": 2500, "afr1": 14.7})
	msg := receive(t, messages)

	var values map[string]float64
	if err := json.Unmarshal(msg.Payload, &values); err != nil {
		t.Fatalf("payload is not a flat key/number object: %s: %v", msg.Payload, err)
	}
	if len(values) != 2 || values["rpm"] != 2500 || values["afr1"] != 14.7 {
		t.Fatalf("values=%v", values)
	}
}

func TestSinkWithoutSubscribersDoesNotBlock(t *testing.T) {
	testlog.Start(t)
	sink := NewSink(NewGoChannel(zerolog.Nop()), "bench")
	done := make(chan error, 1)
	go func() { done <- sink.Publish(decoder.Sample{"rpm": 1}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("publish blocked with no subscribers")
	}
	if sink.Topic() != "bench" {
		t.Fatalf("topic=%q", sink.Topic())
	}
}

func TestSinkClosed(t *testing.T) {
	testlog.Start(t)
	sink := NewSink(NewGoChannel(zerolog.Nop()), "")
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := sink.Publish(decoder.Sample{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNATSSink(t *testing.T) {
	testlog.Start(t)
	natsURL := natsgo.DefaultURL
	nc, err := natsgo.Connect(natsURL)
	if err != nil {
		t.Skip("NATS not available, skipping test")
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync(DefaultTopic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	pub, err := NewNATSPublisher(natsURL, zerolog.Nop())
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	sink := NewSink(pub, "")
	defer sink.Close()

	if err := sink.Publish(decoder.Sample{"rpm": 3100}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	raw, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	sample, err := Decode(raw.Data)
	if err != nil {
		t.Fatalf("decode NATS payload: %v", err)
	}
	if sample["rpm"] != 3100 {
		t.Fatalf("sample=%v", sample)
	}
}

func TestLoggerAdapterWith(t *testing.T) {
	var a watermill.LoggerAdapter = NewLoggerAdapter(zerolog.Nop())
	a = a.With(watermill.LogFields{"topic": DefaultTopic})
	a.Info("ok", nil)
	a.Error("failed", errors.New("boom"), watermill.LogFields{"n": 1})
}
