// Package events publishes thread lifecycle events (activation, completed and
// failed turns, closed connections) onto a Watermill topic so other processes
// can audit or index conversations without touching the relay.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	TypeThreadActivated = "thread.activated"
	TypeTurnCompleted   = "turn.completed"
	TypeTurnFailed      = "turn.failed"
	TypeThreadClosed    = "thread.closed"
)

const DefaultTopic = "chatrelay.threads"

type Event struct {
	Type         string `json:"type"`
	ThreadID     string `json:"thread_id"`
	MessageCount int    `json:"message_count"`
	Error        string `json:"error,omitempty"`
	TimeMs       int64  `json:"time_ms"`
}

// Publisher serializes events as JSON messages on one topic. A nil
// *Publisher is valid and drops everything.
type Publisher struct {
	pub   message.Publisher
	topic string
	// closers release what the backend opened for pub, after pub itself.
	closers []func() error
}

func NewPublisher(pub message.Publisher, topic string) *Publisher {
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	return &Publisher{pub: pub, topic: topic}
}

func (p *Publisher) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

func (p *Publisher) Publish(_ context.Context, ev Event) error {
	if p == nil || p.pub == nil {
		return nil
	}
	if ev.TimeMs == 0 {
		ev.TimeMs = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "events: encode")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", ev.Type)
	msg.Metadata.Set("thread_id", ev.ThreadID)
	if err := p.pub.Publish(p.topic, msg); err != nil {
		return errors.Wrapf(err, "events: publish %s", ev.Type)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var err error
	if p.pub != nil {
		err = p.pub.Close()
	}
	for _, c := range p.closers {
		if cerr := c(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Settings struct {
	Backend   string
	Topic     string
	RedisAddr string
}

// Build returns the publisher for s.Backend, or nil for "none". For the memory
// backend the returned subscriber reads the same in-process channel; for redis
// it is nil and consumers attach with NewRedisSubscriber. Closing the
// publisher releases its Redis client.
func Build(s Settings) (*Publisher, message.Subscriber, error) {
	logger := NewWatermillLogger(log.Logger)
	switch strings.ToLower(strings.TrimSpace(s.Backend)) {
	case "", BackendNone:
		return nil, nil, nil
	case BackendMemory:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return NewPublisher(ch, s.Topic), ch, nil
	case BackendRedis:
		if strings.TrimSpace(s.RedisAddr) == "" {
			return nil, nil, errors.New("events: redis backend requires an address")
		}
		client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		pub, err := rstream.NewPublisher(rstream.PublisherConfig{
			Client:     client,
			Marshaller: rstream.DefaultMarshallerUnmarshaller{},
		}, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(err, "events: redis publisher")
		}
		p := NewPublisher(pub, s.Topic)
		p.closers = append(p.closers, client.Close)
		return p, nil, nil
	default:
		return nil, nil, errors.Errorf("events: unknown backend %q", s.Backend)
	}
}

// NewRedisSubscriber returns a Redis Streams subscriber bound to a consumer
// group. Close also closes its Redis client.
func NewRedisSubscriber(addr, group, consumer string) (message.Subscriber, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("events: redis subscriber requires an address")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, NewWatermillLogger(log.Logger))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "events: redis subscriber")
	}
	return &clientSubscriber{Subscriber: sub, closeClient: client.Close}, nil
}

type clientSubscriber struct {
	message.Subscriber
	closeClient func() error
}

func (s *clientSubscriber) Close() error {
	err := s.Subscriber.Close()
	if cerr := s.closeClient(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Decode parses a message produced by Publisher.
func Decode(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, errors.Wrap(err, "events: decode")
	}
	return ev, nil
}
