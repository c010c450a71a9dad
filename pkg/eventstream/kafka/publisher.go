// Package kafka publishes turn events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/relay/pkg/eventstream"
)

// DefaultClientID identifies the relay to brokers.
const DefaultClientID = "relay"

// Config configures a Publisher.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Publisher writes TurnPersistedEvents to a topic, keyed by turn ID so the
// events of one turn stay on one partition.
type Publisher struct {
	writer *kafkago.Writer
}

// NewPublisher creates a Publisher. Connections are opened lazily on the
// first write.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}

	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
			Transport:              &kafkago.Transport{ClientID: cfg.ClientID},
		},
	}, nil
}

// Message encodes event as a Kafka message.
func Message(event *eventstream.TurnPersistedEvent) (kafkago.Message, error) {
	if event == nil {
		return kafkago.Message{}, eventstream.ErrNilTurnEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encoding turn event: %w", err)
	}

	return kafkago.Message{
		Key:   []byte(event.Turn.ID.String()),
		Value: value,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}, nil
}

// PublishTurn writes one event and waits for the broker acknowledgement.
func (p *Publisher) PublishTurn(ctx context.Context, event *eventstream.TurnPersistedEvent) error {
	msg, err := Message(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing turn event: %w", err)
	}
	return nil
}

// Close flushes pending writes and closes broker connections.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
