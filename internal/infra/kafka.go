// README: Kafka producer for pricing changes and retained location samples (sarama SyncProducer).
package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"honeycomb/internal/config"
	"honeycomb/internal/modules/dispatch"
	"honeycomb/internal/modules/location"
)

// PricingMessage is one cell of a pricing update as written to the pricing topic.
type PricingMessage struct {
	ZoneID     string    `json:"zone_id"`
	Resolution int       `json:"resolution"`
	At         time.Time `json:"at"`
	dispatch.CellPrice
}

type KafkaPublisher struct {
	producer     sarama.SyncProducer
	pricingTopic string
	sampleTopic  string
}

func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Return.Successes = true
	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 10 * time.Second
	sc.Net.WriteTimeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.PricingTopic, cfg.SampleTopic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(p sarama.SyncProducer, pricingTopic, sampleTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, pricingTopic: pricingTopic, sampleTopic: sampleTopic}
}

// PublishJSON sends v to topic keyed by key.
func (k *KafkaPublisher) PublishJSON(_ context.Context, topic, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	return nil
}

// PublishPricing writes one message per changed cell, keyed zone:cell so a cell's
// updates stay ordered within a partition.
func (k *KafkaPublisher) PublishPricing(ctx context.Context, u dispatch.PricingUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(u.Cells))
	for _, c := range u.Cells {
		b, err := json.Marshal(PricingMessage{ZoneID: u.ZoneID, Resolution: u.Resolution, At: u.At, CellPrice: c})
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.pricingTopic,
			Key:   sarama.StringEncoder(u.ZoneID + ":" + c.CellID),
			Value: sarama.ByteEncoder(b),
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := k.producer.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			return fmt.Errorf("publish pricing for %s: %d of %d messages failed: %w", u.ZoneID, len(perrs), len(msgs), perrs[0].Err)
		}
		return fmt.Errorf("publish pricing for %s: %w", u.ZoneID, err)
	}
	return nil
}

// PublishSample retains an accepted location sample for route audit.
func (k *KafkaPublisher) PublishSample(ctx context.Context, s location.Sample) error {
	return k.PublishJSON(ctx, k.sampleTopic, string(s.DriverID), s)
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
