package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 50ms
	// Async makes WriteMessages return before the broker acks.
	Async bool
}

// Producer publishes usage events keyed by identity so one caller's events
// stay ordered within a partition.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c ProducerConfig) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           bt,
		RequiredAcks:           kafka.RequireOne,
		Async:                  c.Async,
		AllowAutoTopicCreation: true,
	}
	if c.Async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Log.Warn("kafka async write failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		}
	}
	return &Producer{w: w}
}

func (p *Producer) PublishUsage(ctx context.Context, ev model.UsageEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Record.IdentityRef),
		Value: b,
		Time:  ev.Record.CreatedAt,
	})
}

func (p *Producer) Close() error { return p.w.Close() }
