package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/kafka"
	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/metrics"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
	"go.uber.org/zap"
)

// MessageSource is the subset of the Kafka consumer the sink needs.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// UsageSink:
// - fetches usage events from Kafka,
// - buffers them up to BatchSize or BatchWait,
// - inserts each batch into the analytics store and then commits offsets.
type UsageSink struct {
	Source MessageSource
	Store  repository.UsageSinkRepository

	BatchSize int           // max buffered records per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewUsageSink(src MessageSource, store repository.UsageSinkRepository) *UsageSink {
	return &UsageSink{
		Source:    src,
		Store:     store,
		BatchSize: 500,
		BatchWait: time.Second,
	}
}

// Run blocks until ctx is cancelled. A batch whose insert fails is not
// committed, so it is redelivered after a restart.
func (w *UsageSink) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = time.Second
	}

	msgCh := make(chan kafka.Message, w.BatchSize)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := w.Source.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Log.Warn("usage-sink: kafka fetch", zap.Error(err))
				time.Sleep(200 * time.Millisecond)
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	w.runBatchWriter(ctx, msgCh)
	return nil
}

func (w *UsageSink) runBatchWriter(ctx context.Context, in <-chan kafka.Message) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var (
		recs []model.UsageRecord
		msgs []kafka.Message
	)

	flush := func(ctx context.Context) {
		if len(msgs) == 0 {
			return
		}
		if len(recs) > 0 {
			if err := w.Store.InsertBatch(ctx, recs); err != nil {
				logger.Log.Error("usage-sink: insert batch", zap.Int("records", len(recs)), zap.Error(err))
				return
			}
		}
		if err := w.Source.Commit(ctx, msgs...); err != nil {
			logger.Log.Warn("usage-sink: commit", zap.Error(err))
		}
		metrics.UsageEventsTotal.WithLabelValues("sunk").Add(float64(len(recs)))
		logger.Log.Debug("usage-sink: flushed", zap.Int("records", len(recs)), zap.Int("messages", len(msgs)))
		recs = recs[:0]
		msgs = msgs[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.WithoutCancel(ctx))
			return

		case m, ok := <-in:
			if !ok {
				flush(context.WithoutCancel(ctx))
				return
			}
			msgs = append(msgs, m)
			if rec, ok := decodeUsage(m); ok {
				recs = append(recs, rec)
			}
			if len(msgs) >= w.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}

// decodeUsage parses one event; poison messages are skipped but still committed.
func decodeUsage(m kafka.Message) (model.UsageRecord, bool) {
	var ev model.UsageEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		logger.Log.Warn("usage-sink: bad event json", zap.Int64("offset", m.Offset), zap.Error(err))
		return model.UsageRecord{}, false
	}
	if ev.Record.ID == "" || !ev.Record.Status.Valid() {
		logger.Log.Warn("usage-sink: incomplete event", zap.Int64("offset", m.Offset))
		return model.UsageRecord{}, false
	}
	return ev.Record, true
}
