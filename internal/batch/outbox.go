package batch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"eppd/internal/platform/metrics"
	"eppd/internal/storage"
	pkgerrors "eppd/pkg/errors"
)

// outboxScope is the cursor scope for history publication; there is one
// global publication stream.
const outboxScope = "global"

// Publisher delivers one history record to the message broker.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaPublisher publishes over franz-go.
type KafkaPublisher struct {
	client *kgo.Client
}

// NewKafkaPublisher connects to the given brokers, producing to topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "connecting kafka producer")
	}
	return &KafkaPublisher{client: client}, nil
}

// Publish produces one record synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	record := &kgo.Record{Key: []byte(key), Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "producing history record")
	}
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// HistoryOutbox publishes the append-only history stream to the broker for
// downstream consumers (reporting, notification fanout). The cursor advances
// only after every entry in the window went out, so consumers see
// at-least-once delivery in modification order.
type HistoryOutbox struct {
	store     storage.Store
	publisher Publisher
	clock     Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewHistoryOutbox builds the outbox worker.
func NewHistoryOutbox(store storage.Store, publisher Publisher, clock Clock, logger *slog.Logger, m *metrics.Metrics) *HistoryOutbox {
	return &HistoryOutbox{store: store, publisher: publisher, clock: clock, logger: logger, metrics: m}
}

func (o *HistoryOutbox) Name() string { return "history_outbox" }

// RunOnce publishes every history entry recorded since the last run.
func (o *HistoryOutbox) RunOnce(ctx context.Context) error {
	now := o.clock.Now()

	err := o.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		cursor, _, err := tx.LoadCursor(ctx, outboxScope, storage.CursorHistoryOutbox)
		if err != nil {
			return err
		}
		entries, err := tx.ListHistoryBetween(ctx, cursor, now)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			value, err := json.Marshal(entry)
			if err != nil {
				return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "marshaling history entry")
			}
			if err := o.publisher.Publish(ctx, entry.TargetID, value); err != nil {
				return err
			}
		}
		if len(entries) > 0 {
			o.logger.InfoContext(ctx, "published history entries",
				slog.Int("count", len(entries)),
				slog.Time("until", now))
		}
		return tx.SaveCursor(ctx, outboxScope, storage.CursorHistoryOutbox, now)
	})
	if o.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		o.metrics.BatchRun(o.Name(), outcome)
	}
	return err
}
