package push

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/metrics"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaGateway queues notifications on a topic consumed by the pusher.
type KafkaGateway struct {
	writer messageWriter
}

func NewKafkaGateway(brokers []string, topic string) *KafkaGateway {
	return &KafkaGateway{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (g *KafkaGateway) Send(ctx context.Context, n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return g.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Token),
		Value: value,
	})
}

func (g *KafkaGateway) Close() error {
	return g.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
}

// Worker drains the push topic into a Gateway. Each record is attempted once and then
// committed, whatever the outcome.
type Worker struct {
	reader  messageReader
	gateway Gateway
	log     *zap.Logger
	metrics *metrics.Metrics
	backoff time.Duration
}

func NewWorker(reader messageReader, gateway Gateway, log *zap.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		reader:  reader,
		gateway: gateway,
		log:     log.Named("pusher"),
		metrics: m,
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		m, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			w.log.Warn("fetch push record failed, retrying", zap.Error(err))
			select {
			case <-time.After(w.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		w.handle(ctx, m)

		if err := w.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("commit push record failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (w *Worker) handle(ctx context.Context, m kafka.Message) {
	var n Notification
	if err := json.Unmarshal(m.Value, &n); err != nil {
		w.log.Warn("malformed push record", zap.Int64("offset", m.Offset), zap.Error(err))
		w.metrics.RecordPush(ResultFailed)
		return
	}
	if err := w.gateway.Send(ctx, n); err != nil {
		w.log.Warn("push delivery failed",
			zap.String("conversation_id", n.Data["conversationId"]),
			zap.Error(err))
		w.metrics.RecordPush(ResultFailed)
		return
	}
	w.log.Debug("push delivered", zap.String("conversation_id", n.Data["conversationId"]))
	w.metrics.RecordPush(ResultSent)
}

func (w *Worker) Close() error {
	return w.reader.Close()
}
