// Package events publishes accepted chain entries to Kafka so downstream
// consumers (notification, analytics) can follow complaint progress without
// polling. Publication is best effort and never blocks or fails a write.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"blocksentinel/internal/config"
	"blocksentinel/internal/models"
)

// ChainEvent is the wire form of an appended entry.
type ChainEvent struct {
	ComplaintID string                 `json:"complaint_id"`
	Sequence    int64                  `json:"sequence"`
	EntryHash   string                 `json:"entry_hash"`
	PrevHash    string                 `json:"prev_hash"`
	Kind        models.PayloadKind     `json:"kind"`
	Status      models.ComplaintStatus `json:"status"`
	RecordedAt  time.Time              `json:"recorded_at"`
}

// Publisher writes chain events to a single topic.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewPublisher creates a Kafka publisher for the configured topic.
func NewPublisher(cfg config.KafkaConfig, logger *zap.Logger) *Publisher {
	log := logger.Named("events")
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		// With Async set, broker errors only surface through this callback.
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, msg := range messages {
				log.Error("Failed to deliver chain event",
					zap.String("complaint_id", string(msg.Key)),
					zap.Error(err))
			}
		},
	}
	return &Publisher{writer: writer, logger: log}
}

// EntryAppended publishes the entry keyed by complaint ID, so a lane's
// events stay ordered within a partition.
func (p *Publisher) EntryAppended(ctx context.Context, complaint *models.Complaint, entry *models.ChainEntry) {
	event := ChainEvent{
		ComplaintID: complaint.ID.String(),
		Sequence:    entry.Sequence,
		EntryHash:   entry.EntryHash,
		PrevHash:    entry.PrevHash,
		Kind:        entry.Payload.Kind,
		Status:      complaint.Status,
		RecordedAt:  entry.RecordedAt,
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to serialize chain event", zap.Error(err))
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ComplaintID),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		// Async writes return enqueue failures here; delivery failures
		// arrive through the writer's Completion callback.
		p.logger.Error("Failed to enqueue chain event",
			zap.String("complaint_id", event.ComplaintID),
			zap.Int64("sequence", event.Sequence),
			zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
