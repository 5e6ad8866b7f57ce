// Package kafkasink implements pipeline.AuditSink on a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/redress/internal/pipeline"
)

// Sink publishes finished-case audit records to a Kafka topic, keyed by
// case ID so records for one case stay in partition order.
type Sink struct {
	writer *kafka.Writer
	logger log.Logger
}

// New creates a Sink writing to the given brokers and topic.
func New(brokers []string, topic string, logger log.Logger) *Sink {
	if logger == nil {
		logger = log.Nop()
	}
	return &Sink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

// Emit publishes one audit record.
func (s *Sink) Emit(ctx context.Context, rec *pipeline.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(rec.CaseID),
		Value: data,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	s.logger.Info(ctx, "audit record published", "case_id", rec.CaseID, "stage", string(rec.FinalState))
	return nil
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
