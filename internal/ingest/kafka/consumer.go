// Package kafka consumes sentiment alerts from a Kafka topic and feeds them
// into the resolution pipeline.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/redress/internal/alert"
	"github.com/linnemanlabs/redress/internal/pipeline"
)

// Processor is the downstream of the consumer; satisfied by the
// pipeline orchestrator.
type Processor interface {
	Process(ctx context.Context, al *alert.Alert) (*pipeline.CaseRecord, error)
}

// Consumer reads alert messages from a consumer group and hands each to the
// pipeline. Delivery is at-least-once: offsets commit only after Process
// returns, and the pipeline's dedup makes redelivery harmless.
type Consumer struct {
	reader *kafkago.Reader
	proc   Processor
	logger log.Logger
}

// New creates a Consumer on the given brokers, topic, and group.
func New(brokers []string, topic, groupID string, proc Processor, logger log.Logger) *Consumer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			CommitInterval: 0, // synchronous commits
		}),
		proc:   proc,
		logger: logger,
	}
}

// Run consumes until ctx is canceled. A malformed message is logged and
// committed, never retried; a pipeline failure is logged and committed too,
// since the Failed case is durably recorded and retryable via the API.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("commit offset: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) {
	var al alert.Alert
	if err := json.Unmarshal(msg.Value, &al); err != nil {
		c.logger.Error(ctx, err, "dropping malformed alert message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return
	}
	if al.ReceivedAt.IsZero() {
		al.ReceivedAt = time.Now().UTC()
	}

	cr, err := c.proc.Process(ctx, &al)
	if err != nil {
		c.logger.Error(ctx, err, "alert processing failed",
			"transcript_id", al.TranscriptID, "customer_id", al.CustomerID)
		return
	}
	c.logger.Info(ctx, "alert processed",
		"case_id", cr.ID, "stage", string(cr.Stage), "offset", msg.Offset)
}

// Close shuts down the reader, leaving the group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
