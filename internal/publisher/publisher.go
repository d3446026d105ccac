package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"payrecon/internal/model"
	"payrecon/internal/repository"
)

// Publisher ships payment status events from the outbox to Kafka, giving the
// storefront and admin backends an at-least-once feed of reconciliation
// outcomes.
type Publisher struct {
	logger        *zap.Logger
	kafkaProducer *kafka.Producer
	kafkaTopic    string
	repository    *repository.OutboxRepository
	interval      time.Duration
	mu            sync.Mutex // Protects concurrent access to publishing operations
}

func NewPublisher(kafkaBroker, kafkaTopic string, logger *zap.Logger, repository *repository.OutboxRepository) (*Publisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Publisher{
		logger:        logger,
		kafkaProducer: producer,
		kafkaTopic:    kafkaTopic,
		repository:    repository,
		interval:      3 * time.Second,
	}, nil
}

// Start polls the outbox until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishUnsentEvents(); err != nil {
				p.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

func (p *Publisher) publishUnsentEvents() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	outboxEvents, err := p.repository.GetUnsentEventsForProcessing(100)
	if err != nil {
		return err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := p.publishEventToKafka(event); err != nil {
			p.logger.Error("Failed to publish event to Kafka",
				zap.String("event_id", event.EventID),
				zap.String("order_id", event.OrderID),
				zap.Error(err))
			// Returns status to 'unsent' for retry
			if markErr := p.repository.MarkEventAsFailed(event.EventID); markErr != nil {
				p.logger.Error("Failed to mark event as failed", zap.String("event_id", event.EventID), zap.Error(markErr))
			}
			continue
		}

		if err := p.repository.MarkEventAsSent(event.EventID); err != nil {
			p.logger.Error("Failed to mark event as sent", zap.String("event_id", event.EventID), zap.Error(err))
			// Note: Event was successfully published but marking failed - this could lead to duplicate sends
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		p.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}

	return nil
}

func (p *Publisher) publishEventToKafka(event model.OutboxEvent) error {
	deliveryChan := make(chan kafka.Event)
	defer close(deliveryChan)

	err := p.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.OrderID), // Order id as key keeps per-order ordering
		Value:          event.Payload,
	}, deliveryChan)
	if err != nil {
		return err
	}

	// Wait for delivery confirmation
	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			return ev.TopicPartition.Error
		}
		return nil
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (p *Publisher) Close() error {
	if p.kafkaProducer != nil {
		p.kafkaProducer.Close()
	}
	return nil
}
