package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/guardianlink/guardian/internal/db"
)

// Config holds SQS configuration for the responder feed.
type Config struct {
	Region   string
	QueueURL string
}

// Event types published to the responder feed.
const (
	EventAlertTriggered = "alert.triggered"
	EventAlertResponded = "alert.responded"
	EventAlertResolved  = "alert.resolved"
)

// AlertEvent is the payload pushed to the responder feed queue.
// Nearby responder portals consume these to surface live alerts.
type AlertEvent struct {
	EventType   string  `json:"event_type"`
	AlertID     string  `json:"alert_id"`
	DeviceID    string  `json:"device_id"`
	Timestamp   int64   `json:"timestamp"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Status      string  `json:"status"`
	Message     string  `json:"message,omitempty"`
	ChannelUsed string  `json:"channel_used,omitempty"`
	PublishedAt int64   `json:"published_at"`
}

// Producer publishes alert lifecycle events to SQS.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new responder feed producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("responder feed producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// PublishAlert pushes an alert lifecycle event onto the responder feed.
// Returns the SQS message ID for tracking.
func (p *Producer) PublishAlert(ctx context.Context, eventType string, alert *db.EmergencyAlert) (string, error) {
	evt := AlertEvent{
		EventType:   eventType,
		AlertID:     alert.ID.String(),
		DeviceID:    alert.DeviceID,
		Timestamp:   alert.Timestamp,
		Lat:         alert.Lat,
		Lng:         alert.Lng,
		Status:      alert.Status,
		Message:     alert.Message,
		PublishedAt: time.Now().UnixNano(),
	}
	if alert.ChannelUsed != nil {
		evt.ChannelUsed = *alert.ChannelUsed
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to publish alert event",
			zap.Error(err),
			zap.String("alert_id", alert.ID.String()),
			zap.String("event_type", eventType),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return *result.MessageId, nil
}

// Close closes the producer.
func (p *Producer) Close() {
	// AWS SDK v2 clients don't require explicit Close()
}

// Consumer reads alert events from the responder feed, used by
// responder portal backends.
type Consumer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a new responder feed consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("responder feed consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Receive retrieves one alert event with long polling. Returns a nil
// event when the queue is empty.
func (c *Consumer) Receive(ctx context.Context) (*AlertEvent, string, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	msgData := result.Messages[0]

	var evt AlertEvent
	if err := json.Unmarshal([]byte(*msgData.Body), &evt); err != nil {
		c.logger.Error("failed to unmarshal alert event", zap.Error(err))
		return nil, "", fmt.Errorf("invalid event format: %w", err)
	}

	return &evt, *msgData.ReceiptHandle, nil
}

// Delete removes an event from the queue after processing.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}

	return nil
}

// Close closes the consumer.
func (c *Consumer) Close() {
	// AWS SDK v2 clients don't require explicit Close()
}
