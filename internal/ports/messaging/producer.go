package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoQueue is returned when publishing to a queue that is not configured.
var ErrNoQueue = errors.New("queue url not configured")

type Producer struct {
	sender               MessageSender
	alertQueueURL        string
	notificationQueueURL string
}

func NewProducer(sender MessageSender, alertQueueURL, notificationQueueURL string) *Producer {
	return &Producer{
		sender:               sender,
		alertQueueURL:        alertQueueURL,
		notificationQueueURL: notificationQueueURL,
	}
}

func NewSQSProducer(client SQSClient, alertQueueURL, notificationQueueURL string) *Producer {
	return NewProducer(NewSQSSender(client), alertQueueURL, notificationQueueURL)
}

func (p *Producer) PublishAlert(ctx context.Context, alert AttendanceAlert) error {
	return p.publish(ctx, p.alertQueueURL, EventTypeAttendanceAlert, alert)
}

func (p *Producer) PublishNotification(ctx context.Context, event NotificationEvent) error {
	return p.publish(ctx, p.notificationQueueURL, EventTypeNotification, event)
}

func (p *Producer) publish(ctx context.Context, destination, eventType string, body interface{}) error {
	if destination == "" {
		return ErrNoQueue
	}

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	// Enrich the current span with attempt_id if available
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		var payload struct {
			AttemptID string `json:"attemptId"`
		}
		if err := json.Unmarshal(b, &payload); err == nil && payload.AttemptID != "" {
			span.SetAttributes(attribute.String("app.attempt_id", payload.AttemptID))
		}
	}

	if err := p.sender.SendMessage(ctx, destination, eventType, b); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
