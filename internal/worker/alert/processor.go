package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"attendance.agent/internal/core"
	"attendance.agent/internal/ports/messaging"
	"attendance.agent/internal/worker"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

type AlertProcessor struct {
	alertService core.AlertService
	recipient    string
}

// NewProcessor sets up a new processor for the alert queue. Every alert is
// delivered to recipient.
func NewProcessor(alertService core.AlertService, recipient string) *AlertProcessor {
	return &AlertProcessor{
		alertService: alertService,
		recipient:    recipient,
	}
}

// Process is the main entry point for handling a message from the alert queue.
// It tries to deliver the alert and will tell the worker to retry if something goes wrong.
func (p *AlertProcessor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	if msg.Body == nil {
		return false, 0, fmt.Errorf("empty alert message")
	}

	var alert messaging.AttendanceAlert
	if err := json.Unmarshal([]byte(*msg.Body), &alert); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to unmarshal attendance alert")
		return false, 0, err // Do not retry on malformed message
	}

	if err := p.alertService.SendAttendanceAlert(ctx, p.recipient, alert); err != nil {
		delay := worker.RetryDelay(msg)
		return true, delay, fmt.Errorf("failed to send attendance alert: %w", err)
	}

	log.Ctx(ctx).Info().Str("attempt_id", alert.AttemptID).Str("outcome", alert.Outcome).Msg("Attendance alert sent")
	return false, 0, nil
}
