package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"attendance.agent/internal/core/model"
	"attendance.agent/internal/metrics"
	"attendance.agent/internal/notify"
	"attendance.agent/internal/ports/messaging"
	"attendance.agent/internal/worker"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// ManualChecker runs the user-initiated attendance check.
type ManualChecker interface {
	ManualAttendanceCheck(ctx context.Context) model.Result
}

// NotificationProcessor handles push-notification payloads from the
// notification queue. Payloads routed to the auto attendance sentinel run
// the manual check; every other target is navigation only and needs no work
// here.
type NotificationProcessor struct {
	checker ManualChecker
}

// NewProcessor creates a processor running manual checks through checker.
func NewProcessor(checker ManualChecker) *NotificationProcessor {
	return &NotificationProcessor{checker: checker}
}

// Process resolves the payload target and acts on it. Only a store outage is
// retried; any other outcome is final for this payload and the next trigger
// covers it.
func (p *NotificationProcessor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	if msg.Body == nil {
		return false, 0, fmt.Errorf("empty notification message")
	}

	var event messaging.NotificationEvent
	if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to unmarshal notification event")
		return false, 0, err // Do not retry on malformed message
	}

	target := notify.Resolve(notify.Payload(event.Data))
	metrics.NotificationsTotal.WithLabelValues(target.String()).Inc()

	if !target.RunsManualCheck() {
		log.Ctx(ctx).Debug().Str("target", target.String()).Msg("Navigation-only notification")
		return false, 0, nil
	}

	res := p.checker.ManualAttendanceCheck(ctx)
	log.Ctx(ctx).Info().Str("attempt_id", res.AttemptID).Str("result", res.String()).Msg("Auto attendance notification handled")

	if res.Outcome == model.OutcomeFailed && res.Reason == model.ReasonStoreUnavailable {
		return true, worker.RetryDelay(msg), res.Err
	}
	return false, 0, nil
}
