package core

import (
	"context"
	"fmt"

	"attendance.agent/internal/core/model"
	"attendance.agent/internal/ports/messaging"
	"attendance.agent/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type AlertService interface {
	SendAttendanceAlert(ctx context.Context, to string, alert messaging.AttendanceAlert) error
}

// SESClient is the subset of the SES API the alert service uses.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESAlertService struct {
	client SESClient
	sender string
}

func NewSESAlertService(client SESClient, sender string) *SESAlertService {
	return &SESAlertService{client: client, sender: sender}
}

func (s *SESAlertService) SendAttendanceAlert(ctx context.Context, to string, alert messaging.AttendanceAlert) error {
	tracer := otel.Tracer("ses-alert-service")
	ctx, span := tracer.Start(ctx, "send_alert", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if id := telemetry.GetAttemptIDFromContext(ctx); id != "" {
		span.SetAttributes(attribute.String("app.attempt_id", id))
	}

	subject, body := AlertText(alert)
	input := &ses.SendEmailInput{
		Source: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	_, err := s.client.SendEmail(ctx, input)
	return err
}

// AlertText renders the subject and body shown to the user for alert.
func AlertText(alert messaging.AttendanceAlert) (subject, body string) {
	switch model.Outcome(alert.Outcome) {
	case model.OutcomeSuccess:
		subject = "Attendance marked"
		body = "Your attendance was marked automatically"
		if alert.Message != "" {
			body += ": " + alert.Message
		}
		body += "."
		if alert.LowConfidence {
			body += "\n\nThe location fix was imprecise. Please check your attendance record."
		}
	case model.OutcomeSkippedPermission:
		subject = "Location permission needed"
		body = "Automatic attendance could not run because location access is not granted. " +
			"Open Settings and allow location access \"Always\" for automatic attendance to work."
	default:
		subject = "Automatic attendance failed"
		body = fmt.Sprintf("Automatic attendance (%s) did not complete: %s.", alert.Source, alert.Reason)
		if alert.Message != "" {
			body += "\n\n" + alert.Message
		}
		body += "\n\nIt will be retried automatically. You can also mark attendance manually."
	}
	return subject, body
}
