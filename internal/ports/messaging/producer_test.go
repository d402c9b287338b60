package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	return &sqs.SendMessageOutput{}, f.err
}

func TestProducer_PublishAlert(t *testing.T) {
	client := &fakeSQS{}
	p := NewSQSProducer(client, "http://sqs/alerts", "http://sqs/notifications")

	alert := AttendanceAlert{
		AttemptID:  "a-1",
		Source:     "geofence",
		Outcome:    "SUCCESS",
		Message:    "Attendance marked",
		OccurredAt: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishAlert(context.Background(), alert))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "http://sqs/alerts", *in.QueueUrl)
	assert.Equal(t, EventTypeAttendanceAlert, *in.MessageAttributes["EventType"].StringValue)

	var got AttendanceAlert
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &got))
	assert.Equal(t, alert, got)
}

func TestProducer_PublishNotification(t *testing.T) {
	client := &fakeSQS{}
	p := NewSQSProducer(client, "", "http://sqs/notifications")

	require.NoError(t, p.PublishNotification(context.Background(), NotificationEvent{Data: map[string]string{"go_to": "auto_attendance"}}))
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "http://sqs/notifications", *client.inputs[0].QueueUrl)
	assert.Equal(t, EventTypeNotification, *client.inputs[0].MessageAttributes["EventType"].StringValue)
}

func TestProducer_UnconfiguredQueue(t *testing.T) {
	client := &fakeSQS{}
	p := NewSQSProducer(client, "", "")

	assert.ErrorIs(t, p.PublishAlert(context.Background(), AttendanceAlert{}), ErrNoQueue)
	assert.Empty(t, client.inputs)
}

func TestProducer_SendFailure(t *testing.T) {
	client := &fakeSQS{err: errors.New("throttled")}
	p := NewSQSProducer(client, "http://sqs/alerts", "")

	err := p.PublishAlert(context.Background(), AttendanceAlert{AttemptID: "a-1"})
	assert.ErrorContains(t, err, "throttled")
}

func TestSQSSender_InjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	client := &fakeSQS{}
	require.NoError(t, NewSQSSender(client).SendMessage(ctx, "http://sqs/q", EventTypeNotification, []byte(`{}`)))

	require.Len(t, client.inputs, 1)
	tp2, ok := client.inputs[0].MessageAttributes["traceparent"]
	require.True(t, ok)
	assert.Contains(t, *tp2.StringValue, span.SpanContext().TraceID().String())
}
