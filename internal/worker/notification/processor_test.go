package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"

	"attendance.agent/internal/core/model"
)

type fakeChecker struct {
	calls  int
	result model.Result
}

func (f *fakeChecker) ManualAttendanceCheck(context.Context) model.Result {
	f.calls++
	return f.result
}

func msg(body string) types.Message {
	return types.Message{MessageId: aws.String("m-1"), Body: aws.String(body)}
}

func TestProcess(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		result    model.Result
		wantCalls int
		wantRetry bool
		wantErr   bool
	}{
		{
			name:      "sentinel runs the manual check",
			body:      `{"data":{"go_to":"auto_attendance"}}`,
			result:    model.Result{Outcome: model.OutcomeSuccess},
			wantCalls: 1,
		},
		{
			name:      "page fallback",
			body:      `{"data":{"page":"auto_attendance"}}`,
			result:    model.Result{Outcome: model.OutcomeSkippedAlreadyMarked},
			wantCalls: 1,
		},
		{
			name: "navigation only",
			body: `{"data":{"go_to":"chat"}}`,
		},
		{
			name:      "attempt failure is final",
			body:      `{"data":{"go_to":"auto_attendance"}}`,
			result:    model.Result{Outcome: model.OutcomeFailed, Reason: model.ReasonSubmitFailed, Err: errors.New("rejected")},
			wantCalls: 1,
		},
		{
			name:      "store outage is retried",
			body:      `{"data":{"go_to":"auto_attendance"}}`,
			result:    model.Result{Outcome: model.OutcomeFailed, Reason: model.ReasonStoreUnavailable, Err: errors.New("disk full")},
			wantCalls: 1,
			wantRetry: true,
			wantErr:   true,
		},
		{
			name:    "malformed",
			body:    `{"data":`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeChecker{result: tt.result}
			retry, delay, err := NewProcessor(c).Process(context.Background(), msg(tt.body))

			assert.Equal(t, tt.wantCalls, c.calls)
			assert.Equal(t, tt.wantRetry, retry)
			if tt.wantRetry {
				assert.Positive(t, delay)
			}
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
