package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue hands out its messages on the first receive and then long-polls
// until the context ends.
type fakeQueue struct {
	mu         sync.Mutex
	pending    []types.Message
	deleted    []string
	visibility map[string]int32
}

func (q *fakeQueue) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	msgs := q.pending
	q.pending = nil
	q.mu.Unlock()
	if len(msgs) > 0 {
		return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *fakeQueue) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, *params.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (q *fakeQueue) ChangeMessageVisibility(_ context.Context, params *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.visibility == nil {
		q.visibility = map[string]int32{}
	}
	q.visibility[*params.ReceiptHandle] = params.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

type scriptedProcessor struct {
	mu      sync.Mutex
	results map[string]struct {
		retry bool
		delay int32
		err   error
	}
	seen []string
}

func (p *scriptedProcessor) Process(_ context.Context, msg types.Message) (bool, int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	body := aws.ToString(msg.Body)
	p.seen = append(p.seen, body)
	r := p.results[body]
	return r.retry, r.delay, r.err
}

func message(id, body string) types.Message {
	return types.Message{MessageId: aws.String(id), ReceiptHandle: aws.String("rh-" + id), Body: aws.String(body)}
}

func TestWorker_AcksRetriesAndDrops(t *testing.T) {
	q := &fakeQueue{pending: []types.Message{
		message("1", "ok"),
		message("2", "transient"),
		message("3", "poison"),
	}}
	proc := &scriptedProcessor{results: map[string]struct {
		retry bool
		delay int32
		err   error
	}{
		"transient": {retry: true, delay: 40, err: errors.New("smtp down")},
		"poison":    {retry: false, err: errors.New("bad json")},
	}}

	w := NewWorker(q, "http://sqs/q", proc)
	w.Concurrency = 2

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.deleted)+len(q.visibility) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.ElementsMatch(t, []string{"rh-1", "rh-3"}, q.deleted)
	assert.Equal(t, map[string]int32{"rh-2": 40}, q.visibility)
	assert.Len(t, proc.seen, 3)
}

func TestRetryDelay(t *testing.T) {
	withCount := func(n string) types.Message {
		return types.Message{Attributes: map[string]string{"ApproximateReceiveCount": n}}
	}
	assert.Equal(t, 1, ReceiveCount(types.Message{}))
	assert.Equal(t, int32(20), RetryDelay(withCount("1")))
	assert.Equal(t, int32(80), RetryDelay(withCount("3")))
	assert.Equal(t, int32(3600), RetryDelay(withCount("12")))
	assert.Equal(t, int32(20), RetryDelay(withCount("garbage")))
}
