package polling

import (
	"context"

	"attendance.agent/internal/core/model"
	"attendance.agent/internal/metrics"
	"github.com/rs/zerolog/log"
)

// TaskID is the identifier the periodic check is registered under.
const TaskID = "attendance.auto-check"

// Attempter runs one attendance attempt.
type Attempter interface {
	Attempt(ctx context.Context, source model.Source) model.Result
}

// Trigger turns periodic wakes into polling attempts. It never retries: the
// next wake is the retry.
type Trigger struct {
	coordinator Attempter
}

// NewTrigger creates a polling trigger.
func NewTrigger(c Attempter) *Trigger {
	return &Trigger{coordinator: c}
}

// OnWake runs one attempt within ctx's budget.
func (t *Trigger) OnWake(ctx context.Context) {
	metrics.PollingWakesTotal.Inc()

	res := t.coordinator.Attempt(ctx, model.SourcePolling)
	log.Ctx(ctx).Debug().Str("result", res.String()).Msg("Polling wake handled")
}
