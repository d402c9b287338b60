package polling

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

// ErrServiceUnavailable is returned when the host refuses background
// execution (background fetch restricted or denied by the user).
var ErrServiceUnavailable = errors.New("background execution unavailable")

// Handler is invoked on every wake. ctx carries the host's execution budget.
type Handler func(ctx context.Context)

// Scheduler is the host capability that wakes the agent periodically.
type Scheduler interface {
	Register(taskID string, handler Handler) error
	Unregister(taskID string) error
}

// TickerScheduler wakes registered tasks from an in-process timer. The
// interval is re-jittered after every wake so that agents sharing a backend
// do not wake in lockstep.
type TickerScheduler struct {
	clock    clock.Clock
	interval time.Duration
	jitter   time.Duration
	budget   time.Duration
	denied   bool

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TickerOption configures a TickerScheduler.
type TickerOption func(*TickerScheduler)

// WithSchedulerClock injects the clock driving the timer.
func WithSchedulerClock(c clock.Clock) TickerOption {
	return func(s *TickerScheduler) {
		s.clock = c
	}
}

// WithDenied makes every registration fail with ErrServiceUnavailable.
func WithDenied(denied bool) TickerOption {
	return func(s *TickerScheduler) {
		s.denied = denied
	}
}

// NewTickerScheduler creates a scheduler firing every interval ± jitter and
// giving each wake at most budget to run.
func NewTickerScheduler(interval, jitter, budget time.Duration, opts ...TickerOption) *TickerScheduler {
	s := &TickerScheduler{
		clock:    clock.RealClock{},
		interval: interval,
		jitter:   jitter,
		budget:   budget,
		tasks:    make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register starts waking handler under taskID, replacing any earlier
// registration of the same id.
func (s *TickerScheduler) Register(taskID string, handler Handler) error {
	if s.denied {
		return ErrServiceUnavailable
	}
	if err := s.Unregister(taskID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.tasks[taskID] = t
	s.mu.Unlock()

	go s.run(ctx, taskID, handler, t.done)
	log.Info().Str("task_id", taskID).Dur("interval", s.interval).Msg("Background task registered")
	return nil
}

// Unregister stops waking taskID. A wake already in progress runs to
// completion first. Unknown ids are ignored.
func (s *TickerScheduler) Unregister(taskID string) error {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	delete(s.tasks, taskID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	t.cancel()
	<-t.done
	log.Info().Str("task_id", taskID).Msg("Background task unregistered")
	return nil
}

// Registered reports whether taskID is currently scheduled.
func (s *TickerScheduler) Registered(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[taskID]
	return ok
}

// Close unregisters every task.
func (s *TickerScheduler) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Unregister(id)
	}
}

func (s *TickerScheduler) run(ctx context.Context, taskID string, handler Handler, done chan struct{}) {
	defer close(done)

	timer := s.clock.NewTimer(s.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			s.wake(ctx, taskID, handler)
			timer.Reset(s.nextInterval())
		}
	}
}

func (s *TickerScheduler) wake(ctx context.Context, taskID string, handler Handler) {
	// unregistering does not cut a running wake short; the budget does
	wakeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.budget)
	defer cancel()

	logger := log.With().Str("task_id", taskID).Logger()
	wakeCtx = logger.WithContext(wakeCtx)

	logger.Debug().Msg("Background wake")
	handler(wakeCtx)
}

func (s *TickerScheduler) nextInterval() time.Duration {
	if s.jitter <= 0 {
		return s.interval
	}
	//nolint:gosec // G404: polling jitter needs no cryptographic randomness
	offset := time.Duration(rand.Int64N(int64(2*s.jitter))) - s.jitter
	if d := s.interval + offset; d > 0 {
		return d
	}
	return s.interval
}
