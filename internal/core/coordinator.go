package core

import (
	"context"
	"errors"

	"attendance.agent/internal/core/model"
	"attendance.agent/internal/gateway"
	"attendance.agent/internal/location"
	"attendance.agent/internal/metrics"
	"attendance.agent/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

// Lock is the cross-context dedup lock plus the daily completion guard.
type Lock interface {
	TryAcquire(ctx context.Context, holder string) (bool, error)
	Renew(ctx context.Context, holder string) (bool, error)
	Release(ctx context.Context, holder string) error
	IsMarkedToday(ctx context.Context) (bool, error)
	MarkToday(ctx context.Context) error
}

// attemptState names the checkpoints of one attempt. Each one can end the
// attempt early; the lock is released on every path once taken.
type attemptState string

const (
	stateCheckAlreadyMarked attemptState = "check_already_marked"
	stateAcquireLock        attemptState = "acquire_lock"
	stateCheckWorkStatus    attemptState = "check_work_status"
	stateAcquireLocation    attemptState = "acquire_location"
	stateCheckEligibility   attemptState = "check_eligibility"
	stateConfirmLock        attemptState = "confirm_lock"
	stateSubmit             attemptState = "submit"
	stateMarkCompleted      attemptState = "mark_completed"
	stateRelease            attemptState = "release"
)

// Coordinator turns a trigger into at most one attendance submission per
// calendar day. Every trigger source calls Attempt.
type Coordinator struct {
	lock    Lock
	gateway gateway.Gateway
	locator location.Provider
	tokens  TokenSource
	clock   clock.PassiveClock
	newID   func() string
}

// CoordinatorOption configures the coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock injects the time source used for durations.
func WithCoordinatorClock(c clock.PassiveClock) CoordinatorOption {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// WithAttemptIDs replaces the attempt id generator.
func WithAttemptIDs(f func() string) CoordinatorOption {
	return func(co *Coordinator) {
		co.newID = f
	}
}

// NewCoordinator creates a coordinator owning its collaborators.
func NewCoordinator(l Lock, gw gateway.Gateway, locator location.Provider, tokens TokenSource, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		lock:    l,
		gateway: gw,
		locator: locator,
		tokens:  tokens,
		clock:   clock.RealClock{},
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attempt runs one attendance attempt for source. It never returns an error:
// every failure is folded into the Result and logged.
func (c *Coordinator) Attempt(ctx context.Context, source model.Source) (res model.Result) {
	start := c.clock.Now()
	attemptID := c.newID()

	ctx, span := otel.Tracer("attendance-coordinator").Start(ctx, "attendance.attempt",
		trace.WithAttributes(
			attribute.String("app.source", string(source)),
			attribute.String("app.attempt_id", attemptID),
		),
	)
	ctx = logger.WithFields(logger.EnrichContextWithLogger(ctx), "attempt_id", attemptID, "source", string(source))

	res = model.Result{AttemptID: attemptID, Source: source}
	defer func() {
		span.SetAttributes(attribute.String("app.outcome", string(res.Outcome)))
		span.End()
		metrics.AttemptsTotal.WithLabelValues(string(source), string(res.Outcome)).Inc()
		metrics.AttemptDuration.WithLabelValues(string(source)).Observe(c.clock.Since(start).Seconds())

		ev := log.Ctx(ctx).Info()
		if res.Outcome == model.OutcomeFailed {
			ev = log.Ctx(ctx).Warn().Err(res.Err)
		}
		ev.Str("outcome", string(res.Outcome)).Str("reason", string(res.Reason)).Msg("Attendance attempt finished")
	}()

	enter(ctx, span, stateCheckAlreadyMarked)
	marked, err := c.lock.IsMarkedToday(ctx)
	if err != nil {
		return failed(res, model.ReasonStoreUnavailable, err)
	}
	if marked {
		res.Outcome = model.OutcomeSkippedAlreadyMarked
		return res
	}

	enter(ctx, span, stateAcquireLock)
	acquired, err := c.lock.TryAcquire(ctx, attemptID)
	if err != nil {
		return failed(res, model.ReasonStoreUnavailable, err)
	}
	if !acquired {
		res.Outcome = model.OutcomeSkippedLocked
		return res
	}
	defer func() {
		enter(ctx, span, stateRelease)
		// released even when the caller's budget is exhausted
		if err := c.lock.Release(context.WithoutCancel(ctx), attemptID); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to release attendance lock; it expires with its TTL")
		}
	}()

	return c.attemptLocked(ctx, span, res)
}

// attemptLocked runs the checkpoints that need the lock.
func (c *Coordinator) attemptLocked(ctx context.Context, span trace.Span, res model.Result) model.Result {
	// A concurrent attempt may have finished between the lock-free check and
	// our acquisition.
	marked, err := c.lock.IsMarkedToday(ctx)
	if err != nil {
		return failed(res, model.ReasonStoreUnavailable, err)
	}
	if marked {
		res.Outcome = model.OutcomeSkippedAlreadyMarked
		return res
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return failed(res, model.ReasonStoreUnavailable, err)
	}
	if token == "" {
		return failed(res, model.ReasonNoToken, errors.New("no auth token stored"))
	}

	enter(ctx, span, stateCheckWorkStatus)
	status, err := c.gateway.CheckWorkStatus(ctx, token)
	if err != nil {
		return failed(res, model.ReasonWorkStatusFailed, err)
	}
	if !status.Working {
		res.Outcome = model.OutcomeSkippedLeave
		return res
	}

	enter(ctx, span, stateAcquireLocation)
	reading, err := c.locator.CurrentLocation(ctx, location.Request{Background: res.Source == model.SourceGeofence})
	if err != nil {
		if errors.Is(err, &location.Failure{Kind: location.PermissionDenied}) {
			res.Outcome = model.OutcomeSkippedPermission
			res.Err = err
			res.Message = err.Error()
			return res
		}
		return failed(res, model.ReasonLocationUnavailable, err)
	}

	// the fix may have taken longer than the TTL and the lock been taken over
	enter(ctx, span, stateConfirmLock)
	owned, err := c.lock.Renew(ctx, res.AttemptID)
	if err != nil {
		return failed(res, model.ReasonStoreUnavailable, err)
	}
	if !owned {
		log.Ctx(ctx).Warn().Msg("Attendance lock was taken over before submit")
		res.Outcome = model.OutcomeSkippedLocked
		return res
	}
	marked, err = c.lock.IsMarkedToday(ctx)
	if err != nil {
		return failed(res, model.ReasonStoreUnavailable, err)
	}
	if marked {
		res.Outcome = model.OutcomeSkippedAlreadyMarked
		return res
	}

	enter(ctx, span, stateCheckEligibility)
	res.Coordinates = &model.Coordinates{Latitude: reading.Latitude, Longitude: reading.Longitude}
	if reading.LowConfidence {
		res.LowConfidence = true
		metrics.LowConfidenceFixes.Inc()
		log.Ctx(ctx).Warn().Float64("accuracy", reading.Accuracy).Msg("Submitting low confidence location fix")
	}

	enter(ctx, span, stateSubmit)
	submitted, err := c.gateway.SubmitAttendance(ctx, token, reading.Coordinates, res.Source)
	if err != nil {
		return failed(res, model.ReasonSubmitFailed, err)
	}
	res.Message = submitted.Message
	if !submitted.Success {
		return failed(res, model.ReasonSubmitFailed, errors.New("backend rejected attendance: "+submitted.Message))
	}

	enter(ctx, span, stateMarkCompleted)
	res.Outcome = model.OutcomeSuccess
	if err := c.lock.MarkToday(context.WithoutCancel(ctx)); err != nil {
		// attendance is recorded remotely; a later trigger may submit again
		res.Err = err
		log.Ctx(ctx).Error().Err(err).Msg("Attendance submitted but daily marker not persisted")
	}
	return res
}

func enter(ctx context.Context, span trace.Span, s attemptState) {
	span.AddEvent(string(s))
	log.Ctx(ctx).Debug().Str("state", string(s)).Msg("Attempt state")
}

func failed(res model.Result, reason model.FailureReason, err error) model.Result {
	res.Outcome = model.OutcomeFailed
	res.Reason = reason
	res.Err = err
	if res.Message == "" && err != nil {
		res.Message = err.Error()
	}
	return res
}
