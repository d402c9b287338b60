package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"attendance.agent/internal/core/model"
	"attendance.agent/internal/geofence"
	"attendance.agent/internal/metrics"
	"attendance.agent/internal/polling"
	"attendance.agent/internal/ports/messaging"
	"attendance.agent/internal/ports/store"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

// MarkerReader exposes the daily marker for status reporting.
type MarkerReader interface {
	LastMarked(ctx context.Context) (string, bool, error)
}

// Status is what the UI shows about background attendance.
type Status struct {
	Registered  bool   `json:"registered"`
	RegionCount int    `json:"regionCount"`
	LastMarked  string `json:"lastMarked,omitempty"`
}

// BackgroundService owns the coordinator and both background triggers and
// is the surface the UI talks to.
type BackgroundService struct {
	coordinator *Coordinator
	scheduler   polling.Scheduler
	polling     *polling.Trigger
	geofence    *geofence.Trigger
	markers     MarkerReader
	publisher   messaging.Publisher
	clock       clock.PassiveClock
	budget      time.Duration

	mu         sync.Mutex
	registered bool
}

// BackgroundOption configures the service.
type BackgroundOption func(*backgroundSettings)

type backgroundSettings struct {
	publisher   messaging.Publisher
	clock       clock.PassiveClock
	budget      time.Duration
	geofenceOps []geofence.TriggerOption
}

// WithAlertPublisher publishes an AttendanceAlert after every attempt the
// user should hear about.
func WithAlertPublisher(p messaging.Publisher) BackgroundOption {
	return func(s *backgroundSettings) {
		s.publisher = p
	}
}

// WithServiceClock injects the clock stamped on alerts.
func WithServiceClock(c clock.PassiveClock) BackgroundOption {
	return func(s *backgroundSettings) {
		s.clock = c
	}
}

// WithManualBudget bounds every manual check by the host execution budget.
// The check keeps running when the caller goes away.
func WithManualBudget(d time.Duration) BackgroundOption {
	return func(s *backgroundSettings) {
		s.budget = d
	}
}

// WithGeofenceOptions passes options to the geofence trigger.
func WithGeofenceOptions(opts ...geofence.TriggerOption) BackgroundOption {
	return func(s *backgroundSettings) {
		s.geofenceOps = append(s.geofenceOps, opts...)
	}
}

// NewBackgroundService wires the triggers around coordinator. Both triggers
// attempt through the service so alerts cover every source.
func NewBackgroundService(
	coordinator *Coordinator,
	scheduler polling.Scheduler,
	host geofence.Host,
	offices geofence.OfficeSource,
	tokens TokenSource,
	s store.Store,
	markers MarkerReader,
	opts ...BackgroundOption,
) *BackgroundService {
	settings := backgroundSettings{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&settings)
	}

	svc := &BackgroundService{
		coordinator: coordinator,
		scheduler:   scheduler,
		markers:     markers,
		publisher:   settings.publisher,
		clock:       settings.clock,
		budget:      settings.budget,
	}
	svc.polling = polling.NewTrigger(svc)
	svc.geofence = geofence.NewTrigger(svc, offices, tokens, host, s, settings.geofenceOps...)
	return svc
}

// Attempt runs one coordinator attempt and publishes the alert for it.
func (s *BackgroundService) Attempt(ctx context.Context, source model.Source) model.Result {
	res := s.coordinator.Attempt(ctx, source)
	s.alert(ctx, res)
	return res
}

// StartBackgroundAttendance registers the periodic check and the office
// regions. It reports false when the host refuses background execution;
// that case is logged and otherwise silent.
func (s *BackgroundService) StartBackgroundAttendance(ctx context.Context) bool {
	err := s.scheduler.Register(polling.TaskID, s.polling.OnWake)
	if errors.Is(err, polling.ErrServiceUnavailable) {
		log.Ctx(ctx).Info().Msg("Background execution unavailable, automatic attendance disabled")
		return false
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to register background task")
		return false
	}

	// polling alone still marks attendance when regions cannot be registered
	if _, err := s.geofence.Initialize(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Geofencing not started")
	}

	s.setRegistered(true)
	log.Ctx(ctx).Info().Int("regions", s.geofence.RegionCount()).Msg("Background attendance started")
	return true
}

// StopBackgroundAttendance removes the periodic check and every region.
func (s *BackgroundService) StopBackgroundAttendance(ctx context.Context) bool {
	ok := true
	if err := s.scheduler.Unregister(polling.TaskID); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to unregister background task")
		ok = false
	}
	if err := s.geofence.Stop(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to stop geofencing")
		ok = false
	}

	s.setRegistered(false)
	log.Ctx(ctx).Info().Msg("Background attendance stopped")
	return ok
}

// ManualAttendanceCheck runs an attempt on behalf of the user.
func (s *BackgroundService) ManualAttendanceCheck(ctx context.Context) model.Result {
	if s.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.budget)
		defer cancel()
	}
	return s.Attempt(ctx, model.SourceManual)
}

// RefreshGeofences re-registers regions after office locations changed.
func (s *BackgroundService) RefreshGeofences(ctx context.Context) (int, error) {
	return s.geofence.Refresh(ctx)
}

// OnRegionEvent forwards a host region transition to the geofence trigger.
func (s *BackgroundService) OnRegionEvent(ctx context.Context, region model.GeofenceRegion, event model.RegionEvent) {
	s.geofence.OnRegionEvent(ctx, region, event)
}

// Status reports the registration state and the last marked date.
func (s *BackgroundService) Status(ctx context.Context) (Status, error) {
	st := Status{
		Registered:  s.isRegistered(),
		RegionCount: s.geofence.RegionCount(),
	}
	last, ok, err := s.markers.LastMarked(ctx)
	if err != nil {
		return st, err
	}
	if ok {
		st.LastMarked = last
	}
	return st, nil
}

func (s *BackgroundService) alert(ctx context.Context, res model.Result) {
	if s.publisher == nil || !alertWorthy(res) {
		return
	}

	alert := messaging.AttendanceAlert{
		AttemptID:     res.AttemptID,
		Source:        string(res.Source),
		Outcome:       string(res.Outcome),
		Reason:        string(res.Reason),
		Message:       res.Message,
		LowConfidence: res.LowConfidence,
		OccurredAt:    s.clock.Now().UTC(),
	}
	if err := s.publisher.PublishAlert(context.WithoutCancel(ctx), alert); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("attempt_id", res.AttemptID).Msg("Failed to publish attendance alert")
	}
}

func alertWorthy(res model.Result) bool {
	switch res.Outcome {
	case model.OutcomeSuccess, model.OutcomeSkippedPermission, model.OutcomeFailed:
		return true
	}
	return res.LowConfidence
}

func (s *BackgroundService) setRegistered(v bool) {
	s.mu.Lock()
	s.registered = v
	s.mu.Unlock()

	if v {
		metrics.BackgroundRegistered.Set(1)
	} else {
		metrics.BackgroundRegistered.Set(0)
	}
}

func (s *BackgroundService) isRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}
