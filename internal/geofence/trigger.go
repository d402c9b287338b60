package geofence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"attendance.agent/internal/core/model"
	"attendance.agent/internal/location"
	"attendance.agent/internal/metrics"
	"attendance.agent/internal/ports/store"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

// Working hours during which a region entry may mark attendance.
const (
	workdayStartHour = 8
	workdayEndHour   = 11
)

// ErrNoToken is returned when regions cannot be fetched without a login.
var ErrNoToken = errors.New("no auth token stored")

// Attempter runs one attendance attempt.
type Attempter interface {
	Attempt(ctx context.Context, source model.Source) model.Result
}

// OfficeSource lists the offices to watch.
type OfficeSource interface {
	FetchOfficeLocations(ctx context.Context, token string) ([]model.OfficeLocation, error)
}

// TokenSource yields the stored bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Trigger keeps one region registered per office and turns working-hours
// entries into geofence attempts.
type Trigger struct {
	coordinator Attempter
	offices     OfficeSource
	tokens      TokenSource
	host        Host
	store       store.Store
	clock       clock.PassiveClock
	loc         *time.Location
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithClock injects the clock used for the working-hours check.
func WithClock(c clock.PassiveClock) TriggerOption {
	return func(t *Trigger) {
		t.clock = c
	}
}

// WithLocation sets the zone working hours are evaluated in.
func WithLocation(loc *time.Location) TriggerOption {
	return func(t *Trigger) {
		t.loc = loc
	}
}

// NewTrigger creates a geofence trigger.
func NewTrigger(c Attempter, offices OfficeSource, tokens TokenSource, host Host, s store.Store, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		coordinator: c,
		offices:     offices,
		tokens:      tokens,
		host:        host,
		store:       s,
		clock:       clock.RealClock{},
		loc:         time.Local,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Initialize fetches the offices and registers one region per office,
// replacing whatever was registered before. When the backend cannot be
// reached the cached region list is registered instead. It returns the
// number of regions now monitored.
func (t *Trigger) Initialize(ctx context.Context) (int, error) {
	regions, err := t.fetchRegions(ctx)
	if err != nil {
		cached, cerr := t.CachedRegions(ctx)
		if cerr != nil || len(cached) == 0 {
			return 0, err
		}
		log.Ctx(ctx).Warn().Err(err).Int("regions", len(cached)).Msg("Office fetch failed, monitoring cached regions")
		regions = cached
	} else if err := t.cache(ctx, regions); err != nil {
		return 0, err
	}

	if err := t.host.StartMonitoring(regions, t.OnRegionEvent); err != nil {
		return 0, fmt.Errorf("failed to register regions: %w", err)
	}
	metrics.MonitoredRegions.Set(float64(len(regions)))
	log.Ctx(ctx).Info().Int("regions", len(regions)).Msg("Geofence regions registered")
	return len(regions), nil
}

// Stop unregisters every region and drops the cached list.
func (t *Trigger) Stop(ctx context.Context) error {
	if err := t.host.StopMonitoring(); err != nil {
		return fmt.Errorf("failed to unregister regions: %w", err)
	}
	metrics.MonitoredRegions.Set(0)
	if err := t.store.Delete(ctx, store.KeyGeofenceRegions); err != nil {
		return fmt.Errorf("failed to clear cached regions: %w", err)
	}
	return nil
}

// Refresh re-registers regions after office locations changed.
func (t *Trigger) Refresh(ctx context.Context) (int, error) {
	if err := t.Stop(ctx); err != nil {
		return 0, err
	}
	return t.Initialize(ctx)
}

// RegionCount returns the number of regions currently monitored.
func (t *Trigger) RegionCount() int {
	return len(t.host.Regions())
}

// CachedRegions returns the last persisted region list.
func (t *Trigger) CachedRegions(ctx context.Context) ([]model.GeofenceRegion, error) {
	data, ok, err := t.store.Get(ctx, store.KeyGeofenceRegions)
	if err != nil || !ok {
		return nil, err
	}
	var regions []model.GeofenceRegion
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("failed to decode cached regions: %w", err)
	}
	return regions, nil
}

// OnRegionEvent handles a transition reported by the host. Only entries
// during working hours reach the coordinator; everything else is dropped
// without side effects.
func (t *Trigger) OnRegionEvent(ctx context.Context, region model.GeofenceRegion, event model.RegionEvent) {
	logger := log.Ctx(ctx).With().Str("region", region.Identifier).Str("event", string(event)).Logger()

	if event != model.RegionEnter {
		metrics.GeofenceEventsTotal.WithLabelValues(string(event), "ignored").Inc()
		logger.Debug().Msg("Ignoring region exit")
		return
	}
	if !IsWithinWorkingHours(t.clock.Now(), t.loc) {
		metrics.GeofenceEventsTotal.WithLabelValues(string(event), "outside_hours").Inc()
		logger.Info().Msg("Region entered outside working hours")
		return
	}

	metrics.GeofenceEventsTotal.WithLabelValues(string(event), "attempted").Inc()
	res := t.coordinator.Attempt(logger.WithContext(ctx), model.SourceGeofence)
	logger.Debug().Str("result", res.String()).Msg("Region entry handled")
}

// IsWithinWorkingHours reports whether now falls on Monday to Friday between
// 08:00 and 10:59 in loc.
func IsWithinWorkingHours(now time.Time, loc *time.Location) bool {
	local := now.In(loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	h := local.Hour()
	return h >= workdayStartHour && h < workdayEndHour
}

func (t *Trigger) fetchRegions(ctx context.Context) ([]model.GeofenceRegion, error) {
	token, err := t.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoToken
	}

	offices, err := t.offices.FetchOfficeLocations(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch office locations: %w", err)
	}

	regions := make([]model.GeofenceRegion, 0, len(offices))
	for _, o := range offices {
		if err := location.Validate(model.Coordinates{Latitude: o.Latitude, Longitude: o.Longitude}); err != nil {
			log.Ctx(ctx).Warn().Str("office_id", o.ID).Err(err).Msg("Skipping office with invalid coordinates")
			continue
		}
		regions = append(regions, model.RegionFromOffice(o))
	}
	return regions, nil
}

func (t *Trigger) cache(ctx context.Context, regions []model.GeofenceRegion) error {
	data, err := json.Marshal(regions)
	if err != nil {
		return fmt.Errorf("failed to encode regions: %w", err)
	}
	if err := t.store.Put(ctx, store.KeyGeofenceRegions, data); err != nil {
		return fmt.Errorf("failed to cache regions: %w", err)
	}
	return nil
}
