package geofence

import (
	"context"
	"sync"
	"time"

	"attendance.agent/internal/core/model"
	"attendance.agent/internal/location"
	"github.com/rs/zerolog/log"
)

// EventHandler receives region transitions. ctx carries the host's
// execution budget.
type EventHandler func(ctx context.Context, region model.GeofenceRegion, event model.RegionEvent)

// Host is the capability that watches regions and reports transitions.
type Host interface {
	// StartMonitoring replaces the registered region set.
	StartMonitoring(regions []model.GeofenceRegion, handler EventHandler) error
	StopMonitoring() error
	Regions() []model.GeofenceRegion
}

// DistanceMonitor is a Host fed by the fixes the device reports. A region is
// entered when a fix falls within its radius after one that did not (or after
// registration).
type DistanceMonitor struct {
	budget time.Duration

	mu      sync.Mutex
	regions []model.GeofenceRegion
	inside  map[string]bool
	handler EventHandler
	wg      sync.WaitGroup
}

// NewDistanceMonitor creates a monitor listening to device fixes. Each
// dispatched event gets budget to complete.
func NewDistanceMonitor(device *location.Device, budget time.Duration) *DistanceMonitor {
	m := &DistanceMonitor{
		budget: budget,
		inside: make(map[string]bool),
	}
	device.OnFix(m.observe)
	return m
}

// StartMonitoring implements Host.
func (m *DistanceMonitor) StartMonitoring(regions []model.GeofenceRegion, handler EventHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.regions = append([]model.GeofenceRegion(nil), regions...)
	m.inside = make(map[string]bool, len(regions))
	m.handler = handler
	return nil
}

// StopMonitoring implements Host. Events already dispatched finish first.
func (m *DistanceMonitor) StopMonitoring() error {
	m.mu.Lock()
	m.regions = nil
	m.inside = make(map[string]bool)
	m.handler = nil
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

// Regions implements Host.
func (m *DistanceMonitor) Regions() []model.GeofenceRegion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.GeofenceRegion(nil), m.regions...)
}

// Wait blocks until every dispatched event handler has returned.
func (m *DistanceMonitor) Wait() {
	m.wg.Wait()
}

func (m *DistanceMonitor) observe(fix model.Fix) {
	if err := location.Validate(fix.Coordinates); err != nil {
		log.Debug().Err(err).Msg("Ignoring invalid fix for region monitoring")
		return
	}

	type transition struct {
		region model.GeofenceRegion
		event  model.RegionEvent
	}

	m.mu.Lock()
	handler := m.handler
	var fired []transition
	for _, r := range m.regions {
		in := Contains(r, fix.Coordinates)
		was := m.inside[r.Identifier]
		m.inside[r.Identifier] = in
		switch {
		case in && !was && r.NotifyOnEnter:
			fired = append(fired, transition{r, model.RegionEnter})
		case !in && was && r.NotifyOnExit:
			fired = append(fired, transition{r, model.RegionExit})
		}
	}
	if handler != nil {
		m.wg.Add(len(fired))
	}
	m.mu.Unlock()

	if handler == nil {
		return
	}
	for _, tr := range fired {
		go func(tr transition) {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.budget)
			defer cancel()
			logger := log.With().Str("region", tr.region.Identifier).Str("event", string(tr.event)).Logger()
			handler(logger.WithContext(ctx), tr.region, tr.event)
		}(tr)
	}
}
