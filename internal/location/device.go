package location

import (
	"sync"

	"attendance.agent/internal/core/model"
	"github.com/rs/zerolog/log"
)

// Device mirrors the state of the device's location service as reported by
// the device bridge: permissions, the services switch and the latest fix.
// Listeners are notified on every change.
type Device struct {
	mu                  sync.Mutex
	perms               model.PermissionState
	servicesEnabled     bool
	backgroundRequested bool
	latest              *model.Fix
	changed             chan struct{}
	listeners           []func(model.Fix)
}

// NewDevice creates a device with services enabled and no permissions granted.
func NewDevice() *Device {
	return &Device{
		servicesEnabled: true,
		changed:         make(chan struct{}),
	}
}

// SetPermissions records the permission state reported by the OS.
func (d *Device) SetPermissions(p model.PermissionState) {
	d.mu.Lock()
	d.perms = p
	if p.BackgroundGranted {
		d.backgroundRequested = false
	}
	d.broadcastLocked()
	d.mu.Unlock()
}

// Permissions returns the permission state as last reported.
func (d *Device) Permissions() model.PermissionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.perms
}

// RequestBackground flags that background location must be requested from
// the user. The UI picks it up through the status endpoint.
func (d *Device) RequestBackground() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.backgroundRequested {
		log.Info().Msg("Background location permission requested")
	}
	d.backgroundRequested = true
}

// BackgroundRequested reports whether a background permission request is pending.
func (d *Device) BackgroundRequested() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backgroundRequested
}

// SetServicesEnabled records whether device location services are on.
func (d *Device) SetServicesEnabled(enabled bool) {
	d.mu.Lock()
	d.servicesEnabled = enabled
	d.broadcastLocked()
	d.mu.Unlock()
}

// ServicesEnabled reports whether device location services are on.
func (d *Device) ServicesEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.servicesEnabled
}

// ReportFix stores a new position and wakes everything waiting for one.
func (d *Device) ReportFix(fix model.Fix) {
	d.mu.Lock()
	f := fix
	d.latest = &f
	d.broadcastLocked()
	listeners := append([]func(model.Fix){}, d.listeners...)
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(fix)
	}
}

// Latest returns the most recent fix.
func (d *Device) Latest() (model.Fix, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.latest == nil {
		return model.Fix{}, false
	}
	return *d.latest, true
}

// OnFix registers fn to be called with every reported fix.
func (d *Device) OnFix(fn func(model.Fix)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// State is a point-in-time copy of the device state.
type State struct {
	Permissions         model.PermissionState `json:"permissions"`
	ServicesEnabled     bool                  `json:"servicesEnabled"`
	BackgroundRequested bool                  `json:"backgroundPermissionRequested"`
	Latest              *model.Fix            `json:"latest,omitempty"`
}

// Snapshot returns the current state.
func (d *Device) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := State{
		Permissions:         d.perms,
		ServicesEnabled:     d.servicesEnabled,
		BackgroundRequested: d.backgroundRequested,
	}
	if d.latest != nil {
		f := *d.latest
		st.Latest = &f
	}
	return st
}

// changes returns a channel closed on the next state change.
func (d *Device) changes() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changed
}

func (d *Device) broadcastLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}
