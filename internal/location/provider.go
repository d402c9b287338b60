package location

import (
	"context"
	"fmt"
	"math"
	"time"

	"attendance.agent/internal/core/model"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

// LowConfidenceAccuracy is the accuracy radius (meters) above which a fix is
// still accepted but flagged.
const LowConfidenceAccuracy = 100.0

// FailureKind is the structured reason a fix could not be produced.
type FailureKind string

const (
	PermissionDenied FailureKind = "PERMISSION_DENIED"
	ServicesDisabled FailureKind = "SERVICES_DISABLED"
	InvalidFix       FailureKind = "INVALID_FIX"
)

// Failure is returned instead of a position.
type Failure struct {
	Kind   FailureKind
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("location unavailable: %s", f.Kind)
	}
	return fmt.Sprintf("location unavailable: %s: %s", f.Kind, f.Detail)
}

// Is matches failures by kind, so errors.Is(err, &Failure{Kind: X}) works.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Kind == f.Kind
}

// Request describes what the caller needs.
type Request struct {
	// Background is set for triggers that run without the app in front.
	Background bool
}

// Reading is an accepted position.
type Reading struct {
	model.Coordinates
	Accuracy      float64
	LowConfidence bool
}

// Provider acquires the current device position.
type Provider interface {
	CurrentLocation(ctx context.Context, req Request) (Reading, error)
}

// DeviceProvider serves positions from the device bridge. It applies no
// deadline of its own: slow fixes are waited for, and only the caller's
// context (the host's execution budget) bounds the wait.
type DeviceProvider struct {
	device *Device
	clock  clock.PassiveClock
	maxAge time.Duration
}

// DefaultMaxAge is how old a cached fix may be and still count as current.
const DefaultMaxAge = time.Minute

// NewDeviceProvider creates a provider over device.
func NewDeviceProvider(device *Device, clk clock.PassiveClock, maxAge time.Duration) *DeviceProvider {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &DeviceProvider{device: device, clock: clk, maxAge: maxAge}
}

// CurrentLocation returns a fix no older than maxAge, waiting for the device
// to report one if necessary.
func (p *DeviceProvider) CurrentLocation(ctx context.Context, req Request) (Reading, error) {
	requestedAt := p.clock.Now()
	for {
		// grab the change channel first so no update slips between check and wait
		changed := p.device.changes()

		st := p.device.Snapshot()
		r, ok, err := evaluate(st, req, requestedAt, p.maxAge)
		if isKind(err, PermissionDenied) && st.Permissions.ForegroundGranted {
			// only the background grant is missing; ask the user for it
			p.device.RequestBackground()
		}
		if err != nil || ok {
			return r, err
		}

		log.Ctx(ctx).Debug().Msg("Waiting for a location fix")
		select {
		case <-changed:
		case <-ctx.Done():
			return Reading{}, budgetExhausted(ctx)
		}
	}
}

// evaluate decides whether st answers req. ok is false while the caller
// should keep waiting for a fresher fix.
func evaluate(st State, req Request, requestedAt time.Time, maxAge time.Duration) (r Reading, ok bool, err error) {
	if !st.Permissions.ForegroundGranted {
		return Reading{}, false, &Failure{Kind: PermissionDenied, Detail: "foreground location not granted"}
	}
	if req.Background && !st.Permissions.BackgroundGranted {
		return Reading{}, false, &Failure{Kind: PermissionDenied, Detail: "background location not granted"}
	}
	if !st.ServicesEnabled {
		return Reading{}, false, &Failure{Kind: ServicesDisabled}
	}
	if st.Latest == nil || requestedAt.Sub(st.Latest.ReceivedAt) > maxAge {
		return Reading{}, false, nil
	}
	r, err = accept(*st.Latest)
	return r, err == nil, err
}

func budgetExhausted(ctx context.Context) error {
	return &Failure{Kind: InvalidFix, Detail: fmt.Sprintf("no fix before execution budget ran out: %v", ctx.Err())}
}

func isKind(err error, k FailureKind) bool {
	f, ok := err.(*Failure)
	return ok && f.Kind == k
}

func accept(fix model.Fix) (Reading, error) {
	if err := Validate(fix.Coordinates); err != nil {
		return Reading{}, err
	}
	if fix.Accuracy < 0 || math.IsNaN(fix.Accuracy) {
		return Reading{}, &Failure{Kind: InvalidFix, Detail: "negative accuracy"}
	}
	return Reading{
		Coordinates:   fix.Coordinates,
		Accuracy:      fix.Accuracy,
		LowConfidence: fix.Accuracy > LowConfidenceAccuracy,
	}, nil
}

// Validate rejects coordinates that cannot be a real position.
func Validate(c model.Coordinates) error {
	switch {
	case math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude),
		math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0):
		return &Failure{Kind: InvalidFix, Detail: "non-finite coordinates"}
	case c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180:
		return &Failure{Kind: InvalidFix, Detail: "coordinates out of range"}
	case c.Latitude == 0 && c.Longitude == 0:
		// null island is what broken receivers report
		return &Failure{Kind: InvalidFix, Detail: "zero coordinates"}
	}
	return nil
}
