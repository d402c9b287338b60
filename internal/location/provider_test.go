package location

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"attendance.agent/internal/core/model"
)

var now = time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)

func grantedDevice() *Device {
	d := NewDevice()
	d.SetPermissions(model.PermissionState{ForegroundGranted: true, BackgroundGranted: true})
	return d
}

func TestCurrentLocation_PermissionChecks(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(now)

	t.Run("foreground is mandatory", func(t *testing.T) {
		d := NewDevice()
		p := NewDeviceProvider(d, clk, DefaultMaxAge)
		_, err := p.CurrentLocation(context.Background(), Request{})
		assert.True(t, errors.Is(err, &Failure{Kind: PermissionDenied}))
	})

	t.Run("background only for background requests", func(t *testing.T) {
		d := NewDevice()
		d.SetPermissions(model.PermissionState{ForegroundGranted: true})
		d.ReportFix(model.Fix{Coordinates: model.Coordinates{Latitude: 28.6, Longitude: 77.2}, ReceivedAt: now})
		p := NewDeviceProvider(d, clk, DefaultMaxAge)

		_, err := p.CurrentLocation(context.Background(), Request{Background: true})
		assert.True(t, errors.Is(err, &Failure{Kind: PermissionDenied}))
		assert.True(t, d.BackgroundRequested(), "missing background permission is requested")

		r, err := p.CurrentLocation(context.Background(), Request{})
		require.NoError(t, err)
		assert.InDelta(t, 28.6, r.Latitude, 1e-9)
	})

	t.Run("services disabled", func(t *testing.T) {
		d := grantedDevice()
		d.SetServicesEnabled(false)
		p := NewDeviceProvider(d, clk, DefaultMaxAge)
		_, err := p.CurrentLocation(context.Background(), Request{})
		assert.True(t, errors.Is(err, &Failure{Kind: ServicesDisabled}))
	})
}

func TestCurrentLocation_UsesRecentFix(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(now)
	d := grantedDevice()
	d.ReportFix(model.Fix{
		Coordinates: model.Coordinates{Latitude: 28.6139, Longitude: 77.2090},
		Accuracy:    12,
		ReceivedAt:  now.Add(-30 * time.Second),
	})

	r, err := NewDeviceProvider(d, clk, DefaultMaxAge).CurrentLocation(context.Background(), Request{})
	require.NoError(t, err)
	assert.InDelta(t, 28.6139, r.Latitude, 1e-9)
	assert.InDelta(t, 77.2090, r.Longitude, 1e-9)
	assert.False(t, r.LowConfidence)
}

func TestCurrentLocation_WaitsForSlowFix(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(now)
	d := grantedDevice()
	// stale fix must not be used
	d.ReportFix(model.Fix{
		Coordinates: model.Coordinates{Latitude: 1, Longitude: 1},
		ReceivedAt:  now.Add(-10 * time.Minute),
	})

	p := NewDeviceProvider(d, clk, DefaultMaxAge)
	done := make(chan Reading, 1)
	go func() {
		r, err := p.CurrentLocation(context.Background(), Request{})
		assert.NoError(t, err)
		done <- r
	}()

	select {
	case <-done:
		t.Fatal("returned before a fresh fix arrived")
	case <-time.After(50 * time.Millisecond):
	}

	d.ReportFix(model.Fix{
		Coordinates: model.Coordinates{Latitude: 28.6139, Longitude: 77.2090},
		Accuracy:    250,
		ReceivedAt:  now,
	})

	select {
	case r := <-done:
		assert.InDelta(t, 28.6139, r.Latitude, 1e-9)
		assert.True(t, r.LowConfidence, "250m accuracy is low confidence but accepted")
	case <-time.After(2 * time.Second):
		t.Fatal("fresh fix was not delivered")
	}
}

func TestCurrentLocation_BoundedOnlyByCallerContext(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(now)
	d := grantedDevice()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewDeviceProvider(d, clk, DefaultMaxAge).CurrentLocation(ctx, Request{})
	assert.True(t, errors.Is(err, &Failure{Kind: InvalidFix}))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		c     model.Coordinates
		valid bool
	}{
		{"delhi", model.Coordinates{Latitude: 28.6139, Longitude: 77.2090}, true},
		{"null island", model.Coordinates{}, false},
		{"latitude out of range", model.Coordinates{Latitude: 91, Longitude: 10}, false},
		{"longitude out of range", model.Coordinates{Latitude: 10, Longitude: -181}, false},
		{"nan", model.Coordinates{Latitude: math.NaN(), Longitude: 10}, false},
		{"inf", model.Coordinates{Latitude: 10, Longitude: math.Inf(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.c)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, &Failure{Kind: InvalidFix}))
			}
		})
	}
}

func TestDevice_OnFix(t *testing.T) {
	d := NewDevice()
	var got []model.Fix
	d.OnFix(func(f model.Fix) { got = append(got, f) })

	d.ReportFix(model.Fix{Coordinates: model.Coordinates{Latitude: 1, Longitude: 2}})
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Longitude)

	latest, ok := d.Latest()
	require.True(t, ok)
	assert.Equal(t, 1.0, latest.Latitude)
}

func TestRemoteProvider(t *testing.T) {
	d := grantedDevice()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DevicePath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(d.Snapshot()))
	}))
	defer srv.Close()

	clk := clocktesting.NewFakePassiveClock(now)
	p := NewRemoteProvider(srv.URL, clk, DefaultMaxAge, 10*time.Millisecond)

	t.Run("fresh fix", func(t *testing.T) {
		d.ReportFix(model.Fix{Coordinates: model.Coordinates{Latitude: 28.6139, Longitude: 77.2090}, Accuracy: 20, ReceivedAt: now})
		r, err := p.CurrentLocation(context.Background(), Request{Background: true})
		require.NoError(t, err)
		assert.InDelta(t, 77.2090, r.Longitude, 1e-9)
	})

	t.Run("stale fix waits for the budget", func(t *testing.T) {
		d.ReportFix(model.Fix{Coordinates: model.Coordinates{Latitude: 28.6139, Longitude: 77.2090}, ReceivedAt: now.Add(-time.Hour)})
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
		defer cancel()
		_, err := p.CurrentLocation(ctx, Request{})
		assert.True(t, errors.Is(err, &Failure{Kind: InvalidFix}))
	})

	t.Run("permission denied", func(t *testing.T) {
		d.SetPermissions(model.PermissionState{})
		_, err := p.CurrentLocation(context.Background(), Request{})
		assert.True(t, errors.Is(err, &Failure{Kind: PermissionDenied}))
	})
}

func TestRemoteProvider_AgentDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewRemoteProvider(srv.URL, nil, DefaultMaxAge, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.CurrentLocation(ctx, Request{})
	assert.True(t, errors.Is(err, &Failure{Kind: InvalidFix}))
}
