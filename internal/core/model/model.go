package model

import (
	"fmt"
	"time"
)

// Source identifies which trigger started an attendance attempt.
type Source string

const (
	SourcePolling  Source = "polling"
	SourceGeofence Source = "geofence"
	SourceManual   Source = "manual"
)

// Valid reports whether s is one of the known trigger sources.
func (s Source) Valid() bool {
	switch s {
	case SourcePolling, SourceGeofence, SourceManual:
		return true
	}
	return false
}

// Outcome is the terminal state of an attendance attempt.
type Outcome string

const (
	OutcomeSuccess              Outcome = "SUCCESS"
	OutcomeSkippedAlreadyMarked Outcome = "SKIPPED_ALREADY_MARKED"
	OutcomeSkippedLeave         Outcome = "SKIPPED_LEAVE"
	OutcomeSkippedLocked        Outcome = "SKIPPED_LOCKED"
	OutcomeSkippedPermission    Outcome = "SKIPPED_PERMISSION"
	OutcomeFailed               Outcome = "FAILED"
)

// FailureReason explains an OutcomeFailed result.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonNoToken             FailureReason = "NO_TOKEN"
	ReasonLocationUnavailable FailureReason = "LOCATION_UNAVAILABLE"
	ReasonWorkStatusFailed    FailureReason = "WORK_STATUS_FAILED"
	ReasonSubmitFailed        FailureReason = "SUBMIT_FAILED"
	ReasonStoreUnavailable    FailureReason = "STORE_UNAVAILABLE"
)

// Result is what every trigger gets back from the coordinator.
type Result struct {
	AttemptID string        `json:"attemptId"`
	Source    Source        `json:"source"`
	Outcome   Outcome       `json:"outcome"`
	Reason    FailureReason `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
	// LowConfidence is set when the submitted fix was less accurate than 100m.
	LowConfidence bool         `json:"lowConfidence,omitempty"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	Err           error        `json:"-"`
}

// Completed reports whether attendance is recorded for today after this result.
func (r Result) Completed() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeSkippedAlreadyMarked
}

func (r Result) String() string {
	if r.Reason != ReasonNone {
		return fmt.Sprintf("%s(%s)", r.Outcome, r.Reason)
	}
	return string(r.Outcome)
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Fix is a position reported by the device location service.
type Fix struct {
	Coordinates
	// Accuracy is the reported horizontal accuracy radius in meters. Zero means unknown.
	Accuracy   float64   `json:"accuracy"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// PermissionState is queried from the device for every attempt and never cached.
type PermissionState struct {
	ForegroundGranted bool `json:"foregroundGranted"`
	BackgroundGranted bool `json:"backgroundGranted"`
}

// OfficeLocation is an office as returned by the backend.
type OfficeLocation struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
}

// DefaultRegionRadius is the fixed geofence radius around every office.
const DefaultRegionRadius = 50.0

// GeofenceRegion is a circular monitored area derived from one OfficeLocation.
type GeofenceRegion struct {
	Identifier    string  `json:"identifier"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Radius        float64 `json:"radius"`
	NotifyOnEnter bool    `json:"notifyOnEnter"`
	NotifyOnExit  bool    `json:"notifyOnExit"`
}

// RegionFromOffice builds the monitored region for an office.
func RegionFromOffice(o OfficeLocation) GeofenceRegion {
	return GeofenceRegion{
		Identifier:    o.ID,
		Latitude:      o.Latitude,
		Longitude:     o.Longitude,
		Radius:        DefaultRegionRadius,
		NotifyOnEnter: true,
		NotifyOnExit:  false,
	}
}

// RegionEvent is the transition reported by the geofencing host.
type RegionEvent string

const (
	RegionEnter RegionEvent = "ENTER"
	RegionExit  RegionEvent = "EXIT"
)

// WorkStatus is the backend's answer to "should this employee mark today".
type WorkStatus struct {
	// Working is false when the employee is on leave or it is a holiday.
	Working bool
}

// SubmitResult is the backend's answer to an attendance submission.
type SubmitResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
