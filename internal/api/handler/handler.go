package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"attendance.agent/internal/core"
	"attendance.agent/internal/core/model"
	"attendance.agent/internal/location"
	"attendance.agent/internal/notify"
	"attendance.agent/internal/ports/store"
	"github.com/rs/zerolog/log"
)

// AttendanceService is the UI surface of background attendance.
type AttendanceService interface {
	StartBackgroundAttendance(ctx context.Context) bool
	StopBackgroundAttendance(ctx context.Context) bool
	ManualAttendanceCheck(ctx context.Context) model.Result
	RefreshGeofences(ctx context.Context) (int, error)
	Status(ctx context.Context) (core.Status, error)
}

// TokenStore persists the bearer token the UI obtained at login.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
}

// PushRegistrar registers the device for push notifications with the backend.
type PushRegistrar interface {
	UpdateDeviceID(ctx context.Context, token, deviceID string) error
	ModifyToken(ctx context.Context, token, pushToken string) error
}

type AttendanceHandler struct {
	Service AttendanceService
	Tokens  TokenStore
	Store   store.Store
	Push    PushRegistrar
}

type StatusResponse struct {
	core.Status
	NotificationsEnabled bool `json:"notificationsEnabled"`
}

type ManualResponse struct {
	OK     bool         `json:"ok"`
	Result model.Result `json:"result"`
}

type NotificationRequest struct {
	Data map[string]string `json:"data"`
}

type NotificationResponse struct {
	Target string        `json:"target"`
	Result *model.Result `json:"result,omitempty"`
}

func (h *AttendanceHandler) StartBackground(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"registered": h.Service.StartBackgroundAttendance(r.Context())})
}

func (h *AttendanceHandler) StopBackground(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": h.Service.StopBackgroundAttendance(r.Context())})
}

func (h *AttendanceHandler) ManualCheck(w http.ResponseWriter, r *http.Request) {
	res := h.Service.ManualAttendanceCheck(r.Context())
	writeJSON(w, http.StatusOK, ManualResponse{OK: res.Completed(), Result: res})
}

func (h *AttendanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.Status(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to read status")
		http.Error(w, "Service error reading status", http.StatusInternalServerError)
		return
	}

	enabled, err := h.notificationsEnabled(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to read notification setting")
		http.Error(w, "Service error reading status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: st, NotificationsEnabled: enabled})
}

// Notification handles a tapped push notification. The auto attendance
// sentinel runs the manual check; other targets are returned for navigation.
func (h *AttendanceHandler) Notification(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	target := notify.Resolve(notify.Payload(req.Data))
	resp := NotificationResponse{Target: target.String()}
	if target.RunsManualCheck() {
		res := h.Service.ManualAttendanceCheck(r.Context())
		resp.Result = &res
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AttendanceHandler) RefreshGeofences(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.RefreshGeofences(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("Geofence refresh failed")
		http.Error(w, "Could not refresh office regions", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"regions": n})
}

type TokenRequest struct {
	Token string `json:"token"`
}

// SetToken stores the bearer token. An empty token logs the user out.
func (h *AttendanceHandler) SetToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Tokens.SetToken(r.Context(), req.Token); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to store token")
		http.Error(w, "Service error storing token", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type NotificationsEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *AttendanceHandler) SetNotificationsEnabled(w http.ResponseWriter, r *http.Request) {
	var req NotificationsEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Store.Put(r.Context(), store.KeyNotificationsEnabled, []byte(strconv.FormatBool(req.Enabled))); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to store notification setting")
		http.Error(w, "Service error storing setting", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PushRegistrationRequest struct {
	DeviceID  string `json:"deviceId"`
	PushToken string `json:"pushToken"`
}

// RegisterPush forwards the device id and push token to the backend.
func (h *AttendanceHandler) RegisterPush(w http.ResponseWriter, r *http.Request) {
	var req PushRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" && req.PushToken == "" {
		http.Error(w, "deviceId or pushToken is required", http.StatusBadRequest)
		return
	}

	token, err := h.Tokens.Token(r.Context())
	if err != nil {
		http.Error(w, "Service error reading token", http.StatusInternalServerError)
		return
	}
	if token == "" {
		http.Error(w, "Not logged in", http.StatusUnauthorized)
		return
	}

	if req.DeviceID != "" {
		if err := h.Push.UpdateDeviceID(r.Context(), token, req.DeviceID); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("Device id registration failed")
			http.Error(w, "Backend rejected device id", http.StatusBadGateway)
			return
		}
	}
	if req.PushToken != "" {
		if err := h.Push.ModifyToken(r.Context(), token, req.PushToken); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("Push token registration failed")
			http.Error(w, "Backend rejected push token", http.StatusBadGateway)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AttendanceHandler) notificationsEnabled(ctx context.Context) (bool, error) {
	v, ok, err := h.Store.Get(ctx, store.KeyNotificationsEnabled)
	if err != nil || !ok {
		return false, err
	}
	enabled, err := strconv.ParseBool(string(v))
	if err != nil {
		return false, nil
	}
	return enabled, nil
}

// DeviceHandler is the bridge through which the device reports its location
// service state.
type DeviceHandler struct {
	Device *location.Device
	Now    func() time.Time
}

type LocationReport struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Accuracy  float64    `json:"accuracy"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (h *DeviceHandler) ReportLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	c := model.Coordinates{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := location.Validate(c); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	received := h.now()
	if req.Timestamp != nil && !req.Timestamp.After(received) {
		received = *req.Timestamp
	}
	h.Device.ReportFix(model.Fix{Coordinates: c, Accuracy: req.Accuracy, ReceivedAt: received})
	w.WriteHeader(http.StatusAccepted)
}

type PermissionsRequest struct {
	Foreground bool `json:"foreground"`
	Background bool `json:"background"`
}

func (h *DeviceHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	var req PermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.Device.SetPermissions(model.PermissionState{ForegroundGranted: req.Foreground, BackgroundGranted: req.Background})
	w.WriteHeader(http.StatusNoContent)
}

type ServicesRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *DeviceHandler) SetServices(w http.ResponseWriter, r *http.Request) {
	var req ServicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.Device.SetServicesEnabled(req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

// State reports what the device last told us, plus whether the agent is
// waiting for the user to grant background location. Workers in other
// processes read their location from here.
func (h *DeviceHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Device.Snapshot())
}

func (h *DeviceHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
