package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"attendance.agent/internal/api/handler"
	"attendance.agent/internal/metrics"
)

// NewRouter sets up the gorilla/mux router and defines all API routes.
func NewRouter(attendance *handler.AttendanceHandler, device *handler.DeviceHandler) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/background/start", attendance.StartBackground).Methods(http.MethodPost)
	api.HandleFunc("/background/stop", attendance.StopBackground).Methods(http.MethodPost)
	api.HandleFunc("/attendance/manual", attendance.ManualCheck).Methods(http.MethodPost)
	api.HandleFunc("/status", attendance.Status).Methods(http.MethodGet)
	api.HandleFunc("/notifications", attendance.Notification).Methods(http.MethodPost)
	api.HandleFunc("/notifications/enabled", attendance.SetNotificationsEnabled).Methods(http.MethodPut)
	api.HandleFunc("/token", attendance.SetToken).Methods(http.MethodPut)
	api.HandleFunc("/geofence/refresh", attendance.RefreshGeofences).Methods(http.MethodPost)

	api.HandleFunc("/device", device.State).Methods(http.MethodGet)
	api.HandleFunc("/device/location", device.ReportLocation).Methods(http.MethodPost)
	api.HandleFunc("/device/permissions", device.SetPermissions).Methods(http.MethodPut)
	api.HandleFunc("/device/services", device.SetServices).Methods(http.MethodPut)
	api.HandleFunc("/device/push-token", attendance.RegisterPush).Methods(http.MethodPut)

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Service is operational."))
	}).Methods(http.MethodGet)

	return r
}
