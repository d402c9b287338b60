package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"attendance.agent/pkg/logger"
)

// markRequest mirrors what the agent submits to markAutoAttendance.
type markRequest struct {
	Token     string  `json:"token"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Source    string  `json:"source"`
}

type office struct {
	ID        int     `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
}

type backend struct {
	onLeave bool

	mu          sync.Mutex
	submissions int
}

func (b *backend) checkWorkStatus(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(w, r) {
		return
	}
	writeJSON(w, map[string]bool{"data": !b.onLeave})
}

func (b *backend) markAutoAttendance(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	b.mu.Lock()
	b.submissions++
	n := b.submissions
	b.mu.Unlock()

	// more than one submission a day means deduplication failed
	ev := log.Info()
	if n > 1 {
		ev = log.Warn()
	}
	ev.Str("source", req.Source).Float64("latitude", req.Latitude).Float64("longitude", req.Longitude).
		Int("submissions", n).Msg("Attendance submitted")
	writeJSON(w, map[string]any{"success": true, "message": "Attendance marked successfully"})
}

func (b *backend) getOfficeLocations(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(w, r) {
		return
	}
	writeJSON(w, map[string][]office{"offices": {
		{ID: 1, Latitude: 28.6139, Longitude: 77.2090, Name: "New Delhi HQ"},
		{ID: 2, Latitude: 18.5204, Longitude: 73.8567, Name: "Pune"},
	}})
}

func (b *backend) acknowledge(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(w, r) {
		return
	}
	log.Info().Str("path", r.URL.Path).Msg("Device registration received")
	writeJSON(w, map[string]string{"message": "ok"})
}

func (b *backend) authorized(w http.ResponseWriter, r *http.Request) bool {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	logger.Setup(true)

	onLeave, _ := strconv.ParseBool(os.Getenv("MOCK_ON_LEAVE"))
	b := &backend{onLeave: onLeave}

	r := mux.NewRouter()
	core := r.PathPrefix("/core").Methods(http.MethodPost).Subrouter()
	core.HandleFunc("/checkWorkStatus", b.checkWorkStatus)
	core.HandleFunc("/markAutoAttendance", b.markAutoAttendance)
	core.HandleFunc("/getOfficeLocations", b.getOfficeLocations)
	core.HandleFunc("/updateDeviceId", b.acknowledge)
	core.HandleFunc("/modifyToken", b.acknowledge)

	log.Info().Bool("on_leave", onLeave).Msg("Backend mock server starting on port 8081...")
	if err := http.ListenAndServe(":8081", r); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
}
