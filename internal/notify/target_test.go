package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    Target
	}{
		{"sentinel in go_to", Payload{"go_to": "auto_attendance"}, AutoAttendance},
		{"sentinel in page", Payload{"page": "auto_attendance"}, AutoAttendance},
		{"go_to wins over page", Payload{"go_to": "chat", "page": "auto_attendance"}, Chat},
		{"empty go_to falls back to page", Payload{"go_to": " ", "page": "Cab"}, Cab},
		{"legacy screen name", Payload{"page": "AttendanceScreen"}, Attendance},
		{"site visits", Payload{"go_to": "site_visits"}, SiteVisits},
		{"unknown value", Payload{"go_to": "settings"}, Unknown},
		{"unknown go_to does not fall back", Payload{"go_to": "settings", "page": "auto_attendance"}, Unknown},
		{"no routing fields", Payload{"title": "hello"}, Unknown},
		{"nil payload", nil, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.payload))
		})
	}
}

func TestRunsManualCheck(t *testing.T) {
	assert.True(t, Resolve(Payload{"go_to": AutoAttendanceValue}).RunsManualCheck())
	assert.False(t, Resolve(Payload{"go_to": "attendance"}).RunsManualCheck())
	assert.False(t, Unknown.RunsManualCheck())
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "auto_attendance", AutoAttendance.String())
	assert.Equal(t, "home", Home.String())
	assert.Equal(t, "unknown", Target(42).String())
}
