// Package notify resolves push-notification payloads into navigation targets.
package notify

import "strings"

// Target is where a notification tap leads. The set is closed; payload
// values outside the table resolve to Unknown.
type Target int

const (
	Unknown Target = iota
	Home
	Attendance
	AutoAttendance
	Chat
	Cab
	HR
	SiteVisits
	Notifications
)

// AutoAttendanceValue is the reserved payload value that runs the manual
// attendance check instead of opening a screen.
const AutoAttendanceValue = "auto_attendance"

var targetNames = map[Target]string{
	Unknown:        "unknown",
	Home:           "home",
	Attendance:     "attendance",
	AutoAttendance: AutoAttendanceValue,
	Chat:           "chat",
	Cab:            "cab",
	HR:             "hr",
	SiteVisits:     "site_visits",
	Notifications:  "notifications",
}

// lookup maps payload values, including the legacy screen names the
// backend still sends, to targets.
var lookup = map[string]Target{
	"home":                Home,
	"dashboard":           Home,
	"attendance":          Attendance,
	"attendancescreen":    Attendance,
	AutoAttendanceValue:   AutoAttendance,
	"chat":                Chat,
	"chatscreen":          Chat,
	"cab":                 Cab,
	"cabbooking":          Cab,
	"hr":                  HR,
	"hrpolicies":          HR,
	"site_visits":         SiteVisits,
	"sitevisits":          SiteVisits,
	"notifications":       Notifications,
	"notificationsscreen": Notifications,
}

func (t Target) String() string {
	if n, ok := targetNames[t]; ok {
		return n
	}
	return targetNames[Unknown]
}

// Payload is the data section of a push notification.
type Payload map[string]string

// Resolve picks the navigation target of p. go_to wins over page.
func Resolve(p Payload) Target {
	for _, field := range []string{"go_to", "page"} {
		v := strings.ToLower(strings.TrimSpace(p[field]))
		if v == "" {
			continue
		}
		if t, ok := lookup[v]; ok {
			return t
		}
		return Unknown
	}
	return Unknown
}

// RunsManualCheck reports whether opening a notification for t must trigger
// the manual attendance check instead of navigating.
func (t Target) RunsManualCheck() bool {
	return t == AutoAttendance
}
