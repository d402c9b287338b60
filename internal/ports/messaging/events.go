package messaging

import "time"

// Event types carried in the EventType message attribute.
const (
	EventTypeAttendanceAlert = "ATTENDANCE_ALERT"
	EventTypeNotification    = "NOTIFICATION"
)

// AttendanceAlert is the JSON payload sent via SQS for the alert queue after
// an attempt the user should hear about.
type AttendanceAlert struct {
	AttemptID     string    `json:"attemptId"`
	Source        string    `json:"source"`
	Outcome       string    `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	Message       string    `json:"message,omitempty"`
	LowConfidence bool      `json:"lowConfidence,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NotificationEvent is the JSON payload sent via SQS for the notification
// queue: the data section of a push notification.
type NotificationEvent struct {
	Data       map[string]string `json:"data"`
	ReceivedAt time.Time         `json:"receivedAt"`
}
