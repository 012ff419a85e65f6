package models

import "time"

// Update is a single incremental change returned by the updates endpoint.
type Update struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// UpdatesResponse is the body of GET /api/v1/updates.
type UpdatesResponse struct {
	Updates    []Update  `json:"updates"`
	Cursor     string    `json:"cursor"`
	ServerTime time.Time `json:"server_time"`
}

// PollingState is a snapshot of the realtime poller.
type PollingState struct {
	Phase              string        `json:"phase"`
	IsPolling          bool          `json:"is_polling"`
	LastUpdate         *time.Time    `json:"last_update,omitempty"`
	Err                error         `json:"-"`
	CurrentInterval    time.Duration `json:"current_interval"`
	RetryCount         int           `json:"retry_count"`
	QueuedUpdatesCount int           `json:"queued_updates_count"`
}

func (u Update) GetInt64(key string) int64 {
	if u.Data == nil {
		return 0
	}
	val, ok := u.Data[key]
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (u Update) GetString(key string) string {
	if u.Data == nil {
		return ""
	}
	val, ok := u.Data[key]
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func (u Update) GetTime(key string) time.Time {
	if u.Data == nil {
		return time.Time{}
	}
	val, ok := u.Data[key]
	if !ok {
		return time.Time{}
	}
	switch v := val.(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

// NotificationType maps the update kind onto a notification type.
func (u Update) NotificationType() string {
	if ValidNotificationType(u.Kind) {
		return u.Kind
	}
	return NotificationSystem
}
