package models

import "time"

// Notification is a user-facing message kept by the notification store.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Read      bool           `json:"read"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	DedupKey  string         `json:"dedup_key,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Expired reports whether the notification expired strictly before now.
func (n Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}

// NotificationInput carries the caller-provided fields of a new notification.
type NotificationInput struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	DedupKey  string         `json:"dedup_key,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ValidNotificationType reports whether t is one of the known notification types.
func ValidNotificationType(t string) bool {
	switch t {
	case NotificationPoll, NotificationConnectionRequest, NotificationScheduleChange,
		NotificationAnnouncement, NotificationSystem:
		return true
	default:
		return false
	}
}
