package notification

import (
	"context"

	"eventnet/internal/events"
	"eventnet/internal/models"
)

// Bind turns bus events into notifications: received updates, app update
// announcements and an expired session. The returned function unsubscribes.
func (s *Store) Bind(ctx context.Context, bus *events.Bus) (release func()) {
	releases := []func(){
		events.On(bus, events.TopicUpdatesReceived, func(p events.UpdatesPayload) error {
			for _, u := range p.Updates {
				if u.Kind == models.UpdateKindAppUpdate {
					continue
				}
				s.Add(ctx, FromUpdate(u))
			}
			return nil
		}),
		events.On(bus, events.TopicAppUpdate, func(p events.AppPayload) error {
			msg := "A new version of the agent is available."
			if p.Version != "" {
				msg = "Version " + p.Version + " of the agent is available."
			}
			s.Add(ctx, models.NotificationInput{
				Type:     models.NotificationSystem,
				Title:    "Update available",
				Message:  msg,
				DedupKey: models.UpdateKindAppUpdate,
			})
			return nil
		}),
		events.On(bus, events.TopicSessionExpired, func(p events.SessionPayload) error {
			s.Add(ctx, models.NotificationInput{
				Type:     models.NotificationSystem,
				Title:    "Signed out",
				Message:  p.Message,
				DedupKey: "session.expired",
			})
			return nil
		}),
	}
	return func() {
		for _, r := range releases {
			r()
		}
	}
}

// FromUpdate maps a poll update onto a notification. Updates sharing an id
// collapse through the dedup key.
func FromUpdate(u models.Update) models.NotificationInput {
	in := models.NotificationInput{
		Type:      u.NotificationType(),
		Title:     u.Title,
		Message:   u.Message,
		ExpiresAt: u.ExpiresAt,
		Data:      u.Data,
	}
	if u.ID != "" {
		in.DedupKey = "update:" + u.ID
	}
	return in
}
