package api

import (
	"errors"
	"fmt"
	"net/http"

	"eventnet/internal/backend"
	"eventnet/internal/export"
	"eventnet/internal/models"
	"eventnet/internal/queue"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": s.agent.Network.IsOnline(),
	})
}

func (s *HTTPServer) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.State())
}

func (s *HTTPServer) handleAddAction(w http.ResponseWriter, r *http.Request) {
	var payload models.ActionPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.agent.Queue.Add(r.Context(), payload)
	if errors.Is(err, queue.ErrInvalidAction) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "queued": s.agent.Queue.Len()})
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, _ *http.Request) {
	st := s.agent.Queue.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"is_online":     st.IsOnline,
		"is_processing": st.IsProcessing,
		"queue":         st.Queue,
		"dead_letter":   s.agent.Queue.DeadLetters(),
	})
}

func (s *HTTPServer) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	s.agent.Queue.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	res := s.agent.ProcessQueue(r.Context())
	body := map[string]any{
		"skipped":       res.Skipped,
		"delivered":     res.Delivered,
		"remaining":     res.Remaining,
		"dead_lettered": res.DeadLettered,
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) handleDiscardAction(w http.ResponseWriter, r *http.Request) {
	if !s.agent.Queue.Discard(r.Context(), r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "action not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	snap := s.agent.Notifications.Snapshot()
	items := snap.Notifications
	if r.URL.Query().Get("unread") == "true" {
		unread := make([]models.Notification, 0, snap.UnreadCount)
		for _, n := range items {
			if !n.Read {
				unread = append(unread, n)
			}
		}
		items = unread
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"unread_count":  snap.UnreadCount,
	})
}

func (s *HTTPServer) handleAddNotification(w http.ResponseWriter, r *http.Request) {
	var in models.NotificationInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !models.ValidNotificationType(in.Type) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown notification type %q", in.Type))
		return
	}
	if in.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	n := s.agent.Notifications.Add(r.Context(), in)
	writeJSON(w, http.StatusCreated, n)
}

func (s *HTTPServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	marked := s.agent.Notifications.MarkAllAsRead(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.agent.Notifications.Get(id); !ok {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	s.agent.Notifications.MarkAsRead(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": s.agent.Notifications.UnreadCount()})
}

func (s *HTTPServer) handleRemoveNotification(w http.ResponseWriter, r *http.Request) {
	if !s.agent.Notifications.Remove(r.Context(), r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	data := export.Data{
		Notifications: s.agent.Notifications.List(),
		Queue:         s.agent.Queue.State().Queue,
		DeadLetter:    s.agent.Queue.DeadLetters(),
		GeneratedAt:   now,
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"notifications_%s.xlsx\"", now.Format("20060102_150405")))
	if err := export.Write(w, data); err != nil {
		s.logger.Error().Err(err).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
	}
}

// handleAcknowledgeUpdates clears the "N updates pending" badge.
func (s *HTTPServer) handleAcknowledgeUpdates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"acknowledged": s.agent.Poller.AcknowledgeQueued()})
}

func (s *HTTPServer) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	changed := s.agent.SetOnline(*body.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": *body.Online, "changed": changed})
}

func (s *HTTPServer) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visible *bool `json:"visible"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Visible == nil {
		writeError(w, http.StatusBadRequest, "visible is required")
		return
	}
	if err := s.agent.SetVisible(*body.Visible); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"visible": *body.Visible})
}

func (s *HTTPServer) handleFocus(w http.ResponseWriter, _ *http.Request) {
	if err := s.agent.Focus(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	if err := s.agent.Auth.Login(r.Context(), creds); err != nil {
		status := http.StatusBadGateway
		if backend.IsUnauthorized(err) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.agent.State().Session)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.agent.Auth.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
