package models

import "time"

// Notification types.
const (
	NotificationPoll              = "poll"
	NotificationConnectionRequest = "connection_request"
	NotificationScheduleChange    = "schedule_change"
	NotificationAnnouncement      = "announcement"
	NotificationSystem            = "system"
)

// UpdateKindAppUpdate marks an update announcing a newer agent build.
const UpdateKindAppUpdate = "app.update"

// Poller phases.
const (
	PhaseIdle    = "idle"
	PhasePolling = "polling"
	PhaseBackoff = "backoff"
	PhaseStopped = "stopped"
)

// Persistence keys shared by the stores.
const (
	KeyOfflineQueue      = "offline-queue"
	KeyDeadLetterQueue   = "offline-queue:deadletter"
	KeyNotifications     = "notifications"
	KeyAuthSession       = "auth-session"
	KeyPollerCursor      = "poller:cursor"
	SessionExpiredNotice = "Your session has expired. Please sign in again."
)

const (
	// DefaultSyncInterval период фоновой синхронизации очереди
	DefaultSyncInterval = 30 * time.Second

	// DefaultActiveInterval период опроса при видимой вкладке
	DefaultActiveInterval = 30 * time.Second

	// DefaultInactiveInterval период опроса при скрытой вкладке или без сети
	DefaultInactiveInterval = 120 * time.Second

	// DefaultBackoffBase начальная задержка после ошибки опроса
	DefaultBackoffBase = time.Second

	// DefaultBackoffMax максимальная задержка после ошибок опроса
	DefaultBackoffMax = 30 * time.Second

	// DefaultPollMaxRetries число повторов до перехода на деградированный интервал
	DefaultPollMaxRetries = 5

	// DefaultCleanupInterval период удаления просроченных уведомлений
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultMaxNotifications максимальное число хранимых уведомлений
	DefaultMaxNotifications = 100

	// DefaultProbeInterval период проверки доступности сервера
	DefaultProbeInterval = 15 * time.Second
)
