package notification

import (
	"context"
	"sync"

	"eventnet/internal/logging"

	"github.com/rs/zerolog"
)

// Permission is the tri-state consent to show notifications.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ShowOptions mirror the options of a desktop notification.
type ShowOptions struct {
	Body string
	Tag  string
	Type string
}

// Handle refers to a shown notification.
type Handle interface {
	Close(ctx context.Context) error
}

// Presenter surfaces notifications outside the agent.
type Presenter interface {
	Permission() Permission
	RequestPermission(ctx context.Context) Permission
	Show(ctx context.Context, title string, opts ShowOptions) (Handle, error)
}

// LogPresenter writes notifications to the log. It is always granted.
type LogPresenter struct {
	logger *zerolog.Logger

	mu    sync.Mutex
	shown int
}

func NewLogPresenter(logger *zerolog.Logger) *LogPresenter {
	return &LogPresenter{logger: logging.Component(logger, "presenter")}
}

func (p *LogPresenter) Permission() Permission { return PermissionGranted }

func (p *LogPresenter) RequestPermission(context.Context) Permission { return PermissionGranted }

func (p *LogPresenter) Show(_ context.Context, title string, opts ShowOptions) (Handle, error) {
	p.mu.Lock()
	p.shown++
	p.mu.Unlock()

	p.logger.Info().Str("title", title).Str("body", opts.Body).Str("type", opts.Type).Str("tag", opts.Tag).Msg("notification")
	return noopHandle{}, nil
}

// Shown returns how many notifications were written.
func (p *LogPresenter) Shown() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown
}

type noopHandle struct{}

func (noopHandle) Close(context.Context) error { return nil }
