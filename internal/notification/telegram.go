package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"eventnet/internal/config"
	"eventnet/internal/logging"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSender is the subset of the bot API the presenter needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramPresenter delivers notifications as Telegram messages to one chat.
// Permission is granted once the chat is confirmed reachable.
type TelegramPresenter struct {
	sender TelegramSender
	chatID int64
	logger *zerolog.Logger

	mu         sync.Mutex
	permission Permission
}

// NewTelegramBot connects to the Bot API with the configured token.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("telegram bot_token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func NewTelegramPresenter(sender TelegramSender, chatID int64, logger *zerolog.Logger) *TelegramPresenter {
	p := &TelegramPresenter{
		sender:     sender,
		chatID:     chatID,
		logger:     logging.Component(logger, "telegram-presenter"),
		permission: PermissionDefault,
	}
	if chatID == 0 {
		p.permission = PermissionDenied
	}
	return p
}

func (p *TelegramPresenter) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission
}

// RequestPermission checks the chat once. A denial is final.
func (p *TelegramPresenter) RequestPermission(ctx context.Context) Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.permission != PermissionDefault {
		return p.permission
	}

	_, err := p.sender.Request(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: p.chatID}})
	if err != nil {
		p.logger.Warn().Err(err).Int64("chat_id", p.chatID).Msg("telegram chat not reachable, notifications denied")
		p.permission = PermissionDenied
		return p.permission
	}
	p.permission = PermissionGranted
	return p.permission
}

func (p *TelegramPresenter) Show(ctx context.Context, title string, opts ShowOptions) (Handle, error) {
	if p.Permission() != PermissionGranted {
		return nil, fmt.Errorf("telegram presenter: permission %s", p.Permission())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := title
	if opts.Body != "" {
		text = fmt.Sprintf("%s\n\n%s", title, opts.Body)
	}
	msg := tgbotapi.NewMessage(p.chatID, text)
	sent, err := p.sender.Send(msg)
	if err != nil {
		return nil, fmt.Errorf("send telegram message: %w", err)
	}
	return &telegramHandle{sender: p.sender, chatID: p.chatID, messageID: sent.MessageID}, nil
}

type telegramHandle struct {
	sender    TelegramSender
	chatID    int64
	messageID int
}

// Close deletes the message from the chat.
func (h *telegramHandle) Close(context.Context) error {
	if _, err := h.sender.Request(tgbotapi.NewDeleteMessage(h.chatID, h.messageID)); err != nil {
		return fmt.Errorf("delete telegram message: %w", err)
	}
	return nil
}
