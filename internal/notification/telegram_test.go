package notification

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func (m *mockSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tgbotapi.APIResponse), args.Error(1)
}

func TestTelegramPresenter_ShowAndClose(t *testing.T) {
	sender := new(mockSender)
	sender.On("Request", mock.AnythingOfType("tgbotapi.ChatInfoConfig")).Return(&tgbotapi.APIResponse{Ok: true}, nil).Once()
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.MessageConfig) bool {
		return c.ChatID == 42 && c.Text == "Poll open\n\nVote for the keynote"
	})).Return(tgbotapi.Message{MessageID: 7}, nil).Once()
	sender.On("Request", tgbotapi.NewDeleteMessage(42, 7)).Return(&tgbotapi.APIResponse{Ok: true}, nil).Once()

	p := NewTelegramPresenter(sender, 42, nil)
	assert.Equal(t, PermissionDefault, p.Permission())

	ctx := context.Background()
	require.Equal(t, PermissionGranted, p.RequestPermission(ctx))
	// cached after the first check
	require.Equal(t, PermissionGranted, p.RequestPermission(ctx))

	h, err := p.Show(ctx, "Poll open", ShowOptions{Body: "Vote for the keynote"})
	require.NoError(t, err)
	require.NoError(t, h.Close(ctx))
	sender.AssertExpectations(t)
}

func TestTelegramPresenter_Denied(t *testing.T) {
	sender := new(mockSender)
	sender.On("Request", mock.Anything).Return(nil, errors.New("chat not found")).Once()

	p := NewTelegramPresenter(sender, 42, nil)
	ctx := context.Background()
	assert.Equal(t, PermissionDenied, p.RequestPermission(ctx))
	assert.Equal(t, PermissionDenied, p.RequestPermission(ctx))

	_, err := p.Show(ctx, "x", ShowOptions{})
	assert.Error(t, err)
	sender.AssertExpectations(t)
}

func TestTelegramPresenter_NoChatIsDenied(t *testing.T) {
	p := NewTelegramPresenter(new(mockSender), 0, nil)
	assert.Equal(t, PermissionDenied, p.Permission())
}

func TestNewTelegramBot_RequiresToken(t *testing.T) {
	_, err := NewTelegramBot(configWithToken(""))
	assert.Error(t, err)
}
