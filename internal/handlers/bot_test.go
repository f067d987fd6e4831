package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zckyachmd/notifyrelay/internal/auth"
	"zckyachmd/notifyrelay/internal/directory"
)

type fakeBotAPI struct {
	updates chan tgbotapi.Update
	sent    chan tgbotapi.MessageConfig
}

func newFakeBotAPI() *fakeBotAPI {
	return &fakeBotAPI{
		updates: make(chan tgbotapi.Update),
		sent:    make(chan tgbotapi.MessageConfig, 8),
	}
}

func (f *fakeBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent <- msg
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBotAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBotAPI) StopReceivingUpdates() {}

type failingRegistry struct{}

func (failingRegistry) Register(context.Context, int64, string) (string, bool, error) {
	return "", false, errors.New("disk full")
}

func textMessage(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{Text: text, Chat: &tgbotapi.Chat{ID: chatID, UserName: "alice"}}
}

func commandMessage(chatID int64, cmd string) *tgbotapi.Message {
	m := textMessage(chatID, "/"+cmd)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd) + 1}}
	return m
}

func TestRegisterOnFirstMessage(t *testing.T) {
	api := newFakeBotAPI()
	dir := directory.New(nil)
	b := New(api, dir, nil, nil, zerolog.Nop(), 0)

	b.handleMessage(context.Background(), textMessage(10, "hello"))
	reply := <-api.sent
	assert.EqualValues(t, 10, reply.ChatID)
	assert.Contains(t, reply.Text, "Congrats! You are now added to the bot.")
	assert.Equal(t, 1, dir.Len())

	b.handleMessage(context.Background(), commandMessage(10, "token"))
	reply = <-api.sent
	assert.Contains(t, reply.Text, "You are already in the list of watchers.")
	assert.Equal(t, 1, dir.Len())
}

func TestHelpDoesNotRegister(t *testing.T) {
	api := newFakeBotAPI()
	dir := directory.New(nil)
	b := New(api, dir, nil, nil, zerolog.Nop(), 0)

	b.handleMessage(context.Background(), commandMessage(10, "help"))
	reply := <-api.sent
	assert.Contains(t, reply.Text, "/token")
	assert.Zero(t, dir.Len())
}

func TestRegisterFailureReplies(t *testing.T) {
	api := newFakeBotAPI()
	b := New(api, failingRegistry{}, nil, nil, zerolog.Nop(), 0)

	b.handleMessage(context.Background(), textMessage(3, "hi"))
	reply := <-api.sent
	assert.Contains(t, reply.Text, "Registration failed")
}

func TestStartStopsOnCancel(t *testing.T) {
	api := newFakeBotAPI()
	b := New(api, directory.New(nil), nil, nil, zerolog.Nop(), 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	api.updates <- tgbotapi.Update{Message: textMessage(5, "hi")}
	<-api.sent
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop")
	}
}

func TestDisallowedChatIsDropped(t *testing.T) {
	api := newFakeBotAPI()
	dir := directory.New(nil)
	b := New(api, dir, auth.New([]int64{1}), nil, zerolog.Nop(), 0)

	b.handleMessage(context.Background(), textMessage(2, "hi"))
	assert.Zero(t, dir.Len())
	assert.Empty(t, api.sent)

	b.handleMessage(context.Background(), textMessage(1, "hi"))
	<-api.sent
	assert.Equal(t, 1, dir.Len())
}
