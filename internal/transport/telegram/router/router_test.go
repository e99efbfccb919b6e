package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtsup "newsbot/internal/runtime/supervisor"
	kit "newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []string
	answers []string
	menu    []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                    { return nil }
func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}
func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func msgUpdate(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"/times", "09:00, 12:30", "18:00"}, tokenizeCommandLine(`/times "09:00, 12:30" 18:00`))
	assert.Nil(t, tokenizeCommandLine("   "))
	assert.Equal(t, "news", commandWord("/News@stock_bot"))
}

func TestSanitizeAndMenu(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "notify_on", sanitizeTelegramCommand("Notify-On"))
	assert.Equal(t, "cmd_1x", sanitizeTelegramCommand("1x"))
	assert.Empty(t, sanitizeTelegramCommand("---"))

	menu := buildMenuCommands([]Command{
		{Name: "threshold", Description: "임계값", Access: AccessOwnerOnly},
		{Name: "start", Description: "시작"},
		{Name: "start", Description: "dup"},
	})
	require.Len(t, menu, 2)
	assert.Equal(t, "start", menu[0].Command)
	assert.Equal(t, "🔒 임계값", menu[1].Description)
}

func TestDispatchLoopRoutesCommandsAndCallbacks(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	sups := rtsup.NewRegistry()
	m := NewManager(logx.Nop(), ad, []int64{1}, sups)

	var (
		mu      sync.Mutex
		args    []string
		payload string
	)
	m.SetRegistry(context.Background(), []Command{
		{Name: "times", Aliases: []string{"t"}, Description: "시간", Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			args = req.Args
			mu.Unlock()
			return req.Reply(ctx, "ok", nil)
		}},
		{Name: "threshold", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "owner ok", nil)
		}},
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }},
	}, []CallbackRoute{
		{Prefix: "news", Action: "refresh", Handle: func(ctx context.Context, req *Request, p string) error {
			mu.Lock()
			payload = p
			mu.Unlock()
			return req.Reply(ctx, "refreshed", nil)
		}},
	})
	require.Len(t, m.Commands(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()

	updates <- msgUpdate(2, "/t 09:00 18:00")
	updates <- msgUpdate(2, "/threshold 4")
	updates <- msgUpdate(1, "/threshold 4")
	updates <- msgUpdate(2, "/boom")
	updates <- msgUpdate(2, "/nope")
	updates <- msgUpdate(2, "just chatting")
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: 2, ChatID: 2, Data: "news:refresh:p1"}}

	require.Eventually(t, func() bool { return len(ad.sent()) == 5 }, 2*time.Second, 5*time.Millisecond)
	texts := ad.sent()
	assert.Contains(t, texts, "ok")
	assert.Contains(t, texts, replyUnauthorized)
	assert.Contains(t, texts, "owner ok")
	assert.Contains(t, texts, replyUnknown)
	assert.Contains(t, texts, "refreshed")

	mu.Lock()
	assert.Equal(t, []string{"09:00", "18:00"}, args)
	assert.Equal(t, "p1", payload)
	mu.Unlock()

	assert.Contains(t, sups.Snapshots(), "telegram.router")
	require.Eventually(t, func() bool {
		ad.mu.Lock()
		defer ad.mu.Unlock()
		return len(ad.menu) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, sups.Snapshots(), "telegram.router")
}
