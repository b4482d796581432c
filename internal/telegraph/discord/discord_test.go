package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/blockyard/internal/telegraph"
)

// --- Mock Discord session ---

type mockSession struct {
	mu           sync.Mutex
	opened       bool
	closeCalled  bool
	openErr      error
	closeErr     error
	sentMessages []sentMessage
	sendErr      error
	responses    []*discordgo.InteractionResponse
	respondErr   error
	handlers     []interface{}
	removeCount  int
	channels     map[string]*discordgo.Channel // for Channel() lookups
}

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

func newMockSession() *mockSession {
	return &mockSession{
		channels: make(map[string]*discordgo.Channel),
	}
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return m.closeErr
}

func (m *mockSession) Channel(channelID string) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("channel not found: %s", channelID)
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sentMessages = append(m.sentMessages, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: "msg-123"}, nil
}

func (m *mockSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m.respondErr
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeCount++
	}
}

func (m *mockSession) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sentMessages)
}

func (m *mockSession) lastSent() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentMessages[len(m.sentMessages)-1]
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSession) {
	t.Helper()
	sess := newMockSession()

	a, err := New(AdapterOpts{
		Session:   sess,
		ChannelID: "C_DEFAULT",
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	a.SetBotUserID("BOT_USER_ID")
	return a, sess
}

func receive(t *testing.T, ch <-chan telegraph.InboundMessage) telegraph.InboundMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound message")
	}
	return telegraph.InboundMessage{}
}

func expectNone(t *testing.T, ch <-chan telegraph.InboundMessage) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// --- New tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if !strings.Contains(err.Error(), "bot token") {
		t.Errorf("error = %q, want to mention bot token", err.Error())
	}
}

func TestNew_WithBotToken(t *testing.T) {
	a, err := New(AdapterOpts{BotToken: "test-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == nil {
		t.Fatal("expected non-nil adapter")
	}
}

// --- Connect tests ---

func TestConnect_Success(t *testing.T) {
	_, sess := newTestAdapter(t)
	if !sess.opened {
		t.Error("expected session to be opened")
	}
	// Ready, Disconnect, Resumed.
	if len(sess.handlers) != 3 {
		t.Errorf("expected 3 handlers registered, got %d", len(sess.handlers))
	}
}

func TestConnect_OpenError(t *testing.T) {
	sess := newMockSession()
	sess.openErr = fmt.Errorf("gateway error")

	a, _ := New(AdapterOpts{Session: sess})
	err := a.Connect(context.Background())
	if err == nil {
		t.Fatal("expected open error")
	}
	if !strings.Contains(err.Error(), "open gateway") {
		t.Errorf("error = %q, want open gateway error", err.Error())
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error for closed adapter")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should not error: %v", err)
	}
}

func TestConnect_ReadyHandlerSetsBotID(t *testing.T) {
	a, sess := newTestAdapter(t)
	ready, ok := sess.handlers[0].(func(*discordgo.Session, *discordgo.Ready))
	if !ok {
		t.Fatalf("first handler is %T, want Ready handler", sess.handlers[0])
	}
	ready(nil, &discordgo.Ready{User: &discordgo.User{ID: "B2", Username: "blockyard"}})
	if a.BotUserID() != "B2" {
		t.Errorf("bot user ID = %q, want B2", a.BotUserID())
	}
}

// --- Listen tests ---

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestListen_RegistersHandlers(t *testing.T) {
	a, sess := newTestAdapter(t)
	if _, err := a.Listen(context.Background()); err != nil {
		t.Fatalf("listen: %v", err)
	}

	var hasMsg, hasInteraction bool
	for _, h := range sess.handlers {
		switch h.(type) {
		case func(*discordgo.Session, *discordgo.MessageCreate):
			hasMsg = true
		case func(*discordgo.Session, *discordgo.InteractionCreate):
			hasInteraction = true
		}
	}
	if !hasMsg || !hasInteraction {
		t.Errorf("message handler = %v, interaction handler = %v", hasMsg, hasInteraction)
	}
}

func TestListen_ReceivesMessages(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	a.handleMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "123456789012345678",
			ChannelID: "C1",
			Content:   "105-01",
			Author: &discordgo.User{
				ID:         "U_IVAN",
				Username:   "ivan",
				GlobalName: "Иван",
			},
		},
	})

	msg := receive(t, ch)
	if msg.Platform != "discord" {
		t.Errorf("platform = %q, want discord", msg.Platform)
	}
	if msg.ChannelID != "C1" {
		t.Errorf("channel = %q, want C1", msg.ChannelID)
	}
	if msg.UserID != "U_IVAN" || msg.UserName != "ivan" {
		t.Errorf("user = %q/%q, want U_IVAN/ivan", msg.UserID, msg.UserName)
	}
	if msg.FirstName != "Иван" {
		t.Errorf("first name = %q, want Иван", msg.FirstName)
	}
	if msg.Text != "105-01" {
		t.Errorf("text = %q, want 105-01", msg.Text)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp from snowflake")
	}
}

func TestHandleMessage_Attachments(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	a.handleMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "200",
			ChannelID: "C1",
			Author:    &discordgo.User{ID: "U1", Username: "ivan"},
			Attachments: []*discordgo.MessageAttachment{{
				URL:         "https://cdn.example/part.stl",
				Filename:    "part.stl",
				ContentType: "model/stl",
			}},
		},
	})

	msg := receive(t, ch)
	if len(msg.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(msg.Files))
	}
	f := msg.Files[0]
	if f.ID != "https://cdn.example/part.stl" || f.Name != "part.stl" || f.ContentType != "model/stl" {
		t.Errorf("file = %+v", f)
	}
}

func TestListen_FiltersSelfAndBots(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	a.handleMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{ID: "100", ChannelID: "C1", Content: "self",
			Author: &discordgo.User{ID: "BOT_USER_ID"}},
	})
	a.handleMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{ID: "101", ChannelID: "C1", Content: "other bot",
			Author: &discordgo.User{ID: "OTHER", Bot: true}},
	})
	a.handleMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{ID: "102", ChannelID: "C1", Content: "nobody"},
	})

	expectNone(t, ch)
}

func TestHandleMessage_ThreadChannel(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.channels["T1"] = &discordgo.Channel{ID: "T1", ParentID: "C1", Type: discordgo.ChannelTypeGuildPublicThread}
	ch, _ := a.Listen(context.Background())

	a.handleMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{ID: "300", ChannelID: "T1", Content: "!help",
			Author: &discordgo.User{ID: "U1"}},
	})

	msg := receive(t, ch)
	if msg.ChannelID != "C1" {
		t.Errorf("channel = %q, want parent C1", msg.ChannelID)
	}
	if msg.ThreadID != "T1" {
		t.Errorf("thread = %q, want T1", msg.ThreadID)
	}
}

func TestHandleMessage_NonThreadChannel(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.channels["C1"] = &discordgo.Channel{ID: "C1", Type: discordgo.ChannelTypeGuildText}
	ch, _ := a.Listen(context.Background())

	a.handleMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{ID: "301", ChannelID: "C1", Content: "hi",
			Author: &discordgo.User{ID: "U1"}},
	})

	msg := receive(t, ch)
	if msg.ChannelID != "C1" || msg.ThreadID != "" {
		t.Errorf("channel/thread = %q/%q, want C1/empty", msg.ChannelID, msg.ThreadID)
	}
}

// --- Interaction tests ---

func TestHandleInteraction_ButtonPress(t *testing.T) {
	a, sess := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	a.handleInteraction(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "C1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "U1", Username: "ivan", GlobalName: "Иван"}},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "recv:cond:ok"},
	}})

	msg := receive(t, ch)
	if msg.Choice != "recv:cond:ok" {
		t.Errorf("choice = %q, want recv:cond:ok", msg.Choice)
	}
	if msg.UserID != "U1" || msg.ChannelID != "C1" {
		t.Errorf("user/channel = %q/%q", msg.UserID, msg.ChannelID)
	}
	if msg.FirstName != "Иван" {
		t.Errorf("first name = %q, want Иван", msg.FirstName)
	}

	if len(sess.responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(sess.responses))
	}
	if sess.responses[0].Type != discordgo.InteractionResponseDeferredMessageUpdate {
		t.Errorf("response type = %v, want deferred update", sess.responses[0].Type)
	}
}

func TestHandleInteraction_DirectMessageUser(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	a.handleInteraction(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "DM1",
		User:      &discordgo.User{ID: "U2", Username: "petr"},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "noop"},
	}})

	msg := receive(t, ch)
	if msg.UserID != "U2" || msg.Choice != "noop" {
		t.Errorf("user/choice = %q/%q", msg.UserID, msg.Choice)
	}
}

func TestHandleInteraction_AckErrorStillDelivers(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.respondErr = fmt.Errorf("unknown interaction")
	ch, _ := a.Listen(context.Background())

	a.handleInteraction(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "C1",
		User:      &discordgo.User{ID: "U1"},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "blocks:menu"},
	}})

	if msg := receive(t, ch); msg.Choice != "blocks:menu" {
		t.Errorf("choice = %q, want blocks:menu", msg.Choice)
	}
}

func TestHandleInteraction_IgnoresOtherTypes(t *testing.T) {
	a, sess := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	a.handleInteraction(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "U1"},
		Data: discordgo.ApplicationCommandInteractionData{Name: "start"},
	}})
	a.handleInteraction(&discordgo.InteractionCreate{})

	expectNone(t, ch)
	if len(sess.responses) != 0 {
		t.Errorf("responses = %d, want 0", len(sess.responses))
	}
}

// --- Send tests ---

func TestSend_SimpleText(t *testing.T) {
	a, sess := newTestAdapter(t)

	err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "Введите номер блока:"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := sess.lastSent()
	if sent.channelID != "C1" {
		t.Errorf("channel = %q, want C1", sent.channelID)
	}
	if sent.data.Content != "Введите номер блока:" {
		t.Errorf("content = %q", sent.data.Content)
	}
}

func TestSend_DefaultChannel(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.Send(context.Background(), telegraph.OutboundMessage{Text: "online"})
	if sess.lastSent().channelID != "C_DEFAULT" {
		t.Errorf("channel = %q, want C_DEFAULT", sess.lastSent().channelID)
	}
}

func TestSend_WithThreadID(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", ThreadID: "T1", Text: "x"})
	if sess.lastSent().channelID != "T1" {
		t.Errorf("channel = %q, want T1", sess.lastSent().channelID)
	}
}

func TestSend_NoChannel(t *testing.T) {
	sess := newMockSession()
	a, _ := New(AdapterOpts{Session: sess})
	a.Connect(context.Background())

	err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "x"})
	if err == nil {
		t.Fatal("expected error for no channel")
	}
}

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "x"}); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestSend_PostError(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.sendErr = fmt.Errorf("missing access")
	err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "send message") {
		t.Fatalf("err = %v, want send message error", err)
	}
}

func TestSend_WithChoicesAndFiles(t *testing.T) {
	a, sess := newTestAdapter(t)

	err := a.Send(context.Background(), telegraph.OutboundMessage{
		ChannelID: "C1",
		Text:      "Ремонт сохранён",
		Choices:   [][]telegraph.Choice{{{Label: "OK", Token: "recv:cond:ok"}, {Label: "Ремонт", Token: "recv:cond:repair"}}},
		Files:     []telegraph.OutboundFile{{Name: "repair_qr_1.png", ContentType: "image/png", Data: []byte("png")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := sess.lastSent().data
	if len(data.Components) != 1 {
		t.Fatalf("components = %d, want 1", len(data.Components))
	}
	row := data.Components[0].(discordgo.ActionsRow)
	if len(row.Components) != 2 {
		t.Fatalf("buttons = %d, want 2", len(row.Components))
	}
	if b := row.Components[1].(discordgo.Button); b.CustomID != "recv:cond:repair" || b.Label != "Ремонт" {
		t.Errorf("button = %+v", b)
	}
	if len(data.Files) != 1 || data.Files[0].Name != "repair_qr_1.png" {
		t.Fatalf("files = %+v", data.Files)
	}
	body, _ := io.ReadAll(data.Files[0].Reader)
	if string(body) != "png" {
		t.Errorf("file body = %q, want png", body)
	}
}

// --- buildMessageSend tests ---

func TestBuildMessageSend_TextOnly(t *testing.T) {
	data := buildMessageSend(telegraph.OutboundMessage{Text: "hello"})
	if data.Content != "hello" {
		t.Errorf("content = %q, want hello", data.Content)
	}
	if len(data.Embeds) != 0 || len(data.Components) != 0 || len(data.Files) != 0 {
		t.Error("expected no embeds, components or files")
	}
}

func TestBuildMessageSend_WithEvents(t *testing.T) {
	data := buildMessageSend(telegraph.OutboundMessage{
		Events: []telegraph.FormattedEvent{{Title: "Блок 105-01"}, {Title: "Блок 105-02"}},
	})
	if len(data.Embeds) != 2 {
		t.Errorf("embeds = %d, want 2", len(data.Embeds))
	}
}

func TestBuildComponents_RepacksOverflow(t *testing.T) {
	// Seven single-button rows exceed Discord's row limit.
	var choices [][]telegraph.Choice
	for i := 0; i < 7; i++ {
		choices = append(choices, []telegraph.Choice{{Label: fmt.Sprintf("B%d", i), Token: fmt.Sprintf("t:%d", i)}})
	}
	rows := buildComponents(choices)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if n := len(rows[0].(discordgo.ActionsRow).Components); n != 5 {
		t.Errorf("first row = %d buttons, want 5", n)
	}
	if n := len(rows[1].(discordgo.ActionsRow).Components); n != 2 {
		t.Errorf("second row = %d buttons, want 2", n)
	}
}

func TestBuildComponents_KeepsLayoutWhenItFits(t *testing.T) {
	rows := buildComponents([][]telegraph.Choice{
		{{Label: "a", Token: "a"}},
		{{Label: "b", Token: "b"}, {Label: "c", Token: "c"}},
	})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if n := len(rows[1].(discordgo.ActionsRow).Components); n != 2 {
		t.Errorf("second row = %d buttons, want 2", n)
	}
}

func TestTruncateLabel(t *testing.T) {
	long := strings.Repeat("я", 100)
	got := truncateLabel(long)
	if n := len([]rune(got)); n != maxLabel {
		t.Errorf("label length = %d, want %d", n, maxLabel)
	}
	if truncateLabel("OK") != "OK" {
		t.Error("short label should be unchanged")
	}
}

func TestEventToEmbed(t *testing.T) {
	evt := telegraph.FormattedEvent{
		Title: "Блок 105-01",
		Body:  "ЭБУ | Д-1",
		Color: "#36a64f",
		Fields: []telegraph.Field{
			{Name: "Статус", Value: "готов", Short: true},
			{Name: "ID", Value: "7", Short: false},
		},
	}
	embed := eventToEmbed(evt)
	if embed.Title != "Блок 105-01" || embed.Description != "ЭБУ | Д-1" {
		t.Errorf("embed = %q/%q", embed.Title, embed.Description)
	}
	if embed.Color != 0x36a64f {
		t.Errorf("color = %x, want 36a64f", embed.Color)
	}
	if len(embed.Fields) != 2 || !embed.Fields[0].Inline || embed.Fields[1].Inline {
		t.Errorf("fields = %+v", embed.Fields)
	}
}

func TestEventToEmbed_NoColor(t *testing.T) {
	if embed := eventToEmbed(telegraph.FormattedEvent{Title: "x"}); embed.Color != 0 {
		t.Errorf("color = %d, want 0", embed.Color)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"#36a64f", 0x36a64f},
		{"36A64F", 0x36a64f},
		{"#ff0000", 0xff0000},
		{"", 0},
	}
	for _, tt := range tests {
		got := parseHexColor(tt.input)
		if got != tt.want {
			t.Errorf("parseHexColor(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

// --- retryOnRateLimit tests ---

func TestRetryOnRateLimit_NonRateLimitError(t *testing.T) {
	a, _ := newTestAdapter(t)
	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return fmt.Errorf("some other error")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("should not retry non-rate-limit errors, calls = %d", calls)
	}
}

func TestRetryOnRateLimit_RetriesAndSucceeds(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond

	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnRateLimit_ExhaustsRetries(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond

	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != maxRetries+1 {
		t.Errorf("expected %d calls, got %d", maxRetries+1, calls)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := a.retryOnRateLimit(ctx, func() error {
		calls++
		return &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before context cancel, got %d", calls)
	}
}

// --- Close tests ---

func TestClose_RemovesHandlers(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.Listen(context.Background())

	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sess.closeCalled {
		t.Error("expected session Close() to be called")
	}
	if sess.removeCount != 2 {
		t.Errorf("removeCount = %d, want 2", sess.removeCount)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close should not error: %v", err)
	}
}

func TestClose_DropsLateMessages(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Listen(context.Background())
	a.Close()

	// Must not panic on a closed channel.
	a.handleMessage(&discordgo.MessageCreate{
		Message: &discordgo.Message{ID: "1", ChannelID: "C1", Author: &discordgo.User{ID: "U1"}},
	})
}

// --- BotUserID tests ---

func TestSetBotUserID(t *testing.T) {
	a, _ := newTestAdapter(t)
	if a.BotUserID() != "BOT_USER_ID" {
		t.Errorf("bot user ID = %q, want BOT_USER_ID", a.BotUserID())
	}
	a.SetBotUserID("NEW_BOT_ID")
	if a.BotUserID() != "NEW_BOT_ID" {
		t.Errorf("bot user ID = %q, want NEW_BOT_ID", a.BotUserID())
	}
}

// --- Verify Adapter interface compliance ---

var _ telegraph.Adapter = (*Adapter)(nil)
