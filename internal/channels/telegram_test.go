package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slicebot/slicebot-backend/internal/models"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.sendErr
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	got   []models.Inbound
	reply models.Reply
	err   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, in models.Inbound) (models.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, in)
	return f.reply, f.err
}

func newTestTelegram() (*Telegram, *fakeBot) {
	bot := &fakeBot{}
	return &Telegram{api: bot, providerToken: "provider-token"}, bot
}

func TestTelegram_Normalize(t *testing.T) {
	tg, _ := newTestTelegram()
	chat := &tgbotapi.Chat{ID: 42}

	tests := []struct {
		name   string
		update tgbotapi.Update
		want   models.InboundEvent
		cbID   string
	}{
		{
			name: "command",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat:     chat,
				Text:     "/start",
				Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
			}},
			want: models.Command{Name: "start"},
		},
		{
			name:   "text",
			update: tgbotapi.Update{Message: &tgbotapi.Message{Chat: chat, Text: "Tverskaya 7"}},
			want:   models.TextMessage{Text: "Tverskaya 7"},
		},
		{
			name: "location",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat:     chat,
				Location: &tgbotapi.Location{Latitude: 55.75, Longitude: 37.61},
			}},
			want: models.Location{Lat: 55.75, Lon: 37.61},
		},
		{
			name: "callback",
			update: tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
				ID:      "cb-1",
				Data:    "p-marg:1",
				Message: &tgbotapi.Message{Chat: chat},
			}},
			want: models.Callback{Payload: "p-marg:1"},
			cbID: "cb-1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ok := tg.Normalize(tt.update)
			require.True(t, ok)
			assert.Equal(t, models.UserIdentity("telegram_42"), in.Identity)
			assert.Equal(t, "42", in.ChatAddress)
			assert.Equal(t, tt.want, in.Event)
			assert.Equal(t, tt.cbID, in.CallbackID)
		})
	}

	_, ok := tg.Normalize(tgbotapi.Update{Message: &tgbotapi.Message{Chat: chat}})
	assert.False(t, ok, "a message without content is ignored")
	_, ok = tg.Normalize(tgbotapi.Update{})
	assert.False(t, ok)
}

func TestTelegram_RenderInvoice(t *testing.T) {
	tg, _ := newTestTelegram()
	msg, ok := tg.Render(42, models.Instruction{
		Kind: models.KindSendInvoice,
		Invoice: &models.Invoice{
			Title:    "Pizza order",
			Payload:  models.InvoicePayloadPrefix + "abc",
			Currency: "RUB",
			Prices:   []models.LabeledPrice{{Label: "Order", Amount: 45000}, {Label: "Delivery", Amount: 10000}},
		},
	})
	require.True(t, ok)
	invoice, isInvoice := msg.(tgbotapi.InvoiceConfig)
	require.True(t, isInvoice)
	assert.Equal(t, "provider-token", invoice.ProviderToken)
	assert.Equal(t, "RUB", invoice.Currency)
	assert.Equal(t, []tgbotapi.LabeledPrice{{Label: "Order", Amount: 45000}, {Label: "Delivery", Amount: 10000}}, invoice.Prices)
	assert.NotNil(t, invoice.SuggestedTipAmounts)
}

func TestTelegram_RenderMenuKeyboard(t *testing.T) {
	tg, _ := newTestTelegram()
	msg, ok := tg.Render(42, models.Instruction{
		Kind:    models.KindSendMenu,
		Text:    "Choose a pizza",
		Items:   []models.MenuItem{{Title: "Margherita (450)", Payload: "p-marg"}},
		Buttons: [][]models.Button{{{Title: "Cart", Payload: models.PayloadCart}}},
	})
	require.True(t, ok)
	text, isText := msg.(tgbotapi.MessageConfig)
	require.True(t, isText)
	markup, isMarkup := text.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, isMarkup)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "p-marg", *markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, models.PayloadCart, *markup.InlineKeyboard[1][0].CallbackData)
}

func TestTelegram_HandleUpdateAnswersCallbackWithNotice(t *testing.T) {
	tg, bot := newTestTelegram()
	d := &fakeDispatcher{reply: models.Reply{Instructions: []models.Instruction{
		{Kind: models.KindNotice, Text: "Added to cart"},
		{Kind: models.KindSendText, Text: "Anything else?"},
		{Kind: models.KindSendLocation, Recipient: "777", Latitude: 55.7, Longitude: 37.6},
	}}}

	err := tg.HandleUpdate(context.Background(), d, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-9",
		Data:    "p-marg:1",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
	}})
	require.NoError(t, err)

	require.Len(t, bot.requests, 1)
	answer, ok := bot.requests[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cb-9", answer.CallbackQueryID)
	assert.Equal(t, "Added to cart", answer.Text)

	require.Len(t, bot.sent, 2)
	text := bot.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(42), text.ChatID)
	location := bot.sent[1].(tgbotapi.LocationConfig)
	assert.Equal(t, int64(777), location.ChatID, "recipient override goes to the deliveryman")
}

func TestTelegram_HandleUpdateDispatchError(t *testing.T) {
	tg, bot := newTestTelegram()
	d := &fakeDispatcher{err: errors.New("store down")}

	err := tg.HandleUpdate(context.Background(), d, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    "cart",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
	}})
	require.Error(t, err)
	assert.Len(t, bot.requests, 1, "the button press is still acknowledged")
	assert.Empty(t, bot.sent)
}

func TestTelegram_AnswerPreCheckout(t *testing.T) {
	tg, bot := newTestTelegram()

	require.NoError(t, tg.AnswerPreCheckout(&tgbotapi.PreCheckoutQuery{ID: "q1", InvoicePayload: models.InvoicePayloadPrefix + "x"}))
	require.NoError(t, tg.AnswerPreCheckout(&tgbotapi.PreCheckoutQuery{ID: "q2", InvoicePayload: "forged"}))

	require.Len(t, bot.requests, 2)
	assert.True(t, bot.requests[0].(tgbotapi.PreCheckoutConfig).OK)
	rejected := bot.requests[1].(tgbotapi.PreCheckoutConfig)
	assert.False(t, rejected.OK)
	assert.NotEmpty(t, rejected.ErrorMessage)
}

func TestTelegram_DeliverJoinsErrors(t *testing.T) {
	tg, bot := newTestTelegram()
	bot.sendErr = errors.New("blocked by user")

	err := tg.Deliver(context.Background(), "42", []models.Instruction{
		{Kind: models.KindSendText, Text: "one"},
		{Kind: models.KindSendText, Text: "two"},
	})
	require.Error(t, err)
	assert.Len(t, bot.sent, 2, "every message is attempted")
}

func TestRegistry_RoutesByChannel(t *testing.T) {
	tg, bot := newTestTelegram()
	r := NewRegistry()
	r.Register(models.ChannelTelegram, tg)

	err := r.Deliver(context.Background(), models.NewUserIdentity(models.ChannelTelegram, "42"), "42",
		[]models.Instruction{{Kind: models.KindSendText, Text: "hi"}})
	require.NoError(t, err)
	assert.Len(t, bot.sent, 1)

	err = r.Deliver(context.Background(), models.NewUserIdentity(models.ChannelWhatsApp, "+100"), "+100", nil)
	assert.Error(t, err)
	assert.Equal(t, []string{models.ChannelTelegram}, r.Channels())
}

func TestInvoiceText(t *testing.T) {
	text := invoiceText(&models.Invoice{
		Title:    "Pizza order",
		Currency: "RUB",
		Prices:   []models.LabeledPrice{{Label: "Order", Amount: 45050}, {Label: "Delivery", Amount: 10000}},
	})
	assert.Contains(t, text, "Order: 450.50 RUB")
	assert.Contains(t, text, "Delivery: 100 RUB")
	assert.Contains(t, text, "Total: 550.50 RUB")
}

// slowFirstDispatcher stalls on the first message of every chat
type slowFirstDispatcher struct {
	mu  sync.Mutex
	got map[string][]string
}

func (s *slowFirstDispatcher) Dispatch(_ context.Context, in models.Inbound) (models.Reply, error) {
	text := in.Event.(models.TextMessage).Text
	if text == "first" {
		time.Sleep(30 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got[in.ChatAddress] = append(s.got[in.ChatAddress], text)
	return models.Reply{}, nil
}

func TestTelegram_ConsumeKeepsChatOrder(t *testing.T) {
	tg, _ := newTestTelegram()
	d := &slowFirstDispatcher{got: make(map[string][]string)}

	updates := make(chan tgbotapi.Update, 8)
	for i, text := range []string{"first", "second", "third"} {
		updates <- tgbotapi.Update{UpdateID: i, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: text}}
	}
	updates <- tgbotapi.Update{UpdateID: 9, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 2}, Text: "other"}}
	close(updates)

	tg.consume(context.Background(), d, updates)

	assert.Equal(t, []string{"first", "second", "third"}, d.got["1"])
	assert.Equal(t, []string{"other"}, d.got["2"])
}

func TestUpdateChatID(t *testing.T) {
	assert.Equal(t, int64(5), updateChatID(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		From:    &tgbotapi.User{ID: 9},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 5}},
	}}))
	assert.Equal(t, int64(9), updateChatID(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 9}}}))
	assert.Equal(t, int64(7), updateChatID(tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{From: &tgbotapi.User{ID: 7}}}))
	assert.Zero(t, updateChatID(tgbotapi.Update{}))
}
