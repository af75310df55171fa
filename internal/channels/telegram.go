package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/slicebot/slicebot-backend/internal/config"
	"github.com/slicebot/slicebot-backend/internal/models"
)

const preCheckoutError = "Something went wrong with this invoice. Please request a new one."

// telegramAPI is the part of the bot client the adapter uses
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram is the telegram bot adapter
type Telegram struct {
	api           telegramAPI
	bot           *tgbotapi.BotAPI
	providerToken string
}

// NewTelegram connects to the bot API
func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	slog.Info("telegram bot authorized", "username", bot.Self.UserName)
	return &Telegram{api: bot, bot: bot, providerToken: cfg.PaymentProviderToken}, nil
}

// Normalize turns an update into an inbound event. ok=false for updates the
// engine does not handle.
func (t *Telegram) Normalize(update tgbotapi.Update) (models.Inbound, bool) {
	if q := update.CallbackQuery; q != nil {
		var chatID int64
		switch {
		case q.Message != nil && q.Message.Chat != nil:
			chatID = q.Message.Chat.ID
		case q.From != nil:
			chatID = q.From.ID
		default:
			return models.Inbound{}, false
		}
		return telegramInbound(chatID, models.Callback{Payload: q.Data}, q.ID), true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.SuccessfulPayment != nil {
		return models.Inbound{}, false
	}

	var ev models.InboundEvent
	switch {
	case msg.Location != nil:
		ev = models.Location{Lat: msg.Location.Latitude, Lon: msg.Location.Longitude}
	case msg.IsCommand():
		ev = models.Command{Name: msg.Command()}
	case strings.TrimSpace(msg.Text) != "":
		ev = models.TextMessage{Text: msg.Text}
	default:
		return models.Inbound{}, false
	}
	return telegramInbound(msg.Chat.ID, ev, ""), true
}

func telegramInbound(chatID int64, ev models.InboundEvent, callbackID string) models.Inbound {
	chat := strconv.FormatInt(chatID, 10)
	return models.Inbound{
		Identity:    models.NewUserIdentity(models.ChannelTelegram, chat),
		ChatAddress: chat,
		Event:       ev,
		CallbackID:  callbackID,
	}
}

// HandleUpdate answers pre-checkout queries and runs everything else
// through the dispatcher
func (t *Telegram) HandleUpdate(ctx context.Context, d Dispatcher, update tgbotapi.Update) error {
	if update.PreCheckoutQuery != nil {
		return t.AnswerPreCheckout(update.PreCheckoutQuery)
	}
	if msg := update.Message; msg != nil && msg.SuccessfulPayment != nil {
		slog.Info("payment received",
			"chat", msg.Chat.ID,
			"amount", msg.SuccessfulPayment.TotalAmount,
			"currency", msg.SuccessfulPayment.Currency,
			"payload", msg.SuccessfulPayment.InvoicePayload,
		)
		return nil
	}

	in, ok := t.Normalize(update)
	if !ok {
		return nil
	}
	reply, err := d.Dispatch(ctx, in)
	if err != nil {
		if in.CallbackID != "" {
			_, _ = t.api.Request(tgbotapi.NewCallback(in.CallbackID, ""))
		}
		return err
	}
	return t.Reply(ctx, in, reply.Instructions)
}

// AnswerPreCheckout accepts only invoices this bot issued
func (t *Telegram) AnswerPreCheckout(q *tgbotapi.PreCheckoutQuery) error {
	answer := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: q.ID,
		OK:                 strings.HasPrefix(q.InvoicePayload, models.InvoicePayloadPrefix),
	}
	if !answer.OK {
		answer.ErrorMessage = preCheckoutError
		slog.Warn("rejecting unknown invoice payload", "payload", q.InvoicePayload)
	}
	if _, err := t.api.Request(answer); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// Reply delivers a dispatch result. Notices become the callback toast.
func (t *Telegram) Reply(ctx context.Context, in models.Inbound, instructions []models.Instruction) error {
	if in.CallbackID != "" {
		toast := ""
		rest := instructions[:0:0]
		for _, ins := range instructions {
			if ins.Kind == models.KindNotice && ins.Recipient == "" && toast == "" {
				toast = ins.Text
				continue
			}
			rest = append(rest, ins)
		}
		if _, err := t.api.Request(tgbotapi.NewCallback(in.CallbackID, toast)); err != nil {
			slog.Warn("answer callback failed", "user", in.Identity, "error", err)
		}
		instructions = rest
	}
	return t.Deliver(ctx, in.ChatAddress, instructions)
}

// Deliver sends instructions to a chat. Every message is attempted; the
// errors are joined.
func (t *Telegram) Deliver(ctx context.Context, chatAddress string, instructions []models.Instruction) error {
	var errs []error
	for _, ins := range instructions {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := chatAddress
		if ins.Recipient != "" {
			to = ins.Recipient
		}
		chatID, err := strconv.ParseInt(to, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("telegram chat id %q: %w", to, err))
			continue
		}
		msg, ok := t.Render(chatID, ins)
		if !ok {
			continue
		}
		if _, err := t.api.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("send %s to %d: %w", ins.Kind, chatID, err))
		}
	}
	return errors.Join(errs...)
}

// Render builds the bot API call of one instruction
func (t *Telegram) Render(chatID int64, ins models.Instruction) (tgbotapi.Chattable, bool) {
	switch ins.Kind {
	case models.KindSendMenu:
		rows := make([][]models.Button, 0, len(ins.Items)+len(ins.Buttons))
		for _, item := range ins.Items {
			rows = append(rows, []models.Button{{Title: item.Title, Payload: item.Payload}})
		}
		rows = append(rows, ins.Buttons...)
		msg := tgbotapi.NewMessage(chatID, ins.Text)
		msg.ReplyMarkup = inlineKeyboard(rows)
		return msg, true

	case models.KindSendProduct:
		if ins.ImageURL == "" {
			msg := tgbotapi.NewMessage(chatID, ins.Text)
			msg.ReplyMarkup = inlineKeyboard(ins.Buttons)
			return msg, true
		}
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(ins.ImageURL))
		photo.Caption = ins.Text
		photo.ReplyMarkup = inlineKeyboard(ins.Buttons)
		return photo, true

	case models.KindSendLocation:
		return tgbotapi.NewLocation(chatID, ins.Latitude, ins.Longitude), true

	case models.KindSendInvoice:
		if ins.Invoice == nil {
			return nil, false
		}
		prices := make([]tgbotapi.LabeledPrice, 0, len(ins.Invoice.Prices))
		for _, p := range ins.Invoice.Prices {
			prices = append(prices, tgbotapi.LabeledPrice{Label: p.Label, Amount: int(p.Amount)})
		}
		invoice := tgbotapi.NewInvoice(chatID, ins.Invoice.Title, ins.Invoice.Description,
			ins.Invoice.Payload, t.providerToken, "", ins.Invoice.Currency, prices)
		// A nil slice is sent as null, which the bot API rejects
		invoice.SuggestedTipAmounts = []int{}
		return invoice, true

	default:
		if ins.Text == "" {
			return nil, false
		}
		msg := tgbotapi.NewMessage(chatID, ins.Text)
		if len(ins.Buttons) > 0 {
			msg.ReplyMarkup = inlineKeyboard(ins.Buttons)
		}
		return msg, true
	}
}

func inlineKeyboard(rows [][]models.Button) tgbotapi.InlineKeyboardMarkup {
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Title, b.Payload))
		}
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// Poll reads updates with long polling until ctx is done. Chats are
// handled concurrently, the updates of one chat in arrival order.
func (t *Telegram) Poll(ctx context.Context, d Dispatcher) error {
	if t.bot == nil {
		return errors.New("telegram polling needs a connected bot")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	slog.Info("telegram long polling started")
	t.consume(ctx, d, updates)
	t.bot.StopReceivingUpdates()
	slog.Info("telegram long polling stopped")
	return nil
}

// consume hands updates to per-chat queues until ctx is done or updates is
// closed, then waits for the queues to drain
func (t *Telegram) consume(ctx context.Context, d Dispatcher, updates <-chan tgbotapi.Update) {
	queues := newUpdateQueues(func(update tgbotapi.Update) {
		if err := t.HandleUpdate(ctx, d, update); err != nil {
			slog.Error("telegram update failed", "update_id", update.UpdateID, "error", err)
		}
	})
	defer queues.wait()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			queues.push(updateChatID(update), update)
		}
	}
}

// updateChatID is the chat an update belongs to, 0 when it has none
func updateChatID(u tgbotapi.Update) int64 {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return u.CallbackQuery.Message.Chat.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.Chat.ID
	case u.PreCheckoutQuery != nil && u.PreCheckoutQuery.From != nil:
		return u.PreCheckoutQuery.From.ID
	}
	return 0
}

// updateQueues runs one worker per chat with a backlog. A worker exits once
// its backlog is empty.
type updateQueues struct {
	handle func(tgbotapi.Update)

	mu      sync.Mutex
	backlog map[int64][]tgbotapi.Update
	wg      sync.WaitGroup
}

func newUpdateQueues(handle func(tgbotapi.Update)) *updateQueues {
	return &updateQueues{handle: handle, backlog: make(map[int64][]tgbotapi.Update)}
}

func (q *updateQueues) push(chatID int64, update tgbotapi.Update) {
	q.mu.Lock()
	pending, running := q.backlog[chatID]
	q.backlog[chatID] = append(pending, update)
	q.mu.Unlock()

	if !running {
		q.wg.Add(1)
		go q.drain(chatID)
	}
}

func (q *updateQueues) drain(chatID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		pending := q.backlog[chatID]
		if len(pending) == 0 {
			delete(q.backlog, chatID)
			q.mu.Unlock()
			return
		}
		update := pending[0]
		q.backlog[chatID] = pending[1:]
		q.mu.Unlock()

		q.handle(update)
	}
}

func (q *updateQueues) wait() {
	q.wg.Wait()
}
