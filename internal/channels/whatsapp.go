package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/slicebot/slicebot-backend/internal/config"
	"github.com/slicebot/slicebot-backend/internal/models"
)

const whatsappPrefix = "whatsapp:"

// TwilioWebhookPayload is an incoming WhatsApp message posted by twilio
type TwilioWebhookPayload struct {
	MessageSid    string `form:"MessageSid"`
	AccountSid    string `form:"AccountSid"`
	From          string `form:"From"` // whatsapp:+15551234567
	To            string `form:"To"`
	Body          string `form:"Body"`
	ButtonPayload string `form:"ButtonPayload"`
	Latitude      string `form:"Latitude"`
	Longitude     string `form:"Longitude"`
	NumMedia      string `form:"NumMedia"`
}

// messageCreator is the part of the twilio REST client the adapter uses
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// WhatsApp is the twilio WhatsApp adapter. WhatsApp sandbox messages have no
// buttons, so options are numbered and the last numbering of each chat is
// kept to resolve numeric replies.
type WhatsApp struct {
	api  messageCreator
	from string

	mu      sync.Mutex
	options map[string][]string
}

// NewWhatsApp creates the adapter from twilio credentials
func NewWhatsApp(cfg config.WhatsAppConfig) (*WhatsApp, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errors.New("missing twilio credentials")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newWhatsApp(client.Api, cfg.From), nil
}

func newWhatsApp(api messageCreator, from string) *WhatsApp {
	if !strings.HasPrefix(from, whatsappPrefix) {
		from = whatsappPrefix + from
	}
	return &WhatsApp{api: api, from: from, options: make(map[string][]string)}
}

// Normalize turns a webhook into an inbound event. Status callbacks and
// empty messages give ok=false.
func (w *WhatsApp) Normalize(p TwilioWebhookPayload) (models.Inbound, bool) {
	chat := strings.TrimPrefix(p.From, whatsappPrefix)
	if chat == "" {
		return models.Inbound{}, false
	}
	in := models.Inbound{
		Identity:    models.NewUserIdentity(models.ChannelWhatsApp, chat),
		ChatAddress: chat,
	}

	if p.Latitude != "" && p.Longitude != "" {
		lat, errLat := strconv.ParseFloat(p.Latitude, 64)
		lon, errLon := strconv.ParseFloat(p.Longitude, 64)
		if errLat == nil && errLon == nil {
			in.Event = models.Location{Lat: lat, Lon: lon}
			return in, true
		}
	}
	if p.ButtonPayload != "" {
		in.Event = models.Callback{Payload: p.ButtonPayload}
		return in, true
	}

	body := strings.TrimSpace(p.Body)
	switch {
	case body == "":
		return models.Inbound{}, false
	case strings.HasPrefix(body, "/"):
		in.Event = models.Command{Name: strings.TrimPrefix(strings.Fields(body)[0], "/")}
	case strings.HasPrefix(body, "#") && len(body) > 1:
		in.Event = models.Callback{Payload: body[1:]}
	default:
		if payload, ok := w.option(chat, body); ok {
			in.Event = models.Callback{Payload: payload}
		} else {
			in.Event = models.TextMessage{Text: p.Body}
		}
	}
	return in, true
}

func (w *WhatsApp) option(chat, body string) (string, bool) {
	n, err := strconv.Atoi(body)
	if err != nil || n < 1 {
		return "", false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	opts := w.options[chat]
	if n > len(opts) {
		return "", false
	}
	return opts[n-1], true
}

// HandleWebhook dispatches a message and sends the reply
func (w *WhatsApp) HandleWebhook(ctx context.Context, d Dispatcher, p TwilioWebhookPayload) error {
	in, ok := w.Normalize(p)
	if !ok {
		return nil
	}
	slog.Info("whatsapp message", "from", in.ChatAddress, "event", in.Event.Describe())
	reply, err := d.Dispatch(ctx, in)
	if err != nil {
		return err
	}
	return w.Deliver(ctx, in.ChatAddress, reply.Instructions)
}

// Deliver sends instructions, one message each. Options are numbered across
// the whole reply of a recipient.
func (w *WhatsApp) Deliver(ctx context.Context, chatAddress string, instructions []models.Instruction) error {
	order, groups := splitByRecipient(chatAddress, instructions)
	var errs []error
	for _, to := range order {
		var options []string
		for _, ins := range groups[to] {
			if err := ctx.Err(); err != nil {
				return err
			}
			params, ok := w.render(to, ins, &options)
			if !ok {
				continue
			}
			resp, err := w.api.CreateMessage(params)
			if err != nil {
				errs = append(errs, fmt.Errorf("send %s to %s: %w", ins.Kind, to, err))
				continue
			}
			if resp != nil && resp.ErrorCode != nil && *resp.ErrorCode != 0 {
				msg := ""
				if resp.ErrorMessage != nil {
					msg = *resp.ErrorMessage
				}
				errs = append(errs, fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, msg))
			}
		}
		w.mu.Lock()
		if len(options) > 0 {
			w.options[to] = options
		} else {
			delete(w.options, to)
		}
		w.mu.Unlock()
	}
	return errors.Join(errs...)
}

// render builds the message of an instruction, appending its options to the
// running numbering
func (w *WhatsApp) render(to string, ins models.Instruction, options *[]string) (*twilioApi.CreateMessageParams, bool) {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(w.from)
	params.SetTo(whatsappPrefix + to)

	var body strings.Builder
	switch ins.Kind {
	case models.KindSendLocation:
		fmt.Fprintf(&body, "Delivery location: %.6f, %.6f", ins.Latitude, ins.Longitude)
		params.SetPersistentAction([]string{fmt.Sprintf("geo:%f,%f", ins.Latitude, ins.Longitude)})

	case models.KindSendInvoice:
		if ins.Invoice == nil {
			return nil, false
		}
		body.WriteString(invoiceText(ins.Invoice))

	default:
		body.WriteString(ins.Text)
		for _, item := range ins.Items {
			*options = append(*options, item.Payload)
			fmt.Fprintf(&body, "\n%d. %s", len(*options), item.Title)
		}
		for _, b := range flattenButtons(ins.Buttons) {
			*options = append(*options, b.Payload)
			fmt.Fprintf(&body, "\n%d. %s", len(*options), b.Title)
		}
		if ins.ImageURL != "" {
			params.SetMediaUrl([]string{ins.ImageURL})
		}
	}

	text := strings.TrimSpace(body.String())
	if text == "" && ins.ImageURL == "" {
		return nil, false
	}
	params.SetBody(text)
	return params, true
}
