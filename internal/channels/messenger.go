package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/slicebot/slicebot-backend/internal/config"
	"github.com/slicebot/slicebot-backend/internal/models"
)

// Graph API limits
const (
	messengerMaxElements     = 10
	messengerMaxCardButtons  = 3
	messengerMaxQuickReplies = 13
	messengerTitleLen        = 80
	messengerQuickReplyLen   = 20
	messengerButtonTitleLen  = 20
	messengerTextLen         = 2000
)

// MessengerWebhook is the payload facebook posts to the page webhook
type MessengerWebhook struct {
	Object string           `json:"object"`
	Entry  []MessengerEntry `json:"entry"`
}

type MessengerEntry struct {
	ID        string             `json:"id"`
	Time      int64              `json:"time"`
	Messaging []MessengerMessage `json:"messaging"`
}

type MessengerMessage struct {
	Sender    messengerParty     `json:"sender"`
	Recipient messengerParty     `json:"recipient"`
	Timestamp int64              `json:"timestamp"`
	Message   *messengerContent  `json:"message,omitempty"`
	Postback  *messengerPostback `json:"postback,omitempty"`
}

type messengerParty struct {
	ID string `json:"id"`
}

type messengerContent struct {
	MID         string               `json:"mid"`
	Text        string               `json:"text"`
	IsEcho      bool                 `json:"is_echo"`
	QuickReply  *messengerPayload    `json:"quick_reply,omitempty"`
	Attachments []messengerAttachRef `json:"attachments,omitempty"`
}

type messengerPayload struct {
	Payload string `json:"payload"`
}

type messengerPostback struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type messengerAttachRef struct {
	Type    string `json:"type"`
	Payload struct {
		Coordinates *struct {
			Lat  float64 `json:"lat"`
			Long float64 `json:"long"`
		} `json:"coordinates,omitempty"`
	} `json:"payload"`
}

// Send API payloads

type messengerSend struct {
	Recipient     messengerParty    `json:"recipient"`
	MessagingType string            `json:"messaging_type"`
	Message       messengerOutbound `json:"message"`
}

type messengerOutbound struct {
	Text         string                `json:"text,omitempty"`
	QuickReplies []messengerQuickReply `json:"quick_replies,omitempty"`
	Attachment   *messengerAttachment  `json:"attachment,omitempty"`
}

type messengerQuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type messengerAttachment struct {
	Type    string            `json:"type"`
	Payload messengerTemplate `json:"payload"`
}

type messengerTemplate struct {
	TemplateType string             `json:"template_type"`
	Elements     []messengerElement `json:"elements"`
}

type messengerElement struct {
	Title    string            `json:"title"`
	Subtitle string            `json:"subtitle,omitempty"`
	ImageURL string            `json:"image_url,omitempty"`
	Buttons  []messengerButton `json:"buttons,omitempty"`
}

type messengerButton struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Messenger is the facebook page adapter
type Messenger struct {
	token       string
	verifyToken string
	graphURL    string
	timeout     time.Duration
}

// NewMessenger creates the adapter for a page
func NewMessenger(cfg config.MessengerConfig) *Messenger {
	graphURL := strings.TrimRight(cfg.GraphURL, "/")
	if graphURL == "" {
		graphURL = "https://graph.facebook.com/v2.6"
	}
	return &Messenger{
		token:       cfg.PageAccessToken,
		verifyToken: cfg.VerifyToken,
		graphURL:    graphURL,
		timeout:     10 * time.Second,
	}
}

// VerifySubscription answers the webhook verification handshake
func (m *Messenger) VerifySubscription(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || m.verifyToken == "" || token != m.verifyToken {
		return "", false
	}
	return challenge, true
}

// Normalize extracts the inbound events of a webhook payload. Echoes and
// unsupported attachments are skipped.
func (m *Messenger) Normalize(hook MessengerWebhook) []models.Inbound {
	var events []models.Inbound
	for _, entry := range hook.Entry {
		for _, msg := range entry.Messaging {
			ev, ok := messengerEvent(msg)
			if !ok || msg.Sender.ID == "" {
				continue
			}
			events = append(events, models.Inbound{
				Identity:    models.NewUserIdentity(models.ChannelMessenger, msg.Sender.ID),
				ChatAddress: msg.Sender.ID,
				Event:       ev,
			})
		}
	}
	return events
}

func messengerEvent(msg MessengerMessage) (models.InboundEvent, bool) {
	if msg.Postback != nil {
		if msg.Postback.Payload == "" {
			return nil, false
		}
		if strings.EqualFold(msg.Postback.Payload, "start") {
			return models.Command{Name: "start"}, true
		}
		return models.Callback{Payload: msg.Postback.Payload}, true
	}

	content := msg.Message
	if content == nil || content.IsEcho {
		return nil, false
	}
	if content.QuickReply != nil && content.QuickReply.Payload != "" {
		return models.Callback{Payload: content.QuickReply.Payload}, true
	}
	for _, a := range content.Attachments {
		if a.Type == "location" && a.Payload.Coordinates != nil {
			return models.Location{Lat: a.Payload.Coordinates.Lat, Lon: a.Payload.Coordinates.Long}, true
		}
	}
	text := strings.TrimSpace(content.Text)
	if text == "" {
		return nil, false
	}
	if strings.HasPrefix(text, "/") {
		return models.Command{Name: strings.TrimPrefix(strings.Fields(text)[0], "/")}, true
	}
	return models.TextMessage{Text: content.Text}, true
}

// HandleWebhook dispatches every event of a webhook and delivers the replies
func (m *Messenger) HandleWebhook(ctx context.Context, d Dispatcher, hook MessengerWebhook) error {
	var errs []error
	for _, in := range m.Normalize(hook) {
		reply, err := d.Dispatch(ctx, in)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.Deliver(ctx, in.ChatAddress, reply.Instructions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliver sends instructions to a PSID
func (m *Messenger) Deliver(ctx context.Context, chatAddress string, instructions []models.Instruction) error {
	var errs []error
	for _, ins := range instructions {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := chatAddress
		if ins.Recipient != "" {
			to = ins.Recipient
		}
		for _, out := range m.render(ins) {
			if err := m.send(to, out); err != nil {
				errs = append(errs, fmt.Errorf("send %s to %s: %w", ins.Kind, to, err))
			}
		}
	}
	return errors.Join(errs...)
}

// render builds the Send API messages of one instruction
func (m *Messenger) render(ins models.Instruction) []messengerOutbound {
	switch ins.Kind {
	case models.KindSendMenu:
		elements := make([]messengerElement, 0, len(ins.Items))
		for _, item := range ins.Items {
			action := item.ActionTitle
			if action == "" {
				action = "Choose"
			}
			elements = append(elements, messengerElement{
				Title:    truncateRunes(item.Title, messengerTitleLen),
				Subtitle: truncateRunes(item.Subtitle, messengerTitleLen),
				ImageURL: item.ImageURL,
				Buttons:  []messengerButton{postbackButton(action, item.Payload)},
			})
		}
		nav := navigationCards(ins.Text, flattenButtons(ins.Buttons))
		if room := messengerMaxElements - len(nav); len(elements) > room {
			elements = elements[:max(room, 0)]
		}
		return []messengerOutbound{genericTemplate(append(elements, nav...))}

	case models.KindSendProduct:
		title, subtitle, _ := strings.Cut(ins.Text, "\n")
		buttons := flattenButtons(ins.Buttons)
		card := messengerElement{
			Title:    truncateRunes(title, messengerTitleLen),
			Subtitle: truncateRunes(strings.TrimSpace(subtitle), messengerTitleLen),
			ImageURL: ins.ImageURL,
		}
		for i, b := range buttons {
			if i == messengerMaxCardButtons {
				break
			}
			card.Buttons = append(card.Buttons, postbackButton(b.Title, b.Payload))
		}
		return []messengerOutbound{genericTemplate([]messengerElement{card})}

	case models.KindSendCartView:
		if ins.Cart == nil || ins.Cart.IsEmpty() {
			return []messengerOutbound{quickReplyText(ins.Text, ins.Buttons)}
		}
		elements := make([]messengerElement, 0, len(ins.Cart.Items)+1)
		itemIDs := make(map[string]bool, len(ins.Cart.Items))
		for _, item := range ins.Cart.Items {
			itemIDs[item.ID] = true
			elements = append(elements, messengerElement{
				Title:    truncateRunes(item.Name, messengerTitleLen),
				Subtitle: truncateRunes(fmt.Sprintf("%d in cart for %s", item.Quantity, item.LineTotalFormatted), messengerTitleLen),
				Buttons: []messengerButton{
					postbackButton("One more", models.AddToCartPayload(item.ProductID, 1)),
					postbackButton("Remove", item.ID),
				},
			})
		}
		var rest []models.Button
		for _, b := range flattenButtons(ins.Buttons) {
			if !itemIDs[b.Payload] {
				rest = append(rest, b)
			}
		}
		nav := navigationCards("Total: "+ins.Cart.TotalFormatted, rest)
		if room := messengerMaxElements - len(nav); len(elements) > room {
			elements = elements[:max(room, 0)]
		}
		return []messengerOutbound{genericTemplate(append(elements, nav...))}

	case models.KindSendLocation:
		link := fmt.Sprintf("https://maps.google.com/?q=%f,%f", ins.Latitude, ins.Longitude)
		return []messengerOutbound{{Text: link}}

	case models.KindSendInvoice:
		if ins.Invoice == nil {
			return nil
		}
		return []messengerOutbound{{Text: truncateRunes(invoiceText(ins.Invoice), messengerTextLen)}}

	default:
		if ins.Text == "" {
			return nil
		}
		return []messengerOutbound{quickReplyText(ins.Text, ins.Buttons)}
	}
}

// navigationCards packs buttons into cards of three, titled by text
func navigationCards(title string, buttons []models.Button) []messengerElement {
	if title == "" {
		title = "Menu"
	}
	var cards []messengerElement
	for start := 0; start < len(buttons); start += messengerMaxCardButtons {
		end := min(start+messengerMaxCardButtons, len(buttons))
		card := messengerElement{Title: truncateRunes(title, messengerTitleLen)}
		for _, b := range buttons[start:end] {
			card.Buttons = append(card.Buttons, postbackButton(b.Title, b.Payload))
		}
		cards = append(cards, card)
	}
	return cards
}

func postbackButton(title, payload string) messengerButton {
	return messengerButton{Type: "postback", Title: truncateRunes(title, messengerButtonTitleLen), Payload: payload}
}

func genericTemplate(elements []messengerElement) messengerOutbound {
	return messengerOutbound{Attachment: &messengerAttachment{
		Type:    "template",
		Payload: messengerTemplate{TemplateType: "generic", Elements: elements},
	}}
}

func quickReplyText(text string, rows [][]models.Button) messengerOutbound {
	out := messengerOutbound{Text: truncateRunes(text, messengerTextLen)}
	for _, b := range flattenButtons(rows) {
		if len(out.QuickReplies) == messengerMaxQuickReplies {
			break
		}
		out.QuickReplies = append(out.QuickReplies, messengerQuickReply{
			ContentType: "text",
			Title:       truncateRunes(b.Title, messengerQuickReplyLen),
			Payload:     b.Payload,
		})
	}
	return out
}

func (m *Messenger) send(psid string, message messengerOutbound) error {
	body := messengerSend{
		Recipient:     messengerParty{ID: psid},
		MessagingType: "RESPONSE",
		Message:       message,
	}
	endpoint := m.graphURL + "/me/messages?access_token=" + url.QueryEscape(m.token)

	code, resp, errs := fiber.Post(endpoint).JSON(body).Timeout(m.timeout).Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("graph api request: %w", errors.Join(errs...))
	}
	if code >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(resp, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("graph api %d: %s (code %d)", code, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("graph api status %d", code)
	}
	slog.Debug("messenger message sent", "psid", psid)
	return nil
}
