package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slicebot/slicebot-backend/internal/config"
	"github.com/slicebot/slicebot-backend/internal/models"
)

type graphRecorder struct {
	mu     sync.Mutex
	tokens []string
	sends  []messengerSend
	fail   bool
}

func newGraphServer(t *testing.T) (*httptest.Server, *graphRecorder) {
	t.Helper()
	rec := &graphRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var send messengerSend
		require.NoError(t, json.Unmarshal(body, &send))

		rec.mu.Lock()
		rec.tokens = append(rec.tokens, r.URL.Query().Get("access_token"))
		rec.sends = append(rec.sends, send)
		fail := rec.fail
		rec.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token.","code":190}}`))
			return
		}
		_, _ = w.Write([]byte(`{"recipient_id":"1","message_id":"m1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTestMessenger(graphURL string) *Messenger {
	return NewMessenger(config.MessengerConfig{
		PageAccessToken: "page-token",
		VerifyToken:     "verify-me",
		GraphURL:        graphURL,
	})
}

func TestMessenger_VerifySubscription(t *testing.T) {
	m := newTestMessenger("")

	challenge, ok := m.VerifySubscription("subscribe", "verify-me", "12345")
	assert.True(t, ok)
	assert.Equal(t, "12345", challenge)

	_, ok = m.VerifySubscription("subscribe", "wrong", "12345")
	assert.False(t, ok)
	_, ok = m.VerifySubscription("unsubscribe", "verify-me", "12345")
	assert.False(t, ok)
}

func TestMessenger_Normalize(t *testing.T) {
	raw := `{
		"object": "page",
		"entry": [{
			"id": "page-1",
			"messaging": [
				{"sender": {"id": "u1"}, "message": {"mid": "1", "text": "hello"}},
				{"sender": {"id": "u1"}, "message": {"mid": "2", "text": "Pickup", "quick_reply": {"payload": "pickup"}}},
				{"sender": {"id": "u1"}, "postback": {"title": "Choose", "payload": "p-marg"}},
				{"sender": {"id": "u1"}, "message": {"mid": "3", "attachments": [{"type": "location", "payload": {"coordinates": {"lat": 55.7, "long": 37.6}}}]}},
				{"sender": {"id": "u1"}, "message": {"mid": "4", "text": "/start"}},
				{"sender": {"id": "u1"}, "message": {"mid": "5", "text": "echo", "is_echo": true}},
				{"sender": {"id": "u1"}, "message": {"mid": "6", "attachments": [{"type": "image", "payload": {}}]}}
			]
		}]
	}`
	var hook MessengerWebhook
	require.NoError(t, json.Unmarshal([]byte(raw), &hook))

	events := newTestMessenger("").Normalize(hook)
	require.Len(t, events, 5)
	for _, in := range events {
		assert.Equal(t, models.UserIdentity("facebookid_u1"), in.Identity)
		assert.Equal(t, "u1", in.ChatAddress)
	}
	assert.Equal(t, models.TextMessage{Text: "hello"}, events[0].Event)
	assert.Equal(t, models.Callback{Payload: "pickup"}, events[1].Event)
	assert.Equal(t, models.Callback{Payload: "p-marg"}, events[2].Event)
	assert.Equal(t, models.Location{Lat: 55.7, Lon: 37.6}, events[3].Event)
	assert.Equal(t, models.Command{Name: "start"}, events[4].Event)
}

func TestMessenger_RenderMenuCarousel(t *testing.T) {
	m := newTestMessenger("")
	ins := models.Instruction{
		Kind: models.KindSendMenu,
		Text: "Please choose:",
		Buttons: [][]models.Button{
			{{Title: "Hot pizzas", Payload: "category:cat-hot"}, {Title: "Veggie", Payload: "category:cat-veg"}},
			{{Title: "Cart", Payload: models.PayloadCart}},
			{{Title: "Specials", Payload: "category:cat-special"}},
		},
	}
	for i := 0; i < 12; i++ {
		ins.Items = append(ins.Items, models.MenuItem{Title: "Pizza", Payload: "p", ImageURL: "https://img"})
	}

	out := m.render(ins)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Attachment)
	elements := out[0].Attachment.Payload.Elements
	require.Len(t, elements, messengerMaxElements)

	last := elements[len(elements)-1]
	require.Len(t, last.Buttons, 1, "four navigation buttons take two cards")
	assert.Equal(t, "category:cat-special", last.Buttons[0].Payload)
	assert.Equal(t, "Choose", elements[0].Buttons[0].Title)
}

func TestMessenger_RenderCartCards(t *testing.T) {
	m := newTestMessenger("")
	cart := &models.Cart{
		Items: []models.CartItem{
			{ID: "item-1", ProductID: "p-marg", Name: "Margherita", Quantity: 2, LineTotalFormatted: "900"},
		},
		TotalFormatted: "900",
	}
	out := m.render(models.Instruction{
		Kind: models.KindSendCartView,
		Text: "cart text",
		Cart: cart,
		Buttons: [][]models.Button{
			{{Title: "Remove 'Margherita'", Payload: "item-1"}},
			{{Title: "To menu", Payload: models.PayloadReturn}},
			{{Title: "Checkout", Payload: models.PayloadCheckout}},
		},
	})
	require.Len(t, out, 1)
	elements := out[0].Attachment.Payload.Elements
	require.Len(t, elements, 2)

	item := elements[0]
	assert.Equal(t, "2 in cart for 900", item.Subtitle)
	assert.Equal(t, models.AddToCartPayload("p-marg", 1), item.Buttons[0].Payload)
	assert.Equal(t, "item-1", item.Buttons[1].Payload)

	nav := elements[1]
	assert.Equal(t, "Total: 900", nav.Title)
	var payloads []string
	for _, b := range nav.Buttons {
		payloads = append(payloads, b.Payload)
	}
	assert.Equal(t, []string{models.PayloadReturn, models.PayloadCheckout}, payloads)

	empty := m.render(models.Instruction{
		Kind:    models.KindSendCartView,
		Text:    "Your cart is empty.",
		Cart:    &models.Cart{},
		Buttons: [][]models.Button{{{Title: "To menu", Payload: models.PayloadReturn}}},
	})
	require.Len(t, empty, 1)
	assert.Nil(t, empty[0].Attachment)
	require.Len(t, empty[0].QuickReplies, 1)
}

func TestMessenger_HandleWebhookSendsReplies(t *testing.T) {
	srv, rec := newGraphServer(t)
	m := newTestMessenger(srv.URL)
	d := &fakeDispatcher{reply: models.Reply{Instructions: []models.Instruction{
		{Kind: models.KindSendText, Text: "Tap \"Pay\" to get the invoice.", Buttons: [][]models.Button{{{Title: "Pay", Payload: models.PayloadPay}}}},
		{Kind: models.KindSendLocation, Recipient: "courier", Latitude: 55.7, Longitude: 37.6},
	}}}

	hook := MessengerWebhook{Object: "page", Entry: []MessengerEntry{{
		Messaging: []MessengerMessage{{Sender: messengerParty{ID: "u1"}, Postback: &messengerPostback{Payload: "pickup"}}},
	}}}
	require.NoError(t, m.HandleWebhook(context.Background(), d, hook))

	require.Len(t, d.got, 1)
	assert.Equal(t, models.Callback{Payload: "pickup"}, d.got[0].Event)

	require.Len(t, rec.sends, 2)
	assert.Equal(t, []string{"page-token", "page-token"}, rec.tokens)
	assert.Equal(t, "u1", rec.sends[0].Recipient.ID)
	assert.Equal(t, "RESPONSE", rec.sends[0].MessagingType)
	require.Len(t, rec.sends[0].Message.QuickReplies, 1)
	assert.Equal(t, models.PayloadPay, rec.sends[0].Message.QuickReplies[0].Payload)
	assert.Equal(t, "courier", rec.sends[1].Recipient.ID)
	assert.Contains(t, rec.sends[1].Message.Text, "55.7")
}

func TestMessenger_SendReportsGraphError(t *testing.T) {
	srv, rec := newGraphServer(t)
	rec.fail = true
	m := newTestMessenger(srv.URL)

	err := m.Deliver(context.Background(), "u1", []models.Instruction{{Kind: models.KindSendText, Text: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid OAuth access token.")
}
