package routes

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slicebot/slicebot-backend/internal/channels"
	"github.com/slicebot/slicebot-backend/internal/config"
	"github.com/slicebot/slicebot-backend/internal/handlers"
	"github.com/slicebot/slicebot-backend/internal/models"
	"github.com/slicebot/slicebot-backend/internal/storage"
)

type stubDispatcher struct {
	mu    sync.Mutex
	got   []models.Inbound
	reply models.Reply
	err   error
}

func (s *stubDispatcher) Dispatch(ctx context.Context, in models.Inbound) (models.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, in)
	return s.reply, s.err
}

type pingStore struct{ err error }

func (p pingStore) Ping(context.Context) error { return p.err }

func testConfig(env string) *config.Config {
	return &config.Config{
		Environment: env,
		Messenger:   config.MessengerConfig{PageAccessToken: "page-token", VerifyToken: "verify-me"},
		WhatsApp:    config.WhatsAppConfig{AccountSID: "AC123", AuthToken: "twilio-secret", From: "+14155238886"},
		Telegram:    config.TelegramConfig{WebhookSecret: "tg-secret"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, d channels.Dispatcher, graphURL string) *fiber.App {
	t.Helper()
	cfg.Messenger.GraphURL = graphURL
	wa, err := channels.NewWhatsApp(cfg.WhatsApp)
	require.NoError(t, err)

	app := fiber.New()
	SetupRoutes(app, Dependencies{
		Config:     cfg,
		Dispatcher: d,
		Health:     handlers.NewHealthHandler("test", "memory", []string{"messenger"}, pingStore{}, nil),
		Messenger:  channels.NewMessenger(cfg.Messenger),
		WhatsApp:   wa,
	})
	return app
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, testConfig("production"), &stubDispatcher{}, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHealth_StoreDown(t *testing.T) {
	app := fiber.New()
	SetupRoutes(app, Dependencies{
		Config:     testConfig("production"),
		Dispatcher: &stubDispatcher{},
		Health:     handlers.NewHealthHandler("test", "redis", nil, pingStore{err: storage.ErrUnavailable}, nil),
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMessengerVerify(t *testing.T) {
	app := newTestApp(t, testConfig("production"), &stubDispatcher{}, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/webhook/messenger?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=777", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "777", string(body))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet,
		"/webhook/messenger?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=777", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMessengerWebhook_StoreUnavailableIs503(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer graph.Close()

	d := &stubDispatcher{err: storage.ErrUnavailable}
	app := newTestApp(t, testConfig("production"), d, graph.URL)

	payload := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u1"},"message":{"mid":"1","text":"hi"}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/messenger", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Len(t, d.got, 1)
	assert.Equal(t, models.UserIdentity("facebookid_u1"), d.got[0].Identity)
}

func TestMessengerWebhook_Signature(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer graph.Close()

	cfg := testConfig("production")
	cfg.Messenger.AppSecret = "app-secret"
	d := &stubDispatcher{}
	app := newTestApp(t, cfg, d, graph.URL)

	payload := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u1"},"message":{"mid":"1","text":"hi"}}]}]}`
	sign := func(secret string) string {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(payload))
		return "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}
	post := func(signature string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhook/messenger", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set("X-Hub-Signature-256", signature)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, post(""))
	assert.Equal(t, http.StatusUnauthorized, post(sign("other-secret")))
	assert.Empty(t, d.got)

	assert.Equal(t, http.StatusOK, post(sign("app-secret")))
	require.Len(t, d.got, 1)
	assert.Equal(t, models.TextMessage{Text: "hi"}, d.got[0].Event)
}

func twilioSignature(token, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := fullURL
	for _, k := range keys {
		data += k + params.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWhatsAppWebhook_Signature(t *testing.T) {
	d := &stubDispatcher{}
	app := newTestApp(t, testConfig("production"), d, "")

	form := url.Values{"From": {"whatsapp:+15550001"}, "Body": {"/start"}, "MessageSid": {"SM1"}}

	unsigned := httptest.NewRequest(http.MethodPost, "http://bot.example.com/webhook/whatsapp", strings.NewReader(form.Encode()))
	unsigned.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(unsigned)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged := httptest.NewRequest(http.MethodPost, "http://bot.example.com/webhook/whatsapp", strings.NewReader(form.Encode()))
	forged.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	forged.Header.Set("X-Twilio-Signature", twilioSignature("wrong-secret", "http://bot.example.com/webhook/whatsapp", form))
	resp, err = app.Test(forged)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	signed := httptest.NewRequest(http.MethodPost, "http://bot.example.com/webhook/whatsapp", strings.NewReader(form.Encode()))
	signed.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	signed.Header.Set("X-Twilio-Signature", twilioSignature("twilio-secret", "http://bot.example.com/webhook/whatsapp", form))
	resp, err = app.Test(signed)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, d.got, 1)
	assert.Equal(t, models.Command{Name: "start"}, d.got[0].Event)
}

func TestTestDispatch_DevelopmentOnly(t *testing.T) {
	d := &stubDispatcher{reply: models.Reply{
		State:        models.StateMenu,
		Instructions: []models.Instruction{{Kind: models.KindSendMenu, Text: "Please choose:"}},
	}}

	prod := newTestApp(t, testConfig("production"), d, "")
	req := httptest.NewRequest(http.MethodPost, "/test/dispatch", strings.NewReader(`{"user":"u1","command":"start"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := prod.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	dev := newTestApp(t, testConfig("development"), d, "")
	req = httptest.NewRequest(http.MethodPost, "/test/dispatch", strings.NewReader(`{"user":"u1","lat":55.7,"lon":37.6}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = dev.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool         `json:"success"`
		Reply   models.Reply `json:"reply"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, models.StateMenu, body.Reply.State)
	require.Len(t, d.got, 1)
	assert.Equal(t, models.Location{Lat: 55.7, Lon: 37.6}, d.got[0].Event)

	req = httptest.NewRequest(http.MethodPost, "/test/dispatch", strings.NewReader(`{"user":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = dev.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
