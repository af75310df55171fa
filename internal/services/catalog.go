package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/slicebot/slicebot-backend/internal/config"
	"github.com/slicebot/slicebot-backend/internal/models"
)

// Catalog is the commerce backend holding products, carts and pizzerias.
// Transient failures are retried internally; what comes out is final.
type Catalog interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	GetImageURL(ctx context.Context, imageID string) (string, error)
	AddToCart(ctx context.Context, cartID, productID string, quantity int) error
	RemoveFromCart(ctx context.Context, cartID, itemID string) error
	GetCart(ctx context.Context, cartID string) (*models.Cart, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetProductsByCategory(ctx context.Context, categoryID string) ([]models.Product, error)
	ListPizzerias(ctx context.Context) ([]models.Pizzeria, error)
	CreateCustomerAddress(ctx context.Context, customerID string, lat, lon float64) error
}

const (
	catalogMaxAttempts = 3
	pizzeriaFlow       = "pizzeria"
	addressFlow        = "customer-address"
	// tokenSkew renews the token slightly before the catalog expires it
	tokenSkew = 30 * time.Second
)

// MoltinCatalog is a Catalog backed by the Moltin (Elastic Path) API
type MoltinCatalog struct {
	baseURL      string
	clientID     string
	clientSecret string
	timeout      time.Duration
	limiter      *rate.Limiter

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	refresh   singleflight.Group

	retryInitial time.Duration
	now          func() time.Time
}

// NewMoltinCatalog creates a catalog client
func NewMoltinCatalog(cfg config.CatalogConfig) *MoltinCatalog {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &MoltinCatalog{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		timeout:      timeout,
		limiter:      limiter,
		retryInitial: 200 * time.Millisecond,
		now:          time.Now,
	}
}

// ==================== WIRE TYPES ====================

type moltinProduct struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SKU         string `json:"sku"`
	Price       []struct {
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	} `json:"price"`
	Relationships struct {
		MainImage struct {
			Data *struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"main_image"`
	} `json:"relationships"`
}

func (p moltinProduct) toModel() models.Product {
	product := models.Product{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		SKU:         p.SKU,
	}
	if len(p.Price) > 0 {
		product.Price = p.Price[0].Amount
	}
	if p.Relationships.MainImage.Data != nil {
		product.MainImageID = p.Relationships.MainImage.Data.ID
	}
	return product
}

type formattedPrice struct {
	Formatted string `json:"formatted"`
}

type moltinCartItem struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Image       struct {
		Href string `json:"href"`
	} `json:"image"`
	Meta struct {
		DisplayPrice struct {
			WithTax struct {
				Unit  formattedPrice `json:"unit"`
				Value formattedPrice `json:"value"`
			} `json:"with_tax"`
		} `json:"display_price"`
	} `json:"meta"`
}

type moltinCart struct {
	Data []moltinCartItem `json:"data"`
	Meta struct {
		DisplayPrice struct {
			WithTax formattedPrice `json:"with_tax"`
		} `json:"display_price"`
	} `json:"meta"`
}

type moltinPizzeria struct {
	Address       string    `json:"address"`
	Latitude      flexFloat `json:"latitude"`
	Longitude     flexFloat `json:"longitude"`
	DeliverymanID flexText  `json:"deliveryman-id"`
}

// flexFloat accepts a JSON number or a numeric string. Flow fields are
// free-form so both show up.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse coordinate %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexText accepts a JSON string or number
type flexText string

func (t *flexText) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*t = flexText(v)
		return nil
	}
	*t = flexText(s)
	return nil
}

// ==================== CATALOG OPERATIONS ====================

// ListProducts returns every product
func (m *MoltinCatalog) ListProducts(ctx context.Context) ([]models.Product, error) {
	var resp struct {
		Data []moltinProduct `json:"data"`
	}
	if err := m.get(ctx, "/v2/products", nil, &resp); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return toProducts(resp.Data), nil
}

// GetProduct fetches one product
func (m *MoltinCatalog) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	if isBlank(productID) {
		return nil, fmt.Errorf("get product: %w", ErrNotFound)
	}
	var resp struct {
		Data moltinProduct `json:"data"`
	}
	if err := m.get(ctx, "/v2/products/"+url.PathEscape(productID), nil, &resp); err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	product := resp.Data.toModel()
	return &product, nil
}

// GetImageURL resolves a file id to its public link
func (m *MoltinCatalog) GetImageURL(ctx context.Context, imageID string) (string, error) {
	if isBlank(imageID) {
		return "", fmt.Errorf("get image: %w", ErrNotFound)
	}
	var resp struct {
		Data struct {
			Link struct {
				Href string `json:"href"`
			} `json:"link"`
		} `json:"data"`
	}
	if err := m.get(ctx, "/v2/files/"+url.PathEscape(imageID), nil, &resp); err != nil {
		return "", fmt.Errorf("get image %s: %w", imageID, err)
	}
	return resp.Data.Link.Href, nil
}

// AddToCart adds quantity of a product to the cart
func (m *MoltinCatalog) AddToCart(ctx context.Context, cartID, productID string, quantity int) error {
	body := map[string]any{
		"data": map[string]any{
			"id":       productID,
			"type":     "cart_item",
			"quantity": quantity,
		},
	}
	if err := m.send(ctx, fiber.MethodPost, cartItemsPath(cartID), body, nil); err != nil {
		return fmt.Errorf("add %s to cart %s: %w", productID, cartID, err)
	}
	return nil
}

// RemoveFromCart deletes a cart line
func (m *MoltinCatalog) RemoveFromCart(ctx context.Context, cartID, itemID string) error {
	path := cartItemsPath(cartID) + "/" + url.PathEscape(itemID)
	if err := m.send(ctx, fiber.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("remove %s from cart %s: %w", itemID, cartID, err)
	}
	return nil
}

// GetCart returns the cart lines and the formatted total
func (m *MoltinCatalog) GetCart(ctx context.Context, cartID string) (*models.Cart, error) {
	var resp moltinCart
	if err := m.get(ctx, cartItemsPath(cartID), nil, &resp); err != nil {
		return nil, fmt.Errorf("get cart %s: %w", cartID, err)
	}

	cart := &models.Cart{
		Items:          make([]models.CartItem, 0, len(resp.Data)),
		TotalFormatted: resp.Meta.DisplayPrice.WithTax.Formatted,
	}
	for _, item := range resp.Data {
		cart.Items = append(cart.Items, models.CartItem{
			ID:                 item.ID,
			ProductID:          item.ProductID,
			Name:               item.Name,
			Description:        item.Description,
			Quantity:           item.Quantity,
			UnitPriceFormatted: item.Meta.DisplayPrice.WithTax.Unit.Formatted,
			LineTotalFormatted: item.Meta.DisplayPrice.WithTax.Value.Formatted,
			ImageURL:           item.Image.Href,
		})
	}
	return cart, nil
}

// ListCategories returns every category
func (m *MoltinCatalog) ListCategories(ctx context.Context) ([]models.Category, error) {
	var resp struct {
		Data []models.Category `json:"data"`
	}
	if err := m.get(ctx, "/v2/categories", nil, &resp); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return resp.Data, nil
}

// GetProductsByCategory returns the products of one category
func (m *MoltinCatalog) GetProductsByCategory(ctx context.Context, categoryID string) ([]models.Product, error) {
	q := url.Values{}
	q.Set("filter", fmt.Sprintf("eq(category.id,%s)", categoryID))

	var resp struct {
		Data []moltinProduct `json:"data"`
	}
	if err := m.get(ctx, "/v2/products", q, &resp); err != nil {
		return nil, fmt.Errorf("list products of category %s: %w", categoryID, err)
	}
	return toProducts(resp.Data), nil
}

// ListPizzerias returns the entries of the pizzeria flow
func (m *MoltinCatalog) ListPizzerias(ctx context.Context) ([]models.Pizzeria, error) {
	q := url.Values{}
	q.Set("page[limit]", "100")

	var resp struct {
		Data []moltinPizzeria `json:"data"`
	}
	if err := m.get(ctx, flowEntriesPath(pizzeriaFlow), q, &resp); err != nil {
		return nil, fmt.Errorf("list pizzerias: %w", err)
	}

	pizzerias := make([]models.Pizzeria, 0, len(resp.Data))
	for _, p := range resp.Data {
		pizzerias = append(pizzerias, models.Pizzeria{
			Address:       p.Address,
			Latitude:      float64(p.Latitude),
			Longitude:     float64(p.Longitude),
			DeliverymanID: string(p.DeliverymanID),
		})
	}
	return pizzerias, nil
}

// CreateCustomerAddress records a delivery address in the customer-address flow
func (m *MoltinCatalog) CreateCustomerAddress(ctx context.Context, customerID string, lat, lon float64) error {
	body := map[string]any{
		"data": map[string]any{
			"type":        "entry",
			"customer-id": customerID,
			"latitude":    lat,
			"longitude":   lon,
		},
	}
	if err := m.send(ctx, fiber.MethodPost, flowEntriesPath(addressFlow), body, nil); err != nil {
		return fmt.Errorf("create address for %s: %w", customerID, err)
	}
	return nil
}

func toProducts(raw []moltinProduct) []models.Product {
	products := make([]models.Product, 0, len(raw))
	for _, p := range raw {
		products = append(products, p.toModel())
	}
	return products
}

func cartItemsPath(cartID string) string {
	return "/v2/carts/" + url.PathEscape(cartID) + "/items"
}

func flowEntriesPath(flow string) string {
	return "/v2/flows/" + flow + "/entries"
}

// ==================== TRANSPORT ====================

func (m *MoltinCatalog) get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return m.send(ctx, fiber.MethodGet, path, nil, out)
}

// send runs a request with retries. Reads and deletes retry on any transient
// failure. Creates retry only when the catalog answered 429 or 503, so a lost
// response never duplicates a cart line.
func (m *MoltinCatalog) send(ctx context.Context, method, path string, body, out any) error {
	idempotent := method != fiber.MethodPost

	operation := func() error {
		err := m.authorized(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		var se *statusError
		switch {
		case !errors.Is(err, ErrTransient):
			return backoff.Permanent(err)
		case idempotent:
			return err
		case errors.As(err, &se) && (se.code == fiber.StatusTooManyRequests || se.code == fiber.StatusServiceUnavailable):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.retryInitial
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second

	notify := func(err error, wait time.Duration) {
		slog.Warn("catalog request failed, retrying", "method", method, "path", path, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, catalogMaxAttempts-1), ctx), notify)
}

// authorized performs one request, refreshing the token once on 401
func (m *MoltinCatalog) authorized(ctx context.Context, method, path string, body, out any) error {
	token, err := m.accessToken(ctx, "")
	if err != nil {
		return err
	}

	err = m.do(ctx, method, path, token, body, out)
	var se *statusError
	if !errors.As(err, &se) || se.code != fiber.StatusUnauthorized {
		return err
	}

	slog.Debug("catalog token rejected, refreshing", "path", path)
	token, err = m.accessToken(ctx, token)
	if err != nil {
		return err
	}
	err = m.do(ctx, method, path, token, body, out)
	if errors.As(err, &se) && se.code == fiber.StatusUnauthorized {
		return fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}
	return err
}

func (m *MoltinCatalog) do(ctx context.Context, method, path, token string, body, out any) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := m.baseURL + path
	var agent *fiber.Agent
	switch method {
	case fiber.MethodPost:
		agent = fiber.Post(target)
	case fiber.MethodDelete:
		agent = fiber.Delete(target)
	default:
		agent = fiber.Get(target)
	}
	agent.Set(fiber.HeaderAuthorization, "Bearer "+token)
	if body != nil {
		agent.JSON(body)
	}
	agent.Timeout(m.timeout)

	code, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, method, path, errors.Join(errs...))
	}
	if err := checkStatus(code, respBody); err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// accessToken returns a valid token. When stale is the token a request was
// just rejected with, a new one is fetched unless another caller already did.
func (m *MoltinCatalog) accessToken(ctx context.Context, stale string) (string, error) {
	m.mu.Lock()
	if m.token != "" && m.token != stale && m.now().Before(m.expiresAt) {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	v, err, _ := m.refresh.Do("token", func() (any, error) {
		return m.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *MoltinCatalog) fetchToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("client_id", m.clientID)
	args.Set("client_secret", m.clientSecret)
	args.Set("grant_type", "client_credentials")

	code, body, errs := fiber.Post(m.baseURL + "/oauth/access_token").Form(args).Timeout(m.timeout).Bytes()
	if len(errs) > 0 {
		return "", fmt.Errorf("%w: token request: %v", ErrTransient, errors.Join(errs...))
	}
	if err := checkStatus(code, body); err != nil {
		if code == fiber.StatusUnauthorized || code == fiber.StatusBadRequest {
			return "", fmt.Errorf("%w: %v", ErrAuthExpired, err)
		}
		return "", fmt.Errorf("token request: %w", err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthExpired)
	}

	expiresAt := m.now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenSkew)
	m.mu.Lock()
	m.token = resp.AccessToken
	m.expiresAt = expiresAt
	m.mu.Unlock()

	slog.Debug("catalog token refreshed", "expires_at", expiresAt)
	return resp.AccessToken, nil
}

// statusError is a non-2xx catalog answer
type statusError struct {
	code int
	body string
	kind error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("catalog status %d: %s", e.code, e.body)
}

func (e *statusError) Unwrap() error { return e.kind }

func checkStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	se := &statusError{code: code, body: truncate(string(body), 200)}
	switch {
	case code == fiber.StatusNotFound:
		se.kind = ErrNotFound
	case code == fiber.StatusTooManyRequests || code >= 500:
		se.kind = ErrTransient
	}
	return se
}
