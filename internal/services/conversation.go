package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slicebot/slicebot-backend/internal/models"
	"github.com/slicebot/slicebot-backend/internal/storage"
)

// FollowUpScheduler arranges a delayed message to a user. Scheduling again for
// the same identity replaces the pending message.
type FollowUpScheduler interface {
	Schedule(id models.UserIdentity, chatAddress string, delay time.Duration)
}

// EngineConfig carries the business settings of the engine
type EngineConfig struct {
	Currency      string
	FollowUpDelay time.Duration
}

// turn is the working set of one dispatch
type turn struct {
	id    models.UserIdentity
	chat  string
	event models.InboundEvent
	sc    *models.SessionContext
	out   []models.Instruction
}

func (t *turn) emit(ins ...models.Instruction) {
	t.out = append(t.out, ins...)
}

// stateHandler handles an event in one state and returns the next state.
// On error the returned state is still persisted when it is set.
type stateHandler func(ctx context.Context, t *turn) (models.SessionState, error)

// Engine drives the ordering workflow of every user
type Engine struct {
	store     storage.Store
	catalog   Catalog
	geo       *GeoResolver
	menus     *MenuService
	sessions  *SessionManager
	followUps FollowUpScheduler
	cfg       EngineConfig
	handlers  map[models.SessionState]stateHandler
}

// NewEngine wires the conversation engine
func NewEngine(
	store storage.Store,
	catalog Catalog,
	geo *GeoResolver,
	menus *MenuService,
	sessions *SessionManager,
	followUps FollowUpScheduler,
	cfg EngineConfig,
) *Engine {
	if cfg.FollowUpDelay <= 0 {
		cfg.FollowUpDelay = time.Hour
	}
	e := &Engine{
		store:     store,
		catalog:   catalog,
		geo:       geo,
		menus:     menus,
		sessions:  sessions,
		followUps: followUps,
		cfg:       cfg,
	}
	e.handlers = map[models.SessionState]stateHandler{
		models.StateStart:            e.handleStart,
		models.StateMenu:             e.handleMenu,
		models.StateProductDetail:    e.handleProductDetail,
		models.StateCart:             e.handleCart,
		models.StateAwaitingLocation: e.handleAwaitingLocation,
		models.StateDeliveryChoice:   e.handleDeliveryChoice,
		models.StatePayment:          e.handlePayment,
	}
	return e
}

// Dispatch runs one inbound event through the state machine. Dispatches of
// the same identity are serialized. The returned error is only set when the
// session could not be loaded, before anything was applied. Handler and save
// failures become an apology in the reply.
func (e *Engine) Dispatch(ctx context.Context, in models.Inbound) (models.Reply, error) {
	release, err := e.sessions.Acquire(ctx, in.Identity)
	if err != nil {
		return models.Reply{}, fmt.Errorf("acquire session %s: %w", in.Identity, err)
	}
	defer release()

	raw, found, err := e.store.GetState(ctx, in.Identity)
	if err != nil {
		return models.Reply{}, err
	}
	state, known := models.ParseSessionState(raw)
	if found && !known {
		slog.Warn("falling back to start", "user", in.Identity, "state", raw, "error", ErrUnknownState)
	}
	if cmd, ok := in.Event.(models.Command); ok && cmd.Name == "start" {
		state = models.StateStart
	}

	sc, err := e.store.GetContext(ctx, in.Identity)
	if err != nil {
		return models.Reply{}, err
	}

	t := &turn{id: in.Identity, chat: in.ChatAddress, event: in.Event, sc: sc}
	if t.chat == "" {
		t.chat = in.Identity.UserID()
	}

	next, herr := e.handlers[state](ctx, t)
	if herr != nil {
		slog.Error("handler failed",
			"user", in.Identity,
			"state", state,
			"event", in.Event.Describe(),
			"error", herr,
		)
		t.emit(apologyInstruction())
	}
	if next == "" {
		next = state
	}

	// Persist even when the caller went away mid-handler. Cart changes are
	// already applied, so a failed save must not ask for a redelivery.
	if err := e.store.SaveSession(context.WithoutCancel(ctx), in.Identity, next, t.sc); err != nil {
		slog.Error("session save failed",
			"user", in.Identity,
			"from", state,
			"to", next,
			"error", err,
		)
		if herr == nil {
			t.emit(apologyInstruction())
		}
		return models.Reply{Identity: in.Identity, State: state, Instructions: t.out}, nil
	}

	slog.Debug("dispatched",
		"user", in.Identity,
		"event", in.Event.Describe(),
		"from", state,
		"to", next,
		"instructions", len(t.out),
	)
	return models.Reply{Identity: in.Identity, State: next, Instructions: t.out}, nil
}

// ==================== SHARED VIEWS ====================

// showMenu renders the menu and leaves the delivery sub-flow
func (e *Engine) showMenu(ctx context.Context, t *turn, text string) (models.SessionState, error) {
	t.sc.Delivery = nil
	t.sc.DeliveryFee = 0
	view, err := e.menus.Menu(ctx, t.sc.LastCategoryID)
	if err != nil {
		return models.StateMenu, fmt.Errorf("render menu: %w", err)
	}
	t.emit(menuInstruction(view, text))
	return models.StateMenu, nil
}

func (e *Engine) showCart(ctx context.Context, t *turn) (*models.Cart, error) {
	cart, err := e.catalog.GetCart(ctx, t.id.CartID())
	if err != nil {
		return nil, err
	}
	t.emit(cartInstruction(cart))
	return cart, nil
}

func (e *Engine) showProduct(ctx context.Context, t *turn, productID string) error {
	product, err := e.catalog.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	imageURL := ""
	if product.MainImageID != "" {
		imageURL, err = e.catalog.GetImageURL(ctx, product.MainImageID)
		if err != nil {
			slog.Warn("product image lookup failed", "product", productID, "error", err)
		}
	}
	t.sc.LastProductID = product.ID
	t.emit(productInstruction(product, imageURL))
	return nil
}

// ==================== STATE HANDLERS ====================

func (e *Engine) handleStart(ctx context.Context, t *turn) (models.SessionState, error) {
	return e.showMenu(ctx, t, textMenuPrompt)
}

func (e *Engine) handleMenu(ctx context.Context, t *turn) (models.SessionState, error) {
	cb, ok := t.event.(models.Callback)
	if !ok {
		return e.showMenu(ctx, t, textMenuPrompt)
	}

	switch payload := cb.Payload; {
	case payload == models.PayloadCart:
		if _, err := e.showCart(ctx, t); err != nil {
			return models.StateMenu, err
		}
		return models.StateCart, nil

	case strings.HasPrefix(payload, models.PayloadCategoryPrefix):
		t.sc.LastCategoryID = strings.TrimPrefix(payload, models.PayloadCategoryPrefix)
		return e.showMenu(ctx, t, textMenuReturn)

	case payload == "" || payload == models.PayloadReturn:
		return e.showMenu(ctx, t, textMenuPrompt)

	default:
		err := e.showProduct(ctx, t, payload)
		if errors.Is(err, ErrNotFound) {
			return e.showMenu(ctx, t, textMenuPrompt)
		}
		if err != nil {
			return models.StateMenu, err
		}
		return models.StateProductDetail, nil
	}
}

func (e *Engine) handleProductDetail(ctx context.Context, t *turn) (models.SessionState, error) {
	cb, ok := t.event.(models.Callback)
	if ok {
		switch cb.Payload {
		case models.PayloadCart:
			if _, err := e.showCart(ctx, t); err != nil {
				return models.StateProductDetail, err
			}
			return models.StateCart, nil
		case models.PayloadReturn:
			return e.showMenu(ctx, t, textMenuReturn)
		}

		if productID, qty, ok := models.ParseAddToCart(cb.Payload); ok {
			// Every press is its own addition, never merged with another
			if err := e.catalog.AddToCart(ctx, t.id.CartID(), productID, qty); err != nil {
				return models.StateProductDetail, err
			}
			t.emit(noticeInstruction(textAddedToCart))
			return models.StateProductDetail, nil
		}
	}

	if t.sc.LastProductID == "" {
		t.emit(productHintInstruction())
		return models.StateProductDetail, nil
	}
	if err := e.showProduct(ctx, t, t.sc.LastProductID); err != nil {
		if errors.Is(err, ErrNotFound) {
			t.emit(productHintInstruction())
			return models.StateProductDetail, nil
		}
		return models.StateProductDetail, err
	}
	return models.StateProductDetail, nil
}

func (e *Engine) handleCart(ctx context.Context, t *turn) (models.SessionState, error) {
	cb, ok := t.event.(models.Callback)
	if ok {
		switch cb.Payload {
		case models.PayloadReturn:
			return e.showMenu(ctx, t, textMenuReturn)
		case models.PayloadCheckout:
			return e.checkout(ctx, t)
		}
	}

	cart, err := e.catalog.GetCart(ctx, t.id.CartID())
	if err != nil {
		return models.StateCart, err
	}
	if !ok {
		t.emit(cartInstruction(cart))
		return models.StateCart, nil
	}

	switch productID, qty, isAdd := models.ParseAddToCart(cb.Payload); {
	case isAdd && cartHasProduct(cart, productID):
		if err := e.catalog.AddToCart(ctx, t.id.CartID(), productID, qty); err != nil {
			return models.StateCart, err
		}
		t.emit(noticeInstruction(textAddedToCart))
	case cart.HasItem(cb.Payload):
		if err := e.catalog.RemoveFromCart(ctx, t.id.CartID(), cb.Payload); err != nil {
			return models.StateCart, err
		}
		t.emit(noticeInstruction(textRemovedItem))
	default:
		t.emit(cartInstruction(cart))
		return models.StateCart, nil
	}

	if _, err := e.showCart(ctx, t); err != nil {
		return models.StateCart, err
	}
	return models.StateCart, nil
}

// checkout asks for a location. An empty cart blocks it.
func (e *Engine) checkout(ctx context.Context, t *turn) (models.SessionState, error) {
	cart, err := e.catalog.GetCart(ctx, t.id.CartID())
	if err != nil {
		return models.StateCart, err
	}
	if cart.IsEmpty() {
		t.emit(cartInstruction(cart))
		return models.StateCart, nil
	}
	t.sc.Delivery = nil
	t.emit(locationPromptInstruction(textLocationPrompt))
	return models.StateAwaitingLocation, nil
}

func cartHasProduct(cart *models.Cart, productID string) bool {
	for _, item := range cart.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

func (e *Engine) handleAwaitingLocation(ctx context.Context, t *turn) (models.SessionState, error) {
	var from Coordinates
	switch ev := t.event.(type) {
	case models.Callback:
		if ev.Payload == models.PayloadReturn {
			return e.showMenu(ctx, t, textMenuReturn)
		}
		t.emit(locationPromptInstruction(textLocationPrompt))
		return models.StateAwaitingLocation, nil

	case models.Location:
		from = Coordinates{Lat: ev.Lat, Lon: ev.Lon}

	case models.TextMessage:
		coords, err := e.geo.Locate(ctx, ev.Text)
		if errors.Is(err, ErrGeocodeNotFound) {
			t.emit(locationPromptInstruction(textAddressUnknown))
			return models.StateAwaitingLocation, nil
		}
		if err != nil {
			return models.StateAwaitingLocation, err
		}
		from = coords

	default:
		t.emit(locationPromptInstruction(textLocationPrompt))
		return models.StateAwaitingLocation, nil
	}

	quote, err := e.geo.Quote(ctx, from)
	if errors.Is(err, ErrNoPizzerias) {
		t.emit(locationPromptInstruction(textNoPizzeria))
		return models.StateAwaitingLocation, nil
	}
	if err != nil {
		return models.StateAwaitingLocation, err
	}

	t.sc.Delivery = &models.DeliveryContext{
		Latitude:        from.Lat,
		Longitude:       from.Lon,
		PizzeriaAddress: quote.Pizzeria.Address,
		DistanceKm:      quote.DistanceKm,
	}
	t.emit(deliveryOptionsInstruction(t.sc.Delivery, e.cfg.Currency))
	return models.StateDeliveryChoice, nil
}

func (e *Engine) handleDeliveryChoice(ctx context.Context, t *turn) (models.SessionState, error) {
	cb, isCallback := t.event.(models.Callback)
	if isCallback && cb.Payload == models.PayloadReturn {
		return e.showMenu(ctx, t, textMenuReturn)
	}

	d := t.sc.Delivery
	if d == nil {
		// Without coordinates there is nothing to choose from
		t.emit(locationPromptInstruction(textLocationPrompt))
		return models.StateAwaitingLocation, nil
	}

	tier := ClassifyTier(d.DistanceKm)
	if !isCallback || !tier.Offers(cb.Payload) {
		t.emit(deliveryOptionsInstruction(d, e.cfg.Currency))
		return models.StateDeliveryChoice, nil
	}

	switch cb.Payload {
	case models.PayloadDelivery:
		if err := e.handOver(ctx, t, d); err != nil {
			return models.StateDeliveryChoice, err
		}
		d.Method = models.PayloadDelivery
		t.emit(paymentPromptInstruction(textHandedOver))
		return models.StatePayment, nil

	case models.PayloadPickup:
		d.Method = models.PayloadPickup
		t.emit(paymentPromptInstruction(fmt.Sprintf(textPickupAt, d.PizzeriaAddress)))
		return models.StatePayment, nil
	}

	t.emit(deliveryOptionsInstruction(d, e.cfg.Currency))
	return models.StateDeliveryChoice, nil
}

// handOver registers the delivery address and sends the order to the
// deliveryman of the chosen pizzeria
func (e *Engine) handOver(ctx context.Context, t *turn, d *models.DeliveryContext) error {
	if err := e.catalog.CreateCustomerAddress(ctx, t.id.String(), d.Latitude, d.Longitude); err != nil {
		return err
	}

	pizzeria, err := e.geo.FindPizzeria(ctx, d.PizzeriaAddress)
	if err != nil {
		return err
	}
	if pizzeria.DeliverymanID == "" {
		slog.Warn("pizzeria has no deliveryman", "user", t.id, "pizzeria", pizzeria.Address)
		return nil
	}

	cart, err := e.catalog.GetCart(ctx, t.id.CartID())
	if err != nil {
		return err
	}
	t.emit(
		models.Instruction{Kind: models.KindSendText, Recipient: pizzeria.DeliverymanID, Text: CartText(cart)},
		models.Instruction{Kind: models.KindSendLocation, Recipient: pizzeria.DeliverymanID, Latitude: d.Latitude, Longitude: d.Longitude},
	)
	return nil
}

func (e *Engine) handlePayment(ctx context.Context, t *turn) (models.SessionState, error) {
	cb, ok := t.event.(models.Callback)
	if ok && cb.Payload == models.PayloadReturn {
		return e.showMenu(ctx, t, textMenuReturn)
	}
	if !ok || cb.Payload != models.PayloadPay {
		t.emit(paymentPromptInstruction(""))
		return models.StatePayment, nil
	}

	cart, err := e.catalog.GetCart(ctx, t.id.CartID())
	if err != nil {
		return models.StatePayment, err
	}
	total, valid := MinorUnits(cart.TotalFormatted)
	if cart.IsEmpty() || !valid || total <= 0 {
		t.emit(paymentPromptInstruction(textEmptyCart))
		return models.StatePayment, nil
	}

	if d := t.sc.Delivery; d != nil {
		t.sc.DeliveryFee = 0
		if d.Method == models.PayloadDelivery {
			t.sc.DeliveryFee = ClassifyTier(d.DistanceKm).Fee()
		}
	}
	prices := []models.LabeledPrice{{Label: "Order total", Amount: total}}
	if t.sc.DeliveryFee > 0 {
		prices = append(prices, models.LabeledPrice{Label: "Delivery", Amount: int64(t.sc.DeliveryFee) * 100})
	}

	t.emit(
		models.Instruction{
			Kind: models.KindSendInvoice,
			Invoice: &models.Invoice{
				Title:       textInvoiceTitle,
				Description: textInvoiceDesc,
				Payload:     models.InvoicePayloadPrefix + uuid.NewString(),
				Currency:    e.cfg.Currency,
				Prices:      prices,
			},
		},
		models.Instruction{
			Kind:    models.KindSendText,
			Text:    textInvoiceSent,
			Buttons: [][]models.Button{{buttonMenu}},
		},
	)
	t.sc.Delivery = nil

	if e.followUps != nil {
		e.followUps.Schedule(t.id, t.chat, e.cfg.FollowUpDelay)
	}
	return models.StatePayment, nil
}
