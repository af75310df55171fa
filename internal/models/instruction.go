package models

import (
	"fmt"
	"strconv"
	"strings"
)

// InstructionKind tells a channel adapter how to render an instruction
type InstructionKind string

const (
	KindSendText            InstructionKind = "send_text"
	KindSendMenu            InstructionKind = "send_menu"
	KindSendProduct         InstructionKind = "send_product"
	KindSendCartView        InstructionKind = "send_cart_view"
	KindSendLocationPrompt  InstructionKind = "send_location_prompt"
	KindSendDeliveryOptions InstructionKind = "send_delivery_options"
	KindSendLocation        InstructionKind = "send_location"
	KindSendInvoice         InstructionKind = "send_invoice"
	KindNotice              InstructionKind = "notice"
)

// Button payloads shared by the engine and the adapters
const (
	PayloadCart     = "cart"
	PayloadReturn   = "return"
	PayloadCheckout = "checkout"
	PayloadDelivery = "delivery"
	PayloadPickup   = "pickup"
	PayloadPay      = "pay"

	// PayloadCategoryPrefix prefixes a category switch on the menu
	PayloadCategoryPrefix = "category:"

	// InvoicePayloadPrefix marks invoices issued by the bot
	InvoicePayloadPrefix = "slicebot-order:"
)

// AddToCartPayload is the callback adding qty units of a product
func AddToCartPayload(productID string, qty int) string {
	return fmt.Sprintf("%s:%d", productID, qty)
}

// ParseAddToCart splits a "productId:qty" payload. Anything else, including a
// quantity below one, is reported with ok=false.
func ParseAddToCart(payload string) (productID string, qty int, ok bool) {
	if strings.HasPrefix(payload, PayloadCategoryPrefix) {
		return "", 0, false
	}
	productID, rawQty, found := strings.Cut(payload, ":")
	if !found || productID == "" {
		return "", 0, false
	}
	qty, err := strconv.Atoi(rawQty)
	if err != nil || qty < 1 {
		return "", 0, false
	}
	return productID, qty, true
}

// CategoryPayload is the callback switching the menu to a category
func CategoryPayload(categoryID string) string {
	return PayloadCategoryPrefix + categoryID
}

// Button is a single tappable option
type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// MenuItem is one entry of a menu or cart listing
type MenuItem struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	// Payload is sent back when the item is picked
	Payload string `json:"payload"`
	// ActionTitle labels the pick button on channels that render cards
	ActionTitle string `json:"action_title,omitempty"`
}

// LabeledPrice is an invoice line in minor currency units
type LabeledPrice struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

// Invoice describes a payment request
type Invoice struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Payload     string         `json:"payload"`
	Currency    string         `json:"currency"`
	Prices      []LabeledPrice `json:"prices"`
}

// Instruction is an outbound side effect produced by the conversation engine.
// Adapters render it into their platform payload.
type Instruction struct {
	Kind InstructionKind `json:"kind"`
	// Recipient overrides the destination; empty means the user being served
	Recipient string     `json:"recipient,omitempty"`
	Text      string     `json:"text,omitempty"`
	ImageURL  string     `json:"image_url,omitempty"`
	Items     []MenuItem `json:"items,omitempty"`
	Buttons   [][]Button `json:"buttons,omitempty"`
	Cart      *Cart      `json:"cart,omitempty"`
	Latitude  float64    `json:"latitude,omitempty"`
	Longitude float64    `json:"longitude,omitempty"`
	Invoice   *Invoice   `json:"invoice,omitempty"`
}

// ButtonPayloads flattens every payload offered by the instruction
func (i Instruction) ButtonPayloads() []string {
	var payloads []string
	for _, item := range i.Items {
		payloads = append(payloads, item.Payload)
	}
	for _, row := range i.Buttons {
		for _, b := range row {
			payloads = append(payloads, b.Payload)
		}
	}
	return payloads
}

// Reply is what one dispatch produced
type Reply struct {
	Identity     UserIdentity  `json:"identity"`
	State        SessionState  `json:"state"`
	Instructions []Instruction `json:"instructions"`
}
