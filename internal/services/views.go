package services

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/slicebot/slicebot-backend/internal/models"
)

// User facing texts
const (
	textMenuPrompt     = "Please choose:"
	textMenuReturn     = "What would you like?"
	textEmptyCart      = "Your cart is empty. Add something tasty first."
	textAddedToCart    = "Added to cart"
	textRemovedItem    = "Removed from cart"
	textLocationPrompt = "Great. Send us your address as text or share your location."
	textAddressUnknown = "We could not find that address. Send it again or go back to the menu."
	textNoPizzeria     = "We could not find a pizzeria for that location. Try another address or go back to the menu."
	textHandedOver     = "Your order has been handed over to the delivery service."
	textPickupAt       = "Great. Your order will be waiting for you at: %s."
	textPayPrompt      = "Tap \"Pay\" to get the invoice."
	textInvoiceSent    = "Here is your invoice. Your pizza is on its way once it is paid."
	textInvoiceTitle   = "Order payment"
	textInvoiceDesc    = "Payment for your pizza order"
	textProductHint    = "Use the buttons below to continue."
	textApology        = "Sorry, something went wrong on our side. Please try again or go back to the menu."

	// FollowUpText is sent some time after the invoice
	FollowUpText = "Enjoy your meal!\n\nIf your pizza has not arrived, just reply here and we will sort it out."
)

var (
	buttonCart     = models.Button{Title: "🛒 Cart", Payload: models.PayloadCart}
	buttonMenu     = models.Button{Title: "To menu", Payload: models.PayloadReturn}
	buttonBack     = models.Button{Title: "Back", Payload: models.PayloadReturn}
	buttonCheckout = models.Button{Title: "Checkout", Payload: models.PayloadCheckout}
	buttonPay      = models.Button{Title: "Pay", Payload: models.PayloadPay}
)

var optionButtons = map[string]models.Button{
	models.PayloadDelivery: {Title: "Delivery", Payload: models.PayloadDelivery},
	models.PayloadPickup:   {Title: "Pickup", Payload: models.PayloadPickup},
	models.PayloadReturn:   buttonMenu,
}

// menuInstruction lists the products of the view, the other categories and the cart
func menuInstruction(view *MenuView, text string) models.Instruction {
	ins := models.Instruction{Kind: models.KindSendMenu, Text: text}
	for _, p := range view.Products {
		ins.Items = append(ins.Items, models.MenuItem{
			Title:       fmt.Sprintf("%s (%s)", p.Name, formatAmount(p.Price)),
			Subtitle:    p.Description,
			ImageURL:    p.ImageURL,
			Payload:     p.ID,
			ActionTitle: "Choose",
		})
	}

	var categories []models.Button
	for _, c := range view.Categories {
		title := c.Description
		if title == "" {
			title = c.Name
		}
		categories = append(categories, models.Button{Title: title, Payload: models.CategoryPayload(c.ID)})
	}
	if len(categories) > 0 {
		ins.Buttons = append(ins.Buttons, categories)
	}
	ins.Buttons = append(ins.Buttons, []models.Button{buttonCart})
	return ins
}

func productInstruction(p *models.Product, imageURL string) models.Instruction {
	caption := fmt.Sprintf("%s\n\nPrice: %s\n\n%s", p.Name, formatAmount(p.Price), p.Description)
	return models.Instruction{
		Kind:     models.KindSendProduct,
		Text:     strings.TrimSpace(caption),
		ImageURL: imageURL,
		Buttons: [][]models.Button{
			{{Title: "Add to cart", Payload: models.AddToCartPayload(p.ID, 1)}},
			{buttonBack, buttonCart},
		},
	}
}

// productHintInstruction stands in for a product the session no longer remembers
func productHintInstruction() models.Instruction {
	return models.Instruction{
		Kind:    models.KindSendText,
		Text:    textProductHint,
		Buttons: [][]models.Button{{buttonBack, buttonCart}},
	}
}

// CartText renders the cart lines and the total
func CartText(cart *models.Cart) string {
	if cart.IsEmpty() {
		return textEmptyCart
	}
	lines := make([]string, 0, len(cart.Items)+1)
	for _, item := range cart.Items {
		lines = append(lines, fmt.Sprintf("%s\n%s\n%d in cart for %s",
			item.Name, item.Description, item.Quantity, item.LineTotalFormatted))
	}
	lines = append(lines, "Total: "+cart.TotalFormatted)
	return strings.Join(lines, "\n\n")
}

func cartInstruction(cart *models.Cart) models.Instruction {
	ins := models.Instruction{
		Kind: models.KindSendCartView,
		Text: CartText(cart),
		Cart: cart,
	}
	for _, item := range cart.Items {
		ins.Buttons = append(ins.Buttons, []models.Button{
			{Title: fmt.Sprintf("Remove '%s'", item.Name), Payload: item.ID},
		})
	}
	ins.Buttons = append(ins.Buttons, []models.Button{buttonMenu})
	if !cart.IsEmpty() {
		ins.Buttons = append(ins.Buttons, []models.Button{buttonCheckout})
	}
	return ins
}

func locationPromptInstruction(text string) models.Instruction {
	return models.Instruction{
		Kind:    models.KindSendLocationPrompt,
		Text:    text,
		Buttons: [][]models.Button{{buttonMenu}},
	}
}

// deliveryText explains the tier of the nearest pizzeria
func deliveryText(d *models.DeliveryContext, currency string) string {
	tier := ClassifyTier(d.DistanceKm)
	switch tier {
	case TierFreeNearby:
		return fmt.Sprintf("Maybe pick your pizza up from our pizzeria nearby?\n"+
			"It is only %d metres away from you!\nHere is the address: %s.\n\n"+
			"Or we can deliver it for free.", int(d.DistanceKm*1000), d.PizzeriaAddress)
	case TierScooter:
		return fmt.Sprintf("Looks like we will ride a scooter to you.\n"+
			"Delivery costs %d %s. Delivery or pickup?", tier.Fee(), currency)
	case TierCar:
		return fmt.Sprintf("Looks like we will drive a car to you.\n"+
			"Delivery costs %d %s. Delivery or pickup?", tier.Fee(), currency)
	case TierPickupOnly:
		return fmt.Sprintf("You are quite far from us, %.1f km.\n"+
			"We can only offer pickup at %s.", d.DistanceKm, d.PizzeriaAddress)
	default:
		return fmt.Sprintf("You are very far from us, %d km.\n"+
			"We cannot deliver pizza there :(", int(d.DistanceKm))
	}
}

func deliveryOptionsInstruction(d *models.DeliveryContext, currency string) models.Instruction {
	ins := models.Instruction{
		Kind: models.KindSendDeliveryOptions,
		Text: deliveryText(d, currency),
	}
	for _, option := range ClassifyTier(d.DistanceKm).Options() {
		ins.Buttons = append(ins.Buttons, []models.Button{optionButtons[option]})
	}
	return ins
}

func paymentPromptInstruction(text string) models.Instruction {
	if text != "" {
		text += "\n\n"
	}
	return models.Instruction{
		Kind:    models.KindSendText,
		Text:    text + textPayPrompt,
		Buttons: [][]models.Button{{buttonPay}, {buttonMenu}},
	}
}

func noticeInstruction(text string) models.Instruction {
	return models.Instruction{Kind: models.KindNotice, Text: text}
}

func apologyInstruction() models.Instruction {
	return models.Instruction{
		Kind:    models.KindSendText,
		Text:    textApology,
		Buttons: [][]models.Button{{buttonMenu}},
	}
}

// MinorUnits converts a formatted catalog total such as "1,250.50" or
// "₽1,000" into minor currency units. ok=false when nothing numeric is left.
func MinorUnits(formatted string) (amount int64, ok bool) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' || r == '-' {
			return r
		}
		return -1
	}, formatted)
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, false
	}
	return d.Shift(2).Round(0).IntPart(), true
}

func formatAmount(price float64) string {
	if price == math.Trunc(price) {
		return fmt.Sprintf("%.0f", price)
	}
	return fmt.Sprintf("%.2f", price)
}
