package models

// Product is a catalog product as the bot needs it
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SKU         string `json:"sku"`
	// Price is the amount in the catalog's display currency
	Price       float64 `json:"price"`
	MainImageID string  `json:"main_image_id"`
}

// Category groups products on the Messenger menu
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// CartItem is one line of a catalog cart. The catalog owns it; the bot never
// keeps a copy between turns.
type CartItem struct {
	ID                 string `json:"id"`
	ProductID          string `json:"product_id"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	Quantity           int    `json:"quantity"`
	UnitPriceFormatted string `json:"unit_price"`
	LineTotalFormatted string `json:"line_total"`
	ImageURL           string `json:"image_url"`
}

// Cart is the current content of a user's cart
type Cart struct {
	Items          []CartItem `json:"items"`
	TotalFormatted string     `json:"total"`
}

// IsEmpty reports whether the cart has no lines
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// HasItem reports whether itemID is one of the cart lines
func (c *Cart) HasItem(itemID string) bool {
	if c == nil {
		return false
	}
	for _, item := range c.Items {
		if item.ID == itemID {
			return true
		}
	}
	return false
}

// Pizzeria is a fulfillment point. It is fetched for every delivery request.
type Pizzeria struct {
	Address       string  `json:"address"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	DeliverymanID string  `json:"deliveryman_id"`
}
