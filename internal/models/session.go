package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionRecord stores the workflow position of one user
type SessionRecord struct {
	gorm.Model
	Identity string `json:"identity" gorm:"uniqueIndex;size:191"`
	State    string `json:"state" gorm:"size:32"`
	Context  string `json:"context"` // JSON encoded SessionContext
}

// MenuCacheRecord stores a rendered menu payload
type MenuCacheRecord struct {
	Key       string    `json:"key" gorm:"column:cache_key;primaryKey;size:191"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryContext is scratch data of the delivery sub-flow. It lives from the
// moment coordinates are resolved until the invoice is sent or the user goes
// back to the menu.
type DeliveryContext struct {
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	PizzeriaAddress string  `json:"pizzeria_address"`
	DistanceKm      float64 `json:"distance_km"`
	// Method is the chosen fulfillment, "delivery" or "pickup", once picked
	Method string `json:"method,omitempty"`
}

// SessionContext is per-user data persisted next to the state
type SessionContext struct {
	Delivery       *DeliveryContext `json:"delivery,omitempty"`
	LastCategoryID string           `json:"last_category_id,omitempty"`
	LastProductID  string           `json:"last_product_id,omitempty"`

	// DeliveryFee of the invoiced order outlives Delivery so a repeated
	// invoice still charges it. Cleared on the way back to the menu.
	DeliveryFee int `json:"delivery_fee,omitempty"`
}

// MenuCacheEntry is a cached menu payload with its creation time
type MenuCacheEntry struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Fresh reports whether the entry is younger than ttl at now
func (e *MenuCacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	if e == nil {
		return false
	}
	return now.Sub(e.CreatedAt) <= ttl
}
