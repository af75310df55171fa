package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserIdentity(t *testing.T) {
	id := NewUserIdentity(ChannelMessenger, "12_34")
	assert.Equal(t, UserIdentity("facebookid_12_34"), id)
	assert.Equal(t, ChannelMessenger, id.Channel())
	assert.Equal(t, "12_34", id.UserID())
	assert.Equal(t, "facebookid_12_34", id.CartID())

	assert.Equal(t, "", UserIdentity("broken").UserID())
}

func TestParseSessionState(t *testing.T) {
	for _, s := range AllStates {
		got, ok := ParseSessionState(string(s))
		assert.True(t, ok, s)
		assert.Equal(t, s, got)
	}

	got, ok := ParseSessionState("HANDLE_MENU")
	assert.False(t, ok)
	assert.Equal(t, StateStart, got)
}

func TestParseAddToCart(t *testing.T) {
	tests := []struct {
		payload string
		id      string
		qty     int
		ok      bool
	}{
		{AddToCartPayload("p-marg", 1), "p-marg", 1, true},
		{"p-marg:3", "p-marg", 3, true},
		{"p-marg:0", "", 0, false},
		{"p-marg:-1", "", 0, false},
		{"p-marg:x", "", 0, false},
		{"p-marg", "", 0, false},
		{":1", "", 0, false},
		{CategoryPayload("7"), "", 0, false},
	}
	for _, tt := range tests {
		id, qty, ok := ParseAddToCart(tt.payload)
		assert.Equal(t, tt.ok, ok, tt.payload)
		assert.Equal(t, tt.id, id, tt.payload)
		assert.Equal(t, tt.qty, qty, tt.payload)
	}
}

func TestCartHelpers(t *testing.T) {
	var nilCart *Cart
	assert.True(t, nilCart.IsEmpty())
	assert.False(t, nilCart.HasItem("item-1"))

	cart := &Cart{Items: []CartItem{{ID: "item-1", ProductID: "p-marg"}}}
	assert.False(t, cart.IsEmpty())
	assert.True(t, cart.HasItem("item-1"))
	assert.False(t, cart.HasItem("p-marg"))
}

func TestMenuCacheEntryFresh(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entry := &MenuCacheEntry{Key: "all", CreatedAt: now}

	assert.True(t, entry.Fresh(now.Add(time.Hour), time.Hour))
	assert.False(t, entry.Fresh(now.Add(time.Hour+time.Second), time.Hour))

	var missing *MenuCacheEntry
	assert.False(t, missing.Fresh(now, time.Hour))
}

func TestInstructionButtonPayloads(t *testing.T) {
	ins := Instruction{
		Items:   []MenuItem{{Payload: "p-marg"}},
		Buttons: [][]Button{{{Payload: PayloadCart}}, {{Payload: PayloadReturn}, {Payload: PayloadCheckout}}},
	}
	assert.Equal(t, []string{"p-marg", PayloadCart, PayloadReturn, PayloadCheckout}, ins.ButtonPayloads())
}
