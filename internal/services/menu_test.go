package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slicebot/slicebot-backend/internal/models"
	"github.com/slicebot/slicebot-backend/internal/storage"
)

func TestMenuService_CachesUntilStale(t *testing.T) {
	catalog := newFakeCatalog()
	store := storage.NewMemoryStore()
	menus := NewMenuService(catalog, store, time.Hour)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	menus.now = func() time.Time { return now }

	view, err := menus.Menu(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, view.Products, 2)
	assert.Equal(t, "https://cdn.example/img-marg.jpg", view.Products[0].ImageURL)
	assert.Len(t, view.Categories, 2)
	assert.Equal(t, 1, catalog.listCalls)

	now = now.Add(59 * time.Minute)
	_, err = menus.Menu(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.listCalls, "fresh entry is served from the cache")

	now = now.Add(2 * time.Minute)
	_, err = menus.Menu(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.listCalls, "stale entry is rebuilt")

	entry, err := store.GetMenu(context.Background(), allProductsKey)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, now, entry.CreatedAt, "rebuilt entry overwrites the stale one")
}

func TestMenuService_CategoryPage(t *testing.T) {
	catalog := newFakeCatalog()
	store := storage.NewMemoryStore()
	menus := NewMenuService(catalog, store, time.Hour)

	view, err := menus.Menu(context.Background(), "cat-hot")
	require.NoError(t, err)
	assert.Equal(t, "cat-hot", view.CategoryID)
	require.Len(t, view.Products, 1)
	assert.Equal(t, "p-pep", view.Products[0].ID)
	assert.Equal(t, []models.Category{{ID: "cat-main", Name: "main", Description: "Main pizzas"}}, view.Categories)

	entry, err := store.GetMenu(context.Background(), "cat-hot")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1,000", 100000, true},
		{"1,250.50", 125050, true},
		{"₽450", 45000, true},
		{"450 RUB", 45000, true},
		{"", 0, false},
		{"free", 0, false},
	}
	for _, tt := range tests {
		got, ok := MinorUnits(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCartText(t *testing.T) {
	assert.Equal(t, textEmptyCart, CartText(&models.Cart{}))

	text := CartText(&models.Cart{
		Items:          []models.CartItem{{Name: "Margherita", Description: "classic", Quantity: 2, LineTotalFormatted: "900"}},
		TotalFormatted: "900",
	})
	assert.Contains(t, text, "Margherita\nclassic\n2 in cart for 900")
	assert.Contains(t, text, "Total: 900")
}
