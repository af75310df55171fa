package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slicebot/slicebot-backend/internal/models"
	"github.com/slicebot/slicebot-backend/internal/storage"
)

// allProductsKey caches the menu of a user that has not picked a category
const allProductsKey = "all"

// MenuProduct is a product as shown on the menu
type MenuProduct struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url,omitempty"`
}

// MenuView is a rendered menu page
type MenuView struct {
	CategoryID string            `json:"category_id,omitempty"`
	Products   []MenuProduct     `json:"products"`
	Categories []models.Category `json:"categories,omitempty"`
}

// MenuService builds menu pages from the catalog and keeps them in the
// store's menu cache for ttl
type MenuService struct {
	catalog Catalog
	store   storage.Store
	ttl     time.Duration
	now     func() time.Time
}

// NewMenuService creates a new menu service
func NewMenuService(catalog Catalog, store storage.Store, ttl time.Duration) *MenuService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MenuService{
		catalog: catalog,
		store:   store,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Menu returns the page of a category, or every product when categoryID is empty.
// A cache failure falls back to the catalog.
func (s *MenuService) Menu(ctx context.Context, categoryID string) (*MenuView, error) {
	key := categoryID
	if key == "" {
		key = allProductsKey
	}

	entry, err := s.store.GetMenu(ctx, key)
	if err != nil {
		slog.Warn("menu cache read failed", "key", key, "error", err)
	}
	if entry.Fresh(s.now(), s.ttl) {
		var view MenuView
		if err := json.Unmarshal(entry.Payload, &view); err == nil {
			return &view, nil
		}
		slog.Warn("discarding unreadable cached menu", "key", key)
	}

	view, err := s.build(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("encode menu: %w", err)
	}
	if err := s.store.PutMenu(ctx, &models.MenuCacheEntry{Key: key, Payload: payload, CreatedAt: s.now()}); err != nil {
		slog.Warn("menu cache write failed", "key", key, "error", err)
	}
	return view, nil
}

func (s *MenuService) build(ctx context.Context, categoryID string) (*MenuView, error) {
	categories, err := s.catalog.ListCategories(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var products []models.Product
	if categoryID == "" {
		products, err = s.catalog.ListProducts(ctx)
	} else {
		products, err = s.catalog.GetProductsByCategory(ctx, categoryID)
	}
	if err != nil {
		return nil, err
	}

	view := &MenuView{
		CategoryID: categoryID,
		Products:   make([]MenuProduct, 0, len(products)),
	}
	for _, c := range categories {
		if c.ID != categoryID {
			view.Categories = append(view.Categories, c)
		}
	}
	for _, p := range products {
		item := MenuProduct{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
		}
		if p.MainImageID != "" {
			href, err := s.catalog.GetImageURL(ctx, p.MainImageID)
			if err != nil {
				slog.Warn("menu image lookup failed", "product", p.ID, "error", err)
			}
			item.ImageURL = href
		}
		view.Products = append(view.Products, item)
	}
	return view, nil
}
