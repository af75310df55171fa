package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slicebot/slicebot-backend/internal/models"
)

type addCall struct {
	CartID    string
	ProductID string
	Quantity  int
}

// fakeCatalog keeps carts in memory and prices them like the real catalog
type fakeCatalog struct {
	mu         sync.Mutex
	products   map[string]models.Product
	categories []models.Category
	pizzerias  []models.Pizzeria
	carts      map[string][]models.CartItem
	nextItem   int

	adds      []addCall
	removes   []string
	addresses []string
	listCalls int

	// delay is slept inside GetCart to widen race windows
	delay time.Duration
	// inCart counts concurrent GetCart calls per cart
	inCart    map[string]int
	maxInCart int

	cartErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: map[string]models.Product{
			"p-marg": {ID: "p-marg", Name: "Margherita", Description: "tomato, mozzarella", Price: 450, MainImageID: "img-marg"},
			"p-pep":  {ID: "p-pep", Name: "Pepperoni", Description: "spicy", Price: 550},
		},
		categories: []models.Category{
			{ID: "cat-main", Name: "main", Description: "Main pizzas"},
			{ID: "cat-hot", Name: "hot", Description: "Hot pizzas"},
		},
		pizzerias: []models.Pizzeria{
			{Address: "Tverskaya 1", Latitude: 55.76, Longitude: 37.62, DeliverymanID: "777"},
		},
		carts:  map[string][]models.CartItem{},
		inCart: map[string]int{},
	}
}

func (f *fakeCatalog) ListProducts(ctx context.Context) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return []models.Product{f.products["p-marg"], f.products["p-pep"]}, nil
}

func (f *fakeCatalog) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return nil, fmt.Errorf("get product %s: %w", productID, ErrNotFound)
	}
	return &p, nil
}

func (f *fakeCatalog) GetImageURL(ctx context.Context, imageID string) (string, error) {
	return "https://cdn.example/" + imageID + ".jpg", nil
}

func (f *fakeCatalog) AddToCart(ctx context.Context, cartID, productID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return ErrNotFound
	}
	f.adds = append(f.adds, addCall{CartID: cartID, ProductID: productID, Quantity: quantity})

	items := f.carts[cartID]
	for i := range items {
		if items[i].ProductID == productID {
			items[i].Quantity += quantity
			f.carts[cartID] = items
			return nil
		}
	}
	f.nextItem++
	f.carts[cartID] = append(items, models.CartItem{
		ID:          fmt.Sprintf("item-%d", f.nextItem),
		ProductID:   p.ID,
		Name:        p.Name,
		Description: p.Description,
		Quantity:    quantity,
	})
	return nil
}

func (f *fakeCatalog) RemoveFromCart(ctx context.Context, cartID, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, itemID)
	items := f.carts[cartID]
	for i := range items {
		if items[i].ID == itemID {
			f.carts[cartID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeCatalog) GetCart(ctx context.Context, cartID string) (*models.Cart, error) {
	f.mu.Lock()
	f.inCart[cartID]++
	if f.inCart[cartID] > f.maxInCart {
		f.maxInCart = f.inCart[cartID]
	}
	delay, cartErr := f.delay, f.cartErr
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inCart[cartID]--
	if cartErr != nil {
		return nil, cartErr
	}

	cart := &models.Cart{Items: []models.CartItem{}}
	total := 0.0
	for _, item := range f.carts[cartID] {
		line := f.products[item.ProductID].Price * float64(item.Quantity)
		item.UnitPriceFormatted = formatAmount(f.products[item.ProductID].Price)
		item.LineTotalFormatted = formatAmount(line)
		cart.Items = append(cart.Items, item)
		total += line
	}
	cart.TotalFormatted = formatAmount(total)
	return cart, nil
}

func (f *fakeCatalog) ListCategories(ctx context.Context) ([]models.Category, error) {
	return f.categories, nil
}

func (f *fakeCatalog) GetProductsByCategory(ctx context.Context, categoryID string) ([]models.Product, error) {
	if categoryID == "cat-hot" {
		return []models.Product{f.products["p-pep"]}, nil
	}
	return []models.Product{f.products["p-marg"]}, nil
}

func (f *fakeCatalog) ListPizzerias(ctx context.Context) ([]models.Pizzeria, error) {
	return f.pizzerias, nil
}

func (f *fakeCatalog) CreateCustomerAddress(ctx context.Context, customerID string, lat, lon float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses = append(f.addresses, fmt.Sprintf("%s@%.2f,%.2f", customerID, lat, lon))
	return nil
}

func (f *fakeCatalog) total(cartID string) string {
	cart, _ := f.GetCart(context.Background(), cartID)
	return cart.TotalFormatted
}

type scheduled struct {
	ID    models.UserIdentity
	Chat  string
	Delay time.Duration
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
}

func (f *fakeScheduler) Schedule(id models.UserIdentity, chatAddress string, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{ID: id, Chat: chatAddress, Delay: delay})
}
