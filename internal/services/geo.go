package services

import (
	"context"
	"fmt"

	"github.com/golang/geo/s2"

	"github.com/slicebot/slicebot-backend/internal/models"
)

// earthRadiusKm is the IUGG mean Earth radius
const earthRadiusKm = 6371.0088

// Coordinates is a WGS84 position in degrees
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceKm returns the great-circle distance between two points
func DistanceKm(a, b Coordinates) float64 {
	angle := s2.LatLngFromDegrees(a.Lat, a.Lon).Distance(s2.LatLngFromDegrees(b.Lat, b.Lon))
	return angle.Radians() * earthRadiusKm
}

// DeliveryTier is the distance bucket of an order
type DeliveryTier int

const (
	TierFreeNearby DeliveryTier = iota
	TierScooter
	TierCar
	TierPickupOnly
	TierUnreachable
)

// Tier limits in km, inclusive
const (
	freeNearbyMaxKm = 0.5
	scooterMaxKm    = 5.0
	carMaxKm        = 20.0
	pickupOnlyMaxKm = 50.0
)

// Delivery fees in whole currency units
const (
	scooterFee = 100
	carFee     = 300
)

// ClassifyTier buckets a distance
func ClassifyTier(distanceKm float64) DeliveryTier {
	switch {
	case distanceKm <= freeNearbyMaxKm:
		return TierFreeNearby
	case distanceKm <= scooterMaxKm:
		return TierScooter
	case distanceKm <= carMaxKm:
		return TierCar
	case distanceKm <= pickupOnlyMaxKm:
		return TierPickupOnly
	default:
		return TierUnreachable
	}
}

func (t DeliveryTier) String() string {
	switch t {
	case TierFreeNearby:
		return "FREE_NEARBY"
	case TierScooter:
		return "SCOOTER"
	case TierCar:
		return "CAR"
	case TierPickupOnly:
		return "PICKUP_ONLY"
	case TierUnreachable:
		return "UNREACHABLE"
	default:
		return fmt.Sprintf("DeliveryTier(%d)", int(t))
	}
}

// Fee is the delivery price for the tier
func (t DeliveryTier) Fee() int {
	switch t {
	case TierScooter:
		return scooterFee
	case TierCar:
		return carFee
	default:
		return 0
	}
}

// Options lists the callback payloads offered in the tier, return always last
func (t DeliveryTier) Options() []string {
	switch t {
	case TierFreeNearby, TierScooter, TierCar:
		return []string{models.PayloadDelivery, models.PayloadPickup, models.PayloadReturn}
	case TierPickupOnly:
		return []string{models.PayloadPickup, models.PayloadReturn}
	default:
		return []string{models.PayloadReturn}
	}
}

// Offers reports whether option is available in the tier
func (t DeliveryTier) Offers(option string) bool {
	for _, o := range t.Options() {
		if o == option {
			return true
		}
	}
	return false
}

// ResolveNearest finds the closest pizzeria. Ties go to the first one listed.
func ResolveNearest(from Coordinates, pizzerias []models.Pizzeria) (models.Pizzeria, float64, error) {
	if len(pizzerias) == 0 {
		return models.Pizzeria{}, 0, ErrNoPizzerias
	}

	nearest := pizzerias[0]
	minDistance := DistanceKm(from, Coordinates{Lat: nearest.Latitude, Lon: nearest.Longitude})
	for _, p := range pizzerias[1:] {
		d := DistanceKm(from, Coordinates{Lat: p.Latitude, Lon: p.Longitude})
		if d < minDistance {
			nearest, minDistance = p, d
		}
	}
	return nearest, minDistance, nil
}

// PizzeriaSource lists fulfillment points
type PizzeriaSource interface {
	ListPizzerias(ctx context.Context) ([]models.Pizzeria, error)
}

// DeliveryQuote is the outcome of resolving a user position
type DeliveryQuote struct {
	From       Coordinates
	Pizzeria   models.Pizzeria
	DistanceKm float64
	Tier       DeliveryTier
}

// GeoResolver turns a shared location or a typed address into a delivery quote
type GeoResolver struct {
	pizzerias PizzeriaSource
	geocoder  Geocoder
}

// NewGeoResolver creates a new geo resolver
func NewGeoResolver(pizzerias PizzeriaSource, geocoder Geocoder) *GeoResolver {
	return &GeoResolver{
		pizzerias: pizzerias,
		geocoder:  geocoder,
	}
}

// Locate geocodes a free-text address. A blank address never reaches the geocoder.
func (g *GeoResolver) Locate(ctx context.Context, address string) (Coordinates, error) {
	if g.geocoder == nil || isBlank(address) {
		return Coordinates{}, ErrGeocodeNotFound
	}
	return g.geocoder.Geocode(ctx, address)
}

// Quote finds the nearest pizzeria for the coordinates and classifies the tier.
// Pizzerias are fetched on every call.
func (g *GeoResolver) Quote(ctx context.Context, from Coordinates) (*DeliveryQuote, error) {
	pizzerias, err := g.pizzerias.ListPizzerias(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pizzerias: %w", err)
	}
	nearest, distance, err := ResolveNearest(from, pizzerias)
	if err != nil {
		return nil, err
	}
	return &DeliveryQuote{
		From:       from,
		Pizzeria:   nearest,
		DistanceKm: distance,
		Tier:       ClassifyTier(distance),
	}, nil
}

// FindPizzeria looks a pizzeria up by its address, fetching the list fresh
func (g *GeoResolver) FindPizzeria(ctx context.Context, address string) (models.Pizzeria, error) {
	pizzerias, err := g.pizzerias.ListPizzerias(ctx)
	if err != nil {
		return models.Pizzeria{}, fmt.Errorf("list pizzerias: %w", err)
	}
	for _, p := range pizzerias {
		if p.Address == address {
			return p, nil
		}
	}
	return models.Pizzeria{}, fmt.Errorf("pizzeria %q: %w", address, ErrNotFound)
}
