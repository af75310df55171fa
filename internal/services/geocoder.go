package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Geocoder resolves a free-text address. No match is ErrGeocodeNotFound.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Coordinates, error)
}

// YandexGeocoder calls the Yandex geocoder HTTP API
type YandexGeocoder struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

// NewYandexGeocoder creates a geocoder client
func NewYandexGeocoder(baseURL, apiKey string, timeout time.Duration) *YandexGeocoder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YandexGeocoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
	}
}

type yandexResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					Point struct {
						Pos string `json:"pos"`
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

// Geocode returns the coordinates of the best match
func (y *YandexGeocoder) Geocode(ctx context.Context, address string) (Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return Coordinates{}, err
	}

	q := url.Values{}
	q.Set("geocode", address)
	q.Set("apikey", y.apiKey)
	q.Set("format", "json")

	code, body, errs := fiber.Get(y.baseURL + "/?" + q.Encode()).Timeout(y.timeout).Bytes()
	if len(errs) > 0 {
		return Coordinates{}, fmt.Errorf("%w: geocode request: %v", ErrTransient, errors.Join(errs...))
	}
	if code >= 500 || code == fiber.StatusTooManyRequests {
		return Coordinates{}, fmt.Errorf("%w: geocoder status %d", ErrTransient, code)
	}
	if code != fiber.StatusOK {
		return Coordinates{}, fmt.Errorf("geocoder status %d: %s", code, truncate(string(body), 200))
	}

	var resp yandexResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Coordinates{}, fmt.Errorf("decode geocoder response: %w", err)
	}
	members := resp.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return Coordinates{}, ErrGeocodeNotFound
	}
	return parsePos(members[0].GeoObject.Point.Pos)
}

// parsePos reads a "lon lat" pair
func parsePos(pos string) (Coordinates, error) {
	fields := strings.Fields(pos)
	if len(fields) != 2 {
		return Coordinates{}, fmt.Errorf("%w: malformed position %q", ErrGeocodeNotFound, pos)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: longitude %q", ErrGeocodeNotFound, fields[0])
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: latitude %q", ErrGeocodeNotFound, fields[1])
	}
	return Coordinates{Lat: lat, Lon: lon}, nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
