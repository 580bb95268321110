package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/kinsync/internal/presence/domain"
)

// HTTPGeocoder resolves coordinates to a display address against a
// nominatim-style reverse endpoint. Callers treat every failure as
// non-fatal.
type HTTPGeocoder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGeocoder builds a geocoder for the given base URL.
func NewHTTPGeocoder(baseURL string, timeout time.Duration) *HTTPGeocoder {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPGeocoder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
}

// ReverseGeocode returns a human-readable address for the point.
func (g *HTTPGeocoder) ReverseGeocode(ctx context.Context, point domain.GeoPoint) (string, error) {
	endpoint := fmt.Sprintf("%s/reverse?format=json&lat=%s&lon=%s",
		g.baseURL,
		url.QueryEscape(fmt.Sprintf("%f", point.Lat)),
		url.QueryEscape(fmt.Sprintf("%f", point.Lng)),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build reverse request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode: unexpected status %d", resp.StatusCode)
	}
	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode reverse response: %w", err)
	}
	return body.DisplayName, nil
}

// Noop satisfies domain.Geocoder without resolving anything.
type Noop struct{}

// ReverseGeocode always reports no address.
func (Noop) ReverseGeocode(context.Context, domain.GeoPoint) (string, error) {
	return "", nil
}
