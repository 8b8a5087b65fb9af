// Package gis queries the municipal GIS service for the layer attributes
// that geo-based assignment rules read.
package gis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"example.com/casework/internal/engine"
)

// Client resolves coordinates to layer attribute maps over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ResolveLocation returns the layer attributes at the given coordinates.
func (c *Client) ResolveLocation(ctx context.Context, x, y float64) (engine.LocationInfo, error) {
	q := url.Values{}
	q.Set("x", strconv.FormatFloat(x, 'f', -1, 64))
	q.Set("y", strconv.FormatFloat(y, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/location?%s", c.baseURL, q.Encode()), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gis error: %s", data)
	}

	var info engine.LocationInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return info, nil
}

// TestLayerValue reports whether the named attribute of a resolved layer
// equals the expected value. A missing layer or attribute is an error so
// callers can skip the rule that asked.
func (c *Client) TestLayerValue(info engine.LocationInfo, layer, attribute, expected string) (bool, error) {
	raw, ok := info[layer]
	if !ok {
		return false, fmt.Errorf("layer %q not present in location info", layer)
	}
	attrs, ok := raw.(map[string]any)
	if !ok {
		return false, fmt.Errorf("layer %q has unusable payload type %T", layer, raw)
	}
	value, ok := attrs[attribute]
	if !ok {
		return false, fmt.Errorf("layer %q has no attribute %q", layer, attribute)
	}
	switch v := value.(type) {
	case string:
		return v == expected, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64) == expected, nil
	default:
		return false, fmt.Errorf("layer %q attribute %q has unusable type %T", layer, attribute, value)
	}
}
