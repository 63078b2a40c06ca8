// Package httpdir reads customers and vehicles from the shop backend's REST
// API: GET /api/customers and GET /api/vehicles[?customerId=...].
//
// Both endpoints may answer with a bare JSON array or with the envelope
// {"success": true, "data": [...]}.
package httpdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/torqueshop/voicedesk/internal/directory"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

const (
	customersPath = "/api/customers"
	vehiclesPath  = "/api/vehicles"
)

var _ directory.Source = (*Source)(nil)

// Option is a functional option for [New].
type Option func(*Source)

// WithHTTPClient replaces the HTTP client. The default has a 15 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithToken sets a bearer token sent on every request.
func WithToken(token string) Option {
	return func(s *Source) { s.token = token }
}

// Source implements [directory.Source] over HTTP.
type Source struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New returns a Source for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Source, error) {
	if baseURL == "" {
		return nil, errors.New("httpdir: baseURL must not be empty")
	}
	s := &Source{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Customers implements [directory.Source].
func (s *Source) Customers(ctx context.Context) ([]shop.Customer, error) {
	var out []shop.Customer
	if err := s.get(ctx, customersPath, nil, &out); err != nil {
		return nil, fmt.Errorf("httpdir: customers: %w", err)
	}
	return out, nil
}

// Vehicles implements [directory.Source].
func (s *Source) Vehicles(ctx context.Context, customerID string) ([]shop.Vehicle, error) {
	var q url.Values
	if customerID != "" {
		q = url.Values{"customerId": {customerID}}
	}
	var out []shop.Vehicle
	if err := s.get(ctx, vehiclesPath, q, &out); err != nil {
		return nil, fmt.Errorf("httpdir: vehicles: %w", err)
	}
	return out, nil
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *Source) get(ctx context.Context, path string, q url.Values, dst any) error {
	u := s.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("parse JSON envelope: %w", err)
		}
		if env.Success != nil && !*env.Success {
			return fmt.Errorf("backend error: %s", env.Error)
		}
		data = env.Data
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse JSON response: %w", err)
	}
	return nil
}
