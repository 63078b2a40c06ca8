// Package commit submits a finished conversation to the shop backend.
//
// A service log is created with POST /api/service-logs and a quick invoice with
// POST /api/invoices/quick. Both carry an Idempotency-Key derived from the
// session ID, so resending the same record cannot create a duplicate. After a
// successful invoice the gateway can fetch GET /api/invoices/{id}/pdf and
// store it locally; a PDF failure is logged and never fails the commit.
package commit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/torqueshop/voicedesk/internal/lineitem"
	"github.com/torqueshop/voicedesk/internal/observe"
	"github.com/torqueshop/voicedesk/internal/resilience"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

var (
	// ErrCommitFailed wraps every non-cancellation failure of [Gateway.Commit].
	ErrCommitFailed = errors.New("commit: failed")

	// ErrNoItems is returned for a record without line items. It never reaches
	// the backend.
	ErrNoItems = errors.New("commit: record has no line items")
)

const (
	serviceLogPath   = "/api/service-logs"
	quickInvoicePath = "/api/invoices/quick"
	invoicePDFPath   = "/api/invoices/%s/pdf"

	// maxErrorBody caps how much of an error response is quoted in errors.
	maxErrorBody = 512
)

// idempotencyNamespace scopes the derived keys to this application.
var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://torqueshop.dev/voicedesk/commit"))

// IdempotencyKey returns the stable key sent with every commit of sessionID.
func IdempotencyKey(sessionID string, kind shop.RecordKind) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(string(kind)+":"+sessionID)).String()
}

// Option is a functional option for [New].
type Option func(*Gateway)

// WithHTTPClient replaces the HTTP client. The default has a 30 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithToken sets a bearer token sent on every request.
func WithToken(token string) Option {
	return func(g *Gateway) { g.token = token }
}

// WithTaxRate sets the rate applied to invoice subtotals, e.g. 0.08.
func WithTaxRate(rate float64) Option {
	return func(g *Gateway) {
		if rate >= 0 {
			g.taxRate = rate
		}
	}
}

// WithPDFDir enables invoice PDF download into dir.
func WithPDFDir(dir string) Option {
	return func(g *Gateway) { g.pdfDir = dir }
}

// WithBreaker replaces the circuit breaker configuration.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(g *Gateway) { g.breakerCfg = cfg }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// Gateway is the HTTP client for the backend's create endpoints.
type Gateway struct {
	baseURL    string
	token      string
	taxRate    float64
	pdfDir     string
	httpClient *http.Client
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

// New returns a Gateway for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Gateway, error) {
	if baseURL == "" {
		return nil, errors.New("commit: baseURL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("commit: parse baseURL: %w", err)
	}
	g := &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breakerCfg: resilience.CircuitBreakerConfig{
			Name:         "commit",
			MaxFailures:  3,
			ResetTimeout: time.Minute,
			HalfOpenMax:  1,
		},
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if g.breakerCfg.OnStateChange == nil {
		m := g.metrics
		g.breakerCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		}
	}
	g.breaker = resilience.NewCircuitBreaker(g.breakerCfg)
	return g, nil
}

// BreakerState reports the state of the gateway's circuit breaker.
func (g *Gateway) BreakerState() resilience.State { return g.breaker.State() }

type itemPayload struct {
	Name  string  `json:"name"`
	Hours float64 `json:"hours"`
	Price float64 `json:"price"`
}

type serviceLogPayload struct {
	CustomerID string        `json:"customerId"`
	VehicleID  string        `json:"vehicleId"`
	Mileage    int           `json:"mileage"`
	Date       string        `json:"date"`
	Items      []itemPayload `json:"items"`
	Source     string        `json:"source"`
}

type invoicePayload struct {
	serviceLogPayload
	Subtotal float64 `json:"subtotal"`
	TaxRate  float64 `json:"taxRate"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

type createResponse struct {
	ID      string `json:"id"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    *struct {
		ID string `json:"id"`
	} `json:"data,omitempty"`
}

// Totals computes the subtotal, tax and total the gateway sends for rec. It
// returns an error matching [lineitem.ErrInvalidItem] if any item is invalid.
func (g *Gateway) Totals(rec shop.Record) (subtotal, tax, total float64, err error) {
	var l lineitem.Ledger
	for i, it := range rec.Items {
		if err := l.Add(it); err != nil {
			return 0, 0, 0, fmt.Errorf("item %d: %w", i+1, err)
		}
	}
	subtotal = l.Total()
	if rec.Kind == shop.KindInvoice {
		tax = lineitem.RoundCents(subtotal * g.taxRate)
	}
	return subtotal, tax, lineitem.RoundCents(subtotal + tax), nil
}

// Commit creates the record on the backend. It returns ctx.Err() if ctx is
// cancelled, [ErrNoItems] for an empty record, and an error matching
// [ErrCommitFailed] for everything else, including invalid items, which never
// reach the backend.
func (g *Gateway) Commit(ctx context.Context, rec shop.Record) (shop.Receipt, error) {
	if len(rec.Items) == 0 {
		return shop.Receipt{}, ErrNoItems
	}
	if !rec.Kind.IsValid() {
		return shop.Receipt{}, fmt.Errorf("%w: unknown record kind %q", ErrCommitFailed, rec.Kind)
	}
	subtotal, tax, total, err := g.Totals(rec)
	if err != nil {
		return shop.Receipt{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	ctx, span := observe.StartSpan(ctx, "commit")
	defer span.End()
	log := observe.Logger(ctx)

	base := serviceLogPayload{
		CustomerID: rec.CustomerID,
		VehicleID:  rec.VehicleID,
		Mileage:    rec.Mileage,
		Date:       rec.Date.Format(time.DateOnly),
		Source:     "voice",
	}
	for _, it := range rec.Items {
		base.Items = append(base.Items, itemPayload(it))
	}

	var (
		path    string
		payload any
	)
	switch rec.Kind {
	case shop.KindInvoice:
		path = quickInvoicePath
		payload = invoicePayload{
			serviceLogPayload: base,
			Subtotal:          subtotal,
			TaxRate:           g.taxRate,
			Tax:               tax,
			Total:             total,
		}
	default:
		path = serviceLogPath
		payload = base
	}

	start := time.Now()
	var id string
	err = g.breaker.Execute(func() error {
		var err error
		id, err = g.post(ctx, path, IdempotencyKey(rec.SessionID, rec.Kind), payload)
		return err
	})
	elapsed := time.Since(start).Seconds()

	if ctxErr := ctx.Err(); ctxErr != nil {
		g.metrics.RecordCommit(ctx, string(rec.Kind), "cancelled", elapsed)
		return shop.Receipt{}, ctxErr
	}
	if err != nil {
		g.metrics.RecordCommit(ctx, string(rec.Kind), "error", elapsed)
		span.RecordError(err)
		log.Error("commit: create failed", "kind", rec.Kind, "items", len(rec.Items), "err", err)
		return shop.Receipt{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	g.metrics.RecordCommit(ctx, string(rec.Kind), "ok", elapsed)
	log.Info("commit: created", "kind", rec.Kind, "id", id, "items", len(rec.Items), "total", total)

	receipt := shop.Receipt{ID: id, Kind: rec.Kind, Subtotal: subtotal, Tax: tax, Total: total}
	if rec.Kind == shop.KindInvoice && g.pdfDir != "" {
		p, err := g.fetchPDF(ctx, id)
		if err != nil {
			log.Warn("commit: invoice pdf unavailable", "id", id, "err", err)
		} else {
			receipt.PDFPath = p
		}
	}
	return receipt, nil
}

func (g *Gateway) post(ctx context.Context, path, idemKey string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)
	g.authorize(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s returned HTTP %d: %s", path, resp.StatusCode, snippet(data))
	}

	var cr createResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("parse JSON response: %w", err)
	}
	if cr.Success != nil && !*cr.Success {
		msg := cr.Error
		if msg == "" {
			msg = "request unsuccessful"
		}
		return "", fmt.Errorf("%s: %s", path, msg)
	}
	id := cr.ID
	if id == "" && cr.Data != nil {
		id = cr.Data.ID
	}
	if id == "" {
		return "", fmt.Errorf("%s: response has no id", path)
	}
	return id, nil
}

func (g *Gateway) fetchPDF(ctx context.Context, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+fmt.Sprintf(invoicePDFPath, url.PathEscape(id)), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/pdf")
	g.authorize(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pdf returned HTTP %d", resp.StatusCode)
	}

	if err := os.MkdirAll(g.pdfDir, 0o755); err != nil {
		return "", fmt.Errorf("create pdf dir: %w", err)
	}
	dst := filepath.Join(g.pdfDir, "invoice-"+sanitizeFileName(id)+".pdf")
	f, err := os.CreateTemp(g.pdfDir, ".invoice-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close pdf: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename pdf: %w", err)
	}
	return dst, nil
}

func (g *Gateway) authorize(req *http.Request) {
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "…"
	}
	return s
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
