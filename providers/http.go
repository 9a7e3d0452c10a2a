package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/askcart/askcart/core"
	"github.com/askcart/askcart/orchestration"
)

// maxResponseBytes caps how much of a provider response is read.
// Provider payloads are item lists; anything past this is malformed.
const maxResponseBytes = 4 << 20

// NewHTTPClient returns the shared outbound client with OpenTelemetry
// transport instrumentation. Per-call deadlines come from the request
// context, so the client itself carries no timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// HTTPAdapter calls one provider gateway over HTTP. One instance serves
// every catalog entry sharing its adapter key; the provider tag in the
// request selects the upstream behind the gateway.
type HTTPAdapter struct {
	client  *http.Client
	baseURL string
	logger  core.Logger
}

// HTTPAdapterConfig configures an HTTPAdapter
type HTTPAdapterConfig struct {
	// BaseURL is the gateway root, e.g. "http://shopping-gw:8080"
	BaseURL string
	Client  *http.Client
	Logger  core.Logger
}

// NewHTTPAdapter creates an adapter for one provider gateway
func NewHTTPAdapter(cfg HTTPAdapterConfig) (*HTTPAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: provider gateway base URL", core.ErrMissingConfiguration)
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return &HTTPAdapter{
		client:  cfg.Client,
		baseURL: cfg.BaseURL,
		logger:  cfg.Logger,
	}, nil
}

// searchRequest is the gateway wire request
type searchRequest struct {
	Provider string   `json:"provider"`
	Query    string   `json:"query"`
	UserID   string   `json:"user_id,omitempty"`
	Products []string `json:"products,omitempty"`
}

// searchResponse is the gateway wire response
type searchResponse struct {
	Products []wireItem    `json:"products,omitempty"`
	Hotels   []wireItem    `json:"hotels,omitempty"`
	Flights  []wireItem    `json:"flights,omitempty"`
	Snippets []wireSnippet `json:"snippets,omitempty"`
}

type wireItem struct {
	Name       string `json:"name"`
	Model      string `json:"model,omitempty"`
	SKU        string `json:"sku,omitempty"`
	PriceCents int64  `json:"price_cents,omitempty"`
	Currency   string `json:"currency,omitempty"`
	URL        string `json:"url,omitempty"`
}

type wireSnippet struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// Invoke posts the query to the gateway's /v1/search endpoint and
// decodes the typed payload. The caller's context carries the call
// deadline.
func (a *HTTPAdapter) Invoke(ctx context.Context, providerTag, query string, rc orchestration.RequestContext) (*orchestration.Payload, error) {
	body, err := json.Marshal(searchRequest{
		Provider: providerTag,
		Query:    query,
		UserID:   rc.UserID,
		Products: rc.RequestedProducts,
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", providerTag, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little for the log, then fail the call
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		a.logger.Warn("Provider gateway returned non-OK status", map[string]interface{}{
			"operation":   "provider_http",
			"provider":    providerTag,
			"status_code": resp.StatusCode,
			"body":        string(snippet),
			"duration_ms": time.Since(started).Milliseconds(),
		})
		return nil, fmt.Errorf("provider %s: %w: status %d", providerTag, core.ErrAPIError, resp.StatusCode)
	}

	var wire searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("provider %s: decode response: %w", providerTag, err)
	}
	return wire.payload(), nil
}

func (r *searchResponse) payload() *orchestration.Payload {
	p := &orchestration.Payload{}
	for _, it := range r.Products {
		p.Products = append(p.Products, it.item(orchestration.KindProduct))
	}
	for _, it := range r.Hotels {
		p.Hotels = append(p.Hotels, it.item(orchestration.KindHotel))
	}
	for _, it := range r.Flights {
		p.Flights = append(p.Flights, it.item(orchestration.KindFlight))
	}
	for _, sn := range r.Snippets {
		p.Snippets = append(p.Snippets, orchestration.Snippet{Text: sn.Text, URL: sn.URL})
	}
	return p
}

func (it wireItem) item(kind orchestration.ItemKind) orchestration.Item {
	return orchestration.Item{
		Kind:       kind,
		Name:       it.Name,
		Model:      it.Model,
		SKU:        it.SKU,
		PriceCents: it.PriceCents,
		Currency:   it.Currency,
		URL:        it.URL,
	}
}
