package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, used for
// up/down market discovery.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma API client. baseURL is the API root,
// e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// EventBySlug fetches the event with the given slug. Up/down slugs are
// unique, so the query returns at most one event.
func (g *GammaClient) EventBySlug(ctx context.Context, slug string) (APIEvent, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event by slug %s: %w", slug, err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	if len(events) == 0 {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}

	return events[0], nil
}

// MarketBySlug fetches an up/down market by slug and resolves its UP and
// DOWN outcome tokens.
func (g *GammaClient) MarketBySlug(ctx context.Context, slug string, h domain.Horizon) (domain.Market, error) {
	event, err := g.EventBySlug(ctx, slug)
	if err != nil {
		return domain.Market{}, err
	}

	market, ok := event.ToDomainMarket(h)
	if !ok {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: event %s is not an up/down market", slug)
	}
	return market, nil
}

// CurrentMarket fetches the up/down market whose window contains now.
func (g *GammaClient) CurrentMarket(ctx context.Context, asset domain.Asset, h domain.Horizon) (domain.Market, error) {
	slug, err := CurrentSlug(asset, h, time.Now())
	if err != nil {
		return domain.Market{}, err
	}
	return g.MarketBySlug(ctx, slug, h)
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
