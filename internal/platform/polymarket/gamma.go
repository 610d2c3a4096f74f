package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

const (
	defaultPageSize = 500
	// maxPages bounds a runaway pagination loop.
	maxPages = 200
)

// GammaClient is the REST client for the Gamma API (market discovery and
// metadata).
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
}

// NewGammaClient creates a client for baseURL, e.g.
// "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, pageSize int, timeout time.Duration) *GammaClient {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		pageSize:   pageSize,
	}
}

// FetchAllMarkets pages through every open market and returns them as one
// snapshot. A market that shifts between pages mid-scan is kept once.
func (g *GammaClient) FetchAllMarkets(ctx context.Context) ([]domain.Market, error) {
	var (
		markets []domain.Market
		seen    = make(map[string]struct{})
	)
	for page := 0; page < maxPages; page++ {
		batch, err := g.getMarketsPage(ctx, page*g.pageSize)
		if err != nil {
			return nil, err
		}
		for i := range batch {
			m := batch[i].ToDomainMarket()
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			markets = append(markets, m)
		}
		if len(batch) < g.pageSize {
			return markets, nil
		}
	}
	return markets, nil
}

func (g *GammaClient) getMarketsPage(ctx context.Context, offset int) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("archived", "false")
	params.Set("limit", strconv.Itoa(g.pageSize))
	params.Set("offset", strconv.Itoa(offset))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets offset=%d: %w", offset, err)
	}
	var page []APIMarket
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	return page, nil
}

// FetchMarket returns one market by id, including closed ones.
func (g *GammaClient) FetchMarket(ctx context.Context, id string) (domain.Market, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}
	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return m.ToDomainMarket(), nil
}

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
