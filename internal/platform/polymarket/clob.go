package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/certaintybot/internal/crypto"
	"github.com/alanyoungcy/certaintybot/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// usdcUnits is the fixed-point scale of collateral and share amounts.
const usdcUnits = 6

// ClobConfig configures the CLOB client.
type ClobConfig struct {
	// BaseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
	BaseURL string
	Timeout time.Duration
	// SignatureType is 0 for EOA wallets, 1 for proxy and 2 for Gnosis
	// Safe wallets.
	SignatureType int
	// FunderAddress holds the collateral when it differs from the signer
	// (proxy or safe wallets).
	FunderAddress string
}

// ClobClient talks to the CLOB REST API: books, order submission and API
// key derivation. Reads work without a signer.
type ClobClient struct {
	cfg        ClobConfig
	httpClient *http.Client
	signer     *crypto.Signer
	now        func() time.Time

	mu   sync.RWMutex
	auth *crypto.HMACAuth
}

// NewClobClient creates a client. signer may be nil for read-only use.
func NewClobClient(cfg ClobConfig, signer *crypto.Signer) *ClobClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ClobClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		signer:     signer,
		now:        time.Now,
	}
}

// FetchOrderBook returns the current book for tokenID, or domain.ErrNotFound
// when the venue has none.
func (c *ClobClient) FetchOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	body, err := c.do(ctx, http.MethodGet, "/book?token_id="+url.QueryEscape(tokenID), nil, nil)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	var book BookResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}
	return book.ToDomainSnapshot(c.now().UTC()), nil
}

// IsAuthenticatedForTrading reports whether orders can be signed and
// authenticated.
func (c *ClobClient) IsAuthenticatedForTrading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signer != nil && c.auth != nil
}

// SetCredentials installs pre-provisioned API credentials.
func (c *ClobClient) SetCredentials(auth crypto.HMACAuth) {
	c.mu.Lock()
	c.auth = &auth
	c.mu.Unlock()
}

// SubmitOrder signs and posts an order. A venue-side rejection comes back as
// a result with Success=false and a nil error; transport and HTTP failures
// are errors.
func (c *ClobClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	c.mu.RLock()
	auth := c.auth
	c.mu.RUnlock()
	if c.signer == nil || auth == nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: submit order: %w", domain.ErrNotAuthenticated)
	}

	order, err := c.buildOrder(req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: submit order: %w", err)
	}

	orderType := req.Type
	if orderType == "" {
		orderType = domain.OrderTypeFOK
	}
	payload := PostOrderRequest{Order: order, Owner: auth.Key, OrderType: string(orderType)}

	body, err := c.do(ctx, http.MethodPost, "/order", payload, auth)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusBadRequest {
		// FOK misses and validation failures come back as 400 with an
		// errorMsg body.
		var res APIOrderResult
		if json.Unmarshal(se.Body, &res) == nil && res.ErrorMsg != "" {
			return res.ToDomainOrderResult(), nil
		}
	}
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}
	var res APIOrderResult
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return res.ToDomainOrderResult(), nil
}

// buildOrder computes fixed-point amounts and signs the order. A buy pays
// price*size collateral for size shares; a sell is the mirror image.
func (c *ClobClient) buildOrder(req domain.OrderRequest) (APIOrder, error) {
	if req.Price <= 0 || req.Price >= 1 {
		return APIOrder{}, fmt.Errorf("%w: price %v outside (0,1)", domain.ErrInvalidOrder, req.Price)
	}
	size := decimal.NewFromFloat(req.Size).Truncate(2)
	if !size.IsPositive() {
		return APIOrder{}, fmt.Errorf("%w: size %v", domain.ErrInvalidOrder, req.Size)
	}
	notional := decimal.NewFromFloat(req.Price).Mul(size).Truncate(4)

	side, sideCode := "BUY", crypto.SideBuy
	maker, taker := notional, size
	if req.Side == domain.OrderSideSell {
		side, sideCode = "SELL", crypto.SideSell
		maker, taker = size, notional
	}

	signerAddr := c.signer.Address().Hex()
	funder := signerAddr
	if c.cfg.FunderAddress != "" {
		funder = c.cfg.FunderAddress
	}

	salt := rand.Int64N(1 << 53)
	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(salt, 10),
		Maker:         funder,
		Signer:        signerAddr,
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   toUnits(maker),
		TakerAmount:   toUnits(taker),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode,
		SignatureType: c.cfg.SignatureType,
	}
	sig, err := c.signer.SignOrder(payload, req.NegRisk)
	if err != nil {
		return APIOrder{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}

	return APIOrder{
		Salt:          salt,
		Maker:         payload.Maker,
		Signer:        payload.Signer,
		Taker:         payload.Taker,
		TokenID:       payload.TokenID,
		MakerAmount:   payload.MakerAmount,
		TakerAmount:   payload.TakerAmount,
		Expiration:    payload.Expiration,
		Nonce:         payload.Nonce,
		FeeRateBps:    payload.FeeRateBps,
		Side:          side,
		SignatureType: payload.SignatureType,
		Signature:     sig,
	}, nil
}

func toUnits(d decimal.Decimal) string {
	return d.Shift(usdcUnits).Truncate(0).String()
}

// DeriveAPIKey signs a ClobAuth message and obtains API credentials,
// creating them when the wallet has none yet.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", domain.ErrNotAuthenticated)
	}

	creds, err := c.l1Request(ctx, http.MethodGet, "/auth/derive-api-key")
	if err != nil {
		var createErr error
		creds, createErr = c.l1Request(ctx, http.MethodPost, "/auth/api-key")
		if createErr != nil {
			return fmt.Errorf("polymarket/clob: derive api key: %w", errors.Join(err, createErr))
		}
	}
	c.SetCredentials(crypto.HMACAuth{Key: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase})
	return nil
}

func (c *ClobClient) l1Request(ctx context.Context, method, path string) (APIKeyResponse, error) {
	ts := c.now().Unix()
	sig, err := c.signer.SignAuthMessage(ts, 0)
	if err != nil {
		return APIKeyResponse{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, nil)
	if err != nil {
		return APIKeyResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(ts, 10))
	req.Header.Set("POLY_NONCE", "0")

	body, err := c.send(req)
	if err != nil {
		return APIKeyResponse{}, err
	}
	var creds APIKeyResponse
	if err := json.Unmarshal(body, &creds); err != nil {
		return APIKeyResponse{}, fmt.Errorf("decode credentials: %w", err)
	}
	if creds.APIKey == "" || creds.Secret == "" {
		return APIKeyResponse{}, fmt.Errorf("%w: empty credentials", domain.ErrUnauthorized)
	}
	return creds, nil
}

// do sends a request with an optional JSON body, adding L2 headers when
// auth is set.
func (c *ClobClient) do(ctx context.Context, method, path string, body any, auth *crypto.HMACAuth) ([]byte, error) {
	var (
		reader  io.Reader
		payload string
	)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = string(raw)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil && c.signer != nil {
		signPath := path
		if i := strings.IndexByte(signPath, '?'); i >= 0 {
			signPath = signPath[:i]
		}
		for k, v := range auth.L2HeadersAt(c.signer.Address().Hex(), method, signPath, payload, c.now().Unix()) {
			req.Header.Set(k, v)
		}
	}
	return c.send(req)
}

func (c *ClobClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
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

// StatusError is a non-2xx response. It unwraps to the matching domain
// error where one exists.
type StatusError struct {
	Code int
	Body []byte
	kind error
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if e.kind != nil {
		return fmt.Sprintf("%v: %s", e.kind, msg)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, msg)
}

func (e *StatusError) Unwrap() error { return e.kind }

// checkHTTPStatus maps non-2xx responses to a *StatusError.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	se := &StatusError{Code: statusCode, Body: body}
	switch statusCode {
	case http.StatusNotFound:
		se.kind = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		se.kind = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		se.kind = domain.ErrRateLimited
	}
	return se
}
