package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"disclosure-trading-bot/config"
)

// HTTPClient talks to the brokerage REST API. The base URL is selected by
// trading mode: paper orders must never reach the live endpoint.
type HTTPClient struct {
	apiKey      string
	secretKey   string
	baseURL     string
	dataBaseURL string
	httpClient  *http.Client
}

// NewHTTPClient creates a broker client for the given trading mode
func NewHTTPClient(cfg config.BrokerConfig, mode string) *HTTPClient {
	baseURL := cfg.PaperBaseURL
	if mode == "live" {
		baseURL = cfg.LiveBaseURL
	}
	return &HTTPClient{
		apiKey:      cfg.APIKey,
		secretKey:   cfg.SecretKey,
		baseURL:     baseURL,
		dataBaseURL: cfg.DataBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewHTTPClientWithKeys creates a broker client with explicit credentials,
// used when keys come from Vault per account rather than process config.
func NewHTTPClientWithKeys(apiKey, secretKey string, cfg config.BrokerConfig, mode string) *HTTPClient {
	c := NewHTTPClient(cfg, mode)
	c.apiKey = apiKey
	c.secretKey = secretKey
	return c
}

// GetAccount fetches account equity, buying power and block flags
func (c *HTTPClient) GetAccount(ctx context.Context) (*Account, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/account", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching account: %w", err)
	}

	var account Account
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("error parsing account: %w", err)
	}
	return &account, nil
}

// GetPositions fetches all open positions held at the broker
func (c *HTTPClient) GetPositions(ctx context.Context) ([]Position, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}

	var positions []Position
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("error parsing positions: %w", err)
	}
	return positions, nil
}

// GetLatestQuote fetches the latest quote for a symbol from the data API
func (c *HTTPClient) GetLatestQuote(ctx context.Context, symbol string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/quotes/latest", c.dataBaseURL, symbol)
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching quote for %s: %w", symbol, err)
	}

	var resp struct {
		Symbol string `json:"symbol"`
		Quote  struct {
			AskPrice float64 `json:"ap"`
			BidPrice float64 `json:"bp"`
		} `json:"quote"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing quote for %s: %w", symbol, err)
	}

	return &Quote{
		Symbol:   symbol,
		AskPrice: resp.Quote.AskPrice,
		BidPrice: resp.Quote.BidPrice,
	}, nil
}

// PlaceOrder submits a market order. Broker rejections come back as errors
// carrying the broker-reported reason.
func (c *HTTPClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Type == "" {
		req.Type = "market"
	}
	if req.TimeInForce == "" {
		req.TimeInForce = "day"
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/orders", payload)
	if err != nil {
		return nil, fmt.Errorf("order rejected for %s: %w", req.Symbol, err)
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	return &order, nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The broker reports rejection reasons as {"message": "..."}
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
