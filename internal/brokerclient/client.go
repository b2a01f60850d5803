// Package brokerclient is the concrete broker-side implementation of the
// SDK boundary interfaces (internal/enforcement.BrokerClient,
// internal/marketdata.QuoteSource, internal/protective.WorkingOrderSource).
// SPEC_FULL.md leaves the broker wire protocol unspecified — this talks to
// a broker microservice over the same envelope-and-endpoint shape the
// teacher's internal/clients/tradernet.Client uses, generalized from
// portfolio/trade endpoints to the risk engine's order-management ones.
package brokerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/pkg/money"
)

// serviceResponse is the standard broker microservice envelope, identical
// in shape to the teacher's tradernet.ServiceResponse.
type serviceResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

// Client implements the risk engine's SDK boundary interfaces against a
// broker microservice reachable over HTTP.
type Client struct {
	baseURL  string
	apiKey   string
	username string
	http     *http.Client
	log      zerolog.Logger
}

// New creates a Client. baseURL, apiKey and username come from
// internal/config.Config (BROKER_API_KEY, BROKER_USERNAME and a
// microservice URL the operator points at their own broker adapter).
func New(baseURL, apiKey, username string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		username: username,
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log.With().Str("client", "broker").Logger(),
	}
}

func (c *Client) post(ctx context.Context, endpoint string, request, out interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("broker request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read broker response: %w", err)
	}
	var parsed serviceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse broker response: %w", err)
	}
	if !parsed.Success {
		msg := "unknown broker error"
		if parsed.Error != nil {
			msg = *parsed.Error
		}
		return fmt.Errorf("broker error: %s", msg)
	}
	if out == nil || len(parsed.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(parsed.Data, out); err != nil {
		return fmt.Errorf("parse broker data: %w", err)
	}
	return nil
}

// ClosePosition implements internal/enforcement.BrokerClient.
func (c *Client) ClosePosition(ctx context.Context, symbolRoot, contractID, reason string) error {
	return c.post(ctx, "/positions/close", map[string]string{
		"symbol_root": symbolRoot,
		"contract_id": contractID,
		"reason":      reason,
		"username":    c.username,
	}, nil)
}

// ReducePositionToLimit implements internal/enforcement.BrokerClient.
func (c *Client) ReducePositionToLimit(ctx context.Context, symbolRoot, contractID string, targetAbsSize int64) error {
	return c.post(ctx, "/positions/reduce", map[string]any{
		"symbol_root":     symbolRoot,
		"contract_id":     contractID,
		"target_abs_size": targetAbsSize,
		"username":        c.username,
	}, nil)
}

// CancelOrder implements internal/enforcement.BrokerClient.
func (c *Client) CancelOrder(ctx context.Context, symbolRoot, orderID string) error {
	return c.post(ctx, "/orders/cancel", map[string]string{
		"symbol_root": symbolRoot,
		"order_id":    orderID,
		"username":    c.username,
	}, nil)
}

// CloseAllPositions implements internal/enforcement.BrokerClient.
func (c *Client) CloseAllPositions(ctx context.Context, symbolRoot string) (int, error) {
	var out struct {
		ClosedCount int `json:"closed_count"`
	}
	if err := c.post(ctx, "/positions/close-all", map[string]string{
		"symbol_root": symbolRoot,
		"username":    c.username,
	}, &out); err != nil {
		return 0, err
	}
	return out.ClosedCount, nil
}

// CancelAllOrders implements internal/enforcement.BrokerClient.
func (c *Client) CancelAllOrders(ctx context.Context, symbolRoot string) (int, error) {
	var out struct {
		CancelledCount int `json:"cancelled_count"`
	}
	if err := c.post(ctx, "/orders/cancel-all", map[string]string{
		"symbol_root": symbolRoot,
		"username":    c.username,
	}, &out); err != nil {
		return 0, err
	}
	return out.CancelledCount, nil
}

// PlaceBracketOrder implements internal/enforcement.BrokerClient.
func (c *Client) PlaceBracketOrder(ctx context.Context, symbolRoot, contractID string, stopPrice, targetPrice *money.Money) error {
	req := map[string]any{
		"symbol_root": symbolRoot,
		"contract_id": contractID,
		"username":    c.username,
	}
	if stopPrice != nil {
		req["stop_price"] = stopPrice.String()
	}
	if targetPrice != nil {
		req["target_price"] = targetPrice.String()
	}
	return c.post(ctx, "/orders/bracket", req, nil)
}

// AdjustTrailingStop implements internal/enforcement.BrokerClient.
func (c *Client) AdjustTrailingStop(ctx context.Context, symbolRoot, contractID string, trailPrice money.Money) error {
	return c.post(ctx, "/orders/trailing-stop", map[string]string{
		"symbol_root": symbolRoot,
		"contract_id": contractID,
		"trail_price": trailPrice.String(),
		"username":    c.username,
	}, nil)
}

// LastPrice implements internal/marketdata.QuoteSource (the polling
// fallback, which polls on every interval regardless of push quotes).
func (c *Client) LastPrice(ctx context.Context, symbolRoot string) (money.Money, bool, error) {
	var out struct {
		Price *float64 `json:"price"`
	}
	if err := c.get(ctx, "/quotes/"+symbolRoot+"/last", &out); err != nil {
		return money.Money{}, false, err
	}
	if out.Price == nil {
		return money.Money{}, false, nil
	}
	return money.New(*out.Price), true, nil
}

// WorkingOrders implements internal/protective.WorkingOrderSource (the
// on-demand SDK fallback used when the protective-order cache is empty).
func (c *Client) WorkingOrders(ctx context.Context, contractID string) ([]domain.Order, error) {
	var out struct {
		Orders []domain.Order `json:"orders"`
	}
	if err := c.get(ctx, "/orders/working/"+contractID, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}
