package trader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"miniqmt/logger"
	"miniqmt/position"
)

// BridgeGateway talks HTTP to the local trading terminal bridge. The bridge
// wraps the broker terminal API; every call is bounded by the request context
// so a hung terminal stalls one cycle, not the whole worker.
type BridgeGateway struct {
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	handler FillHandler
}

func NewBridgeGateway(baseURL string, timeout time.Duration) *BridgeGateway {
	return &BridgeGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *BridgeGateway) SetFillHandler(h FillHandler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

type bridgeOrderRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"` // buy / sell
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
	Tag    string  `json:"tag"`
}

type bridgeOrderResponse struct {
	OK           bool    `json:"ok"`
	Error        string  `json:"error"`
	FilledPrice  float64 `json:"filled_price"`
	FilledVolume int64   `json:"filled_volume"`
}

func (g *BridgeGateway) SubmitBuy(ctx context.Context, symbol string, price float64, volume int64, tag string) error {
	return g.submit(ctx, "buy", symbol, price, volume, tag)
}

func (g *BridgeGateway) SubmitSell(ctx context.Context, symbol string, price float64, volume int64, tag string) error {
	return g.submit(ctx, "sell", symbol, price, volume, tag)
}

func (g *BridgeGateway) submit(ctx context.Context, side, symbol string, price float64, volume int64, tag string) error {
	body, err := json.Marshal(bridgeOrderRequest{Symbol: symbol, Side: side, Price: price, Volume: volume, Tag: tag})
	if err != nil {
		return fmt.Errorf("failed to encode %s order for %s: %w", side, symbol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/order", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s order request for %s: %w", side, symbol, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge %s order for %s failed: %w", side, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bridge %s order for %s: HTTP %d: %s", side, symbol, resp.StatusCode, string(data))
	}

	var out bridgeOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode order response for %s: %w", symbol, err)
	}
	if !out.OK {
		return fmt.Errorf("bridge rejected %s order for %s: %s", side, symbol, out.Error)
	}

	// The bridge confirms fills synchronously for limit-at-market orders
	if out.FilledVolume > 0 {
		g.mu.Lock()
		handler := g.handler
		g.mu.Unlock()
		if handler != nil {
			handler(Fill{
				Symbol: symbol,
				IsBuy:  side == "buy",
				Price:  out.FilledPrice,
				Volume: out.FilledVolume,
				Tag:    tag,
				Time:   time.Now(),
			})
		}
	}
	logger.Infof("📨 Bridge %s order accepted: %s %d @ %.3f", side, symbol, volume, price)
	return nil
}

func (g *BridgeGateway) PositionsSnapshot(ctx context.Context) ([]position.BrokerPosition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build positions request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge positions query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("bridge positions query: HTTP %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Positions []position.BrokerPosition `json:"positions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode positions response: %w", err)
	}
	return out.Positions, nil
}
