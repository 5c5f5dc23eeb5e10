package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"miniqmt/logger"
)

// WSFeed streams quotes from the terminal bridge over a websocket and
// caches the latest tick per symbol. History requests go to the bridge's
// HTTP endpoint. Implements Source.
type WSFeed struct {
	wsURL      string
	historyURL string
	httpClient *http.Client

	conn      *websocket.Conn
	mu        sync.RWMutex
	ticks     sync.Map // symbol -> *Tick
	symbols   []string
	reconnect bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewWSFeed creates a feed for the given bridge endpoints
func NewWSFeed(wsURL, historyURL string, symbols []string) *WSFeed {
	return &WSFeed{
		wsURL:      wsURL,
		historyURL: historyURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		symbols:    symbols,
		reconnect:  true,
		done:       make(chan struct{}),
	}
}

// Connect dials the quote stream and starts the read loop
func (f *WSFeed) Connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("quote stream connection failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	logger.Infof("📡 Quote stream connected: %s", f.wsURL)

	if err := f.subscribe(f.symbols); err != nil {
		return err
	}

	go f.readMessages()
	return nil
}

// Close stops the read loop and closes the connection. Safe to call more
// than once.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.reconnect = false
		close(f.done)
		if f.conn != nil {
			f.conn.Close()
			f.conn = nil
		}
		f.mu.Unlock()
	})
}

func (f *WSFeed) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	msg := map[string]interface{}{
		"method": "subscribe",
		"codes":  symbols,
		"id":     time.Now().UnixNano(),
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.conn == nil {
		return fmt.Errorf("quote stream not connected")
	}
	return f.conn.WriteJSON(msg)
}

func (f *WSFeed) readMessages() {
	for {
		select {
		case <-f.done:
			return
		default:
			f.mu.RLock()
			conn := f.conn
			f.mu.RUnlock()

			if conn == nil {
				time.Sleep(1 * time.Second)
				continue
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				logger.Warnf("Failed to read quote message: %v", err)
				f.handleReconnect()
				return
			}

			f.handleMessage(message)
		}
	}
}

func (f *WSFeed) handleMessage(message []byte) {
	var quote struct {
		Code      string  `json:"code"`
		LastPrice float64 `json:"lastPrice"`
		LastClose float64 `json:"lastClose"`
		High      float64 `json:"high"`
		Volume    int64   `json:"volume"`
		Amount    float64 `json:"amount"`
		Time      int64   `json:"time"` // ms
	}
	if err := json.Unmarshal(message, &quote); err != nil {
		logger.Debugf("Ignoring unparseable quote message: %v", err)
		return
	}
	if quote.Code == "" || quote.LastPrice <= 0 {
		return
	}

	f.ticks.Store(quote.Code, &Tick{
		Symbol:    quote.Code,
		LastPrice: quote.LastPrice,
		LastClose: quote.LastClose,
		High:      quote.High,
		Volume:    quote.Volume,
		Amount:    quote.Amount,
		Time:      time.UnixMilli(quote.Time),
	})
}

func (f *WSFeed) handleReconnect() {
	f.mu.RLock()
	shouldReconnect := f.reconnect
	f.mu.RUnlock()

	if !shouldReconnect {
		return
	}

	for {
		select {
		case <-f.done:
			return
		default:
		}

		logger.Info("📡 Reconnecting quote stream in 5s...")
		time.Sleep(5 * time.Second)

		if err := f.Connect(); err != nil {
			logger.Warnf("Quote stream reconnect failed: %v", err)
			continue
		}
		return
	}
}

// LatestTick returns the cached tick for symbol, nil when none seen yet
func (f *WSFeed) LatestTick(ctx context.Context, symbol string) (*Tick, error) {
	if v, ok := f.ticks.Load(symbol); ok {
		return v.(*Tick), nil
	}
	return nil, nil
}

// History fetches OHLCV bars from the bridge HTTP endpoint
func (f *WSFeed) History(ctx context.Context, symbol string, start, end time.Time, period string) ([]Bar, error) {
	if f.historyURL == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("code", symbol)
	q.Set("start", start.Format("20060102"))
	q.Set("end", end.Format("20060102"))
	q.Set("period", period)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.historyURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request returned status %d", resp.StatusCode)
	}

	var raw []struct {
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume int64   `json:"volume"`
		Amount float64 `json:"amount"`
		Time   int64   `json:"time"` // ms
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}

	bars := make([]Bar, 0, len(raw))
	for _, r := range raw {
		bars = append(bars, Bar{
			Symbol: symbol,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
			Amount: r.Amount,
			Time:   time.UnixMilli(r.Time),
		})
	}
	return bars, nil
}
