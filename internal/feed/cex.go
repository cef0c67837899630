package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"solvbot-go/internal/market"
)

const defaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CEXCandles polls a Binance-compatible klines endpoint for closed
// candles on the tracked spot symbol, falling back to a CoinGecko spot
// price when the primary endpoint is unavailable.
type CEXCandles struct {
	baseURL      string
	coingeckoURL string
	symbol       string
	geckoID      string
	interval     time.Duration
	client       *http.Client
	lastStart    time.Time
}

// NewCEXCandles builds the candle poller. interval is both the candle
// interval and the polling cadence.
func NewCEXCandles(baseURL, symbol string, interval time.Duration) *CEXCandles {
	return &CEXCandles{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		coingeckoURL: defaultCoinGeckoURL,
		symbol:       symbol,
		geckoID:      "solana",
		interval:     interval,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *CEXCandles) Name() string            { return "cex_candles" }
func (c *CEXCandles) Interval() time.Duration { return c.interval }

func (c *CEXCandles) Open(ctx context.Context) (Session, error) {
	return newPollSession(c.Name(), c.interval, c.fetch), nil
}

func (c *CEXCandles) fetch(ctx context.Context) ([]market.Event, error) {
	candle, err := c.fetchKline(ctx)
	if err != nil {
		candle, err = c.fetchCoinGecko(ctx)
		if err != nil {
			return nil, err
		}
	}
	if !candle.Start.After(c.lastStart) {
		return nil, nil // no new closed candle yet
	}
	c.lastStart = candle.Start
	return []market.Event{{
		Kind:   market.KindCandle,
		Ts:     candle.Start.Add(candle.Interval),
		Candle: candle,
	}}, nil
}

func (c *CEXCandles) fetchKline(ctx context.Context) (*market.Candle, error) {
	interval := binanceInterval(c.interval)
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=2", c.baseURL, c.symbol, interval)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var rows [][]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("need at least 2 klines, got %d", len(rows))
	}
	// The last row is the still-open candle; take the closed one before it.
	return parseKlineRow(rows[len(rows)-2], c.symbol, c.interval)
}

func parseKlineRow(row []any, symbol string, interval time.Duration) (*market.Candle, error) {
	if len(row) < 6 {
		return nil, fmt.Errorf("short kline row: %d fields", len(row))
	}
	openTime, ok := row[0].(float64)
	if !ok {
		return nil, fmt.Errorf("kline open time not numeric")
	}
	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return nil, fmt.Errorf("kline field %d not a string", i)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("kline field %d: %w", i, err)
		}
		fields[i-1] = v
	}
	return &market.Candle{
		Symbol:   symbol,
		Interval: interval,
		Start:    time.UnixMilli(int64(openTime)).UTC(),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}

func (c *CEXCandles) fetchCoinGecko(ctx context.Context) (*market.Candle, error) {
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.coingeckoURL, c.geckoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko status %d", resp.StatusCode)
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode coingecko: %w", err)
	}
	px := payload[c.geckoID]["usd"]
	if px <= 0 {
		return nil, fmt.Errorf("coingecko missing price for %s", c.geckoID)
	}
	start := time.Now().UTC().Truncate(c.interval)
	return &market.Candle{
		Symbol:   c.symbol,
		Interval: c.interval,
		Start:    start,
		Open:     px,
		High:     px,
		Low:      px,
		Close:    px,
	}, nil
}

// FetchCandleHistory pulls up to limit closed candles from a
// Binance-compatible klines endpoint, oldest first. The still-open
// candle at the tail is dropped.
func FetchCandleHistory(ctx context.Context, baseURL, symbol string, interval time.Duration, limit int) ([]market.Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		strings.TrimSuffix(baseURL, "/"), symbol, binanceInterval(interval), limit+1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var rows [][]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	if len(rows) > 1 {
		rows = rows[:len(rows)-1]
	}
	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKlineRow(row, symbol, interval)
		if err != nil {
			return nil, err
		}
		candles = append(candles, *candle)
	}
	return candles, nil
}

func binanceInterval(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}

// CEXDepth polls a Binance-compatible bookTicker endpoint for top-of-book
// snapshots on the tracked spot symbol.
type CEXDepth struct {
	baseURL  string
	symbol   string
	interval time.Duration
	client   *http.Client
}

// NewCEXDepth builds the depth poller.
func NewCEXDepth(baseURL, symbol string, interval time.Duration) *CEXDepth {
	if interval <= 0 {
		interval = time.Second
	}
	return &CEXDepth{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		symbol:   symbol,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *CEXDepth) Name() string            { return "cex_depth" }
func (c *CEXDepth) Interval() time.Duration { return c.interval }

func (c *CEXDepth) Open(ctx context.Context) (Session, error) {
	return newPollSession(c.Name(), c.interval, c.fetch), nil
}

type bookTickerResponse struct {
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

func (c *CEXDepth) fetch(ctx context.Context) ([]market.Event, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/bookTicker?symbol=%s", c.baseURL, c.symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload bookTickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode bookTicker: %w", err)
	}
	bid, err1 := strconv.ParseFloat(payload.BidPrice, 64)
	ask, err2 := strconv.ParseFloat(payload.AskPrice, 64)
	if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 {
		return nil, fmt.Errorf("invalid book ticker %q/%q", payload.BidPrice, payload.AskPrice)
	}
	bidSize, _ := strconv.ParseFloat(payload.BidQty, 64)
	askSize, _ := strconv.ParseFloat(payload.AskQty, 64)

	return []market.Event{{
		Kind: market.KindBookDelta,
		BookDelta: &market.BookDelta{
			Symbol:  c.symbol,
			Bid:     bid,
			BidSize: bidSize,
			Ask:     ask,
			AskSize: askSize,
		},
	}}, nil
}
