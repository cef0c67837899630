package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"solvbot-go/internal/market"
)

// PumpFun polls the pump.fun volume endpoint for the memecoin aggregate
// 24h volume.
type PumpFun struct {
	baseURL  string
	symbol   string
	interval time.Duration
	client   *http.Client
}

// NewPumpFun builds a poller against the given base URL, emitting
// snapshots labeled with the aggregate symbol.
func NewPumpFun(baseURL, symbol string, interval time.Duration) *PumpFun {
	return &PumpFun{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		symbol:   symbol,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *PumpFun) Name() string            { return "pumpfun" }
func (p *PumpFun) Interval() time.Duration { return p.interval }

func (p *PumpFun) Open(ctx context.Context) (Session, error) {
	return newPollSession(p.Name(), p.interval, p.fetch), nil
}

type pumpfunVolumeResponse struct {
	Volume24h float64 `json:"volume24h"`
}

func (p *PumpFun) fetch(ctx context.Context) ([]market.Event, error) {
	url := p.baseURL + "/volume"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "solvbot/1.0")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload pumpfunVolumeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.Volume24h <= 0 {
		return nil, fmt.Errorf("non-positive volume %f", payload.Volume24h)
	}
	return []market.Event{{
		Kind: market.KindVolumeSnapshot,
		VolumeSnapshot: &market.VolumeSnapshot{
			Symbol:    p.symbol,
			Volume24h: payload.Volume24h,
		},
	}}, nil
}
