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

// DeFiLlama polls the DeFiLlama DEX summary endpoint as a second
// observer of the memecoin aggregate volume.
type DeFiLlama struct {
	baseURL  string
	symbol   string
	protocol string
	interval time.Duration
	client   *http.Client
}

// NewDeFiLlama builds a poller for the named protocol's 24h volume.
func NewDeFiLlama(baseURL, protocol, symbol string, interval time.Duration) *DeFiLlama {
	if protocol == "" {
		protocol = "pump.fun"
	}
	return &DeFiLlama{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		symbol:   symbol,
		protocol: protocol,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DeFiLlama) Name() string            { return "defillama" }
func (d *DeFiLlama) Interval() time.Duration { return d.interval }

func (d *DeFiLlama) Open(ctx context.Context) (Session, error) {
	return newPollSession(d.Name(), d.interval, d.fetch), nil
}

type llamaSummaryResponse struct {
	Total24h float64 `json:"total24h"`
}

func (d *DeFiLlama) fetch(ctx context.Context) ([]market.Event, error) {
	url := fmt.Sprintf("%s/summary/dexs/%s", d.baseURL, d.protocol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "solvbot/1.0")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload llamaSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.Total24h <= 0 {
		return nil, fmt.Errorf("non-positive volume %f", payload.Total24h)
	}
	return []market.Event{{
		Kind: market.KindVolumeSnapshot,
		VolumeSnapshot: &market.VolumeSnapshot{
			Symbol:    d.symbol,
			Volume24h: payload.Total24h,
		},
	}}, nil
}
