package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"solvbot-go/internal/market"
)

func TestPumpFunFetchEmitsVolumeSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/volume" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"volume24h": 1500000}`))
	}))
	defer server.Close()

	src := NewPumpFun(server.URL, "MEME_AGG", time.Hour)
	sess, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer sess.Close()

	ev, err := sess.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv returned error: %v", err)
	}
	if ev.Kind != market.KindVolumeSnapshot {
		t.Fatalf("expected volume snapshot, got %s", ev.Kind)
	}
	if ev.VolumeSnapshot.Symbol != "MEME_AGG" || ev.VolumeSnapshot.Volume24h != 1500000 {
		t.Fatalf("unexpected snapshot %+v", ev.VolumeSnapshot)
	}
	if ev.Source != "pumpfun" || ev.Seq != 1 {
		t.Fatalf("unexpected stamping: source=%s seq=%d", ev.Source, ev.Seq)
	}
}

func TestDeFiLlamaFetchRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	src := NewDeFiLlama(server.URL, "pump.fun", "MEME_AGG", time.Hour)
	sess, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer sess.Close()

	if _, err := sess.Recv(context.Background()); err == nil {
		t.Fatalf("expected error for bad status")
	}
}

func TestCEXDepthFetchParsesBookTicker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "SOLUSDT" {
			t.Fatalf("missing symbol query")
		}
		_, _ = w.Write([]byte(`{"bidPrice":"160.95","bidQty":"120","askPrice":"161.05","askQty":"80"}`))
	}))
	defer server.Close()

	src := NewCEXDepth(server.URL, "SOLUSDT", 50*time.Millisecond)
	sess, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer sess.Close()

	ev, err := sess.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv returned error: %v", err)
	}
	if ev.Kind != market.KindBookDelta {
		t.Fatalf("expected book delta, got %s", ev.Kind)
	}
	if ev.BookDelta.Bid != 160.95 || ev.BookDelta.Ask != 161.05 {
		t.Fatalf("unexpected top of book %+v", ev.BookDelta)
	}
}

func TestCEXCandlesEmitsOnlyNewClosedCandles(t *testing.T) {
	const body = `[[1700000000000,"160.0","161.5","159.5","161.0","12345",1700000299999],` +
		`[1700000300000,"161.0","161.2","160.8","161.1","999",1700000599999]]`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	src := NewCEXCandles(server.URL, "SOLUSDT", 5*time.Minute)

	events, err := src.fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(events))
	}
	c := events[0].Candle
	if c.Close != 161.0 || c.Open != 160.0 || c.Volume != 12345 {
		t.Fatalf("unexpected candle %+v", c)
	}
	if c.Start != time.UnixMilli(1700000000000).UTC() {
		t.Fatalf("unexpected start %s", c.Start)
	}

	// Same payload again: the closed candle was already emitted.
	events, err = src.fetch(context.Background())
	if err != nil {
		t.Fatalf("second fetch returned error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no repeat candle, got %d", len(events))
	}
}

func TestCEXCandlesFallsBackToCoinGecko(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	gecko := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"solana":{"usd":161.4}}`))
	}))
	defer gecko.Close()

	src := NewCEXCandles(primary.URL, "SOLUSDT", 5*time.Minute)
	src.coingeckoURL = gecko.URL

	events, err := src.fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if len(events) != 1 || events[0].Candle.Close != 161.4 {
		t.Fatalf("expected fallback candle at 161.4, got %+v", events)
	}
}
