package venue

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
)

var solPair = Pair{
	BaseMint:      "So11111111111111111111111111111111111111112",
	QuoteMint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	BaseDecimals:  9,
	QuoteDecimals: 6,
}

func testJupiter(base string) *Jupiter {
	wallet := solana.NewWallet()
	return NewJupiter("https://rpc", base, wallet.PrivateKey, "processed",
		50, map[string]Pair{"SOLUSDT": solPair}, zerolog.Nop())
}

func TestNewJupiterCommitMapping(t *testing.T) {
	wallet := solana.NewWallet()
	j := NewJupiter("https://rpc", "https://jup", wallet.PrivateKey, "finalized", 50, nil, zerolog.Nop())
	if j.Commit != rpc.CommitmentFinalized {
		t.Fatalf("expected finalized commitment, got %v", j.Commit)
	}
}

func TestJupiterGetQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v6/quote" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("inputMint") != solPair.QuoteMint {
			t.Fatalf("missing inputMint query")
		}
		resp := Quote{InputMint: solPair.QuoteMint, OutputMint: solPair.BaseMint, InAmount: "161000000", OutAmount: "1000000000", SlippageBps: 50}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	j := testJupiter(server.URL)
	j.Http = server.Client()

	quote, err := j.GetQuote(context.Background(), solPair.QuoteMint, solPair.BaseMint, 161000000, 50)
	if err != nil {
		t.Fatalf("GetQuote returned error: %v", err)
	}
	if quote.OutAmount != "1000000000" {
		t.Fatalf("expected OutAmount 1000000000, got %s", quote.OutAmount)
	}
}

func TestJupiterRefusesRestingOrders(t *testing.T) {
	j := testJupiter("https://jup")
	for _, typ := range []OrderType{Limit, StopMarket} {
		ack, err := j.Submit(context.Background(), Order{ID: "o1", Symbol: "SOLUSDT", Side: Sell, Type: typ, Price: 155, Qty: 1})
		if err != ErrRestingUnsupported || ack.Status != Rejected {
			t.Fatalf("%s: expected resting refusal, got %+v err=%v", typ, ack, err)
		}
	}
	if j.SupportsResting() {
		t.Fatalf("swap venue must not claim resting support")
	}
	if err := j.Cancel(context.Background(), "o1"); err != ErrRestingUnsupported {
		t.Fatalf("expected cancel refusal, got %v", err)
	}
}

func TestSwapLegDirections(t *testing.T) {
	buy := Order{Side: Buy, Price: 161, Qty: 2}
	in, out, amount, err := swapLeg(buy, solPair)
	if err != nil {
		t.Fatalf("buy leg: %v", err)
	}
	if in != solPair.QuoteMint || out != solPair.BaseMint {
		t.Fatalf("buy leg routed %s->%s", in, out)
	}
	// 2 * 161 USDC at 6 decimals.
	if amount != 322000000 {
		t.Fatalf("buy amount %d, want 322000000", amount)
	}

	sell := Order{Side: Sell, Qty: 1.5}
	in, out, amount, err = swapLeg(sell, solPair)
	if err != nil {
		t.Fatalf("sell leg: %v", err)
	}
	if in != solPair.BaseMint || out != solPair.QuoteMint {
		t.Fatalf("sell leg routed %s->%s", in, out)
	}
	if amount != 1500000000 {
		t.Fatalf("sell amount %d, want 1500000000", amount)
	}
}

func TestQuotePriceDerivation(t *testing.T) {
	// Buy: 161 USDC in, 1 SOL out.
	buyQuote := &Quote{InAmount: "161000000", OutAmount: "1000000000"}
	price, err := quotePrice(Buy, buyQuote, solPair)
	if err != nil {
		t.Fatalf("buy price: %v", err)
	}
	if math.Abs(price-161) > 1e-9 {
		t.Fatalf("buy price %.6f, want 161", price)
	}

	// Sell: 2 SOL in, 320 USDC out.
	sellQuote := &Quote{InAmount: "2000000000", OutAmount: "320000000"}
	price, err = quotePrice(Sell, sellQuote, solPair)
	if err != nil {
		t.Fatalf("sell price: %v", err)
	}
	if math.Abs(price-160) > 1e-9 {
		t.Fatalf("sell price %.6f, want 160", price)
	}

	if _, err := quotePrice(Buy, &Quote{InAmount: "0", OutAmount: "1"}, solPair); err == nil {
		t.Fatalf("expected error on degenerate quote")
	}
}
