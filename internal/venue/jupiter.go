package venue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
)

// Pair maps a symbol onto the mint addresses a swap routes between.
// Quote is the pricing currency (USDC), Base the traded asset (SOL).
type Pair struct {
	BaseMint      string
	QuoteMint     string
	BaseDecimals  int
	QuoteDecimals int
}

// Jupiter executes orders as atomic swaps through the Jupiter
// aggregator. Swaps either land or fail; nothing can rest, so Limit
// and StopMarket orders are refused and stops fall back to price
// monitoring upstream.
type Jupiter struct {
	Base   string
	RPC    *rpc.Client
	Owner  solana.PrivateKey
	Commit rpc.CommitmentType
	Http   *http.Client

	log         zerolog.Logger
	slippageBps int
	pairs       map[string]Pair
	fills       chan Fill
	fillSeq     int
}

// Quote is Jupiter's route response for one prospective swap.
type Quote struct {
	InputMint      string  `json:"inputMint"`
	OutputMint     string  `json:"outputMint"`
	InAmount       string  `json:"inAmount"`
	OutAmount      string  `json:"outAmount"`
	OtherAmount    string  `json:"otherAmountThreshold"`
	SlippageBps    int     `json:"slippageBps"`
	RoutePlan      any     `json:"routePlan"`
	PriceImpactPct float64 `json:"priceImpactPct"`
}

// NewJupiter builds the live swap venue.
func NewJupiter(rpcURL, base string, owner solana.PrivateKey, commit string, slippageBps int, pairs map[string]Pair, log zerolog.Logger) *Jupiter {
	c := rpc.CommitmentConfirmed
	switch commit {
	case "processed":
		c = rpc.CommitmentProcessed
	case "finalized":
		c = rpc.CommitmentFinalized
	}
	if slippageBps <= 0 {
		slippageBps = 50
	}
	return &Jupiter{
		Base:        base,
		RPC:         rpc.New(rpcURL),
		Owner:       owner,
		Commit:      c,
		Http:        &http.Client{Timeout: 8 * time.Second},
		log:         log,
		slippageBps: slippageBps,
		pairs:       pairs,
		fills:       make(chan Fill, 64),
	}
}

// Submit swaps immediately for Market and IOC orders. The realized
// price comes from the quote actually routed, not the order price.
func (j *Jupiter) Submit(ctx context.Context, order Order) (Order, error) {
	if order.Type != Market && order.Type != IOC {
		order.Status = Rejected
		return order, ErrRestingUnsupported
	}
	pair, ok := j.pairs[order.Symbol]
	if !ok {
		order.Status = Rejected
		return order, fmt.Errorf("order %s: no mint mapping for %s", order.ID, order.Symbol)
	}

	inputMint, outputMint, amount, err := swapLeg(order, pair)
	if err != nil {
		order.Status = Rejected
		return order, err
	}

	quote, err := j.GetQuote(ctx, inputMint, outputMint, amount, j.slippageBps)
	if err != nil {
		order.Status = Rejected
		return order, fmt.Errorf("order %s: %w", order.ID, err)
	}
	price, err := quotePrice(order.Side, quote, pair)
	if err != nil {
		order.Status = Rejected
		return order, fmt.Errorf("order %s: %w", order.ID, err)
	}

	sig, err := j.buildAndSendSwap(ctx, quote)
	if err != nil {
		order.Status = Rejected
		return order, fmt.Errorf("order %s: %w", order.ID, err)
	}
	j.log.Info().
		Str("order", order.ID).
		Str("signature", sig.String()).
		Float64("price", price).
		Msg("swap submitted")

	order.Status = Filled
	order.FilledQty = order.Qty
	order.AvgPrice = price

	j.fillSeq++
	fill := Fill{
		ID:      fmt.Sprintf("%s-%d", sig.String(), j.fillSeq),
		OrderID: order.ID,
		Symbol:  order.Symbol,
		Side:    order.Side,
		Qty:     order.Qty,
		Price:   price,
		Ts:      time.Now().UTC(),
	}
	select {
	case j.fills <- fill:
	default:
		j.log.Warn().Str("fill", fill.ID).Msg("fill channel saturated, report dropped")
	}
	return order, nil
}

// Cancel is meaningless for atomic swaps.
func (j *Jupiter) Cancel(ctx context.Context, orderID string) error {
	return ErrRestingUnsupported
}

// Fills streams swap confirmations.
func (j *Jupiter) Fills() <-chan Fill { return j.fills }

// SupportsResting is always false: a swap cannot sit on a book.
func (j *Jupiter) SupportsResting() bool { return false }

// swapLeg maps an order to the swap direction and input amount in
// smallest units.
func swapLeg(order Order, pair Pair) (inputMint, outputMint string, amount uint64, err error) {
	switch order.Side {
	case Buy:
		if order.Price <= 0 {
			return "", "", 0, fmt.Errorf("buy swap needs a reference price")
		}
		// Spend quote currency to receive base.
		notional := order.Qty * order.Price
		return pair.QuoteMint, pair.BaseMint, toSmallest(notional, pair.QuoteDecimals), nil
	case Sell:
		return pair.BaseMint, pair.QuoteMint, toSmallest(order.Qty, pair.BaseDecimals), nil
	default:
		return "", "", 0, fmt.Errorf("unknown side %s", order.Side)
	}
}

// quotePrice derives the effective base price from the routed amounts.
func quotePrice(side Side, q *Quote, pair Pair) (float64, error) {
	in, err := strconv.ParseFloat(q.InAmount, 64)
	if err != nil {
		return 0, fmt.Errorf("quote inAmount %q: %w", q.InAmount, err)
	}
	out, err := strconv.ParseFloat(q.OutAmount, 64)
	if err != nil {
		return 0, fmt.Errorf("quote outAmount %q: %w", q.OutAmount, err)
	}
	if in <= 0 || out <= 0 {
		return 0, fmt.Errorf("degenerate quote amounts %s/%s", q.InAmount, q.OutAmount)
	}
	if side == Buy {
		quoteAmt := in / math.Pow10(pair.QuoteDecimals)
		baseAmt := out / math.Pow10(pair.BaseDecimals)
		return quoteAmt / baseAmt, nil
	}
	baseAmt := in / math.Pow10(pair.BaseDecimals)
	quoteAmt := out / math.Pow10(pair.QuoteDecimals)
	return quoteAmt / baseAmt, nil
}

func toSmallest(amount float64, decimals int) uint64 {
	return uint64(math.Round(amount * math.Pow10(decimals)))
}

// GetQuote fetches a route for the given amount in smallest units.
func (j *Jupiter) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", fmt.Sprintf("%d", amount))
	q.Set("slippageBps", fmt.Sprintf("%d", slippageBps))
	q.Set("onlyDirectRoutes", "false")
	u := j.Base + "/v6/quote?" + q.Encode()

	req, _ := http.NewRequestWithContext(ctx, "GET", u, nil)
	resp, err := j.Http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("jupiter quote status %d", resp.StatusCode)
	}
	var out Quote
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// buildAndSendSwap asks Jupiter for a ready-to-sign transaction, signs
// it locally, then submits via RPC.
func (j *Jupiter) buildAndSendSwap(ctx context.Context, quote *Quote) (sig solana.Signature, err error) {
	payload := map[string]any{
		"userPublicKey":             j.Owner.PublicKey().String(),
		"wrapAndUnwrapSol":          true,
		"asLegacyTransaction":       false,
		"useTokenLedger":            false,
		"prioritizationFeeLamports": 0,
		"quoteResponse":             quote,
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequestWithContext(ctx, "POST", j.Base+"/v6/swap", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := j.Http.Do(req)
	if err != nil {
		return sig, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return sig, fmt.Errorf("jupiter swap status %d", resp.StatusCode)
	}
	var sr struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return sig, err
	}

	raw, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return sig, fmt.Errorf("decode tx: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return sig, fmt.Errorf("unmarshal tx: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(j.Owner.PublicKey()) {
			return &j.Owner
		}
		return nil
	})
	if err != nil {
		return sig, fmt.Errorf("sign: %w", err)
	}

	sig, err = j.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: j.Commit,
	})
	return sig, err
}
