package signal

import (
	"math"
	"testing"
)

func TestRSIUndefinedUntilWindowFull(t *testing.T) {
	r := NewRSI(14)
	for i := 0; i < 14; i++ {
		r.Push(100 + float64(i))
		if r.Ready() {
			t.Fatalf("RSI ready after only %d closes", i+1)
		}
	}
	r.Push(115)
	if !r.Ready() {
		t.Fatalf("RSI not ready after 15 closes")
	}
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	r := NewRSI(14)
	for i := 0; i <= 14; i++ {
		r.Push(100 + float64(i))
	}
	if r.Value() != 100 {
		t.Fatalf("expected RSI 100 for monotone gains, got %.2f", r.Value())
	}
}

func TestRSIWilderSmoothing(t *testing.T) {
	// period 2, closes 10, 11, 10, 11:
	// seed avgGain=avgLoss=0.5 -> RSI 50; then gain 1 smooths to
	// avgGain 0.75, avgLoss 0.25 -> RS 3 -> RSI 75.
	r := NewRSI(2)
	r.Push(10)
	r.Push(11)
	r.Push(10)
	if math.Abs(r.Value()-50) > 1e-9 {
		t.Fatalf("expected RSI 50 after seed, got %.4f", r.Value())
	}
	r.Push(11)
	if math.Abs(r.Value()-75) > 1e-9 {
		t.Fatalf("expected RSI 75 after smoothing, got %.4f", r.Value())
	}
}

func TestRSIFallingSeriesIsOversold(t *testing.T) {
	r := NewRSI(14)
	px := 175.0
	for i := 0; i <= 14; i++ {
		r.Push(px)
		px -= 1
	}
	if v := r.Value(); v >= 45 {
		t.Fatalf("expected oversold RSI for falling series, got %.2f", v)
	}
}

func TestRSIResetForcesReaccumulation(t *testing.T) {
	r := NewRSI(14)
	for i := 0; i <= 14; i++ {
		r.Push(float64(100 + i))
	}
	if !r.Ready() {
		t.Fatalf("expected ready before reset")
	}
	r.Reset()
	if r.Ready() {
		t.Fatalf("expected not ready after reset")
	}
	for i := 0; i < 14; i++ {
		r.Push(float64(100 + i))
		if r.Ready() {
			t.Fatalf("ready too early after reset at %d closes", i+1)
		}
	}
	r.Push(200)
	if !r.Ready() {
		t.Fatalf("expected ready after full re-accumulation")
	}
}
