package signal

// RSI computes the Relative Strength Index over closes using Wilder's
// smoothing. It is undefined (Ready() false) until period+1 closes have
// been observed, and again after a Reset.
type RSI struct {
	period  int
	samples int
	last    float64
	avgGain float64
	avgLoss float64
	// seed accumulators for the first `period` deltas
	gainSum float64
	lossSum float64
}

// NewRSI builds a Wilder RSI with the given look-back period.
func NewRSI(period int) *RSI {
	if period <= 0 {
		period = 14
	}
	return &RSI{period: period}
}

// Push feeds the next close.
func (r *RSI) Push(close float64) {
	if r.samples == 0 {
		r.last = close
		r.samples = 1
		return
	}
	delta := close - r.last
	r.last = close
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.samples <= r.period {
		r.gainSum += gain
		r.lossSum += loss
		r.samples++
		if r.samples == r.period+1 {
			r.avgGain = r.gainSum / float64(r.period)
			r.avgLoss = r.lossSum / float64(r.period)
		}
		return
	}

	n := float64(r.period)
	r.avgGain = (r.avgGain*(n-1) + gain) / n
	r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	r.samples++
}

// Ready reports whether enough closes accumulated for a defined value.
func (r *RSI) Ready() bool { return r.samples >= r.period+1 }

// Value returns the current RSI in [0,100]. Only meaningful when Ready.
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.avgLoss == 0 {
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

// Reset discards all state, forcing a full re-accumulation.
func (r *RSI) Reset() {
	*r = RSI{period: r.period}
}
