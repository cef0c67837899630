package signal

import "time"

const baselineAge = 24 * time.Hour

type volumeSample struct {
	ts  time.Time
	vol float64
}

// volumeWindow holds recent aggregate volume samples and answers the
// day-over-day drop question against the same-time-yesterday baseline.
type volumeWindow struct {
	capacity int
	samples  []volumeSample
}

func newVolumeWindow(capacity int) *volumeWindow {
	if capacity <= 0 {
		capacity = 48
	}
	return &volumeWindow{capacity: capacity}
}

func (w *volumeWindow) push(ts time.Time, vol float64) {
	w.samples = append(w.samples, volumeSample{ts: ts, vol: vol})
	if len(w.samples) > w.capacity {
		w.samples = w.samples[len(w.samples)-w.capacity:]
	}
}

// drop returns the fractional decline of the latest sample against the
// baseline recorded ~24h earlier. Positive means volume fell. ok is
// false until a baseline that old exists.
func (w *volumeWindow) drop(now time.Time) (ratio float64, ok bool) {
	if len(w.samples) == 0 {
		return 0, false
	}
	current := w.samples[len(w.samples)-1].vol
	cutoff := now.Add(-baselineAge)

	// Baseline is the newest sample at least 24h old.
	var baseline float64
	found := false
	for _, s := range w.samples {
		if s.ts.After(cutoff) {
			break
		}
		baseline = s.vol
		found = true
	}
	if !found || baseline <= 0 {
		return 0, false
	}
	return (baseline - current) / baseline, true
}

func (w *volumeWindow) reset() {
	w.samples = w.samples[:0]
}
