package waterfall

import (
	"math"
)

const (
	defaultMinPower = -120.0 // dB
	defaultMaxPower = -20.0  // dB

	minimumSampleCount = 20
	minimumRange       = 30 // dB
	smoothing          = 0.2
)

// bounds is the power range mapped onto the color gradient.
type bounds struct {
	Min float64
	Max float64
}

func defaultBounds() bounds {
	return bounds{Min: defaultMinPower, Max: defaultMaxPower}
}

// histogram counts power values in 1 dB bins.
type histogram struct {
	bins   map[int]uint64
	total  uint64
	minBin int
	maxBin int
}

func newHistogram() *histogram {
	h := &histogram{}
	h.clear()
	return h
}

func (h *histogram) clear() {
	h.bins = make(map[int]uint64)
	h.total = 0
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32
}

func (h *histogram) add(power float64) {
	if math.IsNaN(power) || math.IsInf(power, 0) {
		return
	}

	bin := int(math.Floor(power))
	h.bins[bin]++
	h.total++
	h.minBin = min(h.minBin, bin)
	h.maxBin = max(h.maxBin, bin)
}

// percentileBounds returns the 5th..95th percentile range widened to at
// least minimumRange dB plus a 10% margin.
func (h *histogram) percentileBounds() bounds {
	if h.total < minimumSampleCount {
		return defaultBounds()
	}

	target := h.total * 5 / 100

	var count uint64
	low := h.minBin
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		count += h.bins[bin]
		if count >= target {
			low = bin
			break
		}
	}

	count = 0
	high := h.maxBin
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += h.bins[bin]
		if count >= target {
			high = bin
			break
		}
	}

	if high-low < minimumRange {
		center := (high + low) / 2
		low = center - minimumRange/2
		high = center + minimumRange/2
	}

	margin := (high - low) / 10
	return bounds{
		Min: float64(low - margin),
		Max: float64(high + margin),
	}
}

// boundsTracker smooths the percentile bounds between renders.
type boundsTracker struct {
	hist    *histogram
	current bounds
	primed  bool
}

func newBoundsTracker() *boundsTracker {
	return &boundsTracker{
		hist:    newHistogram(),
		current: defaultBounds(),
	}
}

func (t *boundsTracker) update(rows [][]float64) bounds {
	t.hist.clear()
	for _, row := range rows {
		for _, p := range row {
			t.hist.add(p)
		}
	}

	next := t.hist.percentileBounds()
	if !t.primed {
		t.current = next
		t.primed = t.hist.total >= minimumSampleCount
		return t.current
	}

	t.current.Min = t.current.Min*(1-smoothing) + next.Min*smoothing
	t.current.Max = t.current.Max*(1-smoothing) + next.Max*smoothing
	return t.current
}
