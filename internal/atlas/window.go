package atlas

import "time"

// writeWindow counts writes in fixed-width buckets over a rolling window.
type writeWindow struct {
	buckets []uint64
	width   time.Duration
	head    int
	start   time.Time // start of the head bucket
}

func newWriteWindow(window time.Duration, buckets int) *writeWindow {
	if buckets <= 0 {
		buckets = 60
	}
	width := window / time.Duration(buckets)
	if width <= 0 {
		width = time.Second
	}
	return &writeWindow{buckets: make([]uint64, buckets), width: width}
}

func (w *writeWindow) advance(now time.Time) {
	if w.start.IsZero() {
		w.start = now.Truncate(w.width)
		return
	}
	steps := int(now.Sub(w.start) / w.width)
	if steps <= 0 {
		return
	}
	if steps >= len(w.buckets) {
		clear(w.buckets)
	} else {
		for range steps {
			w.head = (w.head + 1) % len(w.buckets)
			w.buckets[w.head] = 0
		}
	}
	w.start = w.start.Add(time.Duration(steps) * w.width)
}

func (w *writeWindow) record(now time.Time) {
	w.advance(now)
	w.buckets[w.head]++
}

// rate returns writes per second over the whole window.
func (w *writeWindow) rate(now time.Time) float64 {
	w.advance(now)
	var sum uint64
	for _, b := range w.buckets {
		sum += b
	}
	return float64(sum) / (w.width * time.Duration(len(w.buckets))).Seconds()
}
