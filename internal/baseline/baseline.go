// Package baseline keeps a short rolling history per sensor channel and
// reports its median as the channel's recent normal level.
package baseline

import (
	"sort"
	"sync"
)

// DefaultCapacity is the number of Ok readings kept per channel.
const DefaultCapacity = 30

// Rolling is a fixed-capacity FIFO of readings. Once full, each new value
// evicts the oldest one.
type Rolling struct {
	data  []float64
	index int // next write position
	size  int
}

// NewRolling creates a history holding at most capacity values.
func NewRolling(capacity int) *Rolling {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Rolling{data: make([]float64, capacity)}
}

// Observe appends v, evicting the oldest value when full.
func (r *Rolling) Observe(v float64) {
	r.data[r.index] = v
	r.index = (r.index + 1) % len(r.data)
	if r.size < len(r.data) {
		r.size++
	}
}

// Len returns the number of values held.
func (r *Rolling) Len() int { return r.size }

// Values returns the held values, oldest first.
func (r *Rolling) Values() []float64 {
	out := make([]float64, r.size)
	start := (r.index - r.size + len(r.data)) % len(r.data)
	for i := range out {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}

// Median returns the median of the history. For an even count it is the
// mean of the two middle values. ok is false when the history is empty.
func (r *Rolling) Median() (median float64, ok bool) {
	if r.size == 0 {
		return 0, false
	}
	vals := r.Values()
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid], true
	}
	return (vals[mid-1] + vals[mid]) / 2, true
}

// Tracker holds one Rolling history per named channel.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	channels map[string]*Rolling
}

// NewTracker creates a tracker whose channels hold capacity values each.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{capacity: capacity, channels: make(map[string]*Rolling)}
}

// Observe records v for channel. Callers only pass readings whose status
// was ok.
func (t *Tracker) Observe(channel string, v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.channels[channel]
	if !ok {
		r = NewRolling(t.capacity)
		t.channels[channel] = r
	}
	r.Observe(v)
}

// Median returns the channel's median, or nil when it has no history.
func (t *Tracker) Median(channel string) *float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.channels[channel]
	if !ok {
		return nil
	}
	m, ok := r.Median()
	if !ok {
		return nil
	}
	return &m
}
