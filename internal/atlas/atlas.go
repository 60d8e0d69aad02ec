// Package atlas implements the adaptive service-discovery index.
//
// The index is a binary search tree of service/operation entries held in an
// arena and addressed by [Handle]. It balances under one [Discipline] at a
// time: AVL for strictly balanced reads, Red-Black for cheap writes, or
// Hybrid, which resolves to one of the two from the observed write rate.
// Switching the effective discipline relinks every entry under the new
// rules, an O(n log n) operation taken under an exclusive lock.
//
// All methods are safe for concurrent use. Lookups run under a shared lock.
package atlas

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	// ErrDuplicateKey is returned by Register when the key already exists.
	ErrDuplicateKey = errors.New("atlas: duplicate key")

	// ErrNotFound is returned when a key is not in the index.
	ErrNotFound = errors.New("atlas: not found")
)

// Discipline is the balancing strategy of the index.
type Discipline int

const (
	// AVL keeps every balance factor in {-1,0,1}; favours reads.
	AVL Discipline = iota

	// RedBlack keeps the red-black invariants; favours writes.
	RedBlack

	// Hybrid picks AVL or RedBlack from the recent write rate.
	Hybrid
)

// String returns the discipline's config name.
func (d Discipline) String() string {
	switch d {
	case AVL:
		return "avl"
	case RedBlack:
		return "red-black"
	case Hybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseDiscipline is the inverse of [Discipline.String].
func ParseDiscipline(s string) (Discipline, error) {
	switch strings.ToLower(s) {
	case "avl":
		return AVL, nil
	case "red-black", "redblack", "rb":
		return RedBlack, nil
	case "hybrid", "":
		return Hybrid, nil
	}
	return Hybrid, fmt.Errorf("atlas: unknown discipline %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Discipline) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Discipline) UnmarshalText(b []byte) error {
	v, err := ParseDiscipline(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Key identifies an entry. Keys order lexicographically by service, then
// operation.
type Key struct {
	Service   string `json:"service"`
	Operation string `json:"operation"`
}

// Compare returns -1, 0 or +1.
func (k Key) Compare(o Key) int {
	if c := strings.Compare(k.Service, o.Service); c != 0 {
		return c
	}
	return strings.Compare(k.Operation, o.Operation)
}

func (k Key) String() string { return k.Service + "/" + k.Operation }

// Coords are geomorphic coordinates: functional, organizational and
// geographical dimensions of a service.
type Coords struct {
	X uint64 `json:"x" yaml:"x"`
	Y uint64 `json:"y" yaml:"y"`
	Z uint64 `json:"z" yaml:"z"`
}

// Entry is a snapshot of one registered service/operation.
type Entry struct {
	Service   string `json:"service"`
	Operation string `json:"operation"`
	Coords    Coords `json:"coords"`

	// Backend names the codec backend serving this entry; Fallbacks are
	// tried in order when a cascade is active.
	Backend   string   `json:"backend,omitempty"`
	Fallbacks []string `json:"fallbacks,omitempty"`

	DynamicCost     float64 `json:"dynamic_cost"`
	ConfidenceScore float64 `json:"confidence_score"`
	AccessFrequency uint64  `json:"access_frequency"`

	// Discipline is the discipline the entry is currently balanced under.
	Discipline Discipline `json:"discipline"`
}

// Key returns the entry's key.
func (e Entry) Key() Key { return Key{Service: e.Service, Operation: e.Operation} }

// Config tunes an [Index].
type Config struct {
	// Discipline is the initial requested discipline. The zero value is AVL.
	Discipline Discipline

	// HybridWindow is the rolling window for the write rate. Default: 60s.
	HybridWindow time.Duration

	// HybridWriteRate is the writes/second at or above which Hybrid
	// resolves to RedBlack. Default: 1.
	HybridWriteRate float64

	// HybridInterval is the minimum time between Hybrid re-evaluations.
	// Default: 10s.
	HybridInterval time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Index is the adaptive discovery index.
type Index struct {
	mu        sync.RWMutex
	t         *tree
	requested Discipline
	writes    *writeWindow
	lastEval  time.Time
	rebuilds  int

	writeRate float64
	interval  time.Duration
	now       func() time.Time
}

// New creates an empty index. Zero-value config fields take defaults.
func New(cfg Config) *Index {
	if cfg.HybridWindow <= 0 {
		cfg.HybridWindow = time.Minute
	}
	if cfg.HybridWriteRate <= 0 {
		cfg.HybridWriteRate = 1
	}
	if cfg.HybridInterval <= 0 {
		cfg.HybridInterval = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ix := &Index{
		requested: cfg.Discipline,
		writes:    newWriteWindow(cfg.HybridWindow, 60),
		writeRate: cfg.HybridWriteRate,
		interval:  cfg.HybridInterval,
		now:       cfg.Now,
	}
	ix.t = newTree(ix.resolve(ix.now()))
	return ix
}

// resolve maps the requested discipline to a concrete one. Must be called
// with mu held for writing.
func (ix *Index) resolve(now time.Time) Discipline {
	if ix.requested != Hybrid {
		return ix.requested
	}
	ix.lastEval = now
	if ix.writes.rate(now) < ix.writeRate {
		return AVL
	}
	return RedBlack
}

// Register inserts a new entry. It fails with ErrDuplicateKey when the key
// exists; use Upsert to update.
func (ix *Index) Register(e Entry) (Handle, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if h := ix.t.find(e.Key()); h.Valid() {
		return h, fmt.Errorf("register %s: %w", e.Key(), ErrDuplicateKey)
	}
	return ix.insertLocked(e), nil
}

// Upsert inserts e, or updates the coordinates, backend routing and cost of
// an existing entry. Access frequency and confidence of an existing entry
// are kept. created reports whether a new entry was made.
func (ix *Index) Upsert(e Entry) (h Handle, created bool, err error) {
	if e.Service == "" || e.Operation == "" {
		return NoHandle, false, fmt.Errorf("upsert: service and operation are required")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if h = ix.t.find(e.Key()); h.Valid() {
		cur := &ix.t.nodes[h].entry
		cur.Coords = e.Coords
		cur.Backend = e.Backend
		cur.Fallbacks = slices.Clone(e.Fallbacks)
		cur.DynamicCost = e.DynamicCost
		ix.writes.record(ix.now())
		return h, false, nil
	}
	return ix.insertLocked(e), true, nil
}

func (ix *Index) insertLocked(e Entry) Handle {
	e.Fallbacks = slices.Clone(e.Fallbacks)
	e.AccessFrequency = 0
	h := ix.t.insert(e, nil)
	ix.writes.record(ix.now())
	return h
}

// Lookup returns the entry for k and counts the access.
func (ix *Index) Lookup(k Key) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	h := ix.t.find(k)
	if !h.Valid() {
		return Entry{}, false
	}
	n := &ix.t.nodes[h]
	n.hits.Add(1)
	return ix.snapshot(h), true
}

// Contains reports whether k is indexed without counting an access.
func (ix *Index) Contains(k Key) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.t.find(k).Valid()
}

// Get returns the entry at h without counting an access.
func (ix *Index) Get(h Handle) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !h.Valid() || int(h) >= len(ix.t.nodes) {
		return Entry{}, false
	}
	return ix.snapshot(h), true
}

// snapshot copies the entry at h. Must be called with mu held.
func (ix *Index) snapshot(h Handle) Entry {
	n := &ix.t.nodes[h]
	e := n.entry
	e.Fallbacks = slices.Clone(e.Fallbacks)
	e.AccessFrequency = n.hits.Load()
	e.Discipline = ix.t.mode
	return e
}

// UpdateMetrics records the cost and confidence observed after a request.
func (ix *Index) UpdateMetrics(k Key, cost, confidence float64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	h := ix.t.find(k)
	if !h.Valid() {
		return fmt.Errorf("update %s: %w", k, ErrNotFound)
	}
	e := &ix.t.nodes[h].entry
	e.DynamicCost = cost
	e.ConfidenceScore = confidence
	ix.writes.record(ix.now())
	return nil
}

// SetDiscipline requests discipline d. If the effective discipline changes,
// every entry is relinked under the new rules. Under Hybrid the write rate
// is re-evaluated at most once per HybridInterval. It reports whether a
// rebuild happened.
func (ix *Index) SetDiscipline(d Discipline) bool {
	ix.mu.RLock()
	now := ix.now()
	stable := ix.requested == d && (d != Hybrid || now.Sub(ix.lastEval) < ix.interval)
	ix.mu.RUnlock()
	if stable {
		return false
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.requested = d
	target := ix.resolve(now)
	if target == ix.t.mode {
		return false
	}

	start := time.Now()
	from := ix.t.mode
	ix.t.relink(target)
	ix.t.mustValidate()
	ix.rebuilds++

	slog.Info("atlas rebuilt",
		"from", from.String(),
		"to", target.String(),
		"requested", d.String(),
		"entries", len(ix.t.nodes),
		"duration", time.Since(start))
	return true
}

// Discipline returns the requested discipline.
func (ix *Index) Discipline() Discipline {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.requested
}

// Effective returns the concrete discipline the tree is balanced under.
func (ix *Index) Effective() Discipline {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.t.mode
}

// Rebuilds returns how many discipline rebuilds have run.
func (ix *Index) Rebuilds() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.rebuilds
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.t.nodes)
}

// Height returns the tree height.
func (ix *Index) Height() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.t.height()
}

// Entries returns a snapshot of every entry in key order.
func (ix *Index) Entries() []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	order := ix.t.inorder()
	out := make([]Entry, len(order))
	for i, h := range order {
		out[i] = ix.snapshot(h)
	}
	return out
}

// Validate checks the tree against the active discipline's invariants.
func (ix *Index) Validate() error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.t.validate()
}

// Remove deletes k. This is an administrative operation: the arena is
// rebuilt without the entry, which invalidates all outstanding handles.
func (ix *Index) Remove(k Key) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.t.find(k).Valid() {
		return fmt.Errorf("remove %s: %w", k, ErrNotFound)
	}
	next := newTree(ix.t.mode)
	for _, h := range ix.t.inorder() {
		n := ix.t.nodes[h]
		if n.entry.Key() == k {
			continue
		}
		next.insert(n.entry, n.hits)
	}
	next.mustValidate()
	ix.t = next
	ix.writes.record(ix.now())
	return nil
}
