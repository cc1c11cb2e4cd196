package memory

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrExhausted is returned when no pool can satisfy a request.
	ErrExhausted = errors.New("memory exhausted")
	// ErrDoubleFree is returned when a buffer is freed more than once.
	ErrDoubleFree = errors.New("buffer already freed")
	// ErrForeignBuffer is returned when a buffer is freed on an allocator that did not create it.
	ErrForeignBuffer = errors.New("buffer belongs to another allocator")
)

// Tier selects which pool a request is served from.
type Tier int

const (
	// TierFast must be served by the fast pool and never falls through to the large pool.
	TierFast Tier = iota
	// TierLarge prefers the large pool and falls back to the fast pool for
	// requests at or below the fast ceiling.
	TierLarge
)

func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierLarge:
		return "large"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Config sizes the two pools. A zero LargeBytes models a device without
// external memory.
type Config struct {
	FastBytes   int
	FastReserve int
	LargeBytes  int
}

const (
	DefaultFastBytes   = 320 << 10
	DefaultFastReserve = 64 << 10
	DefaultLargeBytes  = 4 << 20
)

// DefaultConfig mirrors a typical board with a few hundred KB of internal
// RAM and 4 MB of external RAM.
func DefaultConfig() Config {
	return Config{
		FastBytes:   DefaultFastBytes,
		FastReserve: DefaultFastReserve,
		LargeBytes:  DefaultLargeBytes,
	}
}

type pool struct {
	total int
	used  int
	peak  int
	live  int
}

func (p *pool) fits(size int) bool {
	return p.total-p.used >= size
}

func (p *pool) take(size int) {
	p.used += size
	p.live++
	if p.used > p.peak {
		p.peak = p.used
	}
}

func (p *pool) give(size int) {
	p.used -= size
	p.live--
}

// Allocator accounts for buffers drawn from a fast and a large pool. It is
// safe for concurrent use.
type Allocator struct {
	mu       sync.Mutex
	fast     pool
	large    pool
	ceiling  int
	failures uint64
}

// New creates an allocator. The fast ceiling for large-tier fallbacks is the
// fast pool size minus the reserve.
func New(cfg Config) *Allocator {
	if cfg.FastBytes < 0 {
		cfg.FastBytes = 0
	}
	if cfg.LargeBytes < 0 {
		cfg.LargeBytes = 0
	}
	ceiling := cfg.FastBytes - cfg.FastReserve
	if ceiling < 0 {
		ceiling = 0
	}
	return &Allocator{
		fast:    pool{total: cfg.FastBytes},
		large:   pool{total: cfg.LargeBytes},
		ceiling: ceiling,
	}
}

// Ceiling is the largest large-tier request that may be served by the fast pool.
func (a *Allocator) Ceiling() int {
	return a.ceiling
}

// Alloc reserves size zeroed bytes. On failure the returned error wraps
// ErrExhausted and no memory is held.
func (a *Allocator) Alloc(size int, hint Tier) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid allocation size %d", size)
	}

	a.mu.Lock()
	tier, ok := a.pick(size, hint)
	if !ok {
		a.failures++
		a.mu.Unlock()
		return nil, fmt.Errorf("alloc %d bytes (%s): %w", size, hint, ErrExhausted)
	}
	a.mu.Unlock()

	return &Buffer{
		data:  make([]byte, size),
		tier:  tier,
		owner: a,
	}, nil
}

// pick reserves capacity for the request; a.mu must be held.
func (a *Allocator) pick(size int, hint Tier) (Tier, bool) {
	switch hint {
	case TierFast:
		if a.fast.fits(size) {
			a.fast.take(size)
			return TierFast, true
		}
	case TierLarge:
		if a.large.fits(size) {
			a.large.take(size)
			return TierLarge, true
		}
		if size <= a.ceiling && a.fast.fits(size) {
			a.fast.take(size)
			return TierFast, true
		}
	}
	return hint, false
}

// Free returns a buffer to its pool. Freeing twice reports ErrDoubleFree and
// leaves the accounting untouched.
func (a *Allocator) Free(b *Buffer) error {
	if b == nil {
		return nil
	}
	if b.owner != a {
		return ErrForeignBuffer
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if b.freed {
		return ErrDoubleFree
	}
	b.freed = true

	switch b.tier {
	case TierFast:
		a.fast.give(len(b.data))
	case TierLarge:
		a.large.give(len(b.data))
	}
	b.data = nil
	b.n = 0
	return nil
}

// PoolStats describes one pool.
type PoolStats struct {
	Total int
	InUse int
	Peak  int
	Live  int
}

// Stats is a point-in-time snapshot of both pools.
type Stats struct {
	Fast     PoolStats
	Large    PoolStats
	Ceiling  int
	Failures uint64
}

// Outstanding is the number of buffers not yet freed.
func (s Stats) Outstanding() int {
	return s.Fast.Live + s.Large.Live
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Fast:     PoolStats{Total: a.fast.total, InUse: a.fast.used, Peak: a.fast.peak, Live: a.fast.live},
		Large:    PoolStats{Total: a.large.total, InUse: a.large.used, Peak: a.large.peak, Live: a.large.live},
		Ceiling:  a.ceiling,
		Failures: a.failures,
	}
}

// ResetPeaks sets each pool's peak to its current usage.
func (a *Allocator) ResetPeaks() {
	a.mu.Lock()
	a.fast.peak = a.fast.used
	a.large.peak = a.large.used
	a.mu.Unlock()
}
