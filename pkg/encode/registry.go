package encode

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/wachiwi/framecast/pkg/memory"
)

// Rank orders capabilities; lower ranks are tried first.
type Rank int

const (
	RankPrimary Rank = iota
	RankSecondary
	RankFallback
)

func (r Rank) String() string {
	switch r {
	case RankPrimary:
		return "primary"
	case RankSecondary:
		return "secondary"
	case RankFallback:
		return "fallback"
	default:
		return fmt.Sprintf("rank(%d)", int(r))
	}
}

// Capability describes an encoder that may be present on this build.
// Open fails when the encoder cannot run here.
type Capability struct {
	Name string
	Rank Rank
	Open func(alloc *memory.Allocator) (Encoder, error)
}

var (
	registryMu sync.Mutex
	registry   []Capability
)

// Register adds a capability. Encoders register themselves from init.
func Register(c Capability) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, c)
}

// Capabilities returns the registered capabilities ordered by rank.
func Capabilities() []Capability {
	registryMu.Lock()
	caps := slices.Clone(registry)
	registryMu.Unlock()
	sortCapabilities(caps)
	return caps
}

func sortCapabilities(caps []Capability) {
	slices.SortStableFunc(caps, func(a, b Capability) int {
		return int(a.Rank) - int(b.Rank)
	})
}

// Select opens the best capability not named in disabled.
func Select(alloc *memory.Allocator, caps []Capability, disabled ...string) (Encoder, Rank, error) {
	caps = slices.Clone(caps)
	sortCapabilities(caps)

	var errs []error
	for _, c := range caps {
		if slices.Contains(disabled, c.Name) {
			slog.Debug("Encoder disabled by configuration", "encoder", c.Name)
			continue
		}
		enc, err := c.Open(alloc)
		if err != nil {
			slog.Debug("Encoder unavailable", "encoder", c.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		return enc, c.Rank, nil
	}
	if len(errs) == 0 {
		return nil, 0, ErrNoEncoder
	}
	return nil, 0, fmt.Errorf("%w: %w", ErrNoEncoder, errors.Join(errs...))
}
