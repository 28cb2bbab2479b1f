package pib

import (
	"math/rand"
	"sync"

	"github.com/ibemu/pib/internal/objalloc"
)

// ObjectAllocator allocates and releases object numbers (QP numbers, CQ
// numbers) from some range. It is an external collaborator per spec §1/§6
// — the core never decides numbering policy itself, only consumes it.
type ObjectAllocator interface {
	Alloc() (uint32, bool)
	Release(num uint32)
	InUse(num uint32) bool
}

// compile-time check that the reference bitmap allocator satisfies it.
var _ ObjectAllocator = (*objalloc.Bitmap)(nil)

// Behavior is a named error-injection flag a BehaviorRegistry can have
// enabled, per spec §6's CORRUPT_INVALID_WC_ATTRS hook.
type Behavior string

const (
	// BehaviorCorruptInvalidWCAttrs names the WC-corruption fault. Device
	// stores its BehaviorRegistry, but no completion path consults it, so
	// enabling this flag changes no delivered WC.
	BehaviorCorruptInvalidWCAttrs Behavior = "CORRUPT_INVALID_WC_ATTRS"
)

// BehaviorRegistry is a pluggable source of truth for which
// error-injection behaviors are currently enabled, consumed as an
// external collaborator rather than hardcoded into the core.
type BehaviorRegistry interface {
	Enabled(b Behavior) bool
}

// StaticBehaviorRegistry is the default BehaviorRegistry: a fixed set
// configured at construction, with everything else disabled.
type StaticBehaviorRegistry struct {
	mu      sync.RWMutex
	enabled map[Behavior]bool
}

// NewStaticBehaviorRegistry creates a registry with the given behaviors
// enabled; all others report false.
func NewStaticBehaviorRegistry(enabled ...Behavior) *StaticBehaviorRegistry {
	m := make(map[Behavior]bool, len(enabled))
	for _, b := range enabled {
		m[b] = true
	}
	return &StaticBehaviorRegistry{enabled: m}
}

func (r *StaticBehaviorRegistry) Enabled(b Behavior) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[b]
}

// Set toggles b at runtime, so a test can flip a behavior on mid-scenario.
func (r *StaticBehaviorRegistry) Set(b Behavior, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[b] = on
}

var _ BehaviorRegistry = (*StaticBehaviorRegistry)(nil)

// PRNG is a randomness source decoupled from math/rand's global state so
// tests can supply a seeded, reproducible one. Device keeps the PRNG it is
// given, but no code path draws from it.
type PRNG interface {
	Intn(n int) int
}

// mathRandPRNG wraps a *rand.Rand to satisfy PRNG.
type mathRandPRNG struct {
	r *rand.Rand
}

// NewPRNG creates a PRNG seeded with seed. A fixed seed makes
// error-injection scenarios reproducible across test runs.
func NewPRNG(seed int64) PRNG {
	return &mathRandPRNG{r: rand.New(rand.NewSource(seed))}
}

func (p *mathRandPRNG) Intn(n int) int { return p.r.Intn(n) }

// Tracer receives trace events for packets and state transitions; a no-op
// implementation is always acceptable per spec §6.
type Tracer interface {
	Trace(event string, fields map[string]any)
}

// NoOpTracer discards every event.
type NoOpTracer struct{}

func (NoOpTracer) Trace(string, map[string]any) {}

var _ Tracer = NoOpTracer{}
