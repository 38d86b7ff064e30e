// Package ids generates time-ordered 128-bit identifiers (UUIDv7) used as
// primary keys for every governance entity. IDs sort lexicographically by
// creation time, which keyset pagination and deterministic rule ordering
// rely on.
package ids

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator emits UUIDv7 identifiers with a process-local monotonic
// counter. Two IDs generated in the same millisecond are strictly
// increasing. No database round-trip is involved.
type Generator struct {
	mu      sync.Mutex
	lastMs  int64
	counter uint16 // 12-bit sub-millisecond sequence
	now     func() time.Time
}

// NewGenerator returns a Generator using the wall clock.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// NewGeneratorWithClock allows injecting a clock for tests.
func NewGeneratorWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// New returns the next identifier.
//
// Layout (big-endian):
//
//	bits   0..47  unix_ts_ms
//	bits  48..51  version (0x7)
//	bits  52..63  monotonic counter, reset each millisecond
//	bits  64..65  variant (0b10)
//	bits  66..127 random
func (g *Generator) New() uuid.UUID {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	switch {
	case ms < g.lastMs:
		// Clock went backwards; keep emitting against the last
		// observed millisecond so ordering holds.
		ms = g.lastMs
		g.counter++
	case ms == g.lastMs:
		g.counter++
	default:
		g.lastMs = ms
		g.counter = 0
	}
	if g.counter > 0x0FFF {
		// Counter exhausted within one millisecond; borrow the next one.
		g.lastMs++
		ms = g.lastMs
		g.counter = 0
	}
	seq := g.counter
	g.mu.Unlock()

	var id uuid.UUID
	if _, err := rand.Read(id[8:]); err != nil {
		// crypto/rand failing means the platform RNG is broken; there is
		// no safe fallback for identifier entropy.
		panic(fmt.Sprintf("ids: system RNG unavailable: %v", err))
	}

	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)
	id[6] = 0x70 | byte(seq>>8)
	id[7] = byte(seq)
	id[8] = 0x80 | (id[8] & 0x3F)
	return id
}

// NewString returns the next identifier in canonical string form.
func (g *Generator) NewString() string {
	return g.New().String()
}

var defaultGenerator = NewGenerator()

// New returns an identifier from the package-level generator.
func New() uuid.UUID { return defaultGenerator.New() }

// NewString returns a canonical-string identifier from the package-level
// generator.
func NewString() string { return defaultGenerator.NewString() }

// Timestamp extracts the embedded millisecond timestamp of an identifier.
func Timestamp(id uuid.UUID) time.Time {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms).UTC()
}
