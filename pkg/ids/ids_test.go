package ids

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionAndVariantBits(t *testing.T) {
	id := New()
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.Equal(t, byte(0x80), id[8]&0xC0, "variant must be 0b10")
}

func TestMonotonicWithinMillisecond(t *testing.T) {
	frozen := time.UnixMilli(1724400000000)
	g := NewGeneratorWithClock(func() time.Time { return frozen })

	prev := g.New()
	for i := 0; i < 500; i++ {
		next := g.New()
		require.Equal(t, 1, bytes.Compare(next[:], prev[:]),
			"id %d must sort after its predecessor", i)
		prev = next
	}
}

func TestCounterResetsAcrossMilliseconds(t *testing.T) {
	ts := time.UnixMilli(1724400000000)
	g := NewGeneratorWithClock(func() time.Time { return ts })

	g.New()
	g.New()
	ts = ts.Add(time.Millisecond)
	id := g.New()

	seq := uint16(id[6]&0x0F)<<8 | uint16(id[7])
	assert.Equal(t, uint16(0), seq)
}

func TestClockRegressionStillOrdered(t *testing.T) {
	ts := time.UnixMilli(1724400000000)
	g := NewGeneratorWithClock(func() time.Time { return ts })

	a := g.New()
	ts = ts.Add(-5 * time.Millisecond)
	b := g.New()
	require.Equal(t, 1, bytes.Compare(b[:], a[:]))
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := time.UnixMilli(1724400123456)
	g := NewGeneratorWithClock(func() time.Time { return ts })
	id := g.New()
	assert.Equal(t, ts.UTC(), Timestamp(id))
}

func TestStringParses(t *testing.T) {
	s := NewString()
	parsed, err := uuid.Parse(s)
	require.NoError(t, err)
	assert.Equal(t, s, parsed.String())
}
