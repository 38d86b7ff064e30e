package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysSortedRecursively(t *testing.T) {
	in := map[string]any{
		"z": 1,
		"a": map[string]any{"c": 2, "b": 3},
	}
	out, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":3,"c":2},"z":1}`, string(out))
}

func TestArrayOrderPreserved(t *testing.T) {
	in := map[string]any{"rules": []any{3, 1, 2}}
	out, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"rules":[3,1,2]}`, string(out))
}

func TestNoHTMLEscaping(t *testing.T) {
	out, err := Marshal(map[string]any{"q": "a<b&c>d"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b&c>d"}`, string(out))
}

func TestControlCharactersEscaped(t *testing.T) {
	out, err := Marshal(map[string]any{"s": "line\nbreak\t\"quoted\""})
	require.NoError(t, err)
	assert.Equal(t, `{"s":"line\nbreak\t\"quoted\""}`, string(out))
}

func TestIntegersWithoutTrailingDecimal(t *testing.T) {
	out, err := Marshal(map[string]any{"amount": float64(3000)})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":3000}`, string(out))
}

func TestStrictRejectsFloats(t *testing.T) {
	_, err := MarshalStrict(map[string]any{"amount": 3000.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-integer")
}

func TestLenientFloatsShortestRoundTrip(t *testing.T) {
	out, err := Marshal(map[string]any{"f": 0.1})
	require.NoError(t, err)
	assert.Equal(t, `{"f":0.1}`, string(out))
}

func TestStructTagsHonored(t *testing.T) {
	type payload struct {
		Version int    `json:"version"`
		ID      string `json:"rulesetId"`
	}
	out, err := MarshalStrict(payload{Version: 5, ID: "rs-1"})
	require.NoError(t, err)
	assert.Equal(t, `{"rulesetId":"rs-1","version":5}`, string(out))
}

func TestChecksumFormat(t *testing.T) {
	sum := Checksum([]byte("{}"))
	assert.Regexp(t, ChecksumPattern, sum)
	assert.Len(t, sum, 71)
}

func TestChecksumStable(t *testing.T) {
	a, err := ChecksumValue(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := ChecksumValue(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
