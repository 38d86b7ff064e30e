package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorValid(t *testing.T) {
	for _, op := range AllOperators {
		assert.True(t, op.Valid(), "operator %s", op)
	}
	assert.False(t, Operator("LIKE").Valid())
	assert.False(t, Operator("").Valid())
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("BETWEEN")
	require.NoError(t, err)
	assert.Equal(t, OpBetween, op)
	assert.True(t, op.MultiValue())

	_, err = ParseOperator("like")
	require.Error(t, err)
}
