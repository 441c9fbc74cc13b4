package canonical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/continent/continent/canonical"
)

func TestChecksumStableUnderKeyOrder(t *testing.T) {
	a := map[string]any{"id": "1", "s": "a"}
	b := map[string]any{"s": "a", "id": "1"}

	checksumA, errE := canonical.Checksum(a)
	require.NoError(t, errE)
	checksumB, errE := canonical.Checksum(b)
	require.NoError(t, errE)

	assert.Equal(t, checksumA, checksumB)
}

func TestChecksumDiffersOnContent(t *testing.T) {
	a := map[string]any{"id": "1", "s": "a"}
	b := map[string]any{"id": "1", "s": "b"}

	checksumA, errE := canonical.Checksum(a)
	require.NoError(t, errE)
	checksumB, errE := canonical.Checksum(b)
	require.NoError(t, errE)

	assert.NotEqual(t, checksumA, checksumB)
}

func TestEqualNumericNormalization(t *testing.T) {
	a := map[string]any{"amount": float64(1)}
	b := map[string]any{"amount": float64(1.0)}

	assert.True(t, canonical.Equal(a, b))
}

func TestEqualKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"id": "1", "nested": map[string]any{"x": 1, "y": 2}}
	b := map[string]any{"nested": map[string]any{"y": 2, "x": 1}, "id": "1"}

	assert.True(t, canonical.Equal(a, b))
}
