package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/errors"
)

func TestSerializeFloat32_RoundTrip(t *testing.T) {
	original := []float32{0.1, -0.5, 3.25, 0, 1e-7}

	blob, err := SerializeFloat32(original)
	require.NoError(t, err)
	assert.Len(t, blob, len(original)*4)

	decoded, err := DeserializeFloat32(blob)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDeserializeFloat32_InvalidLength(t *testing.T) {
	_, err := DeserializeFloat32([]byte{1, 2, 3, 4, 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a multiple of 4")
}

func TestDeserializeFloat32_Empty(t *testing.T) {
	decoded, err := DeserializeFloat32(nil)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"scaled", []float32{1, 1}, []float32{5, 5}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmbeddingDim))
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	got, err := CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.Zero(t, got)
}
