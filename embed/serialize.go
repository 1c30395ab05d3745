package embed

import (
	"encoding/binary"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/qacompanion/qac/errors"
)

// SerializeFloat32 encodes a vector in the little-endian blob format the
// vec0 virtual table accepts.
func SerializeFloat32(vector []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(vector)
}

// DeserializeFloat32 decodes a blob produced by SerializeFloat32 or read
// back from a vec0 column.
func DeserializeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Newf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}

// CosineSimilarity computes the cosine similarity between two embeddings.
// Zero vectors have no direction and yield similarity 0.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, errors.Wrapf(errors.ErrEmbeddingDim, "%d vs %d", len(a), len(b))
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))), nil
}
