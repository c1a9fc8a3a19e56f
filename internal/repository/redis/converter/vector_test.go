package converter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorEncoding(t *testing.T) {
	vector := []float32{0, -1.5, 3.25, math.MaxFloat32, math.SmallestNonzeroFloat32}

	data := EncodeVector(vector)
	assert.Len(t, data, 20)

	decoded, err := DecodeVector(data)
	require.NoError(t, err)
	assert.Equal(t, vector, decoded)
}

func TestDecodeVector_Invalid(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {1, 2, 3}, make([]byte, 7)} {
		_, err := DecodeVector(data)
		assert.Error(t, err)
	}
}
