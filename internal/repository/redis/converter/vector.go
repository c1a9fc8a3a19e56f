// Package converter кодирует значения кэша Redis.
package converter

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector упаковывает вектор в little-endian float32, 4 байта на компоненту.
func EncodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}

	return buf
}

// DecodeVector обратная операция к EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector payload length %d", len(data))
	}

	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}

	return vector, nil
}
