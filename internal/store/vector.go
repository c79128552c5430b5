package store

import (
	"encoding/binary"
	"math"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

// encodeVector serializes a []float32 as a little-endian BLOB of D*4
// bytes, per spec §4.C3's embeddings table definition.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, memerr.New(memerr.Corruption, "embedding blob length %d not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}

// isZeroVector reports whether every component is exactly zero —
// invariant 2 (spec §3) forbids this once an embedding is set.
func isZeroVector(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return len(v) > 0
}
