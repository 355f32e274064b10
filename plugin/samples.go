package plugin

import (
	"encoding/binary"
	"math"

	Qt "github.com/maroda/iqscope/types"
)

func clampInt16(v float64) int16 {
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}

// EncodeStereo packs complex samples the way a sound card delivers I/Q:
// interleaved 16-bit little-endian, left channel = Q first, right channel = I.
func EncodeStereo(samples Qt.SampleChunk) []byte {
	raw := make([]byte, 4*len(samples))
	for k, c := range samples {
		binary.LittleEndian.PutUint16(raw[4*k:], uint16(clampInt16(imag(c))))
		binary.LittleEndian.PutUint16(raw[4*k+2:], uint16(clampInt16(real(c))))
	}
	return raw
}

// RTLSamples converts the dongle's interleaved unsigned 8-bit I/Q pairs
// into complex samples scaled to ±1.
func RTLSamples(raw []byte) Qt.SampleChunk {
	out := make(Qt.SampleChunk, len(raw)/2)
	for k := range out {
		i := (float64(raw[2*k]) - 127.5) / 127.5
		q := (float64(raw[2*k+1]) - 127.5) / 127.5
		out[k] = complex(i, q)
	}
	return out
}
