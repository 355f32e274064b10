package iqscope

import (
	"encoding/binary"
	"math"

	Qt "github.com/maroda/iqscope/types"
)

// SoundCardSamples converts interleaved 16-bit little-endian stereo into
// complex samples. The right channel carries I and the left carries Q.
// lagFix rolls Q forward one sample for codecs that sample R one step late.
// revIQ swaps the two, mirroring the spectrum.
// The raw maxima of I and Q are returned for gain monitoring.
func SoundCardSamples(raw []byte, revIQ, lagFix bool) (Qt.SampleChunk, int, int) {
	n := len(raw) / 4
	if n == 0 {
		return Qt.SampleChunk{}, 0, 0
	}

	re := make([]float64, n)
	im := make([]float64, n)
	maxI, maxQ := math.MinInt16, math.MinInt16
	for k := 0; k < n; k++ {
		left := int16(binary.LittleEndian.Uint16(raw[4*k:]))
		right := int16(binary.LittleEndian.Uint16(raw[4*k+2:]))
		re[k] = float64(right)
		im[k] = float64(left)
		maxI = max(maxI, int(right))
	}

	if lagFix {
		last := im[n-1]
		copy(im[1:], im[:n-1])
		im[0] = last
	}
	for _, q := range im {
		maxQ = max(maxQ, int(q))
	}

	out := make(Qt.SampleChunk, n)
	for k := range out {
		if revIQ {
			out[k] = complex(im[k], re[k])
		} else {
			out[k] = complex(re[k], im[k])
		}
	}
	return out, maxI, maxQ
}

// SwapIQ exchanges real and imaginary parts in place
func SwapIQ(samples Qt.SampleChunk) {
	for k, c := range samples {
		samples[k] = complex(imag(c), real(c))
	}
}
