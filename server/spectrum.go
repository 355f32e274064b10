package iqscope

import (
	"fmt"
	"math"
	"slices"
	"sync/atomic"

	"github.com/cwbudde/algo-vecmath"
	Qt "github.com/maroda/iqscope/types"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Engine turns one chunk of complex samples into one dB spectrum frame.
// It owns its scratch buffers, so a single consumer goroutine drives it.
type Engine struct {
	size     int
	buffers  int // sub-buffers analysed per chunk
	pulse    float64
	dbAdjust float64
	window   []float64
	fft      *fourier.CmplxFFT
	status   *Status

	rejected     atomic.Uint64
	lastRejected int

	re, im, mags, pw, acc []float64
	seg, coeffs           []complex128
}

// HannWindow is the symmetric Hann taper 0.5(1-cos(2πi/(N-1)))
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// DBAdjust is the level of a full scale 16-bit tone, reported as 0 dB
func DBAdjust(size int) float64 {
	return 20 * math.Log10(float64(size)*math.Pow(2, 15))
}

func NewEngine(cfg Config, status *Status) *Engine {
	if status == nil {
		status = NewStatus()
	}
	n := cfg.FFTSize
	buffers := cfg.BuffersPerChunk
	if cfg.Taking > 0 && cfg.Taking < buffers {
		buffers = cfg.Taking
	}
	return &Engine{
		size:     n,
		buffers:  buffers,
		pulse:    cfg.PulseThreshold,
		dbAdjust: DBAdjust(n),
		window:   HannWindow(n),
		fft:      fourier.NewCmplxFFT(n),
		status:   status,
		re:       make([]float64, n),
		im:       make([]float64, n),
		mags:     make([]float64, n),
		pw:       make([]float64, n),
		acc:      make([]float64, n),
		seg:      make([]complex128, n),
		coeffs:   make([]complex128, n),
	}
}

// DBAdjust returns the calibration constant subtracted from every bin
func (e *Engine) DBAdjust() float64 { return e.dbAdjust }

// Rejected is the lifetime count of sub-buffers dropped as noise pulses
func (e *Engine) Rejected() uint64 { return e.rejected.Load() }

// LastRejected is the number of sub-buffers dropped from the last chunk
func (e *Engine) LastRejected() int { return e.lastRejected }

// Size is the FFT length
func (e *Engine) Size() int { return e.size }

// Window returns a copy of the taper
func (e *Engine) Window() []float64 { return slices.Clone(e.window) }

// split copies samples into the re/im scratch and fills mags with |x|
func (e *Engine) split(samples []complex128) {
	for i, c := range samples {
		e.re[i] = real(c)
		e.im[i] = imag(c)
	}
	vecmath.Magnitude(e.mags, e.re, e.im)
}

// Median returns the median, averaging the middle pair for even lengths
func Median(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	s := slices.Clone(v)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// FFTShift rotates a spectrum so the zero frequency bin lands at len/2
func FFTShift(dst, src []complex128) {
	n := len(src)
	half := n / 2
	for k := range n {
		dst[k] = src[(k-half+n)%n]
	}
}

// LogPowerSpectrum computes the averaged, pulse-filtered power spectrum of a chunk.
// The median magnitude of the first sub-buffer sets the pulse threshold for the
// whole chunk. A sub-buffer whose peak reaches the threshold is skipped and the
// clip indicator is raised. When every sub-buffer is skipped the power is taken
// as 1 in every bin, which is a flat line at -DBAdjust.
func (e *Engine) LogPowerSpectrum(samples Qt.SampleChunk) (Qt.SpectrumFrame, error) {
	n := e.size
	if len(samples) < n {
		return nil, fmt.Errorf("chunk of %d samples is shorter than one %d point sub-buffer", len(samples), n)
	}
	nbuf := min(e.buffers, len(samples)/n)

	e.split(samples[:n])
	threshold := e.pulse * Median(e.mags)

	clear(e.acc)
	taken := 0
	e.lastRejected = 0
	for ic := range nbuf {
		segment := samples[ic*n : (ic+1)*n]
		e.split(segment)

		if slices.Max(e.mags) >= threshold {
			e.rejected.Add(1)
			e.lastRejected++
			e.status.RaiseClip()
			continue
		}

		vecmath.MulBlockInPlace(e.re, e.window)
		vecmath.MulBlockInPlace(e.im, e.window)
		for i := range e.seg {
			e.seg[i] = complex(e.re[i], e.im[i])
		}
		e.fft.Coefficients(e.coeffs, e.seg)
		FFTShift(e.seg, e.coeffs)

		for i, c := range e.seg {
			e.re[i] = real(c)
			e.im[i] = imag(c)
		}
		vecmath.Power(e.pw, e.re, e.im)
		vecmath.AddBlockInPlace(e.acc, e.pw)
		taken++
	}

	if taken > 0 {
		vecmath.ScaleBlock(e.acc, e.acc, 1/float64(taken))
	} else {
		for i := range e.acc {
			e.acc[i] = 1
		}
	}

	frame := make(Qt.SpectrumFrame, n)
	for i, p := range e.acc {
		frame[i] = 10*math.Log10(p) - e.dbAdjust
	}
	return frame, nil
}
