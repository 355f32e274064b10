package types

/*

	These are the "immutable" core types of iqscope,
	provided for cross-package use (e.g. Plugins) and testing.

	There are no functions defined here.
	Struct constructors are housed in their own packages.

*/

import "time"

// RawChunk is one acquisition unit exactly as the hardware handed it over:
// interleaved 16-bit little-endian samples, left channel first.
// Once queued it is never written again.
type RawChunk []byte

// SampleChunk is the complex form of a chunk,
// buffers_per_chunk × fft_size samples long.
type SampleChunk []complex128

// SpectrumFrame is one log-power spectrum in dB,
// fft_size bins with DC at the center bin.
type SpectrumFrame []float64

// FrameRecord is a recorded spectrum frame
type FrameRecord struct {
	Sequence  uint64    // monotonic frame number
	Timestamp time.Time // when the frame was produced
	Source    string    // source name: audio, rtl, synth, file
	Values    []float32 // dB values, DC at the center
	Rejected  int       // sub-buffers rejected as pulses in this frame
}

// CPUUsage is the ancillary load reading shown in the live info panel
type CPUUsage struct {
	User    float64 // fraction of wall time in user mode
	System  float64 // fraction of wall time in kernel mode
	LoadAvg float64 // 1 minute load average
}
