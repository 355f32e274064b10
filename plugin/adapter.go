package plugin

/*

	The Adapter sits aside /iqscope/
	Contains core interfaces for Plugin

*/

import (
	"errors"
	"time"

	Qt "github.com/maroda/iqscope/types"
)

// ErrSourceUnavailable is returned by sources that were not compiled in
var ErrSourceUnavailable = errors.New("sample source not available in this build")

// Sink receives one raw chunk per call from a PushSource.
// overflow is set when the hardware reports it dropped data before this chunk.
// A non-nil return tells the source to stop.
type Sink func(data []byte, overflow bool) error

// PushSource delivers chunks from its own goroutine or device callback,
// like a sound card stream.
type PushSource interface {
	Start(sink Sink) error // begin delivering chunks
	Stop() error           // pause delivery
	Close() error          // stop and release the device
	Type() string          // ID for the source
}

// PollSource is read by the consumer itself, like an RTL-SDR dongle.
type PollSource interface {
	ReadSamples(n int) (Qt.SampleChunk, error) // blocking read of n complex samples
	Close() error                              // release the device
	Type() string                              // ID for the source
}

// FrameOutput can be used to define a place for spectrum frames to go,
// frame-by-frame or in batches if supported by the output type.
type FrameOutput interface {
	WriteFrame(rec *Qt.FrameRecord) error                       // Write singleton frame
	WriteBatch(recs []*Qt.FrameRecord) error                    // Write batches of frames
	QueryRange(start, end time.Time) ([]*Qt.FrameRecord, error) // Time range query tool
	Flush() error                                               // Flush any buffered data
	Close() error                                               // Close the adapter and release resources
	Type() string                                               // ID for output
}

// SourceOptions carries what any source needs to open
type SourceOptions struct {
	SampleRate   int     // complex samples per second
	ChunkSamples int     // complex samples per pushed chunk
	DeviceIndex  int     // sound card index, -1 for the default
	FilePath     string  // recording to replay
	Loop         bool    // replay from the start at EOF
	RTLFrequency float64 // dongle center frequency in Hz
	RTLGain      int     // tenths of a dB, 0 = auto
	Synth        SynthOptions
}

// DeviceInfo describes one capture device for the devices listing
type DeviceInfo struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"maxInputChannels"`
	DefaultSampleRate float64 `json:"defaultSampleRate"`
	Default           bool    `json:"default"`
}
