//go:build rtlsdr

package plugin

import (
	"fmt"
	"log/slog"
	"sync"

	rtl "github.com/jpoirier/gortlsdr"
	Qt "github.com/maroda/iqscope/types"
)

// RTLSource reads unsigned 8-bit I/Q from an RTL-SDR dongle.
// It is polled by the consumer and doubles as the tuner.
type RTLSource struct {
	MU     sync.Mutex
	device *rtl.Context
	buf    []byte
}

func NewRTLSource(o SourceOptions) (*RTLSource, error) {
	device, err := rtl.Open(max(o.DeviceIndex, 0))
	if err != nil {
		slog.Error("Could not open RTL-SDR", slog.Any("Error", err))
		return nil, fmt.Errorf("rtl open: %w", err)
	}

	fail := func(step string, err error) (*RTLSource, error) {
		device.Close()
		slog.Error("RTL-SDR setup failed", slog.String("step", step), slog.Any("Error", err))
		return nil, fmt.Errorf("rtl %s: %w", step, err)
	}

	if err := device.SetSampleRate(o.SampleRate); err != nil {
		return fail("sample rate", err)
	}
	if err := device.SetCenterFreq(int(o.RTLFrequency)); err != nil {
		return fail("center frequency", err)
	}
	if o.RTLGain == 0 {
		if err := device.SetTunerGainMode(false); err != nil {
			return fail("auto gain", err)
		}
	} else {
		if err := device.SetTunerGainMode(true); err != nil {
			return fail("manual gain", err)
		}
		if err := device.SetTunerGain(o.RTLGain); err != nil {
			return fail("gain", err)
		}
	}
	if err := device.ResetBuffer(); err != nil {
		return fail("reset buffer", err)
	}

	slog.Info("RTL-SDR opened",
		slog.Int("sampleRate", device.GetSampleRate()),
		slog.Int("centerFreq", device.GetCenterFreq()))

	return &RTLSource{device: device}, nil
}

// ReadSamples blocks for n complex samples
func (r *RTLSource) ReadSamples(n int) (Qt.SampleChunk, error) {
	r.MU.Lock()
	defer r.MU.Unlock()

	if len(r.buf) != 2*n {
		r.buf = make([]byte, 2*n)
	}
	read, err := r.device.ReadSync(r.buf, len(r.buf))
	if err != nil {
		return nil, fmt.Errorf("rtl read: %w", err)
	}
	if read < len(r.buf) {
		return nil, fmt.Errorf("rtl short read: %d of %d bytes", read, len(r.buf))
	}
	return RTLSamples(r.buf), nil
}

func (r *RTLSource) Frequency() (float64, error) {
	r.MU.Lock()
	defer r.MU.Unlock()
	return float64(r.device.GetCenterFreq()), nil
}

func (r *RTLSource) SetFrequency(hz float64) error {
	r.MU.Lock()
	defer r.MU.Unlock()
	return r.device.SetCenterFreq(int(hz))
}

func (r *RTLSource) Close() error {
	r.MU.Lock()
	defer r.MU.Unlock()
	return r.device.Close()
}

func (r *RTLSource) Type() string { return "rtl" }

// ListRTLDevices reports attached dongles
func ListRTLDevices() ([]DeviceInfo, error) {
	count := rtl.GetDeviceCount()
	list := make([]DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		list = append(list, DeviceInfo{
			Index:            i,
			Name:             rtl.GetDeviceName(i),
			MaxInputChannels: 1,
			Default:          i == 0,
		})
	}
	return list, nil
}
