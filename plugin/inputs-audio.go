//go:build portaudio

package plugin

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// AudioSource streams 2-channel 16-bit I/Q from a sound card.
// PortAudio calls back on its own thread once per chunk.
type AudioSource struct {
	MU     sync.Mutex
	Device *portaudio.DeviceInfo
	stream *portaudio.Stream
	sink   Sink
	err    error
}

func NewAudioSource(o SourceOptions) (*AudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	info, err := audioDevice(o.DeviceIndex)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	slog.Info("Using audio device",
		slog.Int("index", info.Index),
		slog.String("name", info.Name))

	p := portaudio.HighLatencyParameters(info, nil)
	p.Input.Channels = 2
	p.Output.Channels = 0
	p.SampleRate = float64(o.SampleRate)
	p.FramesPerBuffer = o.ChunkSamples

	a := &AudioSource{Device: info}
	stream, err := portaudio.OpenStream(p, a.callback)
	if err != nil {
		portaudio.Terminate()
		slog.Error("Requested audio mode is not supported",
			slog.Int("sampleRate", o.SampleRate),
			slog.Any("Error", err))
		return nil, fmt.Errorf("open input: %w", err)
	}
	a.stream = stream
	return a, nil
}

func audioDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return info, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if index >= len(devices) {
		return nil, fmt.Errorf("device not found: %d", index)
	}
	return devices[index], nil
}

// callback runs on the PortAudio thread; in is interleaved left, right
func (a *AudioSource) callback(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	raw := make([]byte, 2*len(in))
	for k, v := range in {
		binary.LittleEndian.PutUint16(raw[2*k:], uint16(v))
	}
	overflow := flags&portaudio.InputOverflow != 0

	a.MU.Lock()
	sink := a.sink
	a.MU.Unlock()
	if sink == nil {
		return
	}

	if err := sink(raw, overflow); err != nil {
		a.MU.Lock()
		if a.err == nil {
			slog.Error("Audio sink refused chunk", slog.Any("Error", err))
		}
		a.err = err
		a.MU.Unlock()
	}
}

func (a *AudioSource) Start(sink Sink) error {
	a.MU.Lock()
	a.sink = sink
	a.MU.Unlock()
	return a.stream.Start()
}

func (a *AudioSource) Stop() error {
	return a.stream.Stop()
}

func (a *AudioSource) Close() error {
	a.stream.Stop()
	err := a.stream.Close()
	portaudio.Terminate()
	return err
}

// Err is the last sink error, if any
func (a *AudioSource) Err() error {
	a.MU.Lock()
	defer a.MU.Unlock()
	return a.err
}

func (a *AudioSource) Type() string { return "audio" }

// ListAudioDevices reports every device with input channels
func ListAudioDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()

	var list []DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels == 0 { // output
			continue
		}
		list = append(list, DeviceInfo{
			Index:             d.Index,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && def.Index == d.Index,
		})
	}
	return list, nil
}
