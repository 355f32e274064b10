//go:build !portaudio

package plugin

import "fmt"

type AudioSource struct{}

func NewAudioSource(o SourceOptions) (*AudioSource, error) {
	return nil, fmt.Errorf("audio input: %w (build with -tags portaudio)", ErrSourceUnavailable)
}

func (a *AudioSource) Start(sink Sink) error { return ErrSourceUnavailable }
func (a *AudioSource) Stop() error           { return nil }
func (a *AudioSource) Close() error          { return nil }
func (a *AudioSource) Type() string          { return "audio-disabled" }

func ListAudioDevices() ([]DeviceInfo, error) {
	return nil, fmt.Errorf("audio input: %w", ErrSourceUnavailable)
}
