//go:build !rtlsdr

package plugin

import (
	"fmt"

	Qt "github.com/maroda/iqscope/types"
)

type RTLSource struct{}

func NewRTLSource(o SourceOptions) (*RTLSource, error) {
	return nil, fmt.Errorf("rtl input: %w (build with -tags rtlsdr)", ErrSourceUnavailable)
}

func (r *RTLSource) ReadSamples(n int) (Qt.SampleChunk, error) {
	return nil, ErrSourceUnavailable
}

func (r *RTLSource) Frequency() (float64, error)   { return 0, ErrSourceUnavailable }
func (r *RTLSource) SetFrequency(hz float64) error { return ErrSourceUnavailable }
func (r *RTLSource) Close() error                  { return nil }
func (r *RTLSource) Type() string                  { return "rtl-disabled" }

func ListRTLDevices() ([]DeviceInfo, error) {
	return nil, fmt.Errorf("rtl input: %w", ErrSourceUnavailable)
}
