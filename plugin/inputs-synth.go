package plugin

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	Qt "github.com/maroda/iqscope/types"
)

// Tone is one complex sinusoid offset from the center frequency
type Tone struct {
	OffsetHz  float64 `mapstructure:"offset_hz" json:"offset_hz"`
	Amplitude float64 `mapstructure:"amplitude" json:"amplitude"` // in 16-bit sample units
}

// SynthOptions shape the generated signal
type SynthOptions struct {
	Tones      []Tone  `mapstructure:"tones" json:"tones"`
	NoiseAmp   float64 `mapstructure:"noise_amp" json:"noise_amp"`     // gaussian sigma per component
	PulseEvery int     `mapstructure:"pulse_every" json:"pulse_every"` // chunks between impulse bursts, 0 = none
	PulseAmp   float64 `mapstructure:"pulse_amp" json:"pulse_amp"`
	PulseLen   int     `mapstructure:"pulse_len" json:"pulse_len"`
	Seed       uint64  `mapstructure:"seed" json:"seed"`
}

// DefaultSynthOptions is two carriers over a modest noise floor with
// an occasional ignition-noise style burst
func DefaultSynthOptions() SynthOptions {
	return SynthOptions{
		Tones: []Tone{
			{OffsetHz: 6000, Amplitude: 3000},
			{OffsetHz: -11000, Amplitude: 300},
		},
		NoiseAmp:   20,
		PulseEvery: 25,
		PulseAmp:   30000,
		PulseLen:   8,
		Seed:       1,
	}
}

// SynthSource is a PushSource generating test signals in real time
type SynthSource struct {
	MU           sync.Mutex
	opts         SynthOptions
	sampleRate   int
	chunkSamples int
	phases       []float64
	rng          *rand.Rand
	count        int
	Pace         time.Duration
	StopChan     chan struct{}
	WG           sync.WaitGroup
	err          error
}

func NewSynthSource(o SourceOptions) (*SynthSource, error) {
	if o.SampleRate <= 0 || o.ChunkSamples <= 0 {
		return nil, fmt.Errorf("synth source needs a sample rate and chunk size, got %d and %d",
			o.SampleRate, o.ChunkSamples)
	}
	pace := time.Duration(float64(o.ChunkSamples) / float64(o.SampleRate) * float64(time.Second))
	if pace <= 0 {
		pace = time.Millisecond
	}
	return &SynthSource{
		opts:         o.Synth,
		sampleRate:   o.SampleRate,
		chunkSamples: o.ChunkSamples,
		phases:       make([]float64, len(o.Synth.Tones)),
		rng:          rand.New(rand.NewPCG(o.Synth.Seed, o.Synth.Seed^0x9e3779b97f4a7c15)),
		Pace:         pace,
	}, nil
}

// NextChunk generates the next chunk of complex samples, phase continuous
func (s *SynthSource) NextChunk() Qt.SampleChunk {
	s.MU.Lock()
	defer s.MU.Unlock()

	out := make(Qt.SampleChunk, s.chunkSamples)
	for ti, tone := range s.opts.Tones {
		step := 2 * math.Pi * tone.OffsetHz / float64(s.sampleRate)
		ph := s.phases[ti]
		for k := range out {
			out[k] += complex(tone.Amplitude*math.Cos(ph), tone.Amplitude*math.Sin(ph))
			ph += step
		}
		s.phases[ti] = math.Mod(ph, 2*math.Pi)
	}

	if s.opts.NoiseAmp > 0 {
		for k := range out {
			out[k] += complex(s.opts.NoiseAmp*s.rng.NormFloat64(), s.opts.NoiseAmp*s.rng.NormFloat64())
		}
	}

	s.count++
	if s.opts.PulseEvery > 0 && s.count%s.opts.PulseEvery == 0 && s.opts.PulseLen > 0 {
		at := s.rng.IntN(max(1, s.chunkSamples-s.opts.PulseLen))
		for k := at; k < at+s.opts.PulseLen && k < len(out); k++ {
			out[k] += complex(s.opts.PulseAmp, -s.opts.PulseAmp)
		}
	}
	return out
}

// Start delivers one chunk per chunk period until stopped or the sink refuses
func (s *SynthSource) Start(sink Sink) error {
	s.MU.Lock()
	if s.StopChan != nil {
		s.MU.Unlock()
		return fmt.Errorf("synth source already started")
	}
	s.StopChan = make(chan struct{})
	stop := s.StopChan
	s.MU.Unlock()

	ticker := time.NewTicker(s.Pace)
	s.WG.Add(1)
	go func() {
		defer s.WG.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := sink(EncodeStereo(s.NextChunk()), false); err != nil {
					slog.Error("Synth source sink refused chunk", slog.Any("Error", err))
					s.MU.Lock()
					s.err = err
					s.MU.Unlock()
					return
				}
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// Stop halts delivery; Start may be called again afterwards
func (s *SynthSource) Stop() error {
	s.MU.Lock()
	stop := s.StopChan
	s.StopChan = nil
	s.MU.Unlock()

	if stop != nil {
		close(stop)
		s.WG.Wait()
	}
	return nil
}

func (s *SynthSource) Close() error { return s.Stop() }

// Err is the sink error that ended delivery, if any
func (s *SynthSource) Err() error {
	s.MU.Lock()
	defer s.MU.Unlock()
	return s.err
}

func (s *SynthSource) Type() string { return "synth" }
