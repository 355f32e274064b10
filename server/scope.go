package iqscope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	Qp "github.com/maroda/iqscope/plugin"
	Qt "github.com/maroda/iqscope/types"
)

// waterfallLineHeight is the image height of one waterfall row in pixels
const waterfallLineHeight = 3

// Range adjustment limits, in dB
const (
	rangeStep      = 10
	spMaxCeiling   = 0
	spMaxFloor     = -130
	spMinFloor     = -140
	spMinGap       = 10
	vMaxCeiling    = -10
	vMinFloor      = -130
	paletteMinGap  = 20
	rtlTuneStep    = 10e3
	rtlTuneStepBig = 100e3
	rigTuneStep    = 100
	rigTuneStepBig = 1000
)

// Scope wires the acquisition buffer, the spectrum engine and the waterfall
// into one pipeline. A single consumer goroutine calls Step or Run;
// producers only ever touch it through Sink.
type Scope struct {
	MU     sync.RWMutex
	Config Config

	status    *Status
	buffer    *Buffer
	engine    *Engine
	waterfall *Waterfall
	poll      Qp.PollSource
	output    Qp.FrameOutput
	freq      *FreqMonitor

	spMin, spMin0 float64
	spMax, spMax0 float64
	vMin, vMax    float64
	helpPhase     int

	fatalMU sync.Mutex
	fatal   error

	seq    uint64
	latest atomic.Pointer[Snapshot]
}

// Option configures a Scope
type Option func(*Scope)

// WithPollSource makes the consumer read samples itself instead of popping
// the queue. A source that can tune is also used as the Tuner.
func WithPollSource(p Qp.PollSource) Option {
	return func(s *Scope) {
		s.poll = p
		if t, ok := p.(Tuner); ok && s.freq == nil {
			s.freq = NewFreqMonitor(t, s.Config.FreqInterval)
		}
	}
}

// WithOutput records every frame
func WithOutput(o Qp.FrameOutput) Option {
	return func(s *Scope) { s.output = o }
}

// WithTuner enables frequency display and arrow-key tuning
func WithTuner(t Tuner) Option {
	return func(s *Scope) { s.freq = NewFreqMonitor(t, s.Config.FreqInterval) }
}

// StepResult describes one consumer iteration
type StepResult struct {
	Sequence   uint64
	Frame      Qt.SpectrumFrame
	RowEmitted bool
	Duration   time.Duration
}

// Snapshot is the latest published output, safe to read from any goroutine
type Snapshot struct {
	Sequence  uint64
	Time      time.Time
	Frame     Qt.SpectrumFrame
	Waterfall *WaterfallSnapshot
	Duration  time.Duration
}

// ViewState is what a renderer needs besides the data
type ViewState struct {
	SpMin     float64
	SpMax     float64
	VMin      float64
	VMax      float64
	HelpPhase int
	Waterfall bool
	Frequency float64 // Hz, 0 without a tuner
	Tunable   bool
}

func NewScope(cfg Config, opts ...Option) (*Scope, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	status := NewStatus()
	s := &Scope{
		Config: cfg,
		status: status,
		buffer: NewBuffer(cfg, status),
		engine: NewEngine(cfg, status),
		spMin:  cfg.SpMin,
		spMin0: cfg.SpMin,
		spMax:  cfg.SpMax,
		spMax0: cfg.SpMax,
		vMin:   cfg.VMin,
		vMax:   cfg.VMax,
	}

	if cfg.Waterfall {
		wf, err := NewWaterfall(WaterfallOptions{
			Scheme:       cfg.WaterfallPalette,
			Steps:        cfg.WaterfallSteps,
			RowsPerAccum: cfg.WaterfallRowsPerAccum,
			Lines:        cfg.WaterfallLines,
			Width:        cfg.DisplayWidth,
			LineHeight:   waterfallLineHeight,
			VMin:         cfg.VMin,
			VMax:         cfg.VMax,
		})
		if err != nil {
			return nil, err
		}
		s.waterfall = wf
	}

	for _, opt := range opts {
		opt(s)
	}

	slog.Info("Scope ready",
		slog.String("source", cfg.Source),
		slog.Int("fftSize", cfg.FFTSize),
		slog.Int("buffers", cfg.BuffersPerChunk),
		slog.Int("sampleRate", cfg.SampleRate),
		slog.Duration("chunkTime", cfg.ChunkTime()),
		slog.Bool("waterfall", cfg.Waterfall))

	return s, nil
}

// Sink is handed to a PushSource. Queue-full errors are remembered and
// returned by the next consumer call.
func (s *Scope) Sink() Qp.Sink {
	return func(data []byte, overflow bool) error {
		if overflow {
			s.buffer.MarkOverflow()
		}
		err := s.buffer.Push(Qt.RawChunk(data))
		if err != nil {
			s.setFatal(err)
		}
		return err
	}
}

func (s *Scope) setFatal(err error) {
	s.fatalMU.Lock()
	defer s.fatalMU.Unlock()
	if s.fatal == nil {
		s.fatal = err
	}
}

// Err is the producer error that ended the run, if any
func (s *Scope) Err() error {
	s.fatalMU.Lock()
	defer s.fatalMU.Unlock()
	return s.fatal
}

// NextSpectrumFrame acquires one chunk and turns it into a dB frame.
// With a queue it waits up to the configured pop timeout.
func (s *Scope) NextSpectrumFrame(ctx context.Context) (Qt.SpectrumFrame, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}

	var samples Qt.SampleChunk
	if s.poll != nil {
		var err error
		samples, err = s.poll.ReadSamples(s.Config.ChunkSamples())
		if err != nil {
			return nil, fmt.Errorf("read samples: %w", err)
		}
		if s.Config.RevIQ {
			SwapIQ(samples)
		}
	} else {
		raw, err := s.buffer.Pop(ctx, s.Config.PopTimeout)
		if err != nil {
			return nil, err
		}
		var maxI, maxQ int
		samples, maxI, maxQ = SoundCardSamples(raw, s.Config.RevIQ, s.Config.LagFix)
		s.status.setADCMax(maxI, maxQ)
	}
	s.status.addAnalysed()

	frame, err := s.engine.LogPowerSpectrum(samples)
	if err != nil {
		return nil, err
	}
	if s.poll != nil {
		// dongle samples are normalized to ±1, not 16-bit full scale
		for i := range frame {
			frame[i] += s.Config.RTLBoostDB
		}
	}
	s.status.addFrame()
	return frame, nil
}

// Step runs one consumer iteration: frame, waterfall, recording, publish
func (s *Scope) Step(ctx context.Context) (StepResult, error) {
	start := time.Now()

	frame, err := s.NextSpectrumFrame(ctx)
	if err != nil {
		return StepResult{}, err
	}

	row := false
	if s.waterfall != nil {
		row = s.waterfall.Accumulate(frame)
		if row {
			s.status.addRow()
		}
	}

	s.seq++
	if s.output != nil {
		if err := s.output.WriteFrame(s.record(frame, start)); err != nil {
			slog.Error("Failed to record frame", slog.Uint64("sequence", s.seq), slog.Any("Error", err))
		}
	}

	res := StepResult{
		Sequence:   s.seq,
		Frame:      frame,
		RowEmitted: row,
		Duration:   time.Since(start),
	}
	s.publish(res)
	return res, nil
}

func (s *Scope) record(frame Qt.SpectrumFrame, at time.Time) *Qt.FrameRecord {
	values := make([]float32, len(frame))
	for i, v := range frame {
		values[i] = float32(v)
	}
	return &Qt.FrameRecord{
		Sequence:  s.seq,
		Timestamp: at,
		Source:    s.Config.Source,
		Values:    values,
		Rejected:  s.engine.LastRejected(),
	}
}

func (s *Scope) publish(res StepResult) {
	snap := &Snapshot{
		Sequence: res.Sequence,
		Time:     time.Now(),
		Frame:    res.Frame,
		Duration: res.Duration,
	}
	if s.waterfall != nil {
		if prev := s.latest.Load(); res.RowEmitted || prev == nil || prev.Waterfall == nil {
			snap.Waterfall = s.waterfall.Snapshot()
		} else {
			snap.Waterfall = prev.Waterfall
		}
	}
	s.latest.Store(snap)
}

// Latest is the most recently published snapshot, nil before the first frame
func (s *Scope) Latest() *Snapshot {
	return s.latest.Load()
}

// Run steps until ctx ends, a quit command arrives, or the pipeline fails.
// Commands are applied between frames so the waterfall stays single-owner.
func (s *Scope) Run(ctx context.Context, cmds <-chan Command, onStep func(StepResult)) error {
	for {
		for drained := false; !drained; {
			select {
			case cmd := <-cmds:
				if s.Apply(cmd) {
					return nil
				}
			default:
				drained = true
			}
		}

		res, err := s.Step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			slog.Error("Scope stopped", slog.Any("Error", err))
			return err
		}
		if onStep != nil {
			onStep(res)
		}
	}
}

// SetDisplayRange changes the dB range of the spectrum graph
func (s *Scope) SetDisplayRange(spMin, spMax float64) error {
	if spMax <= spMin {
		return fmt.Errorf("%w: %g..%g", ErrInvalidRange, spMin, spMax)
	}
	s.MU.Lock()
	defer s.MU.Unlock()
	s.spMin, s.spMax = spMin, spMax
	return nil
}

// SetPaletteRange changes the waterfall palette range for new rows
func (s *Scope) SetPaletteRange(vMin, vMax float64) error {
	if vMax <= vMin {
		return fmt.Errorf("%w: %g..%g", ErrInvalidRange, vMin, vMax)
	}
	if s.waterfall != nil {
		if err := s.waterfall.SetRange(vMin, vMax); err != nil {
			return err
		}
	}
	s.MU.Lock()
	defer s.MU.Unlock()
	s.vMin, s.vMax = vMin, vMax
	return nil
}

// ResetPaletteRange restores the configured palette range
func (s *Scope) ResetPaletteRange() (float64, float64) {
	vMin, vMax := s.Config.VMin, s.Config.VMax
	if s.waterfall != nil {
		vMin, vMax = s.waterfall.ResetRange()
	}
	s.MU.Lock()
	defer s.MU.Unlock()
	s.vMin, s.vMax = vMin, vMax
	return vMin, vMax
}

// ResetRanges restores both the display and the palette ranges
func (s *Scope) ResetRanges() {
	s.MU.Lock()
	s.spMin, s.spMax = s.spMin0, s.spMax0
	s.MU.Unlock()
	s.ResetPaletteRange()
}

// View returns the current ranges and overlay state
func (s *Scope) View() ViewState {
	s.MU.RLock()
	defer s.MU.RUnlock()
	vs := ViewState{
		SpMin:     s.spMin,
		SpMax:     s.spMax,
		VMin:      s.vMin,
		VMax:      s.vMax,
		HelpPhase: s.helpPhase,
		Waterfall: s.waterfall != nil,
	}
	if s.freq != nil {
		vs.Frequency = s.freq.Frequency()
		vs.Tunable = true
	}
	return vs
}

func (s *Scope) Status() *Status           { return s.status }
func (s *Scope) Buffer() *Buffer           { return s.buffer }
func (s *Scope) Engine() *Engine           { return s.engine }
func (s *Scope) Waterfall() *Waterfall     { return s.waterfall }
func (s *Scope) FreqMonitor() *FreqMonitor { return s.freq }
func (s *Scope) QueueDepth() int           { return s.buffer.Depth() }
func (s *Scope) Output() Qp.FrameOutput    { return s.output }
func (s *Scope) PollSource() Qp.PollSource { return s.poll }
