package iqscope_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	Qp "github.com/maroda/iqscope/plugin"
	Qs "github.com/maroda/iqscope/server"
	Qt "github.com/maroda/iqscope/types"
)

func TestNewScope(t *testing.T) {
	t.Run("Rejects invalid config", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.SpMax = cfg.SpMin
		_, err := Qs.NewScope(cfg)
		assertError(t, err, Qs.ErrInvalidRange)
		assertStringContains(t, err.Error(), "spectrum")
	})

	t.Run("Waterfall only when enabled", func(t *testing.T) {
		s := makeScope(t, makeTestConfig())
		if s.Waterfall() != nil {
			t.Errorf("waterfall built without being asked for")
		}

		cfg := makeTestConfig()
		cfg.Waterfall = true
		s = makeScope(t, cfg)
		if s.Waterfall() == nil {
			t.Errorf("waterfall missing")
		}
	})
}

func TestScope_Step(t *testing.T) {
	ctx := context.Background()

	t.Run("Produces a frame with the tone in the right bin", func(t *testing.T) {
		s := makeScope(t, makeTestConfig())
		synth := makeSynth(t, s.Config)
		feed(t, s, synth, 1)

		res, err := s.Step(ctx)
		assertError(t, err, nil)
		assertInt(t, len(res.Frame), 64)
		assertInt(t, argmax(res.Frame), 32+8)
		assertInt(t, int(res.Sequence), 1)

		snap := s.Status().Snapshot()
		assertInt(t, int(snap.Frames), 1)
		assertInt(t, int(snap.ChunksAnalysed), 1)
		if i, q := s.Status().ADCMax(); i < 2900 || q < 2900 {
			t.Errorf("ADC max too low: %d, %d", i, q)
		}
	})

	t.Run("Publishes snapshots and waterfall rows", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.Waterfall = true
		cfg.WaterfallRowsPerAccum = 2
		s := makeScope(t, cfg)
		if s.Latest() != nil {
			t.Fatalf("snapshot before any frame")
		}

		synth := makeSynth(t, s.Config)
		feed(t, s, synth, 2)

		res, err := s.Step(ctx)
		assertError(t, err, nil)
		if res.RowEmitted {
			t.Errorf("row emitted after one frame")
		}
		res, err = s.Step(ctx)
		assertError(t, err, nil)
		if !res.RowEmitted {
			t.Errorf("row not emitted after two frames")
		}

		latest := s.Latest()
		assertInt(t, int(latest.Sequence), 2)
		assertInt(t, len(latest.Waterfall.Rows), 1)
		assertInt(t, int(s.Status().Snapshot().Rows), 1)
	})

	t.Run("Records every frame", func(t *testing.T) {
		out := &memOutput{}
		s := makeScope(t, makeTestConfig(), Qs.WithOutput(out))
		synth := makeSynth(t, s.Config)
		feed(t, s, synth, 3)

		for range 3 {
			_, err := s.Step(ctx)
			assertError(t, err, nil)
		}
		recs := out.all()
		assertInt(t, len(recs), 3)
		assertInt(t, int(recs[2].Sequence), 3)
		assertString(t, recs[0].Source, "synth")
		assertInt(t, len(recs[0].Values), 64)
	})

	t.Run("Empty queue times out", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.PopTimeout = 50 * time.Millisecond
		cfg.PopStep = 10 * time.Millisecond
		s := makeScope(t, cfg)

		_, err := s.Step(ctx)
		assertError(t, err, Qs.ErrQueueTimeout)
	})

	t.Run("Producer overflow surfaces on the consumer", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.QueueCapacity = 1
		s := makeScope(t, cfg)
		synth := makeSynth(t, s.Config)
		sink := s.Sink()

		assertError(t, sink(Qp.EncodeStereo(synth.NextChunk()), false), nil)
		err := sink(Qp.EncodeStereo(synth.NextChunk()), true)
		assertError(t, err, Qs.ErrQueueFull)

		_, err = s.Step(ctx)
		assertError(t, err, Qs.ErrQueueFull)
		assertInt(t, int(s.Status().Snapshot().Overflows), 2)
	})

	t.Run("Poll source skips the queue and gets the boost", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.Source = Qs.SourceRTL
		poll := &fakePoll{fakeTuner: fakeTuner{hz: 146e6}}
		s := makeScope(t, cfg, Qs.WithPollSource(poll))

		res, err := s.Step(ctx)
		assertError(t, err, nil)
		assertInt(t, argmax(res.Frame), 32)
		// DC of 0.5 through a 64 point Hann window sums to 0.5 * 31.5
		want := 20*math.Log10(0.5*31.5) - Qs.DBAdjust(64) + cfg.RTLBoostDB
		assertFloat(t, res.Frame[32], want, 1e-6)
		if !s.View().Tunable {
			t.Errorf("poll source that tunes should enable tuning")
		}
	})
}

func TestScope_Ranges(t *testing.T) {
	t.Run("Display range", func(t *testing.T) {
		s := makeScope(t, makeTestConfig())
		assertError(t, s.SetDisplayRange(-100, -30), nil)
		vs := s.View()
		assertFloat(t, vs.SpMin, -100, 0)
		assertFloat(t, vs.SpMax, -30, 0)
	})

	t.Run("Empty display range is refused and changes nothing", func(t *testing.T) {
		s := makeScope(t, makeTestConfig())
		before := s.View()
		assertError(t, s.SetDisplayRange(-30, -30), Qs.ErrInvalidRange)
		assertError(t, s.SetDisplayRange(-20, -90), Qs.ErrInvalidRange)
		if s.View() != before {
			t.Errorf("view changed from %+v to %+v", before, s.View())
		}
	})

	t.Run("Palette range reaches the waterfall", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.Waterfall = true
		s := makeScope(t, cfg)

		assertError(t, s.SetPaletteRange(-90, -50), nil)
		vs := s.View()
		assertFloat(t, vs.VMin, -90, 0)
		assertFloat(t, vs.VMax, -50, 0)
		vmin, vmax := s.Waterfall().Range()
		assertFloat(t, vmin, -90, 0)
		assertFloat(t, vmax, -50, 0)
	})

	t.Run("Empty palette range is refused and changes nothing", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.Waterfall = true
		s := makeScope(t, cfg)
		before := s.View()
		palette := s.Waterfall().Palette()

		assertError(t, s.SetPaletteRange(-50, -90), Qs.ErrInvalidRange)
		if s.View() != before {
			t.Errorf("view changed from %+v to %+v", before, s.View())
		}
		if !slices.Equal(s.Waterfall().Palette(), palette) {
			t.Errorf("palette rebuilt by a refused range")
		}
	})

	t.Run("Reset restores the configured palette range", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.Waterfall = true
		s := makeScope(t, cfg)
		assertError(t, s.SetPaletteRange(-90, -50), nil)

		vmin, vmax := s.ResetPaletteRange()
		assertFloat(t, vmin, cfg.VMin, 0)
		assertFloat(t, vmax, cfg.VMax, 0)
		vs := s.View()
		assertFloat(t, vs.VMin, cfg.VMin, 0)
		assertFloat(t, vs.VMax, cfg.VMax, 0)
	})

	t.Run("Palette range without a waterfall", func(t *testing.T) {
		s := makeScope(t, makeTestConfig())
		assertError(t, s.SetPaletteRange(-90, -50), nil)
		vmin, vmax := s.ResetPaletteRange()
		assertFloat(t, vmin, -120, 0)
		assertFloat(t, vmax, -20, 0)
	})
}

func TestScope_Apply(t *testing.T) {
	t.Run("Quit", func(t *testing.T) {
		s := makeScope(t, makeTestConfig())
		if !s.Apply(Qs.Command{Action: Qs.ActQuit}) {
			t.Errorf("quit not reported")
		}
		if s.Apply(Qs.Command{Action: Qs.ActSpMaxUp}) {
			t.Errorf("range step reported quit")
		}
	})

	t.Run("Spectrum range steps and limits", func(t *testing.T) {
		s := makeScope(t, makeTestConfig())
		s.Apply(Qs.Command{Action: Qs.ActSpMaxUp})
		s.Apply(Qs.Command{Action: Qs.ActSpMaxUp})
		s.Apply(Qs.Command{Action: Qs.ActSpMaxUp})
		assertFloat(t, s.View().SpMax, 0, 0)

		for range 20 {
			s.Apply(Qs.Command{Action: Qs.ActSpMinDown})
		}
		assertFloat(t, s.View().SpMin, -140, 0)

		for range 20 {
			s.Apply(Qs.Command{Action: Qs.ActSpMaxDown})
		}
		assertFloat(t, s.View().SpMax, -130, 0)

		for range 20 {
			s.Apply(Qs.Command{Action: Qs.ActSpMinUp})
		}
		assertFloat(t, s.View().SpMin, -140, 0)

		s.Apply(Qs.Command{Action: Qs.ActReset})
		assertFloat(t, s.View().SpMin, -120, 0)
		assertFloat(t, s.View().SpMax, -20, 0)
	})

	t.Run("Spectrum min stays below max", func(t *testing.T) {
		s := makeScope(t, makeTestConfig())
		for range 20 {
			s.Apply(Qs.Command{Action: Qs.ActSpMinUp})
		}
		v := s.View()
		assertFloat(t, v.SpMin, -30, 0)
		assertFloat(t, v.SpMax, -20, 0)
	})

	t.Run("Palette range keeps a 20 dB gap", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.Waterfall = true
		s := makeScope(t, cfg)

		for range 20 {
			s.Apply(Qs.Command{Action: Qs.ActVMinUp})
		}
		v := s.View()
		assertFloat(t, v.VMin, -40, 0)
		vmin, vmax := s.Waterfall().Range()
		assertFloat(t, vmin, -40, 0)
		assertFloat(t, vmax, -20, 0)

		s.Apply(Qs.Command{Action: Qs.ActVMaxUp})
		s.Apply(Qs.Command{Action: Qs.ActVMaxUp})
		assertFloat(t, s.View().VMax, -10, 0)

		for range 20 {
			s.Apply(Qs.Command{Action: Qs.ActVMinDown})
		}
		assertFloat(t, s.View().VMin, -130, 0)

		s.Apply(Qs.Command{Action: Qs.ActReset})
		assertFloat(t, s.View().VMin, -120, 0)
		assertFloat(t, s.View().VMax, -20, 0)
	})

	t.Run("Help cycles through the palette page only with a waterfall", func(t *testing.T) {
		s := makeScope(t, makeTestConfig())
		var seen []int
		for range 4 {
			s.Apply(Qs.Command{Action: Qs.ActHelp})
			seen = append(seen, s.HelpPhase())
		}
		assertIntSlice(t, seen, []int{1, 2, 0, 1})

		cfg := makeTestConfig()
		cfg.Waterfall = true
		s = makeScope(t, cfg)
		seen = nil
		for range 5 {
			s.Apply(Qs.Command{Action: Qs.ActHelp})
			seen = append(seen, s.HelpPhase())
		}
		assertIntSlice(t, seen, []int{1, 2, 3, 0, 1})
	})

	t.Run("Arrows move ranges on the help pages", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.Waterfall = true
		s := makeScope(t, cfg)

		s.Apply(Qs.Command{Action: Qs.ActHelp})
		s.Apply(Qs.Command{Action: Qs.ActHelp})
		s.Apply(Qs.Command{Action: Qs.ActDown})
		s.Apply(Qs.Command{Action: Qs.ActLeft})
		v := s.View()
		assertFloat(t, v.SpMax, -30, 0)
		assertFloat(t, v.SpMin, -130, 0)

		s.Apply(Qs.Command{Action: Qs.ActHelp})
		s.Apply(Qs.Command{Action: Qs.ActRight})
		s.Apply(Qs.Command{Action: Qs.ActUp})
		v = s.View()
		assertFloat(t, v.VMin, -110, 0)
		assertFloat(t, v.VMax, -10, 0)
	})

	t.Run("Arrows tune outside the help pages", func(t *testing.T) {
		tuner := &fakeTuner{hz: 7074000}
		s := makeScope(t, makeTestConfig(), Qs.WithTuner(tuner))

		s.Apply(Qs.Command{Action: Qs.ActRight})
		s.Apply(Qs.Command{Action: Qs.ActRight, Shift: true})
		s.Apply(Qs.Command{Action: Qs.ActLeft})
		assertError(t, s.FreqMonitor().Sample(context.Background()), nil)
		assertFloat(t, s.View().Frequency, 7075000, 0)
	})

	t.Run("Dongle tunes in bigger steps", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.Source = Qs.SourceRTL
		tuner := &fakeTuner{hz: 146e6}
		s := makeScope(t, cfg, Qs.WithTuner(tuner))

		s.Apply(Qs.Command{Action: Qs.ActLeft, Shift: true})
		s.Apply(Qs.Command{Action: Qs.ActRight})
		assertError(t, s.FreqMonitor().Sample(context.Background()), nil)
		assertFloat(t, s.View().Frequency, 146e6-90e3, 0)
	})
}

func TestScope_Run(t *testing.T) {
	t.Run("Stops on quit", func(t *testing.T) {
		cfg := makeTestConfig()
		s := makeScope(t, cfg)
		synth := makeSynth(t, s.Config)
		assertError(t, synth.Start(s.Sink()), nil)
		defer synth.Stop()

		cmds := make(chan Qs.Command, 1)
		var mu sync.Mutex
		steps := 0
		done := make(chan error, 1)
		go func() {
			done <- s.Run(context.Background(), cmds, func(Qs.StepResult) {
				mu.Lock()
				steps++
				if steps == 3 {
					cmds <- Qs.Command{Action: Qs.ActQuit}
				}
				mu.Unlock()
			})
		}()

		select {
		case err := <-done:
			assertError(t, err, nil)
		case <-time.After(5 * time.Second):
			t.Fatalf("run did not stop on quit")
		}
		mu.Lock()
		assertInt(t, steps, 3)
		mu.Unlock()
	})

	t.Run("Stops on context cancel", func(t *testing.T) {
		s := makeScope(t, makeTestConfig())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx, nil, nil) }()

		time.Sleep(20 * time.Millisecond)
		cancel()
		select {
		case err := <-done:
			assertError(t, err, nil)
		case <-time.After(5 * time.Second):
			t.Fatalf("run did not stop on cancel")
		}
	})

	t.Run("Returns the pipeline error", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.PopTimeout = 30 * time.Millisecond
		cfg.PopStep = 10 * time.Millisecond
		s := makeScope(t, cfg)
		err := s.Run(context.Background(), nil, nil)
		assertError(t, err, Qs.ErrQueueTimeout)
	})
}

// Helpers //

func makeScope(t *testing.T, cfg Qs.Config, opts ...Qs.Option) *Qs.Scope {
	t.Helper()
	s, err := Qs.NewScope(cfg, opts...)
	if err != nil {
		t.Fatalf("could not build scope: %v", err)
	}
	return s
}

// makeSynth is a clean 6 kHz carrier, bin 8 of a 64 point FFT at 48 kHz
func makeSynth(t *testing.T, cfg Qs.Config) *Qp.SynthSource {
	t.Helper()
	synth, err := Qp.NewSynthSource(Qp.SourceOptions{
		SampleRate:   cfg.SampleRate,
		ChunkSamples: cfg.ChunkSamples(),
		Synth: Qp.SynthOptions{
			Tones:    []Qp.Tone{{OffsetHz: 6000, Amplitude: 3000}},
			NoiseAmp: 5,
			Seed:     3,
		},
	})
	if err != nil {
		t.Fatalf("could not build synth: %v", err)
	}
	synth.Pace = 5 * time.Millisecond
	return synth
}

func feed(t *testing.T, s *Qs.Scope, synth *Qp.SynthSource, n int) {
	t.Helper()
	sink := s.Sink()
	for range n {
		if err := sink(Qp.EncodeStereo(synth.NextChunk()), false); err != nil {
			t.Fatalf("sink refused chunk: %v", err)
		}
	}
}

// fakePoll is a tunable poll source delivering a DC carrier at ±1 scale
type fakePoll struct {
	fakeTuner
}

func (p *fakePoll) ReadSamples(n int) (Qt.SampleChunk, error) {
	out := make(Qt.SampleChunk, n)
	for k := range out {
		out[k] = complex(0.5, 0)
	}
	return out, nil
}

func (p *fakePoll) Close() error { return nil }
func (p *fakePoll) Type() string { return "fake" }

type memOutput struct {
	mu   sync.Mutex
	recs []*Qt.FrameRecord
}

func (m *memOutput) WriteFrame(rec *Qt.FrameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memOutput) WriteBatch(recs []*Qt.FrameRecord) error {
	for _, r := range recs {
		m.WriteFrame(r)
	}
	return nil
}

func (m *memOutput) QueryRange(start, end time.Time) ([]*Qt.FrameRecord, error) {
	return nil, errors.New("not supported")
}

func (m *memOutput) Flush() error { return nil }
func (m *memOutput) Close() error { return nil }
func (m *memOutput) Type() string { return "memory" }

func (m *memOutput) all() []*Qt.FrameRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs
}

func assertIntSlice(t *testing.T, got, want []int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			return
		}
	}
}

func assertError(t testing.TB, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Errorf("got error %q want %q", got, want)
	}
}

func assertGotError(t testing.TB, got error) {
	t.Helper()
	if got == nil {
		t.Errorf("Expected an error but got %q", got)
	}
}

func assertInt(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("did not get correct value, got %d, want %d", got, want)
	}
}

func assertString(t *testing.T, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func assertStringContains(t *testing.T, full, want string) {
	t.Helper()
	if !strings.Contains(full, want) {
		t.Errorf("Did not find %q, expected string contains %q", want, full)
	}
}
