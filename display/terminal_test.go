package iqscope_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	Qd "github.com/maroda/iqscope/display"
	Qo "github.com/maroda/iqscope/obvy"
	Qp "github.com/maroda/iqscope/plugin"
	Qs "github.com/maroda/iqscope/server"
)

func TestScreen(t *testing.T) {
	s := mkTestScreen(t, "")
	defer s.Fini()
	s.Clear()

	t.Run("Check test screen", func(t *testing.T) {
		b, x, y := s.GetContents()
		if len(b) != x*y || x != 80 || y != 25 {
			t.Fatalf("Contents (%v, %v, %v) wrong", len(b), x, y)
		}
		for i := 0; i < x*y; i++ {
			if len(b[i].Runes) == 1 && b[i].Runes[0] != ' ' {
				t.Errorf("Incorrect contents at %v: %v", i, b[i].Runes)
			}
		}
	})
}

func TestCalcLayout(t *testing.T) {
	t.Run("Spectrum only", func(t *testing.T) {
		l := Qd.CalcLayout(80, 25, false)
		assertInt(t, l.X0, 8)
		assertInt(t, l.Width, 72)
		assertInt(t, l.SpecTop, 1)
		assertInt(t, l.SpecH, 22)
		assertInt(t, l.TickRow, 23)
		assertInt(t, l.WfH, 0)
		assertInt(t, l.HintRow, 24)
	})

	t.Run("Waterfall takes the lower half", func(t *testing.T) {
		l := Qd.CalcLayout(80, 25, true)
		assertInt(t, l.SpecH, 10)
		assertInt(t, l.TickRow, 11)
		assertInt(t, l.WfTop, 12)
		assertInt(t, l.WfH, 12)
		assertInt(t, l.WfTop+l.WfH, l.HintRow)
	})

	t.Run("Tiny screen keeps one row and column", func(t *testing.T) {
		l := Qd.CalcLayout(4, 2, true)
		assertInt(t, l.Width, 1)
		if l.SpecH < 1 {
			t.Errorf("spectrum height %d, want at least 1", l.SpecH)
		}
	})
}

func TestColumnBins(t *testing.T) {
	tests := []struct {
		name              string
		x, width, bins    int
		wantLo, wantHi    int
	}{
		{"first column of a wide graph", 0, 72, 64, 0, 1},
		{"last column of a wide graph", 71, 72, 64, 63, 64},
		{"narrow graph folds bins", 0, 32, 64, 0, 2},
		{"narrow graph last column", 31, 32, 64, 62, 64},
		{"no bins", 3, 10, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := Qd.ColumnBins(tt.x, tt.width, tt.bins)
			assertInt(t, lo, tt.wantLo)
			assertInt(t, hi, tt.wantHi)
		})
	}

	t.Run("Column level is the strongest bin", func(t *testing.T) {
		frame := []float64{-10, -5, -20, -1}
		if got := Qd.ColumnLevel(frame, 0, 2); got != -5 {
			t.Errorf("got %g, want -5", got)
		}
		if got := Qd.ColumnLevel(frame, 1, 2); got != -1 {
			t.Errorf("got %g, want -1", got)
		}
	})
}

func TestKeyCommand(t *testing.T) {
	tests := []struct {
		name   string
		key    tcell.Key
		r      rune
		mod    tcell.ModMask
		want   Qs.Command
		wantOK bool
	}{
		{"q quits", tcell.KeyRune, 'q', tcell.ModNone, Qs.Command{Action: Qs.ActQuit}, true},
		{"Esc quits", tcell.KeyEscape, 0, tcell.ModNone, Qs.Command{Action: Qs.ActQuit}, true},
		{"r resets", tcell.KeyRune, 'r', tcell.ModNone, Qs.Command{Action: Qs.ActReset}, true},
		{"U raises the top", tcell.KeyRune, 'U', tcell.ModNone, Qs.Command{Action: Qs.ActSpMaxUp}, true},
		{"u lowers the top", tcell.KeyRune, 'u', tcell.ModNone, Qs.Command{Action: Qs.ActSpMaxDown}, true},
		{"L raises the bottom", tcell.KeyRune, 'L', tcell.ModNone, Qs.Command{Action: Qs.ActSpMinUp}, true},
		{"l lowers the bottom", tcell.KeyRune, 'l', tcell.ModNone, Qs.Command{Action: Qs.ActSpMinDown}, true},
		{"B raises the palette top", tcell.KeyRune, 'B', tcell.ModNone, Qs.Command{Action: Qs.ActVMaxUp}, true},
		{"b lowers the palette top", tcell.KeyRune, 'b', tcell.ModNone, Qs.Command{Action: Qs.ActVMaxDown}, true},
		{"D raises the palette bottom", tcell.KeyRune, 'D', tcell.ModNone, Qs.Command{Action: Qs.ActVMinUp}, true},
		{"d lowers the palette bottom", tcell.KeyRune, 'd', tcell.ModNone, Qs.Command{Action: Qs.ActVMinDown}, true},
		{"Enter cycles help", tcell.KeyEnter, 0, tcell.ModNone, Qs.Command{Action: Qs.ActHelp}, true},
		{"Up arrow", tcell.KeyUp, 0, tcell.ModNone, Qs.Command{Action: Qs.ActUp}, true},
		{"Shift right arrow", tcell.KeyRight, 0, tcell.ModShift, Qs.Command{Action: Qs.ActRight, Shift: true}, true},
		{"Left arrow", tcell.KeyLeft, 0, tcell.ModNone, Qs.Command{Action: Qs.ActLeft}, true},
		{"Unbound letter", tcell.KeyRune, 'x', tcell.ModNone, Qs.Command{}, false},
		{"Unbound key", tcell.KeyTab, 0, tcell.ModNone, Qs.Command{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Qd.KeyCommand(tcell.NewEventKey(tt.key, tt.r, tt.mod))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHelpLines(t *testing.T) {
	t.Run("Off has no overlay", func(t *testing.T) {
		assertInt(t, len(Qd.HelpLines(Qs.HelpOff, false)), 0)
	})

	t.Run("Keys page mentions tuning only when tunable", func(t *testing.T) {
		plain := strings.Join(Qd.HelpLines(Qs.HelpKeys, false), "\n")
		tuned := strings.Join(Qd.HelpLines(Qs.HelpKeys, true), "\n")
		assertStringContains(t, plain, "KEYBOARD CONTROLS:")
		if strings.Contains(plain, "SHIFT") {
			t.Errorf("untunable help mentions SHIFT")
		}
		assertStringContains(t, tuned, "Use SHIFT for bigger steps")
	})

	t.Run("Palette page turns help off next", func(t *testing.T) {
		lines := Qd.HelpLines(Qs.HelpPalette, false)
		assertString(t, lines[0], "WATERFALL PALETTE ADJUSTMENTS:")
		assertString(t, lines[len(lines)-1], "RETURN - Cycle Help screen OFF")
	})
}

func TestFrequencyLabel(t *testing.T) {
	assertString(t, Qd.FrequencyLabel(Qs.SourceRTL, 146e6), "146.000 MHz")
	assertString(t, Qd.FrequencyLabel(Qs.SourceAudio, 7075000), "7075.000 kHz")
}

func TestView_DrawScope(t *testing.T) {
	t.Run("Empty scope waits for samples", func(t *testing.T) {
		view, _, screen := makeTestViewWithScreen(t, makeTestConfig())
		view.UpdateScreen()

		text := screenText(screen)
		assertStringContains(t, text, "Waiting for samples...")
		assertStringContains(t, text, "Pulse clip")
		assertStringContains(t, text, "Buffer underrun")
		assertStringContains(t, text, "IQSCOPE")
		assertStringContains(t, text, "-30 dB")
		assertStringContains(t, text, "0 kHz")
	})

	t.Run("Tone draws a bar in its column", func(t *testing.T) {
		cfg := makeTestConfig()
		view, scope, screen := makeTestViewWithScreen(t, cfg)
		stepTone(t, scope, 1)
		view.UpdateScreen()

		l := Qd.CalcLayout(80, 25, false)
		col := l.X0 + 40*l.Width/cfg.FFTSize
		r := screenRune(screen, col, l.SpecTop+l.SpecH-1)
		if r != '█' {
			t.Errorf("bottom of tone column is %q, want a bar", r)
		}
		if strings.Contains(screenText(screen), "Waiting for samples") {
			t.Errorf("placeholder still shown after a frame")
		}
	})

	t.Run("LED lights once per event", func(t *testing.T) {
		view, scope, screen := makeTestViewWithScreen(t, makeTestConfig())
		x := 80 - len(" Buffer underrun ") - 1

		scope.Status().RaiseOverrun()
		view.UpdateScreen()
		if bg := screenBackground(screen, x, 0); bg != tcell.ColorRed {
			t.Errorf("overrun LED background %v, want red", bg)
		}

		view.UpdateScreen()
		if bg := screenBackground(screen, x, 0); bg == tcell.ColorRed {
			t.Errorf("overrun LED still lit after it was shown")
		}
	})

	t.Run("Help overlay shows live info", func(t *testing.T) {
		view, scope, screen := makeTestViewWithScreen(t, makeTestConfig())
		scope.Apply(Qs.Command{Action: Qs.ActHelp})
		view.UpdateScreen()

		text := screenText(screen)
		assertStringContains(t, text, "KEYBOARD CONTROLS:")
		assertStringContains(t, text, "dB scale min= -120, max= -20")
		assertStringContains(t, text, "ADC max I:")
	})

	t.Run("Waterfall rows are painted", func(t *testing.T) {
		cfg := makeTestConfig()
		cfg.Waterfall = true
		cfg.WaterfallRowsPerAccum = 1
		view, scope, screen := makeTestViewWithScreen(t, cfg)
		stepTone(t, scope, 2)
		view.UpdateScreen()

		l := Qd.CalcLayout(80, 25, true)
		col := l.X0 + 40*l.Width/cfg.FFTSize
		bg := screenBackground(screen, col, l.WfTop)
		if bg == tcell.ColorBlack || bg == tcell.ColorDefault {
			t.Errorf("tone cell of the newest row is not colored: %v", bg)
		}
	})
}

func TestView_LiveInfo(t *testing.T) {
	view, scope, _ := makeTestViewWithScreen(t, makeTestConfig())
	stepTone(t, scope, 1)

	info := view.LiveInfo()
	assertInt(t, len(info), 3)
	assertString(t, info[0], "dB scale min= -120, max= -20")
	assertStringContains(t, info[1], "rate=48000 size=64 buffers=4")
	assertStringContains(t, info[2], "ADC max I:")
}

func TestView_SendCommand(t *testing.T) {
	scope := makeTestScope(t, makeTestConfig())
	view, err := Qd.NewView(scope, nil, nil)
	assertError(t, err, nil)

	view.SendCommand(Qs.Command{Action: Qs.ActHelp})
	view.SendCommand(Qs.Command{Action: Qs.ActQuit})

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	assertError(t, scope.Run(ctx, view.Cmds, nil), nil)
	assertInt(t, scope.HelpPhase(), Qs.HelpKeys)

	t.Run("Full queue drops instead of blocking", func(t *testing.T) {
		for range cap(view.Cmds) + 4 {
			view.SendCommand(Qs.Command{Action: Qs.ActReset})
		}
		assertInt(t, len(view.Cmds), cap(view.Cmds))
	})
}

func TestView_CloseScreen(t *testing.T) {
	screen := mkTestScreen(t, "")
	view, err := Qd.NewView(makeTestScope(t, makeTestConfig()), screen, nil)
	assertError(t, err, nil)

	done := make(chan struct{})
	go func() {
		view.HandleKeyBoardEvent()
		close(done)
	}()

	for range 5 {
		screen.InjectKey(tcell.KeyRune, 'u', tcell.ModNone)
	}
	waitFor(t, func() bool { return len(view.Cmds) > 0 })

	t.Run("Keyboard loop ends when the screen closes", func(t *testing.T) {
		view.CloseScreen()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("keyboard loop still running after CloseScreen")
		}
		if view.Screen != nil {
			t.Errorf("screen not cleared")
		}
	})

	t.Run("Closing twice is harmless", func(t *testing.T) {
		view.CloseScreen()
		view.UpdateScreen()
		view.ResizeScreen()
	})

	t.Run("Loop without a screen returns at once", func(t *testing.T) {
		view.HandleKeyBoardEvent()
	})
}

func TestNewView(t *testing.T) {
	_, err := Qd.NewView(nil, nil, nil)
	assertGotError(t, err)
}

// makeTestConfig is a small synth pipeline, 6 kHz lands in bin 40 of 64
func makeTestConfig() Qs.Config {
	cfg := Qs.DefaultConfig()
	cfg.Source = Qs.SourceSynth
	cfg.FFTSize = 64
	cfg.BuffersPerChunk = 4
	cfg.WarmupChunks = 0
	cfg.DisplayWidth = 128
	cfg.Synth = Qp.SynthOptions{
		Tones:    []Qp.Tone{{OffsetHz: 6000, Amplitude: 3000}},
		NoiseAmp: 5,
		Seed:     3,
	}
	return cfg
}

func makeTestScope(t *testing.T, cfg Qs.Config, opts ...Qs.Option) *Qs.Scope {
	t.Helper()
	scope, err := Qs.NewScope(cfg, opts...)
	if err != nil {
		t.Fatalf("could not build scope: %v", err)
	}
	return scope
}

func makeTestViewWithScreen(t *testing.T, cfg Qs.Config) (*Qd.View, *Qs.Scope, tcell.SimulationScreen) {
	t.Helper()
	screen := mkTestScreen(t, "")
	t.Cleanup(screen.Fini)

	scope := makeTestScope(t, cfg)
	view, err := Qd.NewView(scope, screen, Qo.NewStatsInternal())
	if err != nil {
		t.Fatalf("could not build view: %v", err)
	}
	return view, scope, screen
}

// stepTone pushes n synth chunks and turns each into a frame
func stepTone(t *testing.T, scope *Qs.Scope, n int) {
	t.Helper()
	synth, err := Qp.NewSynthSource(scope.Config.SourceOptions())
	if err != nil {
		t.Fatalf("could not build synth: %v", err)
	}
	sink := scope.Sink()
	for range n {
		if err := sink(Qp.EncodeStereo(synth.NextChunk()), false); err != nil {
			t.Fatalf("sink refused chunk: %v", err)
		}
		if _, err := scope.Step(t.Context()); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}
}

func mkTestScreen(t *testing.T, charset string) tcell.SimulationScreen {
	s := tcell.NewSimulationScreen(charset)
	if s == nil {
		t.Fatalf("Failed to get SimulationScreen")
	}
	if err := s.Init(); err != nil {
		t.Fatalf("Failed to init screen: %v", err)
	}
	s.SetSize(80, 25)
	return s
}

func screenText(s tcell.SimulationScreen) string {
	cells, width, height := s.GetContents()
	var b strings.Builder
	for y := range height {
		for x := range width {
			c := cells[y*width+x]
			if len(c.Runes) == 0 {
				b.WriteRune(' ')
				continue
			}
			b.WriteRune(c.Runes[0])
		}
		b.WriteRune('\n')
	}
	return b.String()
}

func screenRune(s tcell.SimulationScreen, x, y int) rune {
	cells, width, _ := s.GetContents()
	c := cells[y*width+x]
	if len(c.Runes) == 0 {
		return ' '
	}
	return c.Runes[0]
}

func screenBackground(s tcell.SimulationScreen, x, y int) tcell.Color {
	cells, width, _ := s.GetContents()
	_, bg, _ := cells[y*width+x].Style.Decompose()
	return bg
}
