package iqscope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	Qo "github.com/maroda/iqscope/obvy"
	Qs "github.com/maroda/iqscope/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	graphLeft = 8 // columns kept for the dB labels
	infoCycle = 8 // frames between live info refreshes
	cmdQueue  = 16
)

var (
	styleText   = tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorLightSteelBlue)
	styleTrace  = tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorLightGreen)
	styleGrid   = tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorDarkSlateGray)
	styleLEDOn  = tcell.StyleDefault.Background(tcell.ColorRed).Foreground(tcell.ColorWhite)
	styleLEDOff = tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorDimGray)
	styleHelp   = tcell.StyleDefault.Background(tcell.ColorNavy).Foreground(tcell.ColorWhite)
)

// View renders the Scope on a terminal
type View struct {
	MU         sync.Mutex         // State locks for drawing
	Scope      *Qs.Scope          // the pipeline being watched
	Screen     tcell.Screen       // the screen itself, nil when headless
	Stats      *Qo.StatsInternal  // Internal status for prometheus
	Load       *Qs.LoadMonitor    // CPU usage for the live info panel
	Supervisor *MonitorSupervisor // load and frequency monitors
	Cmds       chan Qs.Command    // key presses on their way to the consumer
	server     *http.Server       // API and metrics server
	frames     int                // frames drawn
	info       []string           // cached live info lines
	pipeline   *Pipeline          // source and output owned by this view
}

// Layout places the parts of the display on a screen
type Layout struct {
	X0, Width      int // graph columns
	SpecTop, SpecH int // spectrum trace rows
	TickRow        int // frequency labels under the trace
	WfTop, WfH     int // waterfall rows, WfH is 0 without a waterfall
	HintRow        int
}

// CalcLayout splits a width x height screen. Row 0 carries the LEDs and
// the frequency, the last row the key hint. The waterfall takes the lower half.
func CalcLayout(width, height int, waterfall bool) Layout {
	l := Layout{
		X0:      graphLeft,
		Width:   max(1, width-graphLeft),
		SpecTop: 1,
		HintRow: max(0, height-1),
	}

	avail := max(2, height-2)
	specRows := avail
	if waterfall {
		specRows = avail / 2
		l.WfH = avail - specRows
	}
	l.SpecH = max(1, specRows-1)
	l.TickRow = l.SpecTop + l.SpecH
	l.WfTop = l.TickRow + 1
	return l
}

// ColumnBins is the bin range [lo, hi) shown in column x of a graph width columns wide
func ColumnBins(x, width, bins int) (int, int) {
	if width < 1 || bins < 1 {
		return 0, 0
	}
	lo := x * bins / width
	hi := (x + 1) * bins / width
	if hi <= lo {
		hi = lo + 1
	}
	return min(lo, bins-1), min(hi, bins)
}

// ColumnLevel is the strongest bin mapped to column x
func ColumnLevel(frame []float64, x, width int) float64 {
	lo, hi := ColumnBins(x, width, len(frame))
	level := math.Inf(-1)
	for _, v := range frame[lo:hi] {
		if v > level {
			level = v
		}
	}
	return level
}

// KeyCommand translates a key press into a Scope command
func KeyCommand(ev *tcell.EventKey) (Qs.Command, bool) {
	shift := ev.Modifiers()&tcell.ModShift != 0

	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return Qs.Command{Action: Qs.ActQuit}, true
	case tcell.KeyEnter:
		return Qs.Command{Action: Qs.ActHelp}, true
	case tcell.KeyUp:
		return Qs.Command{Action: Qs.ActUp, Shift: shift}, true
	case tcell.KeyDown:
		return Qs.Command{Action: Qs.ActDown, Shift: shift}, true
	case tcell.KeyLeft:
		return Qs.Command{Action: Qs.ActLeft, Shift: shift}, true
	case tcell.KeyRight:
		return Qs.Command{Action: Qs.ActRight, Shift: shift}, true
	case tcell.KeyRune:
	default:
		return Qs.Command{}, false
	}

	actions := map[rune]Qs.Action{
		'q': Qs.ActQuit, 'Q': Qs.ActQuit,
		'r': Qs.ActReset, 'R': Qs.ActReset,
		'U': Qs.ActSpMaxUp, 'u': Qs.ActSpMaxDown,
		'L': Qs.ActSpMinUp, 'l': Qs.ActSpMinDown,
		'B': Qs.ActVMaxUp, 'b': Qs.ActVMaxDown,
		'D': Qs.ActVMinUp, 'd': Qs.ActVMinDown,
	}
	if a, ok := actions[ev.Rune()]; ok {
		return Qs.Command{Action: a}, true
	}
	return Qs.Command{}, false
}

// HelpLines is the text of one help overlay phase
func HelpLines(phase int, tunable bool) []string {
	switch phase {
	case Qs.HelpKeys:
		lines := []string{
			"KEYBOARD CONTROLS:",
			"(R) Reset display; (Q) Quit program",
			"Change upper plot dB limit:  (U) increase; (u) decrease",
			"Change lower plot dB limit:  (L) increase; (l) decrease",
			"Change WF palette upper limit: (B) increase; (b) decrease",
			"Change WF palette lower limit: (D) increase; (d) decrease",
		}
		if tunable {
			lines = append(lines,
				"Change rcvr freq: (right arrow) increase; (left arrow) decrease",
				"Use SHIFT for bigger steps")
		}
		return append(lines, "RETURN - Cycle to next Help screen")
	case Qs.HelpSpectrum:
		return []string{
			"SPECTRUM ADJUSTMENTS:",
			"UP - upper screen level +10 dB",
			"DOWN - upper screen level -10 dB",
			"RIGHT - lower screen level +10 dB",
			"LEFT - lower screen level -10 dB",
			"RETURN - Cycle to next Help screen",
		}
	case Qs.HelpPalette:
		return []string{
			"WATERFALL PALETTE ADJUSTMENTS:",
			"UP - upper threshold INCREASE",
			"DOWN - upper threshold DECREASE",
			"RIGHT - lower threshold INCREASE",
			"LEFT - lower threshold DECREASE",
			"RETURN - Cycle Help screen OFF",
		}
	}
	return nil
}

// FrequencyLabel formats the center frequency, MHz for a dongle and kHz for a rig
func FrequencyLabel(source string, hz float64) string {
	if source == Qs.SourceRTL {
		return fmt.Sprintf("%.3f MHz", hz/1e6)
	}
	return fmt.Sprintf("%.3f kHz", hz/1e3)
}

// LiveInfo builds the status lines shown under the help overlay
func (v *View) LiveInfo() []string {
	cfg := v.Scope.Config
	vs := v.Scope.View()

	scale := fmt.Sprintf("dB scale min= %d, max= %d", int(vs.SpMin), int(vs.SpMax))
	if vs.Waterfall {
		scale += fmt.Sprintf("   WF palette min= %d, max= %d", int(vs.VMin), int(vs.VMax))
	}
	params := fmt.Sprintf("rate=%d size=%d buffers=%d taking=%d skip=%d source=%s",
		cfg.SampleRate, cfg.FFTSize, cfg.BuffersPerChunk, cfg.Taking, cfg.Skip, cfg.Source)

	var usage string
	if v.Load != nil {
		u := v.Load.Usage()
		usage = fmt.Sprintf("Load usr=%3.2f; sys=%3.2f; load avg=%.2f", u.User, u.System, u.LoadAvg)
	}
	if v.Scope.PollSource() == nil {
		i, q := v.Scope.Status().ADCMax()
		usage = fmt.Sprintf("ADC max I:%05d; Q:%05d   %s", i, q, usage)
	}

	return []string{scale, params, usage}
}

// DrawText displays the text string at the given (x1, y1) with box size (x2, y2)
func (v *View) DrawText(x1, y1, x2, y2 int, text string) {
	v.drawStyled(x1, y1, x2, y2, text, styleText)
}

func (v *View) drawStyled(x1, y1, x2, y2 int, text string, style tcell.Style) {
	row := y1
	col := x1
	for _, r := range text {
		v.Screen.SetContent(col, row, r, nil, style)
		col++
		if col >= x2 {
			row++
			col = x1
		}
		if row > y2 {
			break
		}
	}
}

// DrawGraticule draws the dB lines with their labels and the frequency ticks
func (v *View) DrawGraticule(l Layout, vs Qs.ViewState) {
	lines := Qs.DBLines(vs.SpMin, vs.SpMax)
	for i, db := range lines {
		y := l.SpecTop + Qs.LevelToRow(db, vs.SpMin, vs.SpMax, l.SpecH)
		for x := 0; x < l.Width; x++ {
			v.Screen.SetContent(l.X0+x, y, '┈', nil, styleGrid)
		}
		v.DrawText(0, y, l.X0, y, Qs.DBLabel(db, i == len(lines)-1))
	}

	for _, tick := range Qs.FreqTicks(v.Scope.Config.SampleRate) {
		col := Qs.OffsetToColumn(float64(tick.OffsetKHz), v.Scope.Config.SampleRate, l.Width)
		for y := l.SpecTop; y < l.TickRow; y++ {
			v.Screen.SetContent(l.X0+col, y, '┊', nil, styleGrid)
		}
		x := min(max(l.X0, l.X0+col-len(tick.Label)/2), l.X0+l.Width-len(tick.Label))
		v.DrawText(x, l.TickRow, x+len(tick.Label), l.TickRow, tick.Label)
	}
}

// DrawSpectrum draws one bar per column, the top cell marks the level
func (v *View) DrawSpectrum(l Layout, vs Qs.ViewState, frame []float64) {
	if len(frame) == 0 {
		return
	}
	for x := 0; x < l.Width; x++ {
		level := ColumnLevel(frame, x, l.Width)
		if math.IsInf(level, -1) || math.IsNaN(level) || level < vs.SpMin {
			continue
		}
		top := Qs.LevelToRow(level, vs.SpMin, vs.SpMax, l.SpecH)
		v.Screen.SetContent(l.X0+x, l.SpecTop+top, '▄', nil, styleTrace)
		for y := top + 1; y < l.SpecH; y++ {
			v.Screen.SetContent(l.X0+x, l.SpecTop+y, '█', nil, styleTrace)
		}
	}
}

// DrawWaterfall samples the waterfall image, one cell per row of pixels.
// Rows keep the colors they were painted with.
func (v *View) DrawWaterfall(l Layout, wf *Qs.WaterfallSnapshot) {
	if wf == nil || wf.Image == nil || l.WfH == 0 {
		return
	}
	bounds := wf.Image.Bounds()
	lineHeight := max(1, wf.LineHeight)
	rows := min(l.WfH, bounds.Dy()/lineHeight)

	for r := 0; r < rows; r++ {
		py := bounds.Min.Y + r*lineHeight
		for x := 0; x < l.Width; x++ {
			px := bounds.Min.X + x*bounds.Dx()/l.Width
			c := wf.Image.RGBAAt(px, py)
			style := tcell.StyleDefault.Background(tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B)))
			v.Screen.SetContent(l.X0+x, l.WfTop+r, ' ', nil, style)
		}
	}
}

// DrawStatusLine shows the clip LED on the left, the overrun LED on the right
// and the frequency in the middle. Reading an LED clears it.
func (v *View) DrawStatusLine(width int, vs Qs.ViewState) {
	status := v.Scope.Status()

	clip := styleLEDOff
	if status.TakeClip() {
		clip = styleLEDOn
	}
	v.drawStyled(1, 0, width, 0, " Pulse clip ", clip)

	overrun := styleLEDOff
	if status.TakeOverrun() {
		overrun = styleLEDOn
	}
	label := " Buffer underrun "
	v.drawStyled(width-len(label)-1, 0, width, 0, label, overrun)

	if vs.Tunable {
		freq := FrequencyLabel(v.Scope.Config.Source, vs.Frequency)
		x := (width - len(freq)) / 2
		v.DrawText(x, 0, x+len(freq), 0, freq)
	}
}

// DrawHelp shows the overlay for the current phase and the live info under it
func (v *View) DrawHelp(l Layout, vs Qs.ViewState) {
	lines := HelpLines(vs.HelpPhase, vs.Tunable)
	if len(lines) == 0 {
		return
	}

	wide := 0
	for _, line := range lines {
		wide = max(wide, len(line))
	}
	x0, y0 := l.X0+2, l.SpecTop+1
	for i, line := range lines {
		v.drawStyled(x0, y0+i, x0+wide+2, y0+i, fmt.Sprintf(" %-*s ", wide, line), styleHelp)
	}

	if v.info == nil || v.frames%infoCycle == 0 {
		v.info = v.LiveInfo()
	}
	width := l.X0 + l.Width
	for i, line := range v.info {
		y := l.HintRow - len(v.info) + i
		v.DrawText(1, y, width, y, line)
	}
}

// DrawScope draws everything from the latest snapshot
func (v *View) DrawScope() {
	width, height := v.Screen.Size()
	vs := v.Scope.View()
	l := CalcLayout(width, height, vs.Waterfall)

	v.DrawStatusLine(width, vs)
	v.DrawGraticule(l, vs)

	snap := v.Scope.Latest()
	if snap == nil {
		v.DrawText(l.X0+2, l.SpecTop+1, width, l.SpecTop+1, "Waiting for samples...")
	} else {
		v.DrawSpectrum(l, vs, snap.Frame)
		if vs.Waterfall {
			v.DrawWaterfall(l, snap.Waterfall)
		}
	}

	if vs.HelpPhase != Qs.HelpOff {
		v.DrawHelp(l, vs)
	}

	v.DrawText(1, l.HintRow, width, l.HintRow, "/RETURN/ for help | /q/ to quit")
	v.DrawText(width-9, l.HintRow, width, l.HintRow, "IQSCOPE")
}

// ResizeScreen redraws after terminal changes
func (v *View) ResizeScreen() {
	v.MU.Lock()
	if v.Screen != nil {
		v.Screen.Sync()
	}
	v.MU.Unlock()
	v.UpdateScreen()
}

// CloseScreen finalizes the terminal, which also ends the keyboard loop
func (v *View) CloseScreen() {
	v.MU.Lock()
	defer v.MU.Unlock()
	if v.Screen != nil {
		v.Screen.Fini()
		v.Screen = nil
	}
}

func (v *View) UpdateScreen() {
	v.MU.Lock()
	defer v.MU.Unlock()
	if v.Screen == nil {
		return
	}
	v.Screen.Clear()
	v.DrawScope()
	v.Screen.Show()
	v.frames++
}

// SendCommand queues a command for the consumer, dropping it when the queue is full
func (v *View) SendCommand(cmd Qs.Command) {
	select {
	case v.Cmds <- cmd:
	default:
		slog.Warn("Command queue full, key dropped", slog.Int("action", int(cmd.Action)))
	}
}

// Running Loop to handle events, returns when the screen is finalized
func (v *View) handleKeyBoardEvent() {
	v.MU.Lock()
	screen := v.Screen
	v.MU.Unlock()
	if screen == nil {
		return
	}

	for {
		ev := screen.PollEvent()
		switch ev := ev.(type) {
		case nil:
			return
		case *tcell.EventResize:
			v.ResizeScreen()
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyCtrlL {
				v.ResizeScreen()
				continue
			}
			if cmd, ok := KeyCommand(ev); ok {
				v.SendCommand(cmd)
			}
		}
	}
}

// onStep records the frame time and redraws
func (v *View) onStep(res Qs.StepResult) {
	if v.Stats != nil {
		v.Stats.RecFrameTimer(res.Duration.Seconds())
	}
	v.UpdateScreen()
}

// run drives the consumer until quit, cancellation or a fatal error
func (v *View) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in run loop", slog.Any("panic", r))
			slog.Error("Recovered from panic", slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("run loop panic: %v", r)
		}
	}()

	slog.Info("Starting scope", slog.String("source", v.Scope.Config.Source))
	return v.Scope.Run(ctx, v.Cmds, v.onStep)
}

// RespWriter is a wrapper with StatsMiddleware, used for Prometheus
type RespWriter struct {
	http.ResponseWriter
	Status int
}

// WriteHeader is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

// Write is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) Write(b []byte) (int, error) {
	return w.ResponseWriter.Write(b)
}

func (v *View) StatsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &RespWriter{
			ResponseWriter: w,
			Status:         200,
		}
		next.ServeHTTP(wrapped, r)

		if v.Stats != nil {
			v.Stats.RecWWW(strconv.Itoa(wrapped.Status), r.Method)
		}
	})
}

// NewView wraps a Scope for display. screen may be nil for headless use.
func NewView(scope *Qs.Scope, screen tcell.Screen, stats *Qo.StatsInternal) (*View, error) {
	if scope == nil {
		slog.Error("Could not get a Scope for display")
		return nil, errors.New("scope not found")
	}

	if screen != nil {
		defStyle := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorLightSteelBlue)
		screen.SetStyle(defStyle)
	}

	view := &View{
		Scope:  scope,
		Screen: screen,
		Stats:  stats,
		Cmds:   make(chan Qs.Command, cmdQueue),
	}
	if stats != nil {
		view.WatchStatus()
	}
	return view, nil
}

// newTTY opens the real terminal
func newTTY() (tcell.Screen, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		slog.Error("Could not get new screen", slog.Any("Error", err))
		return nil, err
	}
	if err := screen.Init(); err != nil {
		slog.Error("Could not initialize screen", slog.Any("Error", err))
		return nil, err
	}
	screen.EnableMouse()
	return screen, nil
}

// startServer runs the API and metrics endpoint in the background
func (v *View) startServer(addr string) {
	v.server = &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(v.SetupMux(), "iqscope"),
	}

	go func() {
		slog.Info("Starting iqscope web endpoint...", slog.String("Port", addr))
		if err := v.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Could not start web endpoint", slog.Any("Error", err))
		}
	}()
}

func (v *View) shutdown() {
	if v.Supervisor != nil {
		v.Supervisor.Stop()
	}
	if v.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := v.server.Shutdown(ctx); err != nil {
			slog.Error("Web endpoint shutdown", slog.Any("Error", err))
		}
	}
	if v.pipeline != nil {
		v.pipeline.Close()
	}
}

// prepare builds the pipeline, the view around it and the monitors
func prepare(ctx context.Context, cfg Qs.Config, screen tcell.Screen) (*View, error) {
	p, err := InitPipeline(cfg)
	if err != nil {
		slog.Error("Failed to init pipeline", slog.Any("Error", err))
		return nil, err
	}

	view, err := NewView(p.Scope, screen, Qo.NewStatsInternal())
	if err != nil {
		p.Close()
		return nil, err
	}
	view.pipeline = p

	load, err := Qs.NewLoadMonitor(ctx, cfg.CPULoadInterval)
	if err != nil {
		slog.Warn("CPU load monitor disabled", slog.Any("Error", err))
	} else {
		view.Load = load
	}
	view.NewMonitorSupervisor(view.Load, p.Scope.FreqMonitor())
	return view, nil
}

// StartScopeView is called by the run command. It owns the terminal until
// the user quits or the pipeline fails, and returns the pipeline error.
func StartScopeView(ctx context.Context, cfg Qs.Config) error {
	screen, err := newTTY()
	if err != nil {
		return err
	}

	view, err := prepare(ctx, cfg, screen)
	if err != nil {
		screen.Fini()
		return err
	}
	defer view.shutdown()

	view.startServer(cfg.Listen)
	view.Supervisor.Start()
	if err := view.pipeline.Start(); err != nil {
		view.CloseScreen()
		return err
	}

	go view.handleKeyBoardEvent()
	view.UpdateScreen()

	err = view.run(ctx)

	view.CloseScreen()
	return err
}

// StartWebNoTUI runs the pipeline and the web endpoint without a terminal
func StartWebNoTUI(ctx context.Context, cfg Qs.Config) error {
	view, err := prepare(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer view.shutdown()

	view.startServer(cfg.Listen)
	view.Supervisor.Start()
	if err := view.pipeline.Start(); err != nil {
		return err
	}

	return view.run(ctx)
}
