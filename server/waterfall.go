package iqscope

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"slices"
	"sync"

	"github.com/cwbudde/algo-vecmath"
	Qt "github.com/maroda/iqscope/types"
)

// WaterfallOptions sizes a Waterfall
type WaterfallOptions struct {
	Scheme       int     // palette scheme, 1 or 2
	Steps        int     // palette entries
	RowsPerAccum int     // frames averaged into each row
	Lines        int     // rows kept
	Width        int     // image width in pixels
	LineHeight   int     // image height of one row in pixels
	VMin         float64 // palette range
	VMax         float64
}

// Waterfall averages spectrum frames into color rows and scrolls them
// down an image, newest row on top. A parallel list of palette indexes
// serves renderers that draw cells instead of pixels.
type Waterfall struct {
	MU sync.RWMutex

	scheme     int
	nsteps     int
	nsum       int
	lines      int
	width      int
	lineHeight int

	vmin, vmax           float64
	vminReset, vmaxReset float64
	palette              []color.RGBA

	img  *image.RGBA
	rows [][]int // newest first

	sized    bool
	datasize int
	acc      []float64
	mean     []float64
	count    int
}

// WaterfallSnapshot is a deep copy for readers on other goroutines
type WaterfallSnapshot struct {
	Image      *image.RGBA
	Rows       [][]int
	Palette    []color.RGBA
	LineHeight int
	VMin       float64
	VMax       float64
	Count      int
}

func NewWaterfall(opts WaterfallOptions) (*Waterfall, error) {
	if opts.RowsPerAccum < 1 || opts.Lines < 1 || opts.Width < 1 {
		return nil, fmt.Errorf("%w: waterfall needs positive rows, lines and width", ErrInvalidConfig)
	}
	if opts.LineHeight < 1 {
		opts.LineHeight = 1
	}

	palette, err := BuildPalette(opts.Scheme, opts.VMin, opts.VMax, opts.Steps)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Lines*opts.LineHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	return &Waterfall{
		scheme:     opts.Scheme,
		nsteps:     opts.Steps,
		nsum:       opts.RowsPerAccum,
		lines:      opts.Lines,
		width:      opts.Width,
		lineHeight: opts.LineHeight,
		vmin:       opts.VMin,
		vmax:       opts.VMax,
		vminReset:  opts.VMin,
		vmaxReset:  opts.VMax,
		palette:    palette,
		img:        img,
		rows:       make([][]int, 0, opts.Lines),
	}, nil
}

// Accumulate adds a frame and reports whether a new row was emitted.
// The first frame fixes the row length; frames of another length are ignored.
func (w *Waterfall) Accumulate(frame Qt.SpectrumFrame) bool {
	w.MU.Lock()
	defer w.MU.Unlock()

	if !w.sized {
		w.datasize = len(frame)
		w.acc = make([]float64, w.datasize)
		w.mean = make([]float64, w.datasize)
		w.sized = true
	}
	if len(frame) != w.datasize || w.datasize == 0 {
		slog.Warn("Waterfall frame length mismatch",
			slog.Int("got", len(frame)),
			slog.Int("want", w.datasize))
		return false
	}

	w.count++
	vecmath.AddBlockInPlace(w.acc, frame)
	if w.count%w.nsum != 0 {
		return false
	}

	vecmath.ScaleBlock(w.mean, w.acc, 1/float64(w.count))
	row := make([]int, w.datasize)
	for i, v := range w.mean {
		row[i] = Quantize(v, w.vmin, w.vmax, w.nsteps)
	}
	w.paintLocked(row)

	w.rows = slices.Insert(w.rows, 0, row)
	if len(w.rows) > w.lines {
		w.rows = w.rows[:w.lines]
	}

	w.count = 0
	clear(w.acc)
	return true
}

// paintLocked scrolls the image down one row and draws row at the top
func (w *Waterfall) paintLocked(row []int) {
	shift := w.lineHeight * w.img.Stride
	copy(w.img.Pix[shift:], w.img.Pix[:len(w.img.Pix)-shift])

	dx := float64(w.width) / float64(len(row))
	for ix, vi := range row {
		x0 := int(float64(ix) * dx)
		x1 := max(int(float64(ix+1)*dx), x0+1)
		cell := image.Rect(x0, 0, min(x1, w.width), w.lineHeight)
		draw.Draw(w.img, cell, &image.Uniform{C: w.palette[vi]}, image.Point{}, draw.Src)
	}
}

// SetRange changes the palette range for rows emitted from now on
func (w *Waterfall) SetRange(vmin, vmax float64) error {
	if vmax <= vmin {
		return fmt.Errorf("%w: %g..%g", ErrInvalidRange, vmin, vmax)
	}
	palette, err := BuildPalette(w.scheme, vmin, vmax, w.nsteps)
	if err != nil {
		return err
	}

	w.MU.Lock()
	defer w.MU.Unlock()
	w.vmin, w.vmax = vmin, vmax
	w.palette = palette
	return nil
}

// ResetRange restores the range the waterfall was built with
func (w *Waterfall) ResetRange() (float64, float64) {
	palette, _ := BuildPalette(w.scheme, w.vminReset, w.vmaxReset, w.nsteps)

	w.MU.Lock()
	defer w.MU.Unlock()
	w.vmin, w.vmax = w.vminReset, w.vmaxReset
	w.palette = palette
	return w.vmin, w.vmax
}

// Range is the current palette range
func (w *Waterfall) Range() (float64, float64) {
	w.MU.RLock()
	defer w.MU.RUnlock()
	return w.vmin, w.vmax
}

// Palette returns a copy of the current color table
func (w *Waterfall) Palette() []color.RGBA {
	w.MU.RLock()
	defer w.MU.RUnlock()
	return slices.Clone(w.palette)
}

// Image returns the live image, only for the goroutine calling Accumulate
func (w *Waterfall) Image() *image.RGBA {
	return w.img
}

// Rows returns a copy of the palette index rows, newest first
func (w *Waterfall) Rows() [][]int {
	w.MU.RLock()
	defer w.MU.RUnlock()
	return cloneRows(w.rows)
}

// Count is the number of frames accumulated toward the next row
func (w *Waterfall) Count() int {
	w.MU.RLock()
	defer w.MU.RUnlock()
	return w.count
}

func (w *Waterfall) Snapshot() *WaterfallSnapshot {
	w.MU.RLock()
	defer w.MU.RUnlock()

	img := image.NewRGBA(w.img.Rect)
	copy(img.Pix, w.img.Pix)
	return &WaterfallSnapshot{
		Image:      img,
		Rows:       cloneRows(w.rows),
		Palette:    slices.Clone(w.palette),
		LineHeight: w.lineHeight,
		VMin:       w.vmin,
		VMax:       w.vmax,
		Count:      w.count,
	}
}

func cloneRows(rows [][]int) [][]int {
	out := make([][]int, len(rows))
	for i, r := range rows {
		out[i] = slices.Clone(r)
	}
	return out
}
