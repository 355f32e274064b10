package iqscope

import (
	"fmt"
	"image/color"
	"math"
)

// Palette schemes
const (
	PaletteBanded = 1 // red, then red+green, then red+green+blue bands
	PaletteCosine = 2 // phase shifted cosines with rising brightness
)

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// PaletteColor maps a dB value into a color.
// The lower half of [vmin, vmax] spans the whole scheme; the upper half saturates.
func PaletteColor(scheme int, v, vmin, vmax float64) (color.RGBA, error) {
	f := (v - vmin) / (vmax - vmin)
	f *= 2
	f = math.Min(1, math.Max(0, f))

	switch scheme {
	case PaletteBanded:
		var r, g, b float64
		switch {
		case f < 0.333:
			r = float64(int(f * 255 * 3))
		case f < 0.666:
			r = 200
			g = float64(int((f - 0.333) * 255 * 3))
		default:
			r = 200
			g = 200
			b = float64(int((f - 0.666) * 255 * 3))
		}
		return color.RGBA{R: clampByte(r), G: clampByte(g), B: clampByte(b), A: 0xff}, nil

	case PaletteCosine:
		bright := math.Min(1, f+0.15)
		tpi := 2 * math.Pi
		r := bright * 128 * (1 + math.Cos(tpi*f))
		g := bright * 128 * (1 + math.Cos(tpi*f+tpi/3))
		b := bright * 128 * (1 + math.Cos(tpi*f+2*tpi/3))
		return color.RGBA{R: clampByte(r), G: clampByte(g), B: clampByte(b), A: 0xff}, nil

	default:
		return color.RGBA{}, fmt.Errorf("%w: unknown palette %d", ErrInvalidConfig, scheme)
	}
}

// BuildPalette precomputes nsteps colors, step i coloring vmin + i(vmax-vmin)/nsteps
func BuildPalette(scheme int, vmin, vmax float64, nsteps int) ([]color.RGBA, error) {
	if vmax <= vmin {
		return nil, ErrInvalidRange
	}
	if nsteps < 1 {
		return nil, fmt.Errorf("%w: palette needs at least one step", ErrInvalidConfig)
	}
	table := make([]color.RGBA, nsteps)
	for i := range table {
		v := float64(i)*(vmax-vmin)/float64(nsteps) + vmin
		c, err := PaletteColor(scheme, v, vmin, vmax)
		if err != nil {
			return nil, err
		}
		table[i] = c
	}
	return table, nil
}

// Quantize maps a dB value onto a palette index in [0, nsteps-1]
func Quantize(v, vmin, vmax float64, nsteps int) int {
	x := float64(nsteps) * (v - vmin) / (vmax - vmin)
	if math.IsNaN(x) || x <= 0 {
		return 0
	}
	if x >= float64(nsteps-1) {
		return nsteps - 1
	}
	return int(x)
}
