package iqscope

import (
	"fmt"
	"math"
)

// FreqTick is one vertical calibration line of the spectrum graph
type FreqTick struct {
	OffsetKHz int    `json:"offsetKHz"` // offset from the center frequency
	Label     string `json:"label"`     // "0 kHz" at the center, signed kHz elsewhere
}

// DBLines returns the levels of the horizontal calibration lines,
// every 10 dB from spMin up to but not including spMax.
func DBLines(spMin, spMax float64) []float64 {
	var lines []float64
	for db := spMin; db < spMax; db += 10 {
		lines = append(lines, db)
	}
	return lines
}

// DBLabel formats a dB calibration level, the topmost line carries the unit
func DBLabel(db float64, top bool) string {
	if top {
		return fmt.Sprintf("%3d dB", int(db))
	}
	return fmt.Sprintf("%3d", int(db))
}

// FreqTicks picks the widest convenient tick spacing inside half the span
// and returns five ticks centered on zero.
func FreqTicks(sampleRate int) []FreqTick {
	half := float64(sampleRate) / 1000 / 2
	var tick int
	for _, tick = range []int{800, 400, 200, 100, 80, 40, 20, 10} {
		if float64(tick) < half {
			break
		}
	}

	offsets := []int{-tick, -tick / 2, 0, tick / 2, tick}
	ticks := make([]FreqTick, len(offsets))
	for i, off := range offsets {
		label := fmt.Sprintf("%+3d", off)
		if off == 0 {
			label = "0 kHz"
		}
		ticks[i] = FreqTick{OffsetKHz: off, Label: label}
	}
	return ticks
}

// LevelToRow maps a dB level onto a row of a graph height rows tall, row 0 on top.
// Levels outside [spMin, spMax] clamp to the edges; -Inf lands on the bottom row.
func LevelToRow(db, spMin, spMax float64, height int) int {
	if height < 1 {
		return 0
	}
	if math.IsNaN(db) {
		return height - 1
	}
	f := (db - spMin) / (spMax - spMin)
	f = math.Min(1, math.Max(0, f))
	return (height - 1) - int(math.Round(f*float64(height-1)))
}

// OffsetToColumn maps a frequency offset in kHz onto a column of a graph width wide
func OffsetToColumn(offsetKHz float64, sampleRate, width int) int {
	span := float64(sampleRate) / 1000
	x := int(offsetKHz*float64(width)/span) + width/2
	return max(0, min(width-1, x))
}
