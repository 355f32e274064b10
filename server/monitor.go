package iqscope

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	Qt "github.com/maroda/iqscope/types"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
)

// LoadMonitor tracks this process's share of CPU time and the load average
type LoadMonitor struct {
	MU       sync.RWMutex
	Interval time.Duration
	proc     *process.Process
	lastUser float64
	lastSys  float64
	lastWall time.Time
	usage    Qt.CPUUsage
}

func NewLoadMonitor(ctx context.Context, interval time.Duration) (*LoadMonitor, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Error("Could not find own process", slog.Any("Error", err))
		return nil, fmt.Errorf("load monitor: %w", err)
	}
	times, err := proc.TimesWithContext(ctx)
	if err != nil {
		slog.Error("Could not read process times", slog.Any("Error", err))
		return nil, fmt.Errorf("load monitor: %w", err)
	}

	lm := &LoadMonitor{
		Interval: interval,
		proc:     proc,
		lastUser: times.User,
		lastSys:  times.System,
		lastWall: time.Now(),
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		lm.usage.LoadAvg = avg.Load1
	}
	return lm, nil
}

// Sample takes one reading; user and system are fractions of the wall time
// elapsed since the previous reading.
func (lm *LoadMonitor) Sample(ctx context.Context) error {
	times, err := lm.proc.TimesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("process times: %w", err)
	}
	now := time.Now()

	lm.MU.Lock()
	defer lm.MU.Unlock()

	wall := now.Sub(lm.lastWall).Seconds()
	if wall > 0 {
		lm.usage.User = (times.User - lm.lastUser) / wall
		lm.usage.System = (times.System - lm.lastSys) / wall
	}
	lm.lastUser, lm.lastSys, lm.lastWall = times.User, times.System, now

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return fmt.Errorf("load average: %w", err)
	}
	lm.usage.LoadAvg = avg.Load1
	return nil
}

// Usage is the last reading
func (lm *LoadMonitor) Usage() Qt.CPUUsage {
	lm.MU.RLock()
	defer lm.MU.RUnlock()
	return lm.usage
}

// Tuner is a receiver whose center frequency can be read and set, in Hz
type Tuner interface {
	Frequency() (float64, error)
	SetFrequency(hz float64) error
}

// FreqMonitor serializes all tuner I/O onto one goroutine.
// Key handlers post requests, Sample applies them and reads back.
type FreqMonitor struct {
	MU       sync.RWMutex
	Interval time.Duration
	tuner    Tuner
	freq     float64
	pending  bool
	request  float64
}

func NewFreqMonitor(t Tuner, interval time.Duration) *FreqMonitor {
	fm := &FreqMonitor{
		Interval: interval,
		tuner:    t,
	}
	if hz, err := t.Frequency(); err == nil {
		fm.freq = hz
	}
	return fm
}

// Request asks for a new frequency on the next Sample
func (fm *FreqMonitor) Request(hz float64) {
	fm.MU.Lock()
	defer fm.MU.Unlock()
	fm.request = hz
	fm.pending = true
}

// Step requests a move of delta Hz from the newest known or requested frequency
func (fm *FreqMonitor) Step(delta float64) {
	fm.MU.Lock()
	defer fm.MU.Unlock()
	base := fm.freq
	if fm.pending {
		base = fm.request
	}
	fm.request = base + delta
	fm.pending = true
}

// Sample applies a pending request if it differs from the last reading,
// then reads the frequency back.
func (fm *FreqMonitor) Sample(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fm.MU.Lock()
	pending, request, last := fm.pending, fm.request, fm.freq
	fm.pending = false
	fm.MU.Unlock()

	if pending && request != last {
		if err := fm.tuner.SetFrequency(request); err != nil {
			slog.Error("Could not set frequency",
				slog.Float64("hz", request),
				slog.Any("Error", err))
			return fmt.Errorf("set frequency: %w", err)
		}
	}

	hz, err := fm.tuner.Frequency()
	if err != nil {
		return fmt.Errorf("read frequency: %w", err)
	}

	fm.MU.Lock()
	fm.freq = hz
	fm.MU.Unlock()
	return nil
}

// Frequency is the last reading in Hz
func (fm *FreqMonitor) Frequency() float64 {
	fm.MU.RLock()
	defer fm.MU.RUnlock()
	return fm.freq
}
