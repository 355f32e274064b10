package iqscope

import (
	"context"
	"log/slog"
	"sync"
	"time"

	Qs "github.com/maroda/iqscope/server"
)

// MonitorSupervisor runs the ancillary monitors on their own tickers,
// away from the consumer loop. Either monitor may be nil.
type MonitorSupervisor struct {
	View     *View
	Load     *Qs.LoadMonitor
	Freq     *Qs.FreqMonitor
	StopChan chan struct{}
	WG       sync.WaitGroup
}

// NewMonitorSupervisor is a wrapper around the View that manages monitor goroutines
// They are strongly coupled, one knows about the other
func (v *View) NewMonitorSupervisor(load *Qs.LoadMonitor, freq *Qs.FreqMonitor) *MonitorSupervisor {
	ms := &MonitorSupervisor{
		View: v,
		Load: load,
		Freq: freq,
	}
	v.Supervisor = ms
	return ms
}

// Start the MonitorSupervisor
func (m *MonitorSupervisor) Start() {
	m.StopChan = make(chan struct{})

	if m.Load != nil {
		m.watch("load", m.Load.Interval, m.Load.Sample)
	}
	if m.Freq != nil {
		m.watch("frequency", m.Freq.Interval, m.Freq.Sample)
	}
}

// watch calls sample every interval until Stop
func (m *MonitorSupervisor) watch(name string, interval time.Duration, sample func(context.Context) error) {
	if interval <= 0 {
		interval = time.Second
	}
	stop := m.StopChan

	m.WG.Add(1)
	go func() {
		defer m.WG.Done()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				start := time.Now()
				if err := sample(ctx); err != nil && ctx.Err() == nil {
					// Only log the error, keep going otherwise
					slog.Error("Monitor sample failed", slog.String("monitor", name), slog.Any("Error", err))
				}
				if m.View != nil && m.View.Stats != nil {
					m.View.Stats.RecMonitorTimer(name, time.Since(start).Seconds())
				}
			case <-stop:
				return
			}
		}
	}()
}

// Stop the MonitorSupervisor
func (m *MonitorSupervisor) Stop() {
	if m.StopChan != nil {
		close(m.StopChan)
		m.WG.Wait()
		m.StopChan = nil
	}
}

// Restart the MonitorSupervisor
func (m *MonitorSupervisor) Restart() {
	m.Stop()
	m.Start()
}
