package iqscope

import (
	"encoding/json"
	"image/png"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	Qs "github.com/maroda/iqscope/server"
	Qt "github.com/maroda/iqscope/types"
)

// SetupMux handles all data serving:
// - Prometheus metric endpoint
// - Websocket stream of the latest frame
// - Version for programmatic use
// - Pipeline status, waterfall image and recorded frames
func (v *View) SetupMux() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", v.Stats.Handler())
	r.HandleFunc("/ws", v.WebsocketHandler)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(v.StatsMiddleware)
	api.HandleFunc("/version", v.VersionHandler).Methods(http.MethodGet)
	api.HandleFunc("/status", v.StatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/waterfall.png", v.WaterfallHandler).Methods(http.MethodGet)
	api.HandleFunc("/frames", v.FramesHandler).Methods(http.MethodGet)

	return r
}

var Version = "dev"

func (v *View) VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"version": Version})
}

// StatusData is the /api/status document
type StatusData struct {
	Status        Qs.StatusSnapshot `json:"status"`
	QueueDepth    int               `json:"queueDepth"`
	QueueCapacity int               `json:"queueCapacity"`
	View          Qs.ViewState      `json:"view"`
	CPU           Qt.CPUUsage       `json:"cpu"`
	Sequence      uint64            `json:"sequence"`
	Config        Qs.Config         `json:"config"`
}

func (v *View) StatusHandler(w http.ResponseWriter, r *http.Request) {
	data := StatusData{
		Status:        v.statusSnapshot(),
		QueueDepth:    v.Scope.QueueDepth(),
		QueueCapacity: v.Scope.Config.QueueCapacity,
		View:          v.Scope.View(),
		Config:        v.Scope.Config,
	}
	if v.Load != nil {
		data.CPU = v.Load.Usage()
	}
	if snap := v.Scope.Latest(); snap != nil {
		data.Sequence = snap.Sequence
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// WaterfallHandler serves the latest waterfall image as PNG
func (v *View) WaterfallHandler(w http.ResponseWriter, r *http.Request) {
	snap := v.Scope.Latest()
	if snap == nil || snap.Waterfall == nil {
		http.Error(w, "no waterfall", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, snap.Waterfall.Image); err != nil {
		slog.Error("Could not encode waterfall", slog.Any("Error", err))
	}
}

// FramesHandler returns recorded frames in [from, to), RFC 3339 query values.
// The default window is the last minute.
func (v *View) FramesHandler(w http.ResponseWriter, r *http.Request) {
	out := v.Scope.Output()
	if out == nil {
		http.Error(w, "recording disabled", http.StatusNotFound)
		return
	}

	to := time.Now()
	from := to.Add(-time.Minute)
	var err error
	if s := r.URL.Query().Get("from"); s != "" {
		if from, err = time.Parse(time.RFC3339Nano, s); err != nil {
			http.Error(w, "bad from: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if to, err = time.Parse(time.RFC3339Nano, s); err != nil {
			http.Error(w, "bad to: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := out.Flush(); err != nil {
		slog.Error("Could not flush recording", slog.Any("Error", err))
	}
	recs, err := out.QueryRange(from, to)
	if err != nil {
		slog.Error("Could not query recording", slog.Any("Error", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []*Qt.FrameRecord{}
	}
	for _, rec := range recs {
		for i, val := range rec.Values {
			rec.Values[i] = float32(finiteDB(float64(val)))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

// WatchStatus exports the pipeline counters to prometheus at scrape time
func (v *View) WatchStatus() {
	status := v.Scope.Status()
	counter := func(read func(Qs.StatusSnapshot) uint64) func() float64 {
		return func() float64 { return float64(read(status.Snapshot())) }
	}

	v.Stats.WatchCounter("chunks_pushed_total", "Chunks offered by the source",
		counter(func(s Qs.StatusSnapshot) uint64 { return s.ChunksPushed }))
	v.Stats.WatchCounter("chunks_queued_total", "Chunks accepted onto the queue",
		counter(func(s Qs.StatusSnapshot) uint64 { return s.ChunksQueued }))
	v.Stats.WatchCounter("chunks_skipped_total", "Chunks discarded by warm-up or the skip policy",
		counter(func(s Qs.StatusSnapshot) uint64 { return s.WarmupDropped + s.Skipped }))
	v.Stats.WatchCounter("chunks_dropped_total", "Chunks discarded by the overflow policy",
		counter(func(s Qs.StatusSnapshot) uint64 { return s.Dropped }))
	v.Stats.WatchCounter("overflows_total", "Queue-full and hardware overflow events",
		counter(func(s Qs.StatusSnapshot) uint64 { return s.Overflows }))
	v.Stats.WatchCounter("pulses_rejected_total", "Sub-buffers rejected as noise pulses",
		counter(func(s Qs.StatusSnapshot) uint64 { return s.Rejected }))
	v.Stats.WatchCounter("frames_total", "Spectrum frames produced",
		counter(func(s Qs.StatusSnapshot) uint64 { return s.Frames }))
	v.Stats.WatchCounter("waterfall_rows_total", "Waterfall rows emitted",
		counter(func(s Qs.StatusSnapshot) uint64 { return s.Rows }))

	v.Stats.WatchGauge("queue_depth", "Chunks waiting for the consumer",
		func() float64 { return float64(v.Scope.QueueDepth()) })
}
