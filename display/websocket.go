package iqscope

import (
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	Qs "github.com/maroda/iqscope/server"
)

// Stand-ins for levels JSON cannot carry, like the -Inf of an empty bin
const (
	floorDB   = -300
	ceilingDB = 300
)

// FrameData is one websocket message
type FrameData struct {
	Sequence  uint64            `json:"sequence"`
	Time      time.Time         `json:"time"`
	Spectrum  []float64         `json:"spectrum"`
	SpMin     float64           `json:"spMin"`
	SpMax     float64           `json:"spMax"`
	Frequency float64           `json:"frequency"`
	Ticks     []Qs.FreqTick     `json:"ticks"`
	Row       []int             `json:"row,omitempty"` // newest waterfall row as palette indexes
	Status    Qs.StatusSnapshot `json:"status"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (v *View) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Send a frame when a new one has been published
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if snap := v.Scope.Latest(); snap == nil || snap.Sequence == last {
				continue
			}
			data, ok := v.GetFrameData()
			if !ok {
				continue
			}
			last = data.Sequence
			if err := conn.WriteJSON(data); err != nil {
				return // Connection closed
			}
		}
	}
}

// GetFrameData packages the latest snapshot, false before the first frame
func (v *View) GetFrameData() (FrameData, bool) {
	if v.Scope == nil {
		return FrameData{}, false
	}
	snap := v.Scope.Latest()
	if snap == nil {
		return FrameData{}, false
	}
	vs := v.Scope.View()

	spectrum := make([]float64, len(snap.Frame))
	for i, db := range snap.Frame {
		spectrum[i] = finiteDB(db)
	}

	data := FrameData{
		Sequence:  snap.Sequence,
		Time:      snap.Time,
		Spectrum:  spectrum,
		SpMin:     vs.SpMin,
		SpMax:     vs.SpMax,
		Frequency: vs.Frequency,
		Ticks:     Qs.FreqTicks(v.Scope.Config.SampleRate),
		Status:    v.statusSnapshot(),
	}
	if snap.Waterfall != nil && len(snap.Waterfall.Rows) > 0 {
		data.Row = snap.Waterfall.Rows[0]
	}
	return data, true
}

// statusSnapshot reads the pipeline status. Without a terminal the web
// endpoints are the only observers of the indicators, so they clear them.
func (v *View) statusSnapshot() Qs.StatusSnapshot {
	v.MU.Lock()
	headless := v.Screen == nil
	v.MU.Unlock()
	if headless {
		return v.Scope.Status().TakeSnapshot()
	}
	return v.Scope.Status().Snapshot()
}

func finiteDB(db float64) float64 {
	if math.IsNaN(db) || math.IsInf(db, -1) || db < floorDB {
		return floorDB
	}
	if db > ceilingDB {
		return ceilingDB
	}
	return db
}
