package iqscope

import "sync"

// Status holds the pipeline counters and the two sticky indicators.
// Producer and consumer both write it, the renderer reads it.
type Status struct {
	MU sync.RWMutex

	chunksPushed   uint64 // every chunk the producer offered
	chunksQueued   uint64 // chunks that made it onto the queue
	warmupDropped  uint64 // discarded during warm-up
	skipped        uint64 // discarded by the skip policy
	dropped        uint64 // discarded by drop-newest or drop-oldest
	overflows      uint64 // queue-full events plus hardware overflow reports
	chunksAnalysed uint64 // chunks turned into a frame
	rejected       uint64 // sub-buffers rejected as noise pulses
	frames         uint64 // spectrum frames produced
	rows           uint64 // waterfall rows emitted

	adcMaxI int // largest raw I sample of the last chunk
	adcMaxQ int // largest raw Q sample of the last chunk

	overrunLED bool
	clipLED    bool
}

// StatusSnapshot is a copy of Status safe to hand to other goroutines
type StatusSnapshot struct {
	ChunksPushed   uint64 `json:"chunksPushed"`
	ChunksQueued   uint64 `json:"chunksQueued"`
	WarmupDropped  uint64 `json:"warmupDropped"`
	Skipped        uint64 `json:"skipped"`
	Dropped        uint64 `json:"dropped"`
	Overflows      uint64 `json:"overflows"`
	ChunksAnalysed uint64 `json:"chunksAnalysed"`
	Rejected       uint64 `json:"rejected"`
	Frames         uint64 `json:"frames"`
	Rows           uint64 `json:"rows"`
	ADCMaxI        int    `json:"adcMaxI"`
	ADCMaxQ        int    `json:"adcMaxQ"`
	OverrunLED     bool   `json:"overrunLED"`
	ClipLED        bool   `json:"clipLED"`
}

func NewStatus() *Status {
	return &Status{}
}

// RaiseOverrun marks a queue-full or hardware overflow event
func (s *Status) RaiseOverrun() {
	s.MU.Lock()
	defer s.MU.Unlock()
	s.overflows++
	s.overrunLED = true
}

// RaiseClip marks a rejected sub-buffer
func (s *Status) RaiseClip() {
	s.MU.Lock()
	defer s.MU.Unlock()
	s.rejected++
	s.clipLED = true
}

// TakeOverrun reports the overrun indicator and clears it
func (s *Status) TakeOverrun() bool {
	s.MU.Lock()
	defer s.MU.Unlock()
	on := s.overrunLED
	s.overrunLED = false
	return on
}

// TakeClip reports the clip indicator and clears it
func (s *Status) TakeClip() bool {
	s.MU.Lock()
	defer s.MU.Unlock()
	on := s.clipLED
	s.clipLED = false
	return on
}

func (s *Status) bump(counter *uint64) {
	s.MU.Lock()
	defer s.MU.Unlock()
	*counter++
}

func (s *Status) addPushed()   { s.bump(&s.chunksPushed) }
func (s *Status) addQueued()   { s.bump(&s.chunksQueued) }
func (s *Status) addWarmup()   { s.bump(&s.warmupDropped) }
func (s *Status) addSkipped()  { s.bump(&s.skipped) }
func (s *Status) addDropped()  { s.bump(&s.dropped) }
func (s *Status) addAnalysed() { s.bump(&s.chunksAnalysed) }
func (s *Status) addFrame()    { s.bump(&s.frames) }
func (s *Status) addRow()      { s.bump(&s.rows) }

func (s *Status) setADCMax(i, q int) {
	s.MU.Lock()
	defer s.MU.Unlock()
	s.adcMaxI = i
	s.adcMaxQ = q
}

// ADCMax returns the largest raw I and Q values of the last sound card chunk
func (s *Status) ADCMax() (int, int) {
	s.MU.RLock()
	defer s.MU.RUnlock()
	return s.adcMaxI, s.adcMaxQ
}

// Snapshot copies every counter without touching the indicators
func (s *Status) Snapshot() StatusSnapshot {
	s.MU.RLock()
	defer s.MU.RUnlock()
	return s.snapshotLocked()
}

// TakeSnapshot copies every counter and clears both indicators,
// for observers that stand in for the terminal LEDs
func (s *Status) TakeSnapshot() StatusSnapshot {
	s.MU.Lock()
	defer s.MU.Unlock()
	snap := s.snapshotLocked()
	s.overrunLED = false
	s.clipLED = false
	return snap
}

func (s *Status) snapshotLocked() StatusSnapshot {
	return StatusSnapshot{
		ChunksPushed:   s.chunksPushed,
		ChunksQueued:   s.chunksQueued,
		WarmupDropped:  s.warmupDropped,
		Skipped:        s.skipped,
		Dropped:        s.dropped,
		Overflows:      s.overflows,
		ChunksAnalysed: s.chunksAnalysed,
		Rejected:       s.rejected,
		Frames:         s.frames,
		Rows:           s.rows,
		ADCMaxI:        s.adcMaxI,
		ADCMaxQ:        s.adcMaxQ,
		OverrunLED:     s.overrunLED,
		ClipLED:        s.clipLED,
	}
}
