package iqscope_test

import (
	"testing"

	Qs "github.com/maroda/iqscope/server"
)

func TestStatus_TakeSnapshot(t *testing.T) {
	t.Run("Snapshot leaves the indicators lit", func(t *testing.T) {
		s := Qs.NewStatus()
		s.RaiseClip()
		s.RaiseOverrun()

		for range 2 {
			snap := s.Snapshot()
			if !snap.ClipLED || !snap.OverrunLED {
				t.Errorf("indicators cleared by Snapshot: %+v", snap)
			}
		}
	})

	t.Run("TakeSnapshot reports then clears", func(t *testing.T) {
		s := Qs.NewStatus()
		s.RaiseClip()
		s.RaiseOverrun()

		snap := s.TakeSnapshot()
		if !snap.ClipLED || !snap.OverrunLED {
			t.Errorf("indicators missing from first read: %+v", snap)
		}
		assertInt(t, int(snap.Rejected), 1)
		assertInt(t, int(snap.Overflows), 1)

		snap = s.TakeSnapshot()
		if snap.ClipLED || snap.OverrunLED {
			t.Errorf("indicators still lit on second read: %+v", snap)
		}
		assertInt(t, int(snap.Overflows), 1)
		if s.TakeClip() || s.TakeOverrun() {
			t.Errorf("indicators still lit for the terminal")
		}
	})
}
