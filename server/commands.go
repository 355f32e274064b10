package iqscope

import "log/slog"

// Action is a user request coming from a key or a button
type Action int

const (
	ActNone      Action = iota // ignored
	ActQuit                    // q, Esc
	ActReset                   // r: restore display and palette ranges
	ActSpMaxUp                 // U
	ActSpMaxDown               // u
	ActSpMinUp                 // L
	ActSpMinDown               // l
	ActVMaxUp                  // B
	ActVMaxDown                // b
	ActVMinUp                  // D
	ActVMinDown                // d
	ActHelp                    // Enter: cycle the help overlay
	ActUp                      // arrows mean different things per help phase
	ActDown
	ActLeft
	ActRight
)

// Command is an Action plus the shift state for bigger tuning steps
type Command struct {
	Action Action
	Shift  bool
}

// Help overlay phases
const (
	HelpOff      = 0
	HelpKeys     = 1
	HelpSpectrum = 2
	HelpPalette  = 3
)

// Apply executes one command and reports whether it asks to quit.
// Range moves that would break their limits are ignored.
func (s *Scope) Apply(cmd Command) bool {
	action := arrowAction(s.HelpPhase(), cmd.Action)

	switch action {
	case ActQuit:
		return true
	case ActReset:
		s.ResetRanges()
	case ActHelp:
		s.nextHelpPhase()
	case ActSpMaxUp, ActSpMaxDown, ActSpMinUp, ActSpMinDown:
		s.stepDisplayRange(action)
	case ActVMaxUp, ActVMaxDown, ActVMinUp, ActVMinDown:
		s.stepPaletteRange(action)
	case ActLeft, ActRight:
		s.tune(action == ActRight, cmd.Shift)
	}
	return false
}

// arrowAction maps arrows onto the ranges named by the help page on screen.
// Outside those pages the arrows tune.
func arrowAction(phase int, a Action) Action {
	switch phase {
	case HelpSpectrum:
		switch a {
		case ActUp:
			return ActSpMaxUp
		case ActDown:
			return ActSpMaxDown
		case ActRight:
			return ActSpMinUp
		case ActLeft:
			return ActSpMinDown
		}
	case HelpPalette:
		switch a {
		case ActUp:
			return ActVMaxUp
		case ActDown:
			return ActVMaxDown
		case ActRight:
			return ActVMinUp
		case ActLeft:
			return ActVMinDown
		}
	}
	return a
}

func (s *Scope) nextHelpPhase() {
	s.MU.Lock()
	defer s.MU.Unlock()
	switch s.helpPhase {
	case HelpOff, HelpKeys:
		s.helpPhase++
	case HelpSpectrum:
		if s.waterfall != nil {
			s.helpPhase = HelpPalette
		} else {
			s.helpPhase = HelpOff
		}
	default:
		s.helpPhase = HelpOff
	}
}

// HelpPhase is the help overlay page on screen, 0 when hidden
func (s *Scope) HelpPhase() int {
	s.MU.RLock()
	defer s.MU.RUnlock()
	return s.helpPhase
}

func (s *Scope) stepDisplayRange(a Action) {
	s.MU.Lock()
	defer s.MU.Unlock()
	switch a {
	case ActSpMaxUp:
		if s.spMax < spMaxCeiling {
			s.spMax += rangeStep
		}
	case ActSpMaxDown:
		if s.spMax > spMaxFloor && s.spMax > s.spMin+spMinGap {
			s.spMax -= rangeStep
		}
	case ActSpMinUp:
		if s.spMin < s.spMax-spMinGap {
			s.spMin += rangeStep
		}
	case ActSpMinDown:
		if s.spMin > spMinFloor {
			s.spMin -= rangeStep
		}
	}
}

func (s *Scope) stepPaletteRange(a Action) {
	s.MU.RLock()
	vMin, vMax := s.vMin, s.vMax
	s.MU.RUnlock()

	switch a {
	case ActVMaxUp:
		if vMax < vMaxCeiling {
			vMax += rangeStep
		}
	case ActVMaxDown:
		if vMax > vMin+paletteMinGap {
			vMax -= rangeStep
		}
	case ActVMinUp:
		if vMin < vMax-paletteMinGap {
			vMin += rangeStep
		}
	case ActVMinDown:
		if vMin > vMinFloor {
			vMin -= rangeStep
		}
	}

	if err := s.SetPaletteRange(vMin, vMax); err != nil {
		slog.Error("Palette range rejected", slog.Any("Error", err))
	}
}

func (s *Scope) tune(up, shift bool) {
	if s.freq == nil {
		slog.Debug("Tuning ignored, no tuner")
		return
	}
	step := float64(rigTuneStep)
	if shift {
		step = rigTuneStepBig
	}
	if s.Config.Source == SourceRTL {
		step = rtlTuneStep
		if shift {
			step = rtlTuneStepBig
		}
	}
	if !up {
		step = -step
	}
	s.freq.Step(step)
}
