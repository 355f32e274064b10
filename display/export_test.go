package iqscope

// HandleKeyBoardEvent exposes the keyboard loop to the external tests
func (v *View) HandleKeyBoardEvent() { v.handleKeyBoardEvent() }
