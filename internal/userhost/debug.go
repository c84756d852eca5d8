package userhost

import "github.com/inkvm/inkvm/types"

// The console hostios exist only in debug-mode runs and charge no
// ink.

// ExitEarly ends the run immediately with the guest-chosen status.
func (h *Host) ExitEarly(status uint32) {
	h.abort(types.EarlyExitError{Status: status})
}

// DebugInkLeft reports the remaining ink without charging for the
// question.
func (h *Host) DebugInkLeft() uint64 {
	return uint64(h.current().Meter.InkLeft().Ink)
}

// DebugPrintln logs a guest string through the host's logger.
func (h *Host) DebugPrintln(ptr, length uint32) {
	p := h.current()
	text, err := p.Memory.ReadString(ptr, length)
	h.must(err)
	h.logger.Info("program console", "text", text)
}
