// Package programs tracks the identity of executing programs. Each
// top-level invocation owns one Stack; re-entrant calls push a frame
// per nesting level so host functions always resolve the innermost
// program. The stack tracks identity only: depth limits are enforced
// by the execution engines through the instrumented stack counter.
package programs

import (
	"github.com/inkvm/inkvm/internal/guestmem"
	"github.com/inkvm/inkvm/internal/meter"
	"github.com/inkvm/inkvm/types"
)

// Program is the state of one executing program instance. The EVM
// context in Data is immutable for the lifetime of the frame; Outs,
// ReturnDataLen, and Trace are written as the run progresses.
type Program struct {
	// Args is the calldata served to the guest by read_args.
	Args []byte
	// Outs is the result or revert payload set by write_result.
	Outs []byte
	// Api reaches the embedding chain, directly or across the relay.
	Api types.EvmApi
	// Data is the block and message context for this frame.
	Data types.EvmData
	// Config fixes pricing and limits for this frame.
	Config types.ProgramConfig
	// Memory views the instance's linear memory.
	Memory *guestmem.Memory
	// Meter charges against the instance's ink globals.
	Meter *meter.Meter
	// ReturnDataLen caches the byte length of the most recent call's
	// return data so return_data_size never re-fetches.
	ReturnDataLen uint32
	// Trace collects per-hostio records when Data.Tracing is set.
	Trace []types.HostioTraceInfo
}

// RecordHostio appends a trace record if tracing is enabled for this
// frame.
func (p *Program) RecordHostio(info types.HostioTraceInfo) {
	if p.Data.Tracing {
		p.Trace = append(p.Trace, info)
	}
}

// Stack is the frame stack of one top-level invocation. Concurrent
// top-level runs never share a Stack, so no locking happens here;
// within a run, pushes and pops nest strictly.
type Stack struct {
	frames []*Program
}

// Depth returns the number of live frames.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Push enters a new frame.
func (s *Stack) Push(p *Program) {
	s.frames = append(s.frames, p)
}

// Pop leaves the innermost frame and returns it. An empty stack is a
// dispatcher bug, never a consequence of guest input, and panics.
func (s *Stack) Pop() *Program {
	p := s.Current()
	s.frames = s.frames[:len(s.frames)-1]
	return p
}

// Current returns the innermost frame. Host calls only fire while
// their program runs, so an empty stack here is fatal.
func (s *Stack) Current() *Program {
	if len(s.frames) == 0 {
		panic(types.ProtocolDesyncError{Reason: "host call with no current program"})
	}
	return s.frames[len(s.frames)-1]
}
