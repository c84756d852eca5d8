package types

import (
	"fmt"
	"time"
)

// The error values in this file separate the failure classes of a
// program run. Resource exhaustion and user reverts are expected
// outcomes; desync and timeout errors indicate bugs or broken
// embeddings and are never triggered by guest input alone.

var (
	_ error = OutOfInkError{}
	_ error = OutOfStackError{}
	_ error = MemoryBoundsError{}
	_ error = ProtocolDesyncError{}
	_ error = RelayTimeoutError{}
	_ error = LogDataError{}
	_ error = EarlyExitError{}
	_ error = ExecutionError{}
	_ error = NoSuchProgramError{}
)

// OutOfInkError is returned when a charge exceeds the ink remaining.
// Once raised, the meter stays exhausted for the rest of the run.
type OutOfInkError struct{}

func (OutOfInkError) Error() string {
	return "out of ink"
}

// OutOfStackError is returned when a program exceeds its configured
// call-stack depth. The policy is full confiscation: no ink is
// refunded for the run.
type OutOfStackError struct{}

func (OutOfStackError) Error() string {
	return "call stack exhausted"
}

// MemoryBoundsError is returned when a guest-supplied pointer/length
// pair falls outside the program's linear memory. Instrumented
// programs should never produce one; it is surfaced as an internal
// failure, not a user revert.
type MemoryBoundsError struct {
	Ptr  uint32
	Len  uint32
	Size uint32
}

func (e MemoryBoundsError) Error() string {
	return fmt.Sprintf("memory access out of bounds: [%d, %d) exceeds %d", e.Ptr, uint64(e.Ptr)+uint64(e.Len), e.Size)
}

// ProtocolDesyncError reports a violation of the host-call protocol:
// a mistyped value on the relay wire, a stale request id, or a host
// call arriving with no current program. These indicate a dispatcher
// or relay bug and abort the invocation.
type ProtocolDesyncError struct {
	Reason string
}

func (e ProtocolDesyncError) Error() string {
	return fmt.Sprintf("host call protocol desync: %s", e.Reason)
}

// RelayTimeoutError is returned when the owning side of the native
// engine's call relay waits longer than the configured timeout for
// the program goroutine. The invocation fails; other invocations are
// unaffected.
type RelayTimeoutError struct {
	Elapsed time.Duration
}

func (e RelayTimeoutError) Error() string {
	return fmt.Sprintf("relay receive timed out after %s", e.Elapsed)
}

// LogDataError is returned by emit_log before any size-dependent
// charge when the topic count or data length is malformed.
type LogDataError struct {
	Topics  uint32
	DataLen uint32
}

func (e LogDataError) Error() string {
	return fmt.Sprintf("bad topic data: %d topics, %d data bytes", e.Topics, e.DataLen)
}

// EarlyExitError ends a debug-mode run before the entrypoint returns,
// carrying the status the guest chose. It is a control-flow signal,
// not a failure.
type EarlyExitError struct {
	Status uint32
}

func (e EarlyExitError) Error() string {
	return fmt.Sprintf("program exited early with status %d", e.Status)
}

// ExecutionError wraps an internal failure raised while running a
// program: a trap, a panic crossing the relay, or an engine fault.
// The detail is diagnostic only and never feeds back into gas
// accounting.
type ExecutionError struct {
	Inner error
}

func (e ExecutionError) Error() string {
	return fmt.Sprintf("failed to execute program: %v", e.Inner)
}

func (e ExecutionError) Unwrap() error {
	return e.Inner
}

// NoSuchProgramError is returned by the program store for an unknown
// checksum.
type NoSuchProgramError struct {
	Checksum Checksum
}

func (e NoSuchProgramError) Error() string {
	return fmt.Sprintf("no program stored for checksum %s", e.Checksum)
}
