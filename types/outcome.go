package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
)

// UserOutcomeKind is the status byte a finished run reports to the
// embedding host. The values are part of the engine ABI: both the
// native and the replay engine must produce the same kind for the
// same run.
type UserOutcomeKind uint8

const (
	// UserSuccess means the entrypoint returned zero; the output
	// buffer holds the program's result.
	UserSuccess UserOutcomeKind = iota
	// UserRevert means the program reverted; the output buffer holds
	// the revert payload.
	UserRevert
	// UserFailure means the run aborted on an internal fault (trap,
	// bounds violation, protocol desync). The output carries the
	// diagnostic text.
	UserFailure
	// UserOutOfInk means the ink meter was exhausted.
	UserOutOfInk
	// UserOutOfStack means the program exceeded its depth limit. All
	// remaining ink is confiscated.
	UserOutOfStack
)

func (k UserOutcomeKind) String() string {
	switch k {
	case UserSuccess:
		return "success"
	case UserRevert:
		return "revert"
	case UserFailure:
		return "failure"
	case UserOutOfInk:
		return "out of ink"
	case UserOutOfStack:
		return "out of stack"
	default:
		return fmt.Sprintf("unknown outcome 0x%x", uint8(k))
	}
}

// UserOutcome is the result of one program run.
type UserOutcome struct {
	Kind UserOutcomeKind
	// Data is the program output for Success/Revert and the
	// diagnostic text for Failure. Empty for the exhaustion kinds.
	Data []byte
	// Trace holds one record per completed hostio when tracing was
	// enabled for the run.
	Trace []HostioTraceInfo
}

// Output translates the outcome into the (data, error) convention the
// surrounding EVM integration expects: reverts and resource
// exhaustion map onto the canonical interpreter errors so that
// calling contracts cannot distinguish a sandboxed callee from a
// native one.
func (o UserOutcome) Output() ([]byte, error) {
	switch o.Kind {
	case UserSuccess:
		return o.Data, nil
	case UserRevert:
		return o.Data, vm.ErrExecutionReverted
	case UserFailure:
		return nil, ExecutionError{Inner: fmt.Errorf("%s", o.Data)}
	case UserOutOfInk:
		return nil, vm.ErrOutOfGas
	case UserOutOfStack:
		return nil, vm.ErrDepth
	default:
		return nil, fmt.Errorf("invalid outcome kind %d", o.Kind)
	}
}

// HostioTraceInfo records one completed host call for debugging and
// replay comparison. Args and Outs are the operand and result bytes
// exactly as they crossed the boundary; EndInk is the ink remaining
// after the call's charges.
type HostioTraceInfo struct {
	Name     string
	Args     []byte
	Outs     []byte
	StartInk Ink
	EndInk   Ink
}
