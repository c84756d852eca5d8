//go:build go1.18

package gofuzz

import (
	"errors"
	"testing"

	"github.com/inkvm/inkvm/types"
)

// FuzzPinUnpin drives an arbitrary sequence of store operations
// against a model of which programs should currently resolve.
func FuzzPinUnpin(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x00, 0x01, 0x04, 0x03, 0x04})
	f.Add([]byte{0x10, 0x12, 0x00, 0x13, 0x15, 0x04})
	f.Add([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05})

	programs := [][]byte{echoProgram(), trivialProgram(1)}

	f.Fuzz(func(t *testing.T, ops []byte) {
		if len(ops) > 64 {
			ops = ops[:64]
		}
		vm := newFuzzVM(t)

		// Every mutation goes through the public API, so a pinned
		// program always has its file: stored alone decides visibility.
		stored := make(map[types.Checksum]bool)

		for _, op := range ops {
			wasm := programs[int(op>>4)%len(programs)]
			checksum := types.CalcChecksum(wasm)

			switch op % 6 {
			case 0: // store
				got, err := vm.StoreProgram(wasm)
				if err != nil {
					t.Fatalf("store failed: %v", err)
				}
				if got != checksum {
					t.Fatalf("store returned %s, want %s", got, checksum)
				}
				stored[checksum] = true
			case 1: // pin
				err := vm.Pin(checksum)
				if stored[checksum] != (err == nil) {
					t.Fatalf("pin: stored=%t but err=%v", stored[checksum], err)
				}
			case 2: // unpin never fails
				if err := vm.Unpin(checksum); err != nil {
					t.Fatalf("unpin failed: %v", err)
				}
			case 3: // remove
				err := vm.RemoveProgram(checksum)
				if stored[checksum] != (err == nil) {
					t.Fatalf("remove: stored=%t but err=%v", stored[checksum], err)
				}
				if err != nil && !errors.As(err, &types.NoSuchProgramError{}) {
					t.Fatalf("remove returned %v, want no-such-program", err)
				}
				stored[checksum] = false
			case 4: // get
				_, err := vm.GetProgram(checksum)
				if stored[checksum] != (err == nil) {
					t.Fatalf("get: stored=%t but err=%v", stored[checksum], err)
				}
			case 5: // analyze
				_, err := vm.AnalyzeProgram(checksum)
				if stored[checksum] != (err == nil) {
					t.Fatalf("analyze: stored=%t but err=%v", stored[checksum], err)
				}
			}
		}
	})
}
