package types

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ChecksumLen is the length of a checksum in bytes.
const ChecksumLen = 32

// Checksum identifies a stored program. It is the Keccak-256 hash of
// the instrumented module's bytecode, matching how the surrounding
// chain addresses code.
type Checksum [ChecksumLen]byte

// CalcChecksum hashes the given module bytes into their store key.
func CalcChecksum(wasm []byte) Checksum {
	var cs Checksum
	copy(cs[:], crypto.Keccak256(wasm))
	return cs
}

// NewChecksum creates a Checksum from a byte slice.
// Returns an error if the slice length is not ChecksumLen.
func NewChecksum(b []byte) (Checksum, error) {
	if len(b) != ChecksumLen {
		return Checksum{}, errors.New("got wrong number of bytes for checksum")
	}
	var cs Checksum
	copy(cs[:], b)
	return cs, nil
}

func (cs Checksum) String() string {
	return hex.EncodeToString(cs[:])
}

// Bytes returns the checksum as a byte slice.
func (cs Checksum) Bytes() []byte {
	return cs[:]
}

// MarshalJSON encodes the checksum as a hex string.
func (cs Checksum) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(cs[:]))
}

// UnmarshalJSON parses a hex-encoded string into a checksum.
func (cs *Checksum) UnmarshalJSON(input []byte) error {
	var hexString string
	if err := json.Unmarshal(input, &hexString); err != nil {
		return err
	}
	data, err := hex.DecodeString(hexString)
	if err != nil {
		return err
	}
	if len(data) != ChecksumLen {
		return fmt.Errorf("got wrong number of bytes for checksum")
	}
	copy(cs[:], data)
	return nil
}
