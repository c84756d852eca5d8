// Package guestmem gives hostios bounds-checked access to a
// program's linear memory. Reads copy out of the region and writes
// are total: a failed access touches nothing and returns
// types.MemoryBoundsError.
package guestmem

import (
	"encoding/binary"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/inkvm/inkvm/types"
)

// Region is the raw memory surface. wazero's api.Memory satisfies
// it; tests use an in-memory slice.
type Region interface {
	// Read returns a view of the region, or false if out of range.
	Read(offset, byteCount uint32) ([]byte, bool)
	// Write copies into the region, or returns false if out of range.
	Write(offset uint32, v []byte) bool
	// Size returns the current size in bytes.
	Size() uint32
}

// Memory wraps a Region with the access shapes hostios need.
type Memory struct {
	region Region
	logger log.Logger
}

// New wraps the given region. The logger receives diagnostic records
// for tolerated anomalies such as invalid guest strings.
func New(region Region, logger log.Logger) *Memory {
	return &Memory{region: region, logger: logger}
}

func (m *Memory) check(ptr, length uint32) error {
	size := m.region.Size()
	if uint64(ptr)+uint64(length) > uint64(size) {
		return types.MemoryBoundsError{Ptr: ptr, Len: length, Size: size}
	}
	return nil
}

// ReadSlice copies length bytes starting at ptr out of guest memory.
func (m *Memory) ReadSlice(ptr, length uint32) ([]byte, error) {
	if err := m.check(ptr, length); err != nil {
		return nil, err
	}
	view, ok := m.region.Read(ptr, length)
	if !ok {
		return nil, types.MemoryBoundsError{Ptr: ptr, Len: length, Size: m.region.Size()}
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

// ReadBytes20 reads an address-sized value.
func (m *Memory) ReadBytes20(ptr uint32) (common.Address, error) {
	data, err := m.ReadSlice(ptr, common.AddressLength)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(data), nil
}

// ReadBytes32 reads a word-sized value.
func (m *Memory) ReadBytes32(ptr uint32) (common.Hash, error) {
	data, err := m.ReadSlice(ptr, common.HashLength)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}

// ReadString reads a guest string with lossy UTF-8 decoding: invalid
// sequences become U+FFFD and the anomaly is logged, but the read
// itself succeeds. Guest diagnostics should never fail a host call
// over malformed text.
func (m *Memory) ReadString(ptr, length uint32) (string, error) {
	data, err := m.ReadSlice(ptr, length)
	if err != nil {
		return "", err
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	m.logger.Debug("replaced invalid utf-8 in guest string", "ptr", ptr, "len", length)
	return strings.ToValidUTF8(string(data), string(utf8.RuneError)), nil
}

// WriteSlice copies src into guest memory at ptr.
func (m *Memory) WriteSlice(ptr uint32, src []byte) error {
	if err := m.check(ptr, uint32(len(src))); err != nil {
		return err
	}
	if !m.region.Write(ptr, src) {
		return types.MemoryBoundsError{Ptr: ptr, Len: uint32(len(src)), Size: m.region.Size()}
	}
	return nil
}

// WriteBytes20 writes an address-sized value.
func (m *Memory) WriteBytes20(ptr uint32, v common.Address) error {
	return m.WriteSlice(ptr, v.Bytes())
}

// WriteBytes32 writes a word-sized value.
func (m *Memory) WriteBytes32(ptr uint32, v common.Hash) error {
	return m.WriteSlice(ptr, v.Bytes())
}

// WriteU32 writes a little-endian u32, the layout guest code reads
// back with a plain i32 load.
func (m *Memory) WriteU32(ptr uint32, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return m.WriteSlice(ptr, buf[:])
}

// SliceRegion is a Region over a plain byte slice, for tests and
// tooling that run without a module instance.
type SliceRegion struct {
	Data []byte
}

func (r *SliceRegion) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(r.Data)) {
		return nil, false
	}
	return r.Data[offset : offset+byteCount], true
}

func (r *SliceRegion) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(r.Data)) {
		return false
	}
	copy(r.Data[offset:], v)
	return true
}

func (r *SliceRegion) Size() uint32 {
	return uint32(len(r.Data))
}
