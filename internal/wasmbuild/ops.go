package wasmbuild

// Instruction encoders for entrypoint bodies. Each returns one
// encoded instruction; Builder.Body concatenates them.

func Unreachable() []byte {
	return []byte{0x00}
}

func Nop() []byte {
	return []byte{0x01}
}

// Loop opens a void-typed loop block, closed by End. Br(0) inside
// continues it.
func Loop() []byte {
	return []byte{0x03, 0x40}
}

func Br(depth uint32) []byte {
	return append([]byte{0x0c}, uleb(uint64(depth))...)
}

func Return() []byte {
	return []byte{0x0f}
}

func Call(fn uint32) []byte {
	return append([]byte{0x10}, uleb(uint64(fn))...)
}

func Drop() []byte {
	return []byte{0x1a}
}

func LocalGet(i uint32) []byte {
	return append([]byte{0x20}, uleb(uint64(i))...)
}

func GlobalGet(i uint32) []byte {
	return append([]byte{0x23}, uleb(uint64(i))...)
}

func GlobalSet(i uint32) []byte {
	return append([]byte{0x24}, uleb(uint64(i))...)
}

func I32Const(v int32) []byte {
	return append([]byte{0x41}, sleb(int64(v))...)
}

func I64Const(v int64) []byte {
	return append([]byte{0x42}, sleb(v)...)
}

func End() []byte {
	return []byte{0x0b}
}
