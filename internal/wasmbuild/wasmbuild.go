// Package wasmbuild assembles small wasm modules carrying the
// instrumented ABI, for tests that need real guest programs without
// shipping binary fixtures. Build emits the standard binary format
// directly: magic, LEB128-sized sections, and a single entrypoint
// function around a caller-supplied instruction body.
package wasmbuild

import "bytes"

// Value types from the binary format.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

// Global indices in modules built here, in declaration order.
const (
	InkLeftIndex   = 0
	InkStatusIndex = 1
	StackLeftIndex = 2
)

type funcType struct {
	params  []byte
	results []byte
}

type hostImport struct {
	module string
	name   string
	typ    funcType
}

// Builder accumulates imports, memory, and the entrypoint body.
type Builder struct {
	imports   []hostImport
	hasMemory bool
	minPages  uint32
	body      []byte
}

func New() *Builder {
	return &Builder{}
}

// WithMemory gives the module an exported linear memory of the given
// initial page count.
func (b *Builder) WithMemory(minPages uint32) *Builder {
	b.hasMemory = true
	b.minPages = minPages
	return b
}

// Import declares a host function and returns its index in the
// module's function index space. Imports occupy the low indices in
// declaration order.
func (b *Builder) Import(module, name string, params, results []byte) uint32 {
	b.imports = append(b.imports, hostImport{module: module, name: name, typ: funcType{params, results}})
	return uint32(len(b.imports) - 1)
}

// EntryIndex returns the function index the entrypoint will occupy,
// usable inside Body for self-recursion.
func (b *Builder) EntryIndex() uint32 {
	return uint32(len(b.imports))
}

// Body sets the entrypoint's instruction sequence. The function takes
// the calldata length as local 0 and must leave one i32 status on the
// stack; Build appends the terminating end opcode.
func (b *Builder) Body(instrs ...[]byte) *Builder {
	b.body = nil
	for _, ins := range instrs {
		b.body = append(b.body, ins...)
	}
	return b
}

// Build assembles the module: the configured imports, the entrypoint
// exported as user_entrypoint, the memory exported as memory when
// configured, and the three mutable counter globals.
func (b *Builder) Build() []byte {
	var types []funcType
	seen := map[string]uint32{}
	typeIdx := func(t funcType) uint32 {
		key := string(t.params) + "|" + string(t.results)
		if i, ok := seen[key]; ok {
			return i
		}
		i := uint32(len(types))
		types = append(types, t)
		seen[key] = i
		return i
	}
	importTypes := make([]uint32, len(b.imports))
	for i, imp := range b.imports {
		importTypes[i] = typeIdx(imp.typ)
	}
	entryType := typeIdx(funcType{params: []byte{I32}, results: []byte{I32}})

	var typeSec bytes.Buffer
	typeSec.Write(uleb(uint64(len(types))))
	for _, t := range types {
		typeSec.WriteByte(0x60)
		typeSec.Write(uleb(uint64(len(t.params))))
		typeSec.Write(t.params)
		typeSec.Write(uleb(uint64(len(t.results))))
		typeSec.Write(t.results)
	}

	var importSec bytes.Buffer
	importSec.Write(uleb(uint64(len(b.imports))))
	for i, imp := range b.imports {
		writeName(&importSec, imp.module)
		writeName(&importSec, imp.name)
		importSec.WriteByte(0x00)
		importSec.Write(uleb(uint64(importTypes[i])))
	}

	var funcSec bytes.Buffer
	funcSec.Write(uleb(1))
	funcSec.Write(uleb(uint64(entryType)))

	var memSec bytes.Buffer
	if b.hasMemory {
		memSec.Write(uleb(1))
		memSec.WriteByte(0x00)
		memSec.Write(uleb(uint64(b.minPages)))
	}

	var globalSec bytes.Buffer
	globalSec.Write(uleb(3))
	globalSec.Write([]byte{I64, 0x01, 0x42, 0x00, 0x0b})
	globalSec.Write([]byte{I32, 0x01, 0x41, 0x00, 0x0b})
	globalSec.Write([]byte{I32, 0x01, 0x41, 0x00, 0x0b})

	var exportSec bytes.Buffer
	exports := 4
	if b.hasMemory {
		exports++
	}
	exportSec.Write(uleb(uint64(exports)))
	writeName(&exportSec, "user_entrypoint")
	exportSec.WriteByte(0x00)
	exportSec.Write(uleb(uint64(b.EntryIndex())))
	if b.hasMemory {
		writeName(&exportSec, "memory")
		exportSec.WriteByte(0x02)
		exportSec.Write(uleb(0))
	}
	writeName(&exportSec, "ink_left")
	exportSec.WriteByte(0x03)
	exportSec.Write(uleb(InkLeftIndex))
	writeName(&exportSec, "ink_status")
	exportSec.WriteByte(0x03)
	exportSec.Write(uleb(InkStatusIndex))
	writeName(&exportSec, "stack_left")
	exportSec.WriteByte(0x03)
	exportSec.Write(uleb(StackLeftIndex))

	code := append([]byte{}, uleb(0)...)
	code = append(code, b.body...)
	code = append(code, 0x0b)
	var codeSec bytes.Buffer
	codeSec.Write(uleb(1))
	codeSec.Write(uleb(uint64(len(code))))
	codeSec.Write(code)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, typeSec.Bytes())...)
	if len(b.imports) > 0 {
		out = append(out, section(2, importSec.Bytes())...)
	}
	out = append(out, section(3, funcSec.Bytes())...)
	if b.hasMemory {
		out = append(out, section(5, memSec.Bytes())...)
	}
	out = append(out, section(6, globalSec.Bytes())...)
	out = append(out, section(7, exportSec.Bytes())...)
	out = append(out, section(10, codeSec.Bytes())...)
	return out
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(payload)))...)
	return append(out, payload...)
}

func writeName(buf *bytes.Buffer, name string) {
	buf.Write(uleb(uint64(len(name))))
	buf.WriteString(name)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}
