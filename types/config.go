package types

import (
	"errors"
	"math"
	"math/bits"
)

// Default pricing values. InkPrice is denominated in ink per gas; the
// fixed ink surcharges cover host-call dispatch overhead, per-pointer
// operand handling, and crossing into the EVM API.
const (
	DefaultInkPrice  uint32 = 10000
	DefaultHostioInk Ink    = 8400
	DefaultPtrInk    Ink    = 13440 - DefaultHostioInk
	DefaultEvmApiInk Ink    = 59673

	DefaultMaxDepth uint32 = 65536

	DefaultFreePages     uint16 = 2
	DefaultPageGas       Gas    = 1000
	DefaultExpMemDivisor uint32 = 336543
)

// PricingParams fixes the ink economy for one run.
type PricingParams struct {
	// InkPrice is the amount of ink one gas buys. Zero is invalid.
	InkPrice uint32
	// HostioInk is charged at the start of every host call.
	HostioInk Ink
	// PtrInk is charged per pointer-width operand a hostio touches.
	PtrInk Ink
	// EvmApiInk is charged per delegation to the EVM API.
	EvmApiInk Ink
}

// GasToInk converts gas to ink, saturating at the maximum ink value
// rather than wrapping.
func (p PricingParams) GasToInk(gas Gas) Ink {
	hi, lo := bits.Mul64(gas, uint64(p.InkPrice))
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// InkToGas converts ink back to gas, rounding down. The pair of
// conversions never manufactures gas: InkToGas(GasToInk(g)) <= g.
func (p PricingParams) InkToGas(ink Ink) Gas {
	return ink / uint64(p.InkPrice)
}

// MemoryModel prices linear memory growth. Open/ever page counters
// are owned by the embedding host, which calls GasCost to answer the
// sandbox's AddPages requests.
type MemoryModel struct {
	// FreePages is the number of pages a run may use before growth
	// starts costing gas.
	FreePages uint16
	// PageGas is the linear gas cost per page beyond the free ones.
	PageGas Gas
	// ExpMemDivisor throttles the exponential surcharge on peak
	// footprint. Larger values flatten the curve. Zero is invalid.
	ExpMemDivisor uint32
}

// GasCost prices growing by newPages when openPages are currently in
// use and everPages is the peak opened so far. The linear term prices
// pages newly beyond the free allowance; the exponential term prices
// increases of the peak footprint and saturates instead of
// overflowing.
func (m MemoryModel) GasCost(newPages, openPages, everPages uint16) Gas {
	newOpen := saturatingAddU16(openPages, newPages)
	newEver := everPages
	if newOpen > newEver {
		newEver = newOpen
	}
	if newEver <= m.FreePages {
		return 0
	}
	subFree := func(pages uint16) uint64 {
		if pages <= m.FreePages {
			return 0
		}
		return uint64(pages - m.FreePages)
	}

	adding := subFree(newOpen) - subFree(openPages)
	linear := saturatingMul(adding, m.PageGas)
	expand := m.expCost(newEver) - m.expCost(everPages)
	return saturatingAdd(linear, expand)
}

// expCost is the cumulative exponential term: it doubles every
// ExpMemDivisor pages of peak footprint.
func (m MemoryModel) expCost(pages uint16) Gas {
	shift := uint64(pages) / uint64(m.ExpMemDivisor)
	if shift >= 64 {
		return math.MaxUint64
	}
	return 1<<shift - 1
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

func saturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

func saturatingAddU16(a, b uint16) uint16 {
	sum := uint32(a) + uint32(b)
	if sum > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(sum)
}

// ProgramConfig fixes the runtime limits and pricing for one run.
// Supplied by the embedder and immutable while the program executes.
type ProgramConfig struct {
	// Version tags the instrumentation revision the module was
	// prepared against.
	Version uint16
	// MaxDepth bounds the program's wasm call-stack depth.
	MaxDepth uint32
	// PageLimit caps the linear memory footprint in 64 KiB pages.
	PageLimit uint16
	Pricing   PricingParams
	Memory    MemoryModel
	// Debug registers the console hostios and permits exit_early.
	Debug bool
}

// DefaultProgramConfig returns the defaults for the given
// instrumentation version.
func DefaultProgramConfig(version uint16) ProgramConfig {
	return ProgramConfig{
		Version:   version,
		MaxDepth:  DefaultMaxDepth,
		PageLimit: math.MaxUint16,
		Pricing: PricingParams{
			InkPrice:  DefaultInkPrice,
			HostioInk: DefaultHostioInk,
			PtrInk:    DefaultPtrInk,
			EvmApiInk: DefaultEvmApiInk,
		},
		Memory: MemoryModel{
			FreePages:     DefaultFreePages,
			PageGas:       DefaultPageGas,
			ExpMemDivisor: DefaultExpMemDivisor,
		},
	}
}

// Validate rejects configurations whose zero fields would divide by
// zero at charge time.
func (c ProgramConfig) Validate() error {
	if c.Pricing.InkPrice == 0 {
		return errors.New("ink price must be nonzero")
	}
	if c.Memory.ExpMemDivisor == 0 {
		return errors.New("exp mem divisor must be nonzero")
	}
	return nil
}
