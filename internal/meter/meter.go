// Package meter implements ink accounting for executing programs.
//
// Ink state lives with the program instance (the instrumented module
// exports it as globals); the Meter wraps that state behind charge
// operations so hostios can buy ink and gas without knowing where the
// counters are stored.
package meter

import (
	"math"

	"github.com/ethereum/go-ethereum/params"

	"github.com/inkvm/inkvm/types"
)

// MeterStatus mirrors the instrumented module's ink_status global:
// zero while the program can still pay, one after exhaustion.
type MeterStatus uint32

const (
	MeterReady     MeterStatus = 0
	MeterExhausted MeterStatus = 1
)

// MachineMeter is a snapshot of the ink state. Once Status is
// MeterExhausted it never returns to ready within a run.
type MachineMeter struct {
	Ink    types.Ink
	Status MeterStatus
}

// Ready returns a meter with the given ink available.
func Ready(ink types.Ink) MachineMeter {
	return MachineMeter{Ink: ink, Status: MeterReady}
}

// Exhausted returns the terminal meter state.
func Exhausted() MachineMeter {
	return MachineMeter{Ink: 0, Status: MeterExhausted}
}

// Backing is where the ink counters actually live. Engines back this
// with the module's exported globals; tests use a Local.
type Backing interface {
	InkLeft() MachineMeter
	SetMeter(MachineMeter)
}

// Local is an in-memory Backing for code paths that run without a
// module instance.
type Local struct {
	meter MachineMeter
}

// NewLocal returns a Local backing holding the given ink.
func NewLocal(ink types.Ink) *Local {
	return &Local{meter: Ready(ink)}
}

func (l *Local) InkLeft() MachineMeter {
	return l.meter
}

func (l *Local) SetMeter(m MachineMeter) {
	l.meter = m
}

// Meter charges ink and gas against a Backing. All methods that
// return an error return types.OutOfInkError and leave the backing
// exhausted, so a single failed charge poisons the rest of the run.
type Meter struct {
	back    Backing
	pricing types.PricingParams
}

// New creates a Meter over the given backing.
func New(back Backing, pricing types.PricingParams) *Meter {
	return &Meter{back: back, pricing: pricing}
}

// Pricing returns the run's pricing parameters.
func (m *Meter) Pricing() types.PricingParams {
	return m.pricing
}

// InkLeft reports the current meter state without charging.
func (m *Meter) InkLeft() MachineMeter {
	return m.back.InkLeft()
}

func (m *Meter) outOfInk() error {
	m.back.SetMeter(Exhausted())
	return types.OutOfInkError{}
}

// InkReady returns the ink remaining, or fails if the meter is
// already exhausted.
func (m *Meter) InkReady() (types.Ink, error) {
	state := m.back.InkLeft()
	if state.Status != MeterReady {
		return 0, m.outOfInk()
	}
	return state.Ink, nil
}

// GasLeft converts the remaining ink to gas.
func (m *Meter) GasLeft() (types.Gas, error) {
	ink, err := m.InkReady()
	if err != nil {
		return 0, err
	}
	return m.pricing.InkToGas(ink), nil
}

// BuyInk deducts the given ink, exhausting the meter when the
// balance cannot cover it.
func (m *Meter) BuyInk(ink types.Ink) error {
	state := m.back.InkLeft()
	if state.Status != MeterReady || state.Ink < ink {
		return m.outOfInk()
	}
	m.back.SetMeter(Ready(state.Ink - ink))
	return nil
}

// BuyGas converts to ink at the run's price and deducts.
func (m *Meter) BuyGas(gas types.Gas) error {
	return m.BuyInk(m.pricing.GasToInk(gas))
}

// RequireInk checks that the given ink is affordable without
// charging it. Used ahead of operations whose exact cost is only
// known after they complete.
func (m *Meter) RequireInk(ink types.Ink) error {
	state := m.back.InkLeft()
	if state.Status != MeterReady || state.Ink < ink {
		return m.outOfInk()
	}
	return nil
}

// RequireGas is RequireInk at the run's ink price.
func (m *Meter) RequireGas(gas types.Gas) error {
	return m.RequireInk(m.pricing.GasToInk(gas))
}

// evmWords rounds a byte count up to 32-byte EVM words.
func evmWords(bytes uint64) uint64 {
	if bytes > math.MaxUint64-31 {
		return math.MaxUint64 / 32
	}
	return (bytes + 31) / 32
}

// PayForRead charges the EVM copy cost for moving bytes out of guest
// memory.
func (m *Meter) PayForRead(bytes uint64) error {
	return m.BuyGas(evmWords(bytes) * params.CopyGas)
}

// PayForWrite charges the EVM copy cost for moving bytes into guest
// memory.
func (m *Meter) PayForWrite(bytes uint64) error {
	return m.BuyGas(evmWords(bytes) * params.CopyGas)
}

// PayForKeccak charges the EVM hashing cost for the given preimage
// size.
func (m *Meter) PayForKeccak(bytes uint64) error {
	return m.BuyGas(params.Keccak256Gas + evmWords(bytes)*params.Keccak256WordGas)
}

// PayForEvmLog charges the log cost: one topic price per topic plus
// one for the event signature, and a per-byte price on the non-topic
// data.
func (m *Meter) PayForEvmLog(topics uint32, dataLen uint64) error {
	gas := (1 + uint64(topics)) * params.LogTopicGas
	gas += dataLen * params.LogDataGas
	return m.BuyGas(gas)
}
