// Package types provides the public types shared between the inkvm
// facade, the execution engines, and embedding hosts.
package types

// Gas is the coarse-grained metering unit visible to the embedding
// chain. Every external cost (storage, calls, logs, memory) is
// denominated in gas.
type Gas = uint64

// Ink is the fine-grained metering unit consumed by programs while
// they execute. Ink relates to gas through PricingParams.InkPrice and
// exists so that per-instruction costs can be far smaller than one gas.
type Ink = uint64
