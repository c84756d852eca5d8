package inkvm

import "github.com/inkvm/inkvm/types"

// Aliases for the types embedders touch on every call, so most users
// only import the root package.
type (
	Checksum       = types.Checksum
	ProgramConfig  = types.ProgramConfig
	PricingParams  = types.PricingParams
	MemoryModel    = types.MemoryModel
	EvmApi         = types.EvmApi
	EvmData        = types.EvmData
	UserOutcome    = types.UserOutcome
	AnalysisReport = types.AnalysisReport
	Gas            = types.Gas
	Ink            = types.Ink
)

// DefaultProgramConfig mirrors types.DefaultProgramConfig.
func DefaultProgramConfig(version uint16) ProgramConfig {
	return types.DefaultProgramConfig(version)
}
