package types

// AnalysisReport summarizes a stored program's surface without
// running it.
type AnalysisReport struct {
	// FootprintPages is the module's initial linear memory size in
	// 64 KiB pages, saturated at the uint16 page-count domain.
	FootprintPages uint16
	// Exports lists the module's exported function names, sorted.
	Exports []string
	// Imports lists the module's imported functions as module.name,
	// sorted.
	Imports []string
	// DebugImports reports whether the module imports the console
	// module, restricting it to Debug-enabled configs.
	DebugImports bool
}
