package inkvm

// Version is the semantic version of this library, reported by the
// CLI and useful for embedders logging what they run.
const Version = "0.9.0"
