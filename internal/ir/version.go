package ir

// Version constants.
const (
	// FormatVersion is the persisted document format version.
	FormatVersion = "1"

	// EngineVersion is the blockflow version.
	EngineVersion = "0.1.0"
)
