package ir

// Version constants for the declaration IR and the runtime.
const (
	// IRVersion is the declaration IR schema version.
	IRVersion = "1"

	// RuntimeVersion is the sqlext runtime version.
	RuntimeVersion = "0.1.0"
)
