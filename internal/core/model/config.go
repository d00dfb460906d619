package model

// RepairMode controls the mojibake repair pass.
type RepairMode string

const (
	RepairOff        RepairMode = "off"
	RepairSafe       RepairMode = "safe-defaults"
	RepairAggressive RepairMode = "aggressive"
)

// Config is the immutable per-run configuration threaded explicitly
// into every stage. The CLI/config layer builds it; the core never
// reads ambient state.
type Config struct {
	// DefaultRegion is the ISO 3166-1 alpha-2 region used to parse
	// phone numbers that lack a country code.
	DefaultRegion string

	// KeepPhotos controls whether photo blobs survive into the output.
	KeepPhotos bool

	// Strict aborts the whole run on any hard finding instead of
	// skipping the offending record.
	Strict bool

	// DryRun executes the full pipeline and produces the report but
	// writes no output file.
	DryRun bool

	// Repair selects the encoding-repair mode.
	Repair RepairMode

	// NFC enables Unicode NFC normalization (on by default).
	NFC bool

	// Workers bounds the parse+normalize pool; <=0 means GOMAXPROCS.
	Workers int

	// ChunkSize is the number of normalized contacts buffered per
	// dedupe chunk in streaming mode; <=0 disables chunking.
	ChunkSize int
}

// DefaultConfig mirrors the documented option defaults.
func DefaultConfig() Config {
	return Config{
		DefaultRegion: "US",
		KeepPhotos:    true,
		Repair:        RepairSafe,
		NFC:           true,
	}
}
