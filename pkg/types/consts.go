package types

// Protocol-level constants shared by the planner, scanner and store
// (spec.md §4.3, §4.4).
const (
	// DefaultFee is the flat network fee in zats (spec.md §4.4 step 2).
	DefaultFee = 1000
	// AnchorOffset is how far behind the tip a spend's Merkle anchor sits.
	AnchorOffset = 10
	// ReorgDepth is the witness retention window below the tip.
	ReorgDepth = 100
	// ScanChunk is the maximum block range fetched per scan_chain pass.
	ScanChunk = 1000
	// RewindDepth is how far back a detected reorg rewinds before retrying.
	RewindDepth = 10
)
