package domain

// CreationEvent is a decoded pump.fun token creation.
// Immutable once produced by the decoder.
type CreationEvent struct {
	Name       string // token name
	Symbol     string // token symbol
	URI        string // metadata URI (display only)
	Mint       string // base58 mint address (32 bytes)
	Signature  string // source transaction signature
	Slot       int64  // Solana slot number
	DetectedAt int64  // Unix timestamp in milliseconds
}
