package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeEventID computes a deterministic id for a creation event.
// Formula: SHA256(tx_signature|mint)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(txSignature, mint string) string {
	data := fmt.Sprintf("%s|%s", txSignature, mint)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
