package types

import (
	"encoding/hex"
	"fmt"
)

// MarshalJSON encodes h as a hex string, matching spec.md §6's "all byte
// fields hex-encoded" wire format requirement.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("types: hash must be a hex string")
	}
	b, err := hex.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return fmt.Errorf("types: decode hash: %w", err)
	}
	if len(b) != HashSize {
		return fmt.Errorf("types: hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return nil
}
