// Package addr implements the two address codecs ZAMS needs: base58check
// for transparent (t-addr) pubkey-hash addresses, and bech32 for
// shielded (Sapling) payment addresses, per spec.md §4.6 and §9
// ("network-aware" descriptors).
package addr

import (
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/bech32"
	"github.com/mr-tron/base58"

	"github.com/ccoin/zams/pkg/types"
)

var (
	ErrInvalidAddress    = errors.New("addr: invalid address")
	ErrWrongNetwork      = errors.New("addr: address encoded for a different network")
	ErrInvalidChecksum   = errors.New("addr: base58check checksum mismatch")
	ErrInvalidPaymentLen = errors.New("addr: decoded payment address has the wrong length")
)

// t-addr two-byte version prefixes (mainnet t1…, testnet tm…).
var transparentPrefix = map[types.Network][2]byte{
	types.Mainnet: {0x1C, 0xB8},
	types.Testnet: {0x1D, 0x25},
}

// Sapling payment address bech32 HRPs.
var shieldedHRP = map[types.Network]string{
	types.Mainnet: "zs",
	types.Testnet: "ztestsapling",
}

// EncodeTransparent base58check-encodes a 20-byte pubkey hash into a
// network-specific t-addr.
func EncodeTransparent(network types.Network, pkh [20]byte) string {
	prefix := transparentPrefix[network]
	payload := append([]byte{prefix[0], prefix[1]}, pkh[:]...)
	checksum := doubleSHA256(payload)
	return base58.Encode(append(payload, checksum[:4]...))
}

// DecodeTransparent parses a t-addr for network, verifying its prefix
// and base58check checksum.
func DecodeTransparent(network types.Network, address string) ([20]byte, error) {
	var pkh [20]byte
	raw, err := base58.Decode(address)
	if err != nil {
		return pkh, ErrInvalidAddress
	}
	if len(raw) != 2+20+4 {
		return pkh, ErrInvalidAddress
	}
	payload, checksum := raw[:len(raw)-4], raw[len(raw)-4:]
	want := doubleSHA256(payload)
	if !bytesEqual(want[:4], checksum) {
		return pkh, ErrInvalidChecksum
	}
	prefix := transparentPrefix[network]
	if payload[0] != prefix[0] || payload[1] != prefix[1] {
		return pkh, ErrWrongNetwork
	}
	copy(pkh[:], payload[2:])
	return pkh, nil
}

// EncodeShielded bech32-encodes a Sapling payment address (11-byte
// diversifier || 32-byte pk_d) for network.
func EncodeShielded(network types.Network, diversifier [11]byte, pkd [32]byte) (string, error) {
	raw := append(append([]byte{}, diversifier[:]...), pkd[:]...)
	converted, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(shieldedHRP[network], converted)
}

// DecodeShielded parses a Sapling payment address for network.
func DecodeShielded(network types.Network, address string) (diversifier [11]byte, pkd [32]byte, err error) {
	hrp, data, err := bech32.Decode(address)
	if err != nil {
		return diversifier, pkd, ErrInvalidAddress
	}
	if hrp != shieldedHRP[network] {
		return diversifier, pkd, ErrWrongNetwork
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return diversifier, pkd, ErrInvalidAddress
	}
	if len(raw) != 11+32 {
		return diversifier, pkd, ErrInvalidPaymentLen
	}
	copy(diversifier[:], raw[:11])
	copy(pkd[:], raw[11:])
	return diversifier, pkd, nil
}

// Validator implements planner.AddressValidator: it accepts any address
// that decodes as either a transparent or shielded address for network.
type Validator struct {
	Network types.Network
}

// Decode returns nil if addr is a well-formed transparent or shielded
// address for v.Network, otherwise ErrInvalidAddress.
func (v Validator) Decode(address string) error {
	if _, err := DecodeTransparent(v.Network, address); err == nil {
		return nil
	}
	if _, _, err := DecodeShielded(v.Network, address); err == nil {
		return nil
	}
	return ErrInvalidAddress
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
