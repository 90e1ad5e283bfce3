package signer

import (
	"crypto/sha256"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/ccoin/zams/internal/addr"
	"github.com/ccoin/zams/pkg/types"
)

var ErrOutOfDiversifiers = errors.New("signer: no valid diversifier found within search window")

// diversifierSearchWindow bounds how many consecutive indices are tried
// before giving up on a diversifier (spec.md §9: "not every 11-byte
// index yields a valid address").
const diversifierSearchWindow = 256

// ShieldedKey is a ZIP32-style extended spending key plus its derived
// full viewing key.
type ShieldedKey struct {
	SpendingKey []byte // 32-byte spending key sk; FVKBytes is derived from it
	ChainCode   []byte
	FVKBytes    []byte // ak || nk || ovk, 96 bytes
	FVK         string
}

// GenerateShieldedKey derives a Sapling-analog extended spending key
// from entropy and walks path, returning the key and its FVK encoded
// for network (spec.md §4.6).
func GenerateShieldedKey(e Entropy, path string, network types.Network) (*ShieldedKey, error) {
	seed, err := e.Seed()
	if err != nil {
		return nil, err
	}
	indices, err := parseBIP32Path(path)
	if err != nil {
		return nil, err
	}

	sk, cc := saplingMaster(seed)
	for _, idx := range indices {
		sk, cc = saplingChild(sk, cc, idx)
	}

	fvk := deriveFVK(sk)
	return &ShieldedKey{
		SpendingKey: sk,
		ChainCode:   cc,
		FVKBytes:    fvk,
		FVK:         encodeFVK(network, fvk),
	}, nil
}

// NextDiversifiedAddress scans forward from cursor for the first index
// that yields a valid diversifier, deriving its payment address from
// fvkBytes, and returns the cursor to persist next (spec.md §9
// "next-unused index, not the last-used, is stored").
func NextDiversifiedAddress(fvkBytes []byte, network types.Network, cursor uint64) (address string, diversifier [11]byte, nextCursor uint64, err error) {
	for offset := uint64(0); offset < diversifierSearchWindow; offset++ {
		candidate := cursor + offset
		d := diversifierAt(fvkBytes, candidate)
		if !validDiversifier(d) {
			continue
		}
		pkd := PkdFor(fvkBytes, d)
		addrStr, encErr := addr.EncodeShielded(network, d, pkd)
		if encErr != nil {
			return "", diversifier, 0, encErr
		}
		return addrStr, d, candidate + 1, nil
	}
	return "", diversifier, 0, ErrOutOfDiversifiers
}

// saplingMaster derives (spending key material, chain code) from seed,
// standing in for ZIP32's `I = BLAKE2b-512("ZcashIP32Sapling", seed)`.
func saplingMaster(seed []byte) ([]byte, []byte) {
	h, _ := blake2b.New512([]byte("ZcashIP32Sapling"))
	h.Write(seed)
	i := h.Sum(nil)
	return i[:32], i[32:]
}

// saplingChild derives the child at index, mixing in the parent key and
// chain code per ZIP32's hardened-only derivation for Sapling accounts.
func saplingChild(sk, cc []byte, index uint32) ([]byte, []byte) {
	data := append([]byte{0x00}, sk...)
	data = append(data, serializeUint32(index)...)

	h, _ := blake2b.New512(cc)
	h.Write(data)
	i := h.Sum(nil)
	return i[:32], i[32:]
}

// deriveFVK derives (ak || nk || ovk) from the spending key; ak/nk/ovk
// are each independent domain-separated hashes of sk, standing in for
// Sapling's PRF-based key components.
func deriveFVK(sk []byte) []byte {
	ak := domainHash("ZAMS_AK", sk)
	nk := domainHash("ZAMS_NK", sk)
	ovk := domainHash("ZAMS_OVK", sk)
	out := make([]byte, 0, 96)
	out = append(out, ak...)
	out = append(out, nk...)
	out = append(out, ovk...)
	return out
}

// NullifierKey extracts nk from an FVK's byte encoding, for
// internal/notes.DeriveNullifier callers holding the raw FVK.
func NullifierKey(fvkBytes []byte) []byte {
	if len(fvkBytes) < 64 {
		return nil
	}
	return fvkBytes[32:64]
}

func encodeFVK(network types.Network, fvkBytes []byte) string {
	return network.String() + "-fvk-" + hexEncode(fvkBytes)
}

func diversifierAt(fvkBytes []byte, index uint64) [11]byte {
	var d [11]byte
	h := domainHash("ZAMS_DIVERSIFIER", append(fvkBytes, serializeUint64(index)...))
	copy(d[:], h[:11])
	return d
}

// validDiversifier rejects roughly 1/256 of candidates, mirroring
// Sapling's "not every index maps to a valid group element" constraint
// without needing the actual curve arithmetic.
func validDiversifier(d [11]byte) bool {
	return d[0] != 0xff
}

// PkdFor derives the diversified transmission key pk_d for diversifier
// d under fvkBytes; both the address issuer and, later, the spender
// reconstructing a note from its wire descriptor call this with the
// same fvkBytes, so it must stay a pure function of (fvk, diversifier).
func PkdFor(fvkBytes []byte, d [11]byte) [32]byte {
	var pkd [32]byte
	h := domainHash("ZAMS_PKD", append(append([]byte{}, fvkBytes...), d[:]...))
	copy(pkd[:], h)
	return pkd
}

// DecodeFVK recovers the raw FVK bytes that encodeFVK previously
// embedded in its human-readable string form, for components (e.g. the
// scanner) that only have the persisted FVK string to work from.
func DecodeFVK(fvkStr string) ([]byte, error) {
	idx := strings.LastIndex(fvkStr, "-fvk-")
	if idx < 0 {
		return nil, errors.New("signer: malformed fvk string")
	}
	return hexDecodeBytes(fvkStr[idx+len("-fvk-"):])
}

func hexDecodeBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("signer: odd-length fvk hex")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		var b byte
		for j := 0; j < 2; j++ {
			c := s[i*2+j]
			var v byte
			switch {
			case c >= '0' && c <= '9':
				v = c - '0'
			case c >= 'a' && c <= 'f':
				v = c - 'a' + 10
			default:
				return nil, errors.New("signer: invalid fvk hex digit")
			}
			b = b<<4 | v
		}
		out[i] = b
	}
	return out, nil
}

func domainHash(label string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(label))
	h.Write(data)
	return h.Sum(nil)
}

func serializeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
	return b
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
