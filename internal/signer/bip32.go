package signer

import (
	"crypto/hmac"
	"crypto/sha512"
	"math/big"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// hardenedOffset is BIP32's 2^31, added to a path segment's index to
// mark it hardened (spec.md §4.6, original_source's tiny_hderive usage).
const hardenedOffset = 1 << 31

var curveOrder = mustHexToBig("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141")

// extendedKey is a BIP32 private extended key: a 32-byte scalar plus a
// 32-byte chain code, enough to derive further children.
type extendedKey struct {
	key       []byte
	chainCode []byte
}

// masterKey derives the BIP32 master key from a 64-byte seed.
func masterKey(seed []byte) extendedKey {
	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	i := mac.Sum(nil)
	return extendedKey{key: i[:32], chainCode: i[32:]}
}

// deriveChild computes CKDpriv(parent, index) per BIP32; index >=
// hardenedOffset derives a hardened child.
func (parent extendedKey) deriveChild(index uint32) (extendedKey, error) {
	var data []byte
	if index >= hardenedOffset {
		data = append([]byte{0x00}, parent.key...)
	} else {
		priv := secp256k1.PrivKeyFromBytes(parent.key)
		data = priv.PubKey().SerializeCompressed()
	}
	data = append(data, serializeUint32(index)...)

	mac := hmac.New(sha512.New, parent.chainCode)
	mac.Write(data)
	i := mac.Sum(nil)
	il, ir := i[:32], i[32:]

	ilNum := new(big.Int).SetBytes(il)
	parentNum := new(big.Int).SetBytes(parent.key)
	childNum := new(big.Int).Add(ilNum, parentNum)
	childNum.Mod(childNum, curveOrder)

	childKey := make([]byte, 32)
	childBytes := childNum.Bytes()
	copy(childKey[32-len(childBytes):], childBytes)

	return extendedKey{key: childKey, chainCode: ir}, nil
}

// parseBIP32Path parses "m/0/2147483647'" style paths into segment
// indices, hardened children flagged with the offset.
func parseBIP32Path(path string) ([]uint32, error) {
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, ErrInvalidPath
	}

	indices := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h") || strings.HasSuffix(p, "H")
		numStr := strings.TrimRight(p, "'hH")
		n, err := strconv.ParseUint(numStr, 10, 32)
		if err != nil {
			return nil, ErrInvalidPath
		}
		idx := uint32(n)
		if hardened {
			idx += hardenedOffset
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

func serializeUint32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func mustHexToBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("signer: invalid hex constant")
	}
	return n
}
