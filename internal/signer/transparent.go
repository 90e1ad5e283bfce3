// Package signer implements the isolated key-derivation and signing
// service (spec.md §4.6): stateless BIP39/BIP32 transparent keys,
// ZIP32-style shielded keys, and detached signing of a builder
// descriptor. It never touches the wallet store.
package signer

import (
	"crypto/sha256"
	"errors"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160"

	"github.com/ccoin/zams/internal/addr"
	"github.com/ccoin/zams/pkg/types"
)

var (
	ErrInvalidEntropy = errors.New("signer: invalid entropy")
	ErrInvalidPath    = errors.New("signer: invalid derivation path")
)

// Entropy is either a BIP39 mnemonic or a raw hex seed, mirroring
// original_source's `Entropy{seed_phrase | hex}` union.
type Entropy struct {
	SeedPhrase string
	HexSeed    string
}

// Seed returns the BIP32 master seed for e: the 64-byte BIP39 seed of a
// seed phrase, or the decoded hex seed at whatever length it was given.
func (e Entropy) Seed() ([]byte, error) {
	if e.SeedPhrase != "" {
		if !bip39.IsMnemonicValid(e.SeedPhrase) {
			return nil, ErrInvalidEntropy
		}
		return bip39.NewSeed(e.SeedPhrase, ""), nil
	}
	seed, err := hexDecode(e.HexSeed)
	if err != nil || len(seed) == 0 {
		return nil, ErrInvalidEntropy
	}
	return seed, nil
}

// TransparentKey is the result of deriving a transparent signing key.
type TransparentKey struct {
	PrivateKey *secp256k1.PrivateKey
	Address    string
}

// GenerateTransparentKey derives a transparent keypair at path from
// entropy's seed: BIP32 derive, secp256k1 pubkey, SHA-256 then
// RIPEMD-160, network-specific base58check address (spec.md §4.6).
func GenerateTransparentKey(e Entropy, path string, network types.Network) (*TransparentKey, error) {
	seed, err := e.Seed()
	if err != nil {
		return nil, err
	}

	indices, err := parseBIP32Path(path)
	if err != nil {
		return nil, err
	}

	key := masterKey(seed)
	for _, idx := range indices {
		key, err = key.deriveChild(idx)
		if err != nil {
			return nil, err
		}
	}

	privKey := secp256k1.PrivKeyFromBytes(key.key)
	pubKeyCompressed := privKey.PubKey().SerializeCompressed()
	shaHash := sha256.Sum256(pubKeyCompressed)
	ripe := ripemd160.New()
	ripe.Write(shaHash[:])
	pubKeyHash := ripe.Sum(nil)

	var pkh [20]byte
	copy(pkh[:], pubKeyHash)

	return &TransparentKey{
		PrivateKey: privKey,
		Address:    addr.EncodeTransparent(network, pkh),
	}, nil
}

// SignHash produces a deterministic ECDSA signature over hash using k's
// private key, as used for each transparent input's script_sig.
func SignHash(k *secp256k1.PrivateKey, hash []byte) []byte {
	sig := ecdsa.Sign(k, hash)
	return sig.Serialize()
}

func hexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		return nil, errors.New("signer: odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		b, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(b)
	}
	return out, nil
}
