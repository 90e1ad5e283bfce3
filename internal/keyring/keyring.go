// Package keyring implements the daemon's own in-process key registry:
// the non-isolated half of sign_tx (spec.md §4.5), as opposed to the
// isolated signer process spec.md §4.6 describes (cmd/zamssignerd).
// Keys generated here never leave the process and are re-derived on
// demand from the configured entropy rather than cached as raw key
// material, matching internal/signer's "stateless derivation" design.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ccoin/zams/internal/signer"
	"github.com/ccoin/zams/pkg/types"
	"github.com/ccoin/zams/pkg/walletpb"
)

// ErrUnknownKey is returned when unsigned references an FVK or address
// the registry never generated, so it has no path to re-derive from.
var ErrUnknownKey = errors.New("keyring: no known derivation path for this account")

// zip32Purpose and bip44Purpose are ZIP32's Sapling purpose and BIP44's
// purpose field; zcashCoinType is Zcash's registered SLIP-44 coin type,
// matching the paths real Zcash wallets derive against.
const (
	zip32Purpose = 32
	bip44Purpose = 44
	zcashCoinType = 133
)

// Registry derives and caches the mapping from a generated FVK or
// transparent address back to the BIP32/ZIP32 path it was derived at,
// so KeyFor can re-derive the same key on demand for SignTx.
type Registry struct {
	mu        sync.Mutex
	entropy   signer.Entropy
	network   types.Network
	byFVK     map[string]string
	byAddress map[string]string
	next      uint32
}

// New creates a Registry deriving all future keys from entropy for network.
func New(entropy signer.Entropy, network types.Network) *Registry {
	return &Registry{
		entropy:   entropy,
		network:   network,
		byFVK:     make(map[string]string),
		byAddress: make(map[string]string),
	}
}

// GenerateShielded derives the next shielded extended key this registry
// hasn't handed out yet, remembering its path for later KeyFor lookups.
func (r *Registry) GenerateShielded() (*signer.ShieldedKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := fmt.Sprintf("m/%d'/%d'/%d'", zip32Purpose, zcashCoinType, r.next)
	sk, err := signer.GenerateShieldedKey(r.entropy, path, r.network)
	if err != nil {
		return nil, err
	}
	r.byFVK[sk.FVK] = path
	r.next++
	return sk, nil
}

// GenerateTransparent derives the next transparent key this registry
// hasn't handed out yet, remembering its path for later KeyFor lookups.
func (r *Registry) GenerateTransparent() (*signer.TransparentKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := fmt.Sprintf("m/%d'/%d'/%d'", bip44Purpose, zcashCoinType, r.next)
	tk, err := signer.GenerateTransparentKey(r.entropy, path, r.network)
	if err != nil {
		return nil, err
	}
	r.byAddress[tk.Address] = path
	r.next++
	return tk, nil
}

// KeyFor implements internal/txbuilder.KeyProvider: it re-derives the
// signing key for whichever account unsigned's descriptor spends from,
// using the path recorded when that account's key was generated.
func (r *Registry) KeyFor(ctx context.Context, unsigned *walletpb.UnsignedTx) (signer.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if unsigned.FVK != "" {
		path, ok := r.byFVK[unsigned.FVK]
		if !ok {
			return signer.SigningKey{}, ErrUnknownKey
		}
		sk, err := signer.GenerateShieldedKey(r.entropy, path, r.network)
		if err != nil {
			return signer.SigningKey{}, err
		}
		return signer.SigningKey{Shielded: sk}, nil
	}

	if len(unsigned.TrpInputs) > 0 {
		path, ok := r.byAddress[unsigned.TrpInputs[0].Address]
		if !ok {
			return signer.SigningKey{}, ErrUnknownKey
		}
		tk, err := signer.GenerateTransparentKey(r.entropy, path, r.network)
		if err != nil {
			return signer.SigningKey{}, err
		}
		return signer.SigningKey{Transparent: tk}, nil
	}

	return signer.SigningKey{}, ErrUnknownKey
}
