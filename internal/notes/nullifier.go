// Package notes implements nullifier derivation/tracking and Pedersen
// value commitments for shielded notes.
package notes

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ccoin/zams/pkg/types"
)

var (
	ErrNullifierSpent  = errors.New("nullifier already spent")
	ErrNullifierInvalid = errors.New("invalid nullifier")
)

// Store is the persistence interface the nullifier set delegates to; the
// wallet store implements it against the notes table (nf column).
type Store interface {
	HasNullifier(ctx context.Context, nullifier types.Hash) (bool, error)
	AddNullifier(ctx context.Context, nullifier types.Hash, txHash types.Hash, blockHeight uint32) error
}

// Set tracks spent nullifiers to prevent double-spending, caching
// recently-seen nullifiers in memory ahead of the backing store.
type Set struct {
	mu           sync.RWMutex
	cache        map[types.Hash]struct{}
	store        Store
	maxCacheSize int
}

const defaultMaxCacheSize = 100000

// NewSet creates a nullifier set backed by store.
func NewSet(store Store) *Set {
	return &Set{cache: make(map[types.Hash]struct{}), store: store, maxCacheSize: defaultMaxCacheSize}
}

// IsSpent checks if a nullifier has already been observed on chain.
func (s *Set) IsSpent(ctx context.Context, nullifier types.Hash) (bool, error) {
	s.mu.RLock()
	_, inCache := s.cache[nullifier]
	s.mu.RUnlock()
	if inCache {
		return true, nil
	}
	return s.store.HasNullifier(ctx, nullifier)
}

// MarkSpent records nullifier as spent by txHash at blockHeight.
func (s *Set) MarkSpent(ctx context.Context, nullifier, txHash types.Hash, blockHeight uint32) error {
	spent, err := s.IsSpent(ctx, nullifier)
	if err != nil {
		return err
	}
	if spent {
		return ErrNullifierSpent
	}
	if err := s.store.AddNullifier(ctx, nullifier, txHash, blockHeight); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[nullifier] = struct{}{}
	if len(s.cache) > s.maxCacheSize {
		for k := range s.cache {
			delete(s.cache, k)
			break
		}
	}
	s.mu.Unlock()
	return nil
}

// DeriveNullifier derives the nullifier for a note, keyed off the FVK's
// nullifier-deriving key nk (spec §9: plain IVK imports are insufficient
// for spend detection — the nullifier key must come from the full
// viewing key).
//
//	nullifier = H(nk || cm || position)
func DeriveNullifier(nk []byte, commitment types.Hash, position uint64) types.Hash {
	h := sha256.New()
	h.Write(nk)
	h.Write(commitment[:])
	h.Write(uint64ToBytes(position))

	var nullifier types.Hash
	copy(nullifier[:], h.Sum(nil))
	return nullifier
}

// DerivationKey derives the nullifier-deriving key nk from a full
// viewing key's raw bytes.
func DerivationKey(fvkBytes []byte) []byte {
	h := sha256.New()
	h.Write([]byte("ZAMS_NULLIFIER_KEY"))
	h.Write(fvkBytes)
	return h.Sum(nil)
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
