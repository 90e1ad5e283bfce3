// Package tree implements the shielded commitment tree and per-note
// witnesses (authentication paths computed from the current tree state;
// spec §3 Witness entity, §4.3 witness maintenance).
package tree

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ccoin/zams/pkg/types"
)

// Depth is the fixed depth of the Sapling commitment tree.
const Depth = 32

var (
	ErrTreeFull        = errors.New("commitment tree is full")
	ErrLeafNotFound     = errors.New("leaf not found in tree")
	ErrInvalidPosition  = errors.New("invalid position")
)

// Store persists tree node state. The implementation in this package is
// InMemoryStore, which the scanner serializes into the blocks.tree column.
type Store interface {
	GetNode(ctx context.Context, level, index uint64) (types.Hash, error)
	SetNode(ctx context.Context, level, index uint64, hash types.Hash) error
	GetRoot(ctx context.Context) (types.Hash, error)
	SetRoot(ctx context.Context, root types.Hash) error
	GetSize(ctx context.Context) (uint64, error)
	SetSize(ctx context.Context, size uint64) error
}

// CommitmentTree is an append-only incremental Merkle tree over note
// commitments.
type CommitmentTree struct {
	mu sync.RWMutex

	depth int
	size  uint64
	root  types.Hash
	store Store
}

// New creates a commitment tree backed by store.
func New(store Store) *CommitmentTree {
	return &CommitmentTree{depth: Depth, store: store}
}

// Initialize loads tree state (root, size) from the store.
func (ct *CommitmentTree) Initialize(ctx context.Context) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	root, err := ct.store.GetRoot(ctx)
	if err != nil {
		ct.root = ct.emptyRoot()
		ct.size = 0
		return nil
	}
	ct.root = root

	size, err := ct.store.GetSize(ctx)
	if err != nil {
		ct.size = 0
	} else {
		ct.size = size
	}
	return nil
}

// Append adds a new note commitment to the tree and returns the leaf
// position it was assigned (spec §4.3: "position is the global
// commitment index just before appending o.cmu").
func (ct *CommitmentTree) Append(ctx context.Context, commitment types.Hash) (uint64, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	maxLeaves := uint64(1) << ct.depth
	if ct.size >= maxLeaves {
		return 0, ErrTreeFull
	}

	position := ct.size
	ct.size++

	if err := ct.store.SetNode(ctx, 0, position, commitment); err != nil {
		ct.size--
		return 0, err
	}

	currentHash := commitment
	currentIndex := position
	for level := 0; level < ct.depth; level++ {
		siblingIndex := currentIndex ^ 1
		siblingHash, err := ct.store.GetNode(ctx, uint64(level), siblingIndex)
		if err != nil {
			siblingHash = ct.emptyHash(level)
		}

		var newHash types.Hash
		if currentIndex%2 == 0 {
			newHash = hashPair(currentHash, siblingHash)
		} else {
			newHash = hashPair(siblingHash, currentHash)
		}

		currentIndex /= 2
		currentHash = newHash
		if err := ct.store.SetNode(ctx, uint64(level+1), currentIndex, currentHash); err != nil {
			return 0, err
		}
	}

	ct.root = currentHash
	if err := ct.store.SetRoot(ctx, ct.root); err != nil {
		return 0, err
	}
	if err := ct.store.SetSize(ctx, ct.size); err != nil {
		return 0, err
	}
	return position, nil
}

// Root returns the current tree root.
func (ct *CommitmentTree) Root() types.Hash {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.root
}

// Size returns the number of commitments appended so far.
func (ct *CommitmentTree) Size() uint64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.size
}

// Witness is the authentication path from a leaf to the tree root.
type Witness struct {
	Siblings     []types.Hash
	PathBits     []bool
	LeafPosition uint64
}

// Bytes serializes the witness for storage in the witnesses table.
func (w *Witness) Bytes() []byte {
	buf := make([]byte, 0, 8+len(w.Siblings)*types.HashSize+len(w.PathBits))
	posBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(posBytes, w.LeafPosition)
	buf = append(buf, posBytes...)
	for _, s := range w.Siblings {
		buf = append(buf, s[:]...)
	}
	for _, b := range w.PathBits {
		if b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// WitnessFromBytes deserializes a witness previously produced by Bytes.
func WitnessFromBytes(depth int, data []byte) (*Witness, error) {
	want := 8 + depth*types.HashSize + depth
	if len(data) != want {
		return nil, errors.New("tree: malformed witness bytes")
	}
	w := &Witness{
		Siblings: make([]types.Hash, depth),
		PathBits: make([]bool, depth),
	}
	w.LeafPosition = binary.BigEndian.Uint64(data[:8])
	off := 8
	for i := 0; i < depth; i++ {
		w.Siblings[i] = types.HashFromBytes(data[off : off+types.HashSize])
		off += types.HashSize
	}
	for i := 0; i < depth; i++ {
		w.PathBits[i] = data[off] == 1
		off++
	}
	return w, nil
}

// Path returns the authentication path for the leaf at position, using
// the tree's current state (spec §4.2 select_spendable_shielded requires
// a witness at a given anchor height; callers replay Append against a
// per-height snapshot to get historical witnesses — see scanner).
func (ct *CommitmentTree) Path(ctx context.Context, position uint64) (*Witness, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	if position >= ct.size {
		return nil, ErrInvalidPosition
	}

	siblings := make([]types.Hash, ct.depth)
	pathBits := make([]bool, ct.depth)

	currentIndex := position
	for level := 0; level < ct.depth; level++ {
		siblingIndex := currentIndex ^ 1
		siblingHash, err := ct.store.GetNode(ctx, uint64(level), siblingIndex)
		if err != nil {
			siblingHash = ct.emptyHash(level)
		}
		siblings[level] = siblingHash
		pathBits[level] = currentIndex%2 == 1
		currentIndex /= 2
	}

	return &Witness{Siblings: siblings, PathBits: pathBits, LeafPosition: position}, nil
}

// RootFromWitness folds leaf up w's authentication path and returns the
// resulting root, without reference to any externally known anchor
// (spec.md §4.6: the signer recomputes the anchor from the witness it
// was handed rather than querying the store for one).
func RootFromWitness(leaf types.Hash, w *Witness) (types.Hash, error) {
	if len(w.Siblings) != Depth || len(w.PathBits) != Depth {
		return types.Hash{}, errors.New("tree: malformed witness path")
	}
	currentHash := leaf
	for i := 0; i < Depth; i++ {
		if w.PathBits[i] {
			currentHash = hashPair(w.Siblings[i], currentHash)
		} else {
			currentHash = hashPair(currentHash, w.Siblings[i])
		}
	}
	return currentHash, nil
}

// Verify checks that a witness authenticates leaf against expectedRoot.
func Verify(leaf types.Hash, w *Witness, expectedRoot types.Hash) bool {
	root, err := RootFromWitness(leaf, w)
	if err != nil {
		return false
	}
	return root == expectedRoot
}

func (ct *CommitmentTree) emptyHash(level int) types.Hash {
	if level == 0 {
		return types.EmptyHash
	}
	child := ct.emptyHash(level - 1)
	return hashPair(child, child)
}

func (ct *CommitmentTree) emptyRoot() types.Hash {
	return ct.emptyHash(ct.depth)
}

func hashPair(left, right types.Hash) types.Hash {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// InMemoryStore is a Store implementation for tests and for the
// in-process witness-extension scratch space the scanner uses per
// chunk.
type InMemoryStore struct {
	mu    sync.RWMutex
	nodes map[uint64]map[uint64]types.Hash
	root  types.Hash
	size  uint64
}

// NewInMemoryStore creates an empty in-memory tree store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nodes: make(map[uint64]map[uint64]types.Hash)}
}

func (s *InMemoryStore) GetNode(ctx context.Context, level, index uint64) (types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lvl, ok := s.nodes[level]
	if !ok {
		return types.EmptyHash, ErrLeafNotFound
	}
	h, ok := lvl[index]
	if !ok {
		return types.EmptyHash, ErrLeafNotFound
	}
	return h, nil
}

func (s *InMemoryStore) SetNode(ctx context.Context, level, index uint64, hash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodes[level] == nil {
		s.nodes[level] = make(map[uint64]types.Hash)
	}
	s.nodes[level][index] = hash
	return nil
}

func (s *InMemoryStore) GetRoot(ctx context.Context) (types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root, nil
}

func (s *InMemoryStore) SetRoot(ctx context.Context, root types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = root
	return nil
}

func (s *InMemoryStore) GetSize(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size, nil
}

func (s *InMemoryStore) SetSize(ctx context.Context, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = size
	return nil
}

// MarshalBinary serializes every populated node plus root/size into the
// flat blob stored in blocks.tree, so a fresh process can rehydrate the
// tree without replaying the chain from genesis.
func (s *InMemoryStore) MarshalBinary() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count uint32
	for _, lvl := range s.nodes {
		count += uint32(len(lvl))
	}

	buf := make([]byte, 0, 8+types.HashSize+4+int(count)*(8+8+types.HashSize))
	buf = append(buf, uint64ToBytes(s.size)...)
	buf = append(buf, s.root[:]...)
	buf = append(buf, uint32ToBytes(count)...)
	for level, lvl := range s.nodes {
		for index, hash := range lvl {
			buf = append(buf, uint64ToBytes(level)...)
			buf = append(buf, uint64ToBytes(index)...)
			buf = append(buf, hash[:]...)
		}
	}
	return buf, nil
}

// UnmarshalBinary restores state previously produced by MarshalBinary.
func (s *InMemoryStore) UnmarshalBinary(data []byte) error {
	if len(data) < 8+types.HashSize+4 {
		return errors.New("tree: malformed tree snapshot")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	off := 0
	s.size = bytesToUint64(data[off : off+8])
	off += 8
	copy(s.root[:], data[off:off+types.HashSize])
	off += types.HashSize
	count := bytesToUint32(data[off : off+4])
	off += 4

	s.nodes = make(map[uint64]map[uint64]types.Hash)
	for i := uint32(0); i < count; i++ {
		level := bytesToUint64(data[off : off+8])
		off += 8
		index := bytesToUint64(data[off : off+8])
		off += 8
		var hash types.Hash
		copy(hash[:], data[off:off+types.HashSize])
		off += types.HashSize
		if s.nodes[level] == nil {
			s.nodes[level] = make(map[uint64]types.Hash)
		}
		s.nodes[level][index] = hash
	}
	return nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func uint32ToBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func bytesToUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
