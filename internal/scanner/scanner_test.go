package scanner

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ccoin/zams/internal/notes"
	"github.com/ccoin/zams/internal/signer"
	"github.com/ccoin/zams/internal/store"
	"github.com/ccoin/zams/internal/walletrpc"
	"github.com/ccoin/zams/pkg/types"
)

func noteCommitmentForTest(diversifier [11]byte, pkd [32]byte, value uint64, rcm [32]byte) types.Hash {
	return notes.NoteCommitment(diversifier, pkd, value, rcm)
}

type fakeRPC struct {
	tip    uint32
	blocks map[uint32]*walletrpc.Block
}

func (f *fakeRPC) LatestHeight(ctx context.Context) (uint32, error) { return f.tip, nil }

func (f *fakeRPC) Block(ctx context.Context, h uint32) (*walletrpc.Block, error) {
	b, ok := f.blocks[h]
	if !ok {
		return nil, errors.New("no such block")
	}
	return b, nil
}

type fakeStore struct {
	height     uint32
	haveTip    bool
	hashes     map[uint32]types.Hash
	prevHashes map[uint32]types.Hash
	vks        []types.ViewingKey
	accounts   map[string]types.Account

	applied      []uint32
	rewoundTo    []uint32
	savedWitness int
}

func (f *fakeStore) Tip(ctx context.Context) (uint32, types.Hash, bool, error) {
	return f.height, f.hashes[f.height], f.haveTip, nil
}

// BlockAt returns the hash and prevHash actually recorded for height by
// ApplyBlock, rather than inferring prevHash from a neighboring height's
// hash — the two coincide on an honest linear chain but not across a
// rewind, and conflating them previously masked a reorg-detection bug in
// the scanner itself.
func (f *fakeStore) BlockAt(ctx context.Context, height uint32) (types.Hash, types.Hash, []byte, bool, error) {
	h, ok := f.hashes[height]
	if !ok {
		return types.Hash{}, types.Hash{}, nil, false, nil
	}
	return h, f.prevHashes[height], nil, true, nil
}

func (f *fakeStore) ListViewingKeys(ctx context.Context) ([]types.ViewingKey, error) {
	return f.vks, nil
}

func (f *fakeStore) AccountByAddress(ctx context.Context, address string) (types.Account, error) {
	acc, ok := f.accounts[address]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return acc, nil
}

func (f *fakeStore) UnspentNotes(ctx context.Context) ([]types.Note, error) { return nil, nil }

func (f *fakeStore) ApplyBlock(ctx context.Context, height uint32, hash, prevHash types.Hash, t uint32, treeBytes []byte, txs []store.BlockTx, witnesses []store.WitnessRow, notifications []types.Notification) error {
	f.applied = append(f.applied, height)
	f.hashes[height] = hash
	if f.prevHashes == nil {
		f.prevHashes = make(map[uint32]types.Hash)
	}
	f.prevHashes[height] = prevHash
	f.height = height
	f.haveTip = true
	return nil
}

func (f *fakeStore) SaveWitnesses(ctx context.Context, height uint32, witnesses []store.WitnessRow) error {
	f.savedWitness += len(witnesses)
	return nil
}

func (f *fakeStore) RewindTo(ctx context.Context, height uint32) error {
	f.rewoundTo = append(f.rewoundTo, height)
	f.height = height
	return nil
}

func blockHash(label string) types.Hash {
	var h types.Hash
	copy(h[:], []byte(label))
	return h
}

func TestScanChainAdvancesTip(t *testing.T) {
	genesis := blockHash("genesis")
	h1 := blockHash("block-1")
	h2 := blockHash("block-2")

	fs := &fakeStore{
		height:  0,
		haveTip: true,
		hashes:  map[uint32]types.Hash{0: genesis},
	}
	fr := &fakeRPC{
		tip: 2,
		blocks: map[uint32]*walletrpc.Block{
			1: {Height: 1, Hash: h1, PrevHash: genesis, Time: 100},
			2: {Height: 2, Hash: h2, PrevHash: h1, Time: 200},
		},
	}

	sc := New(fr, fs, types.Mainnet)
	height, err := sc.ScanChain(context.Background())
	if err != nil {
		t.Fatalf("scan_chain: %v", err)
	}
	if height != 2 {
		t.Fatalf("expected tip 2, got %d", height)
	}
	if len(fs.applied) != 2 {
		t.Fatalf("expected 2 blocks applied, got %d", len(fs.applied))
	}
}

func TestScanChainDetectsReorgAndRewinds(t *testing.T) {
	genesis := blockHash("genesis")
	h1 := blockHash("block-1")
	wrongParent := blockHash("not-block-1")
	h2 := blockHash("block-2")

	fs := &fakeStore{
		height:  1,
		haveTip: true,
		hashes:  map[uint32]types.Hash{0: genesis, 1: h1},
	}
	fr := &fakeRPC{
		tip: 2,
		blocks: map[uint32]*walletrpc.Block{
			2: {Height: 2, Hash: h2, PrevHash: wrongParent, Time: 200},
		},
	}

	sc := New(fr, fs, types.Mainnet)

	// rewind_to resets height to 0, and the fake RPC holds only block 2,
	// so the second pass returns an RPC error fetching block 1; this
	// still proves reorg detection triggered exactly one rewind.
	_, _ = sc.ScanChain(context.Background())

	if len(fs.rewoundTo) != 1 {
		t.Fatalf("expected exactly one rewind, got %d", len(fs.rewoundTo))
	}
}

func TestDecryptOutputRoundTrip(t *testing.T) {
	sk, err := signer.GenerateShieldedKey(signer.Entropy{HexSeed: "000102030405060708090a0b0c0d0e0f"}, "m/32'/1'/0'", types.Testnet)
	if err != nil {
		t.Fatalf("generate shielded key: %v", err)
	}

	address, diversifier, _, err := signer.NextDiversifiedAddress(sk.FVKBytes, types.Testnet, 0)
	if err != nil {
		t.Fatalf("next diversified address: %v", err)
	}
	pkd := signer.PkdFor(sk.FVKBytes, diversifier)

	var rcm [32]byte
	rcm[0] = 0x42
	value := uint64(12345)

	plaintext := make([]byte, 0, notePlaintextLen+4)
	plaintext = append(plaintext, diversifier[:]...)
	var valueBytes [8]byte
	binary.BigEndian.PutUint64(valueBytes[:], value)
	plaintext = append(plaintext, valueBytes[:]...)
	plaintext = append(plaintext, rcm[:]...)
	plaintext = append(plaintext, []byte("memo")...)

	ephemeralKey := []byte("test-ephemeral-key")
	ciphertext := EncryptNotePlaintext(sk.FVKBytes, ephemeralKey, plaintext)

	cmu := noteCommitmentForTest(diversifier, pkd, value, rcm)

	out := walletrpc.ShieldedOutputWire{
		Index:        0,
		Cmu:          hex.EncodeToString(cmu[:]),
		EphemeralKey: hex.EncodeToString(ephemeralKey),
		Ciphertext:   hex.EncodeToString(ciphertext),
	}

	fs := &fakeStore{
		vks:      []types.ViewingKey{{ID: 1, Key: sk.FVK}},
		accounts: map[string]types.Account{address: {ID: 7, Address: address, FVKID: func() *int64 { v := int64(1); return &v }()}},
	}
	sc := New(&fakeRPC{}, fs, types.Testnet)

	decrypted, account, ok, err := sc.decryptOutput(context.Background(), fs.vks, out)
	if err != nil {
		t.Fatalf("decrypt_output: %v", err)
	}
	if !ok {
		t.Fatal("expected decryption to succeed against the matching fvk")
	}
	if account.ID != 7 {
		t.Fatalf("expected account id 7, got %d", account.ID)
	}
	if decrypted.value != value {
		t.Fatalf("expected value %d, got %d", value, decrypted.value)
	}
	if string(decrypted.memo) != "memo" {
		t.Fatalf("expected memo %q, got %q", "memo", decrypted.memo)
	}
}

func TestDecryptOutputFailsForWrongKey(t *testing.T) {
	sk, err := signer.GenerateShieldedKey(signer.Entropy{HexSeed: "000102030405060708090a0b0c0d0e0f"}, "m/32'/1'/0'", types.Testnet)
	if err != nil {
		t.Fatalf("generate shielded key: %v", err)
	}
	other, err := signer.GenerateShieldedKey(signer.Entropy{HexSeed: "ffeeddccbbaa99887766554433221100"}, "m/32'/1'/0'", types.Testnet)
	if err != nil {
		t.Fatalf("generate shielded key: %v", err)
	}

	_, diversifier, _, err := signer.NextDiversifiedAddress(sk.FVKBytes, types.Testnet, 0)
	if err != nil {
		t.Fatalf("next diversified address: %v", err)
	}
	pkd := signer.PkdFor(sk.FVKBytes, diversifier)

	var rcm [32]byte
	value := uint64(1)
	plaintext := make([]byte, 0, notePlaintextLen)
	plaintext = append(plaintext, diversifier[:]...)
	var valueBytes [8]byte
	binary.BigEndian.PutUint64(valueBytes[:], value)
	plaintext = append(plaintext, valueBytes[:]...)
	plaintext = append(plaintext, rcm[:]...)

	ephemeralKey := []byte("ephemeral")
	ciphertext := EncryptNotePlaintext(sk.FVKBytes, ephemeralKey, plaintext)
	cmu := noteCommitmentForTest(diversifier, pkd, value, rcm)

	out := walletrpc.ShieldedOutputWire{
		Cmu:          hex.EncodeToString(cmu[:]),
		EphemeralKey: hex.EncodeToString(ephemeralKey),
		Ciphertext:   hex.EncodeToString(ciphertext),
	}

	fs := &fakeStore{vks: []types.ViewingKey{{ID: 2, Key: other.FVK}}}
	sc := New(&fakeRPC{}, fs, types.Testnet)

	_, _, ok, err := sc.decryptOutput(context.Background(), fs.vks, out)
	if err != nil {
		t.Fatalf("decrypt_output: %v", err)
	}
	if ok {
		t.Fatal("expected decryption to fail against an unrelated fvk")
	}
}
