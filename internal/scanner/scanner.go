// Package scanner implements scan_chain (spec.md §4.3): brings the
// wallet store up to the node's chain tip, re-entrantly and
// idempotently, with explicit reorg detection and rewind. Its chunked
// window/progress-tracking control flow is grounded on
// internal/p2p/sync.go's SyncManager.syncLoop, adapted from DAG
// synchronization to linear reorg detection over a single chain.
//
// Transparent spends are taken as the node reports them in each block's
// inputs; there is no separate reconciliation pass, so a UTXO's
// spent_height can be stale while the node itself is behind.
package scanner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/ccoin/zams/internal/addr"
	"github.com/ccoin/zams/internal/notes"
	"github.com/ccoin/zams/internal/signer"
	"github.com/ccoin/zams/internal/store"
	"github.com/ccoin/zams/internal/tree"
	"github.com/ccoin/zams/internal/walletrpc"
	"github.com/ccoin/zams/internal/zerrors"
	"github.com/ccoin/zams/pkg/types"
)

// notePlaintextLen is diversifier(11) || value(8) || rcm(32); any
// trailing bytes are the memo.
const notePlaintextLen = 11 + 8 + 32

// maxReorgRetries bounds how many rewind-and-retry cycles scan_chain
// attempts before giving up as unrecoverable (spec.md §4.3 step 7).
const maxReorgRetries = types.ReorgDepth / types.RewindDepth

// RPC is the subset of internal/walletrpc.Client the scanner needs.
type RPC interface {
	LatestHeight(ctx context.Context) (uint32, error)
	Block(ctx context.Context, h uint32) (*walletrpc.Block, error)
}

// Store is the subset of internal/store.Store the scanner needs.
type Store interface {
	Tip(ctx context.Context) (height uint32, hash types.Hash, ok bool, err error)
	BlockAt(ctx context.Context, height uint32) (hash, prevHash types.Hash, treeBytes []byte, ok bool, err error)
	ListViewingKeys(ctx context.Context) ([]types.ViewingKey, error)
	AccountByAddress(ctx context.Context, address string) (types.Account, error)
	UnspentNotes(ctx context.Context) ([]types.Note, error)
	ApplyBlock(ctx context.Context, height uint32, hash, prevHash types.Hash, t uint32, treeBytes []byte, txs []store.BlockTx, witnesses []store.WitnessRow, notifications []types.Notification) error
	SaveWitnesses(ctx context.Context, height uint32, witnesses []store.WitnessRow) error
	RewindTo(ctx context.Context, height uint32) error
}

// Scanner brings the wallet store up to the node's current tip.
type Scanner struct {
	mu sync.Mutex // serializes ScanChain calls and the rewinds they perform

	rpc     RPC
	store   Store
	network types.Network
}

// New creates a Scanner polling rpc and writing into store.
func New(rpc RPC, store Store, network types.Network) *Scanner {
	return &Scanner{rpc: rpc, store: store, network: network}
}

// ScanChain runs scan_chain to completion, returning the height reached.
func (sc *Scanner) ScanChain(ctx context.Context) (uint32, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	reorgRetries := 0
	for {
		localHeight, _, haveLocal, err := sc.store.Tip(ctx)
		if err != nil {
			return 0, err
		}
		remoteHeight, err := sc.rpc.LatestHeight(ctx)
		if err != nil {
			return 0, err
		}
		if remoteHeight <= localHeight {
			return localHeight, nil
		}

		end := localHeight + types.ScanChunk
		if end > remoteHeight {
			end = remoteHeight
		}

		vks, err := sc.store.ListViewingKeys(ctx)
		if err != nil {
			return 0, err
		}

		treeStore := tree.NewInMemoryStore()
		if haveLocal {
			_, _, prevTreeBytes, ok, err := sc.store.BlockAt(ctx, localHeight)
			if err != nil {
				return 0, err
			}
			if ok && len(prevTreeBytes) > 0 {
				if err := treeStore.UnmarshalBinary(prevTreeBytes); err != nil {
					return 0, err
				}
			}
		}
		ct := tree.New(treeStore)
		if err := ct.Initialize(ctx); err != nil {
			return 0, err
		}

		chunkStartHeight := localHeight

		reorgDetected := false
		for h := localHeight + 1; h <= end; h++ {
			block, err := sc.rpc.Block(ctx, h)
			if err != nil {
				return 0, err
			}

			if h > 1 {
				hashLocal, _, _, ok, err := sc.store.BlockAt(ctx, h-1)
				if err != nil {
					return 0, err
				}
				if ok && block.PrevHash != hashLocal {
					reorgDetected = true
					break
				}
			}

			btxs, notifications, err := sc.processBlock(ctx, ct, vks, block)
			if err != nil {
				return 0, err
			}
			treeBytes, err := treeStore.MarshalBinary()
			if err != nil {
				return 0, err
			}
			if err := sc.store.ApplyBlock(ctx, h, block.Hash, block.PrevHash, block.Time, treeBytes, btxs, nil, notifications); err != nil {
				return 0, err
			}
			localHeight = h

			unspent, err := sc.store.UnspentNotes(ctx)
			if err != nil {
				return 0, err
			}
			witnesses, err := sc.recomputeWitnesses(ctx, ct, unspent)
			if err != nil {
				return 0, err
			}
			if err := sc.store.SaveWitnesses(ctx, h, witnesses); err != nil {
				return 0, err
			}
		}

		if reorgDetected {
			reorgRetries++
			if reorgRetries > maxReorgRetries {
				return 0, zerrors.ErrUnrecoverableReorg
			}
			rewindTo := uint32(0)
			if chunkStartHeight > types.RewindDepth {
				rewindTo = chunkStartHeight - types.RewindDepth
			}
			if err := sc.store.RewindTo(ctx, rewindTo); err != nil {
				return 0, err
			}
			continue
		}

		if localHeight >= remoteHeight {
			return localHeight, nil
		}
	}
}

// processBlock implements spec.md §4.3 step 5 for a single block: trial
// decryption of shielded outputs against every imported FVK, transparent
// credit/spend matching, and commitment tree extension with every
// shielded output's cmu. Witnesses are recomputed by ScanChain after the
// block is applied.
func (sc *Scanner) processBlock(ctx context.Context, ct *tree.CommitmentTree, vks []types.ViewingKey, block *walletrpc.Block) ([]store.BlockTx, []types.Notification, error) {
	var blockTxs []store.BlockTx
	var notifications []types.Notification

	for _, txw := range block.Txs {
		txid, err := hexToHash(txw.TxID)
		if err != nil {
			return nil, nil, err
		}

		btx := store.BlockTx{TxID: txid}

		for _, spend := range txw.ShieldedSpends {
			nf, err := hexToHash(spend.Nullifier)
			if err != nil {
				return nil, nil, err
			}
			btx.ShieldedNullifiers = append(btx.ShieldedNullifiers, nf)
		}

		for _, in := range txw.TransparentIns {
			prevTxID, err := hexToHash(in.PrevTxID)
			if err != nil {
				return nil, nil, err
			}
			btx.TransparentSpends = append(btx.TransparentSpends, store.TransparentSpend{TxHash: prevTxID, OutputIndex: int(in.PrevOut)})
		}

		for _, out := range txw.TransparentOuts {
			account, err := sc.store.AccountByAddress(ctx, out.Address)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			script, err := hex.DecodeString(out.Script)
			if err != nil {
				return nil, nil, err
			}
			btx.TransparentOutputs = append(btx.TransparentOutputs, store.TransparentOutput{
				AccountID: account.ID, Address: out.Address, OutputIndex: int(out.Index), Value: out.Value, Script: script,
			})
			notifications = append(notifications, types.Notification{
				Outgoing: false, TxHash: txid, AccountID: account.ID, TxOutputIndex: out.Index, Amount: out.Value, Block: block.Height,
			})
		}

		for _, out := range txw.ShieldedOutputs {
			cmuWire, err := hexToHash(out.Cmu)
			if err != nil {
				return nil, nil, err
			}
			position, err := ct.Append(ctx, cmuWire)
			if err != nil {
				return nil, nil, err
			}

			output, account, ok, err := sc.decryptOutput(ctx, vks, out)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}

			cmu := notes.NoteCommitment(output.diversifier, output.pkd, output.value, output.rcm)

			nk := signer.NullifierKey(output.fvkBytes)
			nullifier := notes.DeriveNullifier(nk, cmu, position)

			so := store.ShieldedOutput{
				AccountID:   account.ID,
				Address:     account.Address,
				OutputIndex: int(out.Index),
				Diversifier: output.diversifier,
				Position:    position,
				Value:       output.value,
				Rcm:         output.rcm,
				Memo:        output.memo,
				Nullifier:   nullifier,
				IsChange:    false,
			}
			btx.ShieldedOutputs = append(btx.ShieldedOutputs, so)
			notifications = append(notifications, types.Notification{
				Outgoing: false, TxHash: txid, AccountID: account.ID, TxOutputIndex: out.Index, Amount: int64(output.value), Block: block.Height,
			})
		}

		blockTxs = append(blockTxs, btx)
	}

	return blockTxs, notifications, nil
}

// recomputeWitnesses re-derives the authentication path for every
// still-unspent note against the tree's current state. This stands in
// for true incremental witness extension: Path() always walks live
// sibling data, so recomputing from scratch after each block is
// correct, just more work than extending each open witness by one
// level at a time.
func (sc *Scanner) recomputeWitnesses(ctx context.Context, ct *tree.CommitmentTree, unspent []types.Note) ([]store.WitnessRow, error) {
	var rows []store.WitnessRow
	for _, n := range unspent {
		w, err := ct.Path(ctx, n.Position)
		if err != nil {
			return nil, err
		}
		rows = append(rows, store.WitnessRow{NoteID: n.ID, Data: w.Bytes()})
	}
	return rows, nil
}

type decryptedOutput struct {
	diversifier [11]byte
	value       uint64
	rcm         [32]byte
	memo        []byte
	pkd         [32]byte
	fvkBytes    []byte
}

// decryptOutput attempts note_decrypt against every imported FVK,
// returning the first successful match (spec.md §4.3 step 5).
func (sc *Scanner) decryptOutput(ctx context.Context, vks []types.ViewingKey, out walletrpc.ShieldedOutputWire) (decryptedOutput, types.Account, bool, error) {
	ephemeralKey, err := hex.DecodeString(out.EphemeralKey)
	if err != nil {
		return decryptedOutput{}, types.Account{}, false, err
	}
	ciphertext, err := hex.DecodeString(out.Ciphertext)
	if err != nil {
		return decryptedOutput{}, types.Account{}, false, err
	}
	cmuWire, err := hex.DecodeString(out.Cmu)
	if err != nil {
		return decryptedOutput{}, types.Account{}, false, err
	}

	for _, vk := range vks {
		fvkBytes, err := signer.DecodeFVK(vk.Key)
		if err != nil {
			continue
		}
		plaintext, ok := tryDecrypt(fvkBytes, ephemeralKey, ciphertext)
		if !ok {
			continue
		}

		var diversifier [11]byte
		copy(diversifier[:], plaintext[:11])
		value := binary.BigEndian.Uint64(plaintext[11:19])
		var rcm [32]byte
		copy(rcm[:], plaintext[19:51])
		memo := append([]byte(nil), plaintext[51:]...)

		pkd := signer.PkdFor(fvkBytes, diversifier)
		cmu := notes.NoteCommitment(diversifier, pkd, value, rcm)
		if !bytes.Equal(cmu[:], cmuWire) {
			continue // wrong key, or wire Cmu belongs to a different scheme
		}

		address, err := addr.EncodeShielded(sc.network, diversifier, pkd)
		if err != nil {
			return decryptedOutput{}, types.Account{}, false, err
		}
		account, err := sc.store.AccountByAddress(ctx, address)
		if errors.Is(err, store.ErrNotFound) {
			continue // valid note, but this diversified address isn't imported yet
		}
		if err != nil {
			return decryptedOutput{}, types.Account{}, false, err
		}

		return decryptedOutput{
			diversifier: diversifier,
			value:       value,
			rcm:         rcm,
			memo:        memo,
			pkd:         pkd,
			fvkBytes:    fvkBytes,
		}, account, true, nil
	}
	return decryptedOutput{}, types.Account{}, false, nil
}

// tryDecrypt reverses EncryptNotePlaintext; see that function's doc
// comment for the scheme this stands in for.
func tryDecrypt(fvkBytes, ephemeralKey, ciphertext []byte) ([]byte, bool) {
	if len(ciphertext) < notePlaintextLen {
		return nil, false
	}
	keystream := noteKeystream(fvkBytes, ephemeralKey, len(ciphertext))
	plaintext := make([]byte, len(ciphertext))
	for i := range ciphertext {
		plaintext[i] = ciphertext[i] ^ keystream[i]
	}
	return plaintext, true
}

// EncryptNotePlaintext is the counterpart to tryDecrypt; exported for
// tests that need to manufacture a wire-compatible ShieldedOutputWire.
// The scanner itself never calls this: encryption happens upstream, at
// the node or sending wallet, which real Sapling performs with a
// Diffie-Hellman shared secret over the diversified transmission key.
// That key-agreement step isn't reproduced here since this package
// only implements the receiving side; ZAMS_NOTE_ENC stands in for it as
// a keystream keyed on (fvk, ephemeral key) so round-trip tests can
// exercise decryptOutput without a real Sapling note encryption
// implementation.
func EncryptNotePlaintext(fvkBytes, ephemeralKey, plaintext []byte) []byte {
	keystream := noteKeystream(fvkBytes, ephemeralKey, len(plaintext))
	ciphertext := make([]byte, len(plaintext))
	for i := range plaintext {
		ciphertext[i] = plaintext[i] ^ keystream[i]
	}
	return ciphertext
}

func noteKeystream(fvkBytes, ephemeralKey []byte, length int) []byte {
	secret := sha256.New()
	secret.Write([]byte("ZAMS_NOTE_ENC"))
	secret.Write(fvkBytes)
	secret.Write(ephemeralKey)
	seed := secret.Sum(nil)

	out := make([]byte, 0, length)
	counter := uint32(0)
	for len(out) < length {
		h := sha256.New()
		h.Write(seed)
		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], counter)
		h.Write(counterBytes[:])
		out = append(out, h.Sum(nil)...)
		counter++
	}
	return out[:length]
}

func hexToHash(s string) (types.Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBytes(b), nil
}
