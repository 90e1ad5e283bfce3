// Package txbuilder implements sign_tx and broadcast_tx (spec.md §4.5):
// the non-isolated path that signs a planner descriptor in-process and
// submits it to the full node, as opposed to internal/signer's
// standalone isolated-process variant (spec.md §4.6).
package txbuilder

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/ccoin/zams/internal/prover"
	"github.com/ccoin/zams/internal/signer"
	"github.com/ccoin/zams/internal/zerrors"
	"github.com/ccoin/zams/pkg/types"
	"github.com/ccoin/zams/pkg/walletpb"
)

// KeyProvider resolves the signing key material for an unsigned
// transaction's source account, reconstructing it from whatever
// entropy/path the account was originally derived from.
type KeyProvider interface {
	KeyFor(ctx context.Context, unsigned *walletpb.UnsignedTx) (signer.SigningKey, error)
}

// RPC is the subset of internal/walletrpc.Client the builder needs to
// broadcast a signed transaction.
type RPC interface {
	SendRaw(ctx context.Context, hexTx string) (types.Hash, error)
}

// Store is the subset of internal/store.Store the builder needs to
// finalize or release a payment reservation.
type Store interface {
	FinalizePayment(ctx context.Context, paymentID int64, txid types.Hash) error
	ReleasePayment(ctx context.Context, paymentID int64) error
}

// Builder signs and broadcasts planner descriptors.
type Builder struct {
	store  Store
	rpc    RPC
	keys   KeyProvider
	prover *prover.Prover
}

// New creates a Builder wired to store, rpc and keys.
func New(store Store, rpc RPC, keys KeyProvider, prv *prover.Prover) *Builder {
	return &Builder{store: store, rpc: rpc, keys: keys, prover: prv}
}

// SignTx resolves the source account's key material and signs unsigned,
// producing a proof-bearing transaction ready to broadcast (spec.md
// §4.5 steps 1-4). It performs no store mutation itself; the reservation
// made by the planner stays intact until BroadcastTx finalizes it.
func (b *Builder) SignTx(ctx context.Context, unsigned *walletpb.UnsignedTx) (*walletpb.SignedTx, error) {
	sk, err := b.keys.KeyFor(ctx, unsigned)
	if err != nil {
		return nil, err
	}
	return signer.SignTx(ctx, sk, b.prover, unsigned)
}

// BroadcastTx submits signed to the full node and finalizes its payment
// reservation on acceptance (spec.md §4.5 step 5). A node-side rejection
// is surfaced verbatim to the caller with the reservation left in place;
// its inputs stay excluded from new prepare_tx calls until the payment is
// released with CancelTx (spec.md §7, "NodeRejected").
func (b *Builder) BroadcastTx(ctx context.Context, signed *walletpb.SignedTx) (types.Hash, error) {
	txid, err := b.rpc.SendRaw(ctx, hex.EncodeToString(signed.Raw))
	if err != nil {
		var rejected *zerrors.NodeRejected
		if errors.As(err, &rejected) {
			return types.Hash{}, err
		}
		return types.Hash{}, err
	}
	if err := b.store.FinalizePayment(ctx, signed.ID, txid); err != nil {
		return types.Hash{}, err
	}
	return txid, nil
}

// CancelTx releases a payment's reservation without broadcasting,
// freeing its inputs for a future prepare_tx call.
func (b *Builder) CancelTx(ctx context.Context, paymentID int64) error {
	return b.store.ReleasePayment(ctx, paymentID)
}
