package txbuilder

import (
	"context"
	"testing"

	"github.com/ccoin/zams/internal/prover"
	"github.com/ccoin/zams/internal/signer"
	"github.com/ccoin/zams/internal/zerrors"
	"github.com/ccoin/zams/pkg/types"
	"github.com/ccoin/zams/pkg/walletpb"
)

type fakeRPC struct {
	txid types.Hash
	err  error
}

func (f *fakeRPC) SendRaw(ctx context.Context, hexTx string) (types.Hash, error) {
	return f.txid, f.err
}

type fakeKeys struct {
	sk signer.SigningKey
}

func (f *fakeKeys) KeyFor(ctx context.Context, unsigned *walletpb.UnsignedTx) (signer.SigningKey, error) {
	return f.sk, nil
}

type fakeStore struct {
	finalized bool
	released  bool
}

func (f *fakeStore) FinalizePayment(ctx context.Context, paymentID int64, txid types.Hash) error {
	f.finalized = true
	return nil
}

func (f *fakeStore) ReleasePayment(ctx context.Context, paymentID int64) error {
	f.released = true
	return nil
}

func testUnsigned(t *testing.T) *walletpb.UnsignedTx {
	t.Helper()
	key, err := signer.GenerateTransparentKey(signer.Entropy{HexSeed: "000102030405060708090a0b0c0d0e0f"}, "m/0/2147483647'", types.Mainnet)
	if err != nil {
		t.Fatalf("generate transparent key: %v", err)
	}
	return &walletpb.UnsignedTx{
		ID:     7,
		Height: 1001,
		TrpInputs: []walletpb.TransparentTxIn{
			{TxHash: types.Hash{1}, OutputIndex: 0, Value: 5000, Address: key.Address},
		},
		Output:        walletpb.Output{To: "t1destination", Amount: 3000},
		ChangeAddress: key.Address,
	}
}

func TestSignThenBroadcastFinalizes(t *testing.T) {
	key, err := signer.GenerateTransparentKey(signer.Entropy{HexSeed: "000102030405060708090a0b0c0d0e0f"}, "m/0/2147483647'", types.Mainnet)
	if err != nil {
		t.Fatalf("generate transparent key: %v", err)
	}

	store := &fakeStore{}
	rpc := &fakeRPC{txid: types.Hash{9}}
	keys := &fakeKeys{sk: signer.SigningKey{Transparent: key}}
	b := New(store, rpc, keys, prover.New())

	unsigned := testUnsigned(t)
	signed, err := b.SignTx(context.Background(), unsigned)
	if err != nil {
		t.Fatalf("sign_tx: %v", err)
	}
	if len(signed.Raw) == 0 {
		t.Fatal("expected non-empty raw tx")
	}

	txid, err := b.BroadcastTx(context.Background(), signed)
	if err != nil {
		t.Fatalf("broadcast_tx: %v", err)
	}
	if txid != rpc.txid {
		t.Fatalf("expected txid %v, got %v", rpc.txid, txid)
	}
	if !store.finalized {
		t.Fatal("expected FinalizePayment to be called")
	}
}

func TestBroadcastSurfacesNodeRejection(t *testing.T) {
	store := &fakeStore{}
	rpc := &fakeRPC{err: &zerrors.NodeRejected{Code: -26, Message: "insufficient priority"}}
	b := New(store, rpc, &fakeKeys{}, prover.New())

	_, err := b.BroadcastTx(context.Background(), &walletpb.SignedTx{ID: 7, Raw: []byte("tx")})
	if err == nil {
		t.Fatal("expected node rejection error")
	}
	if store.finalized {
		t.Fatal("payment must not be finalized on rejection")
	}
}
