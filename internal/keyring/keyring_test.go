package keyring

import (
	"context"
	"testing"

	"github.com/ccoin/zams/internal/signer"
	"github.com/ccoin/zams/pkg/types"
	"github.com/ccoin/zams/pkg/walletpb"
)

func testEntropy() signer.Entropy { return signer.Entropy{HexSeed: "000102030405060708090a0b0c0d0e0f"} }

func TestKeyForShieldedRoundTrip(t *testing.T) {
	r := New(testEntropy(), types.Testnet)

	sk, err := r.GenerateShielded()
	if err != nil {
		t.Fatalf("generate shielded: %v", err)
	}

	key, err := r.KeyFor(context.Background(), &walletpb.UnsignedTx{FVK: sk.FVK})
	if err != nil {
		t.Fatalf("key_for: %v", err)
	}
	if key.Shielded == nil {
		t.Fatal("expected a shielded key")
	}
	if key.Shielded.FVK != sk.FVK {
		t.Fatalf("expected fvk %q, got %q", sk.FVK, key.Shielded.FVK)
	}
}

func TestKeyForTransparentRoundTrip(t *testing.T) {
	r := New(testEntropy(), types.Testnet)

	tk, err := r.GenerateTransparent()
	if err != nil {
		t.Fatalf("generate transparent: %v", err)
	}

	key, err := r.KeyFor(context.Background(), &walletpb.UnsignedTx{
		TrpInputs: []walletpb.TransparentTxIn{{Address: tk.Address}},
	})
	if err != nil {
		t.Fatalf("key_for: %v", err)
	}
	if key.Transparent == nil {
		t.Fatal("expected a transparent key")
	}
	if key.Transparent.Address != tk.Address {
		t.Fatalf("expected address %q, got %q", tk.Address, key.Transparent.Address)
	}
}

func TestKeyForUnknownFVK(t *testing.T) {
	r := New(testEntropy(), types.Testnet)

	_, err := r.KeyFor(context.Background(), &walletpb.UnsignedTx{FVK: "unknown-fvk"})
	if err != ErrUnknownKey {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}
