package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ccoin/zams/internal/store"
	"github.com/ccoin/zams/internal/zerrors"
	"github.com/ccoin/zams/pkg/types"
)

type fakeStore struct {
	tip      uint32
	accounts map[int64]types.Account
	fvks     map[int64]string
	notes    map[int64][]store.SpendableNote
	reserved int64
}

func (f *fakeStore) Tip(ctx context.Context) (uint32, types.Hash, bool, error) {
	return f.tip, types.Hash{}, true, nil
}

func (f *fakeStore) Account(ctx context.Context, accountID int64) (types.Account, string, error) {
	return f.accounts[accountID], f.fvks[accountID], nil
}

func (f *fakeStore) SelectSpendableShielded(ctx context.Context, accountID int64, anchorHeight uint32) ([]store.SpendableNote, error) {
	return f.notes[accountID], nil
}

func (f *fakeStore) SelectSpendableTransparent(ctx context.Context, address string) ([]types.UTXO, error) {
	return nil, nil
}

func (f *fakeStore) ReservePayment(ctx context.Context, payment types.Payment, noteIDs, utxoIDs []int64) (int64, error) {
	f.reserved++
	return f.reserved, nil
}

type passValidator struct{}

func (passValidator) Decode(addr string) error { return nil }

func TestPrepareTxShieldedSufficientFunds(t *testing.T) {
	fs := &fakeStore{
		tip: 1000,
		accounts: map[int64]types.Account{
			1: {ID: 1, Address: "zs1from", FVKID: int64ptr(1)},
			2: {ID: 2, Address: "zs1change", FVKID: int64ptr(2)},
		},
		fvks: map[int64]string{1: "fvk-1", 2: "fvk-2"},
		notes: map[int64][]store.SpendableNote{
			1: {
				{ID: 10, Value: 1500},
				{ID: 11, Value: 1500},
			},
		},
	}
	p := New(fs, passValidator{})

	unsigned, paymentID, err := p.PrepareTx(context.Background(), time.Unix(0, 0), 1, "zs1to", 2, 1000)
	if err != nil {
		t.Fatalf("prepare_tx: %v", err)
	}
	if paymentID != 1 {
		t.Fatalf("expected payment id 1, got %d", paymentID)
	}
	if len(unsigned.SapInputs) == 0 {
		t.Fatal("expected at least one sapling input")
	}
	var total uint64
	for _, in := range unsigned.SapInputs {
		total += in.Amount
	}
	if total < 1000+DefaultFee {
		t.Fatalf("selected inputs %d below target %d", total, 1000+DefaultFee)
	}
}

func TestPrepareTxInsufficientFunds(t *testing.T) {
	fs := &fakeStore{
		tip: 1000,
		accounts: map[int64]types.Account{
			1: {ID: 1, Address: "zs1from", FVKID: int64ptr(1)},
			2: {ID: 2, Address: "zs1change", FVKID: int64ptr(2)},
		},
		fvks: map[int64]string{1: "fvk-1", 2: "fvk-2"},
		notes: map[int64][]store.SpendableNote{
			1: {{ID: 10, Value: 100}},
		},
	}
	p := New(fs, passValidator{})

	_, _, err := p.PrepareTx(context.Background(), time.Unix(0, 0), 1, "zs1to", 2, 1000)
	var insufficient *zerrors.InsufficientFunds
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
}

func int64ptr(v int64) *int64 { return &v }
