// Package planner implements the spend planner (spec.md §4.4): selects
// spendable notes/UTXOs for a target value, builds an unsigned
// transaction descriptor, and reserves the chosen inputs against
// concurrent reuse.
package planner

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ccoin/zams/internal/store"
	"github.com/ccoin/zams/internal/zerrors"
	"github.com/ccoin/zams/pkg/types"
	"github.com/ccoin/zams/pkg/walletpb"
)

// DefaultFee is the flat network fee in zats (spec.md §4.4 step 2).
const DefaultFee = types.DefaultFee

// AnchorOffset is how far behind the tip the shielded spend anchor sits,
// giving the prover a stable root that has already propagated (spec.md
// §4.4 step 3).
const AnchorOffset = types.AnchorOffset

var ErrInvalidAmount = errors.New("planner: amount must be positive")
var ErrChangeAccountNotShielded = errors.New("planner: change account must be shielded")

// AddressValidator decodes addr against the configured network, telling
// the planner whether it is well-formed before any inputs are reserved.
type AddressValidator interface {
	Decode(addr string) error
}

// Store is the subset of the wallet store the planner depends on.
type Store interface {
	Tip(ctx context.Context) (height uint32, hash types.Hash, ok bool, err error)
	Account(ctx context.Context, accountID int64) (types.Account, string, error)
	SelectSpendableShielded(ctx context.Context, accountID int64, anchorHeight uint32) ([]store.SpendableNote, error)
	SelectSpendableTransparent(ctx context.Context, address string) ([]types.UTXO, error)
	ReservePayment(ctx context.Context, payment types.Payment, noteIDs, utxoIDs []int64) (int64, error)
}

// Planner prepares unsigned transaction descriptors.
type Planner struct {
	store     Store
	addresses AddressValidator
	guard     *reservationGuard
}

// New creates a Planner backed by store, validating destination
// addresses with addresses.
func New(store Store, addresses AddressValidator) *Planner {
	return &Planner{store: store, addresses: addresses, guard: newReservationGuard()}
}

// PrepareTx implements spec.md §4.4's prepare_tx operation.
func (p *Planner) PrepareTx(ctx context.Context, datetime time.Time, fromAccount int64, toAddress string, changeAccount int64, amount uint64) (*walletpb.UnsignedTx, int64, error) {
	if amount == 0 {
		return nil, 0, ErrInvalidAmount
	}
	if err := p.addresses.Decode(toAddress); err != nil {
		return nil, 0, zerrors.ErrInvalidAddress
	}

	changeAcc, changeFVK, err := p.store.Account(ctx, changeAccount)
	if err != nil {
		return nil, 0, err
	}
	if changeFVK == "" {
		return nil, 0, ErrChangeAccountNotShielded
	}

	target := amount + DefaultFee

	tip, _, ok, err := p.store.Tip(ctx)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, errors.New("planner: no chain tip recorded yet")
	}
	height := tip + 1
	anchor := tip
	if tip > AnchorOffset {
		anchor = tip - AnchorOffset
	} else {
		anchor = 0
	}

	account, fvkKey, err := p.store.Account(ctx, fromAccount)
	if err != nil {
		return nil, 0, err
	}

	unsigned := &walletpb.UnsignedTx{
		Height:        height,
		Output:        walletpb.Output{To: toAddress, Amount: amount},
		ChangeAddress: changeAcc.Address,
		ChangeFVK:     changeFVK,
	}

	unlock := p.guard.lock(fromAccount)
	defer unlock()

	var noteIDs, utxoIDs []int64
	if account.IsShielded() {
		unsigned.FVK = fvkKey
		notes, err := p.store.SelectSpendableShielded(ctx, fromAccount, anchor)
		if err != nil {
			return nil, 0, err
		}
		chosen, total, err := accumulateNotes(p.guard.excludeReservedNotes(fromAccount, notes), target)
		if err != nil {
			return nil, 0, err
		}
		_ = total
		for _, n := range chosen {
			unsigned.SapInputs = append(unsigned.SapInputs, walletpb.SaplingTxIn{
				Amount:       n.Value,
				Address:      account.Address,
				Diversifier:  n.Diversifier,
				Rcm:          n.Rcm,
				WitnessBytes: n.Witness,
			})
			noteIDs = append(noteIDs, n.ID)
		}
	} else {
		utxos, err := p.store.SelectSpendableTransparent(ctx, account.Address)
		if err != nil {
			return nil, 0, err
		}
		chosen, total, err := accumulateUTXOs(p.guard.excludeReservedUTXOs(fromAccount, utxos), target)
		if err != nil {
			return nil, 0, err
		}
		_ = total
		for _, u := range chosen {
			unsigned.TrpInputs = append(unsigned.TrpInputs, walletpb.TransparentTxIn{
				TxHash:      u.TxHash,
				OutputIndex: uint32(u.OutputIndex),
				Value:       u.Value,
				Script:      u.Script,
				Address:     u.Address,
			})
			utxoIDs = append(utxoIDs, u.ID)
		}
	}

	record := types.Payment{
		Datetime:      datetime,
		AccountID:     fromAccount,
		Sender:        account.Address,
		Recipient:     toAddress,
		ChangeAddress: changeAcc.Address,
		Amount:        int64(amount),
	}

	paymentID, err := p.store.ReservePayment(ctx, record, noteIDs, utxoIDs)
	if err != nil {
		return nil, 0, err
	}
	unsigned.ID = paymentID

	p.guard.reserve(fromAccount, noteIDs, utxoIDs)
	return unsigned, paymentID, nil
}

// accumulateNotes shuffles notes and accumulates until target is met
// (spec.md §4.4 step 4, "shuffle uniformly at random").
func accumulateNotes(notes []store.SpendableNote, target uint64) ([]store.SpendableNote, uint64, error) {
	shuffled := make([]store.SpendableNote, len(notes))
	copy(shuffled, notes)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	var total uint64
	var available uint64
	for _, n := range shuffled {
		available += n.Value
	}
	if available < target {
		return nil, 0, &zerrors.InsufficientFunds{Needed: target, Available: available}
	}

	var chosen []store.SpendableNote
	for _, n := range shuffled {
		chosen = append(chosen, n)
		total += n.Value
		if total >= target {
			break
		}
	}
	return chosen, total, nil
}

func accumulateUTXOs(utxos []types.UTXO, target uint64) ([]types.UTXO, uint64, error) {
	shuffled := make([]types.UTXO, len(utxos))
	copy(shuffled, utxos)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	var available uint64
	for _, u := range shuffled {
		available += uint64(u.Value)
	}
	if available < target {
		return nil, 0, &zerrors.InsufficientFunds{Needed: target, Available: available}
	}

	var total uint64
	var chosen []types.UTXO
	for _, u := range shuffled {
		chosen = append(chosen, u)
		total += uint64(u.Value)
		if total >= target {
			break
		}
	}
	return chosen, total, nil
}
