package planner

import (
	"sync"

	"github.com/ccoin/zams/internal/store"
	"github.com/ccoin/zams/pkg/types"
)

// reservationGuard is the in-process concurrency gate that serializes
// coin selection per source account and tracks inputs reserved by a
// prepare_tx call still in flight — grounded on the teacher mempool's
// map-plus-mutex nullifier index (internal/mempool/mempool.go), here
// keyed by account instead of by nullifier since the database's
// SERIALIZABLE reservation transaction is the final arbiter; this guard
// only prevents two goroutines in the same process from racing to pick
// the same notes before either commits.
type reservationGuard struct {
	mu            sync.Mutex
	accountLocks  map[int64]*sync.Mutex
	reservedNotes map[int64]map[int64]struct{}
	reservedUTXOs map[int64]map[int64]struct{}
}

func newReservationGuard() *reservationGuard {
	return &reservationGuard{
		accountLocks:  make(map[int64]*sync.Mutex),
		reservedNotes: make(map[int64]map[int64]struct{}),
		reservedUTXOs: make(map[int64]map[int64]struct{}),
	}
}

func (g *reservationGuard) lock(accountID int64) func() {
	g.mu.Lock()
	l, ok := g.accountLocks[accountID]
	if !ok {
		l = &sync.Mutex{}
		g.accountLocks[accountID] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (g *reservationGuard) excludeReservedNotes(accountID int64, notes []store.SpendableNote) []store.SpendableNote {
	g.mu.Lock()
	reserved := g.reservedNotes[accountID]
	g.mu.Unlock()
	if len(reserved) == 0 {
		return notes
	}

	out := make([]store.SpendableNote, 0, len(notes))
	for _, n := range notes {
		if _, taken := reserved[n.ID]; !taken {
			out = append(out, n)
		}
	}
	return out
}

func (g *reservationGuard) excludeReservedUTXOs(accountID int64, utxos []types.UTXO) []types.UTXO {
	g.mu.Lock()
	reserved := g.reservedUTXOs[accountID]
	g.mu.Unlock()
	if len(reserved) == 0 {
		return utxos
	}

	out := make([]types.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if _, taken := reserved[u.ID]; !taken {
			out = append(out, u)
		}
	}
	return out
}

// reserve records noteIDs/utxoIDs as claimed by an in-flight payment for
// accountID. Entries are never cleared explicitly: once reserve_payment
// commits, select_spendable_* already excludes them at the database
// level (payment IS NOT NULL), so the in-memory set only ever matters
// during the narrow window this call's own account lock is held.
func (g *reservationGuard) reserve(accountID int64, noteIDs, utxoIDs []int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(noteIDs) > 0 {
		if g.reservedNotes[accountID] == nil {
			g.reservedNotes[accountID] = make(map[int64]struct{})
		}
		for _, id := range noteIDs {
			g.reservedNotes[accountID][id] = struct{}{}
		}
	}
	if len(utxoIDs) > 0 {
		if g.reservedUTXOs[accountID] == nil {
			g.reservedUTXOs[accountID] = make(map[int64]struct{})
		}
		for _, id := range utxoIDs {
			g.reservedUTXOs[accountID][id] = struct{}{}
		}
	}
}
