package types

import "time"

// Block is a scanned chain tip entry. SaplingTree is the serialized
// commitment tree state after applying this block (spec §3).
type Block struct {
	Height      uint32
	Hash        Hash
	PrevHash    Hash
	Time        uint32
	SaplingTree []byte
}

// Transaction records txid/block linkage for both mined and pending
// outgoing transactions. A transaction may exist without a block (an
// outgoing unmined tx) and gain one later.
type Transaction struct {
	ID           int64
	TxID         Hash
	BlockID      *int64
	TxIndex      *int32
	Created      time.Time
	ExpiryHeight *uint32
	Raw          []byte
}

// ViewingKey is an imported full viewing key. DiversifierCursor holds the
// next diversifier index to try on NextAddressFor.
type ViewingKey struct {
	ID               int64
	Key              string
	DiversifierCursor uint64 // low 64 bits of the 128-bit cursor; high bits reserved
}

// Account is either transparent (FVKID nil, address imported directly)
// or shielded (derived from a ViewingKey's diversifier cursor).
type Account struct {
	ID      int64
	Address string
	FVKID   *int64
}

// IsShielded reports whether the account is backed by a viewing key.
func (a *Account) IsShielded() bool {
	return a.FVKID != nil
}

// Note is a shielded output tracked for a local account.
type Note struct {
	ID           int64
	TxID         int64
	OutputIndex  int32
	AccountID    int64
	Address      string
	Diversifier  [11]byte
	Position     uint64
	Value        uint64
	Rcm          [32]byte
	Memo         []byte
	Nullifier    Hash
	IsChange     bool
	Height       uint32
	SpentTx      *int64
	Payment      *int64
}

// Witness is the serialized authentication path for a note's commitment
// at a given block height.
type Witness struct {
	NoteID      int64
	BlockHeight uint32
	Data        []byte
}

// UTXO is a transparent output tracked for a local account.
type UTXO struct {
	ID          int64
	TxHash      Hash
	OutputIndex int32
	AccountID   int64
	Address     string
	Value       int64
	Script      []byte
	Height      uint32
	Spent       bool
	SpentHeight *uint32
	Payment     *int64
}

// Payment reserves a set of notes and UTXOs for a single outbound
// transaction during the prepare -> sign -> broadcast window.
type Payment struct {
	ID            int64
	Datetime      time.Time
	AccountID     int64
	Sender        string
	Recipient     string
	ChangeAddress string
	Amount        int64
	Paid          bool
	TxID          *Hash
}

// Notification is a pending or delivered webhook event for a credit or
// debit involving a tracked account.
type Notification struct {
	ID            int64
	Datetime      time.Time
	Outgoing      bool
	TxHash        Hash
	AccountID     int64
	TxOutputIndex int32
	Amount        int64
	Block         uint32
	Delivered     bool
}
