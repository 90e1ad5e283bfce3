// Package walletpb defines the unsigned/signed transaction descriptors
// exchanged between the planner, the transaction builder, and the
// isolated signer (spec.md §4.4-4.6). The wire shape is plain JSON so
// the signer process (no DB, no pgx) can depend on nothing but this
// package.
package walletpb

import "github.com/ccoin/zams/pkg/types"

// TransparentTxIn is one UTXO consumed by a transaction.
type TransparentTxIn struct {
	TxHash      types.Hash `json:"tx_hash"`
	OutputIndex uint32     `json:"output_index"`
	Value       int64      `json:"value"`
	Script      []byte     `json:"script"`
	Address     string     `json:"address"`
}

// SaplingTxIn is one shielded note consumed by a transaction, carrying
// everything the builder needs to reconstruct the note and its Merkle
// path without touching the store.
type SaplingTxIn struct {
	Amount      uint64    `json:"amount"`
	Address     string    `json:"address"`
	Diversifier [11]byte  `json:"diversifier"`
	Rcm         [32]byte  `json:"rcm"`
	WitnessBytes []byte   `json:"witness_bytes"`
}

// Output is the single payment destination of a transaction.
type Output struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	OVK    []byte `json:"ovk,omitempty"`
}

// UnsignedTx is the descriptor the planner hands to the signer (off-box)
// and to the builder, per spec.md §4.4 step 5.
type UnsignedTx struct {
	ID            int64             `json:"id"`
	Height        uint32            `json:"height"`
	FVK           string            `json:"fvk,omitempty"`
	TrpInputs     []TransparentTxIn `json:"trp_inputs,omitempty"`
	SapInputs     []SaplingTxIn     `json:"sap_inputs,omitempty"`
	Output        Output            `json:"output"`
	ChangeAddress string            `json:"change_address"`
	ChangeFVK     string            `json:"change_fvk,omitempty"`
}

// SignedTx is the builder/signer's output: a fully assembled,
// proof-bearing transaction ready to broadcast.
type SignedTx struct {
	ID  int64      `json:"id"`
	TxID types.Hash `json:"txid"`
	Raw  []byte     `json:"raw"`
}
