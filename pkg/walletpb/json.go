package walletpb

import (
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/ccoin/zams/pkg/types"
)

var errInvalidHexLength = errors.New("walletpb: wrong-length hex field")

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }

// hexBytes marshals as a hex string instead of encoding/json's default
// base64 treatment of []byte, matching spec.md §6's "all byte fields
// hex-encoded" wire format requirement.
type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexEncode(h))
}

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hexDecode(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

type hexArray11 [11]byte

func (h hexArray11) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexEncode(h[:]))
}

func (h *hexArray11) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hexDecode(s)
	if err != nil {
		return err
	}
	if len(b) != 11 {
		return errInvalidHexLength
	}
	copy(h[:], b)
	return nil
}

type hexArray32 [32]byte

func (h hexArray32) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexEncode(h[:]))
}

func (h *hexArray32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hexDecode(s)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return errInvalidHexLength
	}
	copy(h[:], b)
	return nil
}

// MarshalJSON hex-encodes Script instead of the default base64 treatment.
func (t TransparentTxIn) MarshalJSON() ([]byte, error) {
	type wire struct {
		TxHash      types.Hash `json:"tx_hash"`
		OutputIndex uint32     `json:"output_index"`
		Value       int64      `json:"value"`
		Script      hexBytes   `json:"script"`
		Address     string     `json:"address"`
	}
	return json.Marshal(wire{t.TxHash, t.OutputIndex, t.Value, hexBytes(t.Script), t.Address})
}

func (t *TransparentTxIn) UnmarshalJSON(data []byte) error {
	type wire struct {
		TxHash      types.Hash `json:"tx_hash"`
		OutputIndex uint32     `json:"output_index"`
		Value       int64      `json:"value"`
		Script      hexBytes   `json:"script"`
		Address     string     `json:"address"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.TxHash = w.TxHash
	t.OutputIndex = w.OutputIndex
	t.Value = w.Value
	t.Script = w.Script
	t.Address = w.Address
	return nil
}

// MarshalJSON hex-encodes Diversifier, Rcm and WitnessBytes.
func (s SaplingTxIn) MarshalJSON() ([]byte, error) {
	type wire struct {
		Amount       uint64     `json:"amount"`
		Address      string     `json:"address"`
		Diversifier  hexArray11 `json:"diversifier"`
		Rcm          hexArray32 `json:"rcm"`
		WitnessBytes hexBytes   `json:"witness_bytes"`
	}
	return json.Marshal(wire{s.Amount, s.Address, hexArray11(s.Diversifier), hexArray32(s.Rcm), hexBytes(s.WitnessBytes)})
}

func (s *SaplingTxIn) UnmarshalJSON(data []byte) error {
	type wire struct {
		Amount       uint64     `json:"amount"`
		Address      string     `json:"address"`
		Diversifier  hexArray11 `json:"diversifier"`
		Rcm          hexArray32 `json:"rcm"`
		WitnessBytes hexBytes   `json:"witness_bytes"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Amount = w.Amount
	s.Address = w.Address
	s.Diversifier = [11]byte(w.Diversifier)
	s.Rcm = [32]byte(w.Rcm)
	s.WitnessBytes = w.WitnessBytes
	return nil
}

// MarshalJSON hex-encodes OVK.
func (o Output) MarshalJSON() ([]byte, error) {
	type wire struct {
		To     string   `json:"to"`
		Amount uint64   `json:"amount"`
		OVK    hexBytes `json:"ovk,omitempty"`
	}
	return json.Marshal(wire{o.To, o.Amount, hexBytes(o.OVK)})
}

func (o *Output) UnmarshalJSON(data []byte) error {
	type wire struct {
		To     string   `json:"to"`
		Amount uint64   `json:"amount"`
		OVK    hexBytes `json:"ovk,omitempty"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	o.To = w.To
	o.Amount = w.Amount
	o.OVK = w.OVK
	return nil
}

// MarshalJSON hex-encodes Raw.
func (s SignedTx) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID   int64      `json:"id"`
		TxID types.Hash `json:"txid"`
		Raw  hexBytes   `json:"raw"`
	}
	return json.Marshal(wire{s.ID, s.TxID, hexBytes(s.Raw)})
}

func (s *SignedTx) UnmarshalJSON(data []byte) error {
	type wire struct {
		ID   int64      `json:"id"`
		TxID types.Hash `json:"txid"`
		Raw  hexBytes   `json:"raw"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.ID = w.ID
	s.TxID = w.TxID
	s.Raw = w.Raw
	return nil
}
