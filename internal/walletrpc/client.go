// Package walletrpc is the thin JSON-RPC client to the full node (C1):
// latest_height, block(h), tree_state(h), send_raw(hex). It emits
// structurally validated blocks and does not retry internally; errors
// are returned to the caller.
package walletrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ccoin/zams/internal/zerrors"
	"github.com/ccoin/zams/pkg/types"
)

// Client talks JSON-RPC 1.0 to zcashd-compatible full nodes.
type Client struct {
	url      string
	user     string
	password string
	http     *http.Client
}

// New creates a Client for the given node RPC URL and credentials.
func New(url, user, password string) *Client {
	return &Client{
		url:      url,
		user:     user,
		password: password,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "zams", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", zerrors.ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", zerrors.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", zerrors.ErrTransport, err)
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("%w: decode response: %v", zerrors.ErrTransport, err)
	}
	if rr.Error != nil {
		return &zerrors.NodeRejected{Code: rr.Error.Code, Message: rr.Error.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("%w: decode result: %v", zerrors.ErrTransport, err)
	}
	return nil
}

// LatestHeight returns the node's current chain tip height.
func (c *Client) LatestHeight(ctx context.Context) (uint32, error) {
	var height uint32
	if err := c.call(ctx, "getblockcount", []interface{}{}, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// blockWire is the JSON shape returned by the node for a single block,
// full verbosity (transparent in/outs, shielded spends/outputs).
type blockWire struct {
	Height      uint32          `json:"height"`
	Hash        string          `json:"hash"`
	PrevHash    string          `json:"prevHash"`
	Time        uint32          `json:"time"`
	Txs         []TxWire        `json:"txs"`
	SaplingTree string          `json:"saplingTree"`
}

// TxWire is the wire shape of a transaction inside a fetched block.
type TxWire struct {
	TxID             string               `json:"txid"`
	TransparentIns   []TransparentInWire  `json:"transparentInputs"`
	TransparentOuts  []TransparentOutWire `json:"transparentOutputs"`
	ShieldedSpends   []ShieldedSpendWire  `json:"shieldedSpends"`
	ShieldedOutputs  []ShieldedOutputWire `json:"shieldedOutputs"`
}

// TransparentInWire references a spent transparent output by outpoint.
type TransparentInWire struct {
	PrevTxID string `json:"prevTxid"`
	PrevOut  int32  `json:"prevOut"`
	Address  string `json:"address"`
}

// TransparentOutWire is a transparent output credited to an address.
type TransparentOutWire struct {
	Index   int32  `json:"index"`
	Address string `json:"address"`
	Value   int64  `json:"value"`
	Script  string `json:"scriptHex"`
}

// ShieldedSpendWire publishes a nullifier spending a prior note.
type ShieldedSpendWire struct {
	Nullifier string `json:"nullifier"`
}

// ShieldedOutputWire is one shielded output: value commitment, note
// commitment, ephemeral key and encrypted ciphertext.
type ShieldedOutputWire struct {
	Index      int32  `json:"index"`
	Cv         string `json:"cv"`
	Cmu        string `json:"cmu"`
	EphemeralKey string `json:"ephemeralKey"`
	Ciphertext string `json:"encCiphertext"`
}

// Block is the decoded, structurally validated block handed to the
// scanner.
type Block struct {
	Height      uint32
	Hash        types.Hash
	PrevHash    types.Hash
	Time        uint32
	Txs         []TxWire
	SaplingTree []byte
}

// Block fetches and structurally validates the block at height h.
func (c *Client) Block(ctx context.Context, h uint32) (*Block, error) {
	var raw blockWire
	if err := c.call(ctx, "zams_getblock", []interface{}{h}, &raw); err != nil {
		return nil, err
	}
	return validateBlock(h, &raw)
}

// TreeState is the checkpoint payload used only for initial bootstrap.
type TreeState struct {
	Hash            types.Hash
	CommitmentTree  []byte
}

// TreeState fetches the commitment tree snapshot at height h.
func (c *Client) TreeState(ctx context.Context, h uint32) (*TreeState, error) {
	var raw struct {
		Hash string `json:"hash"`
		Tree string `json:"tree"`
	}
	if err := c.call(ctx, "zams_gettreestate", []interface{}{h}, &raw); err != nil {
		return nil, err
	}
	hashBytes, err := hexDecode(raw.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: tree state hash: %v", zerrors.ErrDataError, err)
	}
	treeBytes, err := hexDecode(raw.Tree)
	if err != nil {
		return nil, fmt.Errorf("%w: tree state bytes: %v", zerrors.ErrDataError, err)
	}
	return &TreeState{Hash: types.HashFromBytes(hashBytes), CommitmentTree: treeBytes}, nil
}

// SendRaw broadcasts a raw transaction (hex-encoded) and returns its txid.
func (c *Client) SendRaw(ctx context.Context, hex string) (types.Hash, error) {
	var txid string
	if err := c.call(ctx, "sendrawtransaction", []interface{}{hex}, &txid); err != nil {
		return types.Hash{}, err
	}
	b, err := hexDecode(txid)
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: send_raw txid: %v", zerrors.ErrDataError, err)
	}
	return types.HashFromBytes(b), nil
}
