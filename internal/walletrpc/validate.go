package walletrpc

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ccoin/zams/internal/zerrors"
	"github.com/ccoin/zams/pkg/types"
)

// maxFutureSkew bounds how far into the future a block timestamp may sit
// before it is rejected as structurally invalid.
const maxFutureSkew = 2 * time.Minute

// validateBlock decodes and structurally validates a fetched block: hash
// and prev-hash must be well-formed 32-byte values, the height must
// match the request, and the timestamp must not be implausibly far in
// the future. This mirrors the header checks a full-chain validator
// would run, trimmed to the fields a wallet scanner actually needs.
func validateBlock(requestedHeight uint32, raw *blockWire) (*Block, error) {
	if raw.Height != requestedHeight {
		return nil, fmt.Errorf("%w: height mismatch: requested %d, got %d", zerrors.ErrDataError, requestedHeight, raw.Height)
	}

	hashBytes, err := hexDecode(raw.Hash)
	if err != nil || len(hashBytes) != 32 {
		return nil, fmt.Errorf("%w: malformed block hash", zerrors.ErrDataError)
	}

	var prevHashBytes []byte
	if requestedHeight == 0 {
		prevHashBytes = make([]byte, 32)
	} else {
		prevHashBytes, err = hexDecode(raw.PrevHash)
		if err != nil || len(prevHashBytes) != 32 {
			return nil, fmt.Errorf("%w: malformed prev hash", zerrors.ErrDataError)
		}
	}

	if time.Unix(int64(raw.Time), 0).After(time.Now().Add(maxFutureSkew)) {
		return nil, fmt.Errorf("%w: block timestamp too far in the future", zerrors.ErrDataError)
	}

	treeBytes, err := hexDecode(raw.SaplingTree)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed sapling tree bytes", zerrors.ErrDataError)
	}

	return &Block{
		Height:      raw.Height,
		Hash:        types.HashFromBytes(hashBytes),
		PrevHash:    types.HashFromBytes(prevHashBytes),
		Time:        raw.Time,
		Txs:         raw.Txs,
		SaplingTree: treeBytes,
	}, nil
}

func hexDecode(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
