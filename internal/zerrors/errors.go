// Package zerrors defines the typed error kinds shared across ZAMS
// components (spec §7), so the RPC facade and scanner can discriminate
// retryable, node-originated, and input-shape failures.
package zerrors

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Components wrap these with fmt.Errorf("%w: ...")
// to add context; callers compare with errors.Is.
var (
	ErrTransport           = errors.New("transport error")
	ErrReorg               = errors.New("reorg detected")
	ErrUnrecoverableReorg  = errors.New("reorg exceeds retention window")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidAccount      = errors.New("invalid account")
	ErrInvalidDiversifier  = errors.New("invalid diversifier")
	ErrOutOfDiversifiers   = errors.New("out of diversifiers")
	ErrIncorrectHrp        = errors.New("incorrect network hrp")
	ErrInvalidNote         = errors.New("invalid note")
	ErrDataError           = errors.New("internal invariant violation")
	ErrNotFound            = errors.New("not found")
)

// NodeRejected wraps an application-level rejection from the full node's
// JSON-RPC (spec §7): a non-zero error code plus message, surfaced
// verbatim to the caller.
type NodeRejected struct {
	Code    int
	Message string
}

func (e *NodeRejected) Error() string {
	return fmt.Sprintf("node rejected (code %d): %s", e.Code, e.Message)
}

// InsufficientFunds is returned by the spend planner when the available
// balance cannot reach the requested target.
type InsufficientFunds struct {
	Needed    uint64
	Available uint64
}

func (e *InsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: needed %d, available %d", e.Needed, e.Available)
}
