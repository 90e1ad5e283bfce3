package store

import "errors"

var (
	ErrNotFound          = errors.New("store: not found")
	ErrDuplicate         = errors.New("store: duplicate entry")
	ErrOutOfDiversifiers = errors.New("store: fvk has exhausted its diversifier space")
	ErrPaymentNotFound   = errors.New("store: payment not found")
	ErrReservationFailed = errors.New("store: could not reserve inputs, retry")
)
