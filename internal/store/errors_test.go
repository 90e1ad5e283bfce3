package store

import "testing"

func TestIsSerializationFailure(t *testing.T) {
	if isSerializationFailure(nil) {
		t.Fatal("nil error must not be a serialization failure")
	}
	if isSerializationFailure(ErrReservationFailed) {
		t.Fatal("unrelated error must not be classified as a serialization failure")
	}
}
