package addr

import (
	"testing"

	"github.com/ccoin/zams/pkg/types"
)

func TestTransparentRoundTrip(t *testing.T) {
	var pkh [20]byte
	for i := range pkh {
		pkh[i] = byte(i + 1)
	}

	address := EncodeTransparent(types.Testnet, pkh)
	got, err := DecodeTransparent(types.Testnet, address)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != pkh {
		t.Fatalf("round trip mismatch: got %x want %x", got, pkh)
	}

	if _, err := DecodeTransparent(types.Mainnet, address); err != ErrWrongNetwork {
		t.Fatalf("expected ErrWrongNetwork decoding testnet address as mainnet, got %v", err)
	}
}

func TestTransparentBadChecksum(t *testing.T) {
	var pkh [20]byte
	address := EncodeTransparent(types.Testnet, pkh)
	corrupted := address[:len(address)-1] + "x"
	if _, err := DecodeTransparent(types.Testnet, corrupted); err == nil {
		t.Fatal("expected corrupted address to fail decoding")
	}
}

func TestShieldedRoundTrip(t *testing.T) {
	var diversifier [11]byte
	var pkd [32]byte
	for i := range diversifier {
		diversifier[i] = byte(i + 1)
	}
	for i := range pkd {
		pkd[i] = byte(i + 1)
	}

	address, err := EncodeShielded(types.Testnet, diversifier, pkd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	gotD, gotP, err := DecodeShielded(types.Testnet, address)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotD != diversifier || gotP != pkd {
		t.Fatalf("round trip mismatch")
	}
}

func TestValidatorAcceptsBothKinds(t *testing.T) {
	v := Validator{Network: types.Testnet}

	var pkh [20]byte
	tAddr := EncodeTransparent(types.Testnet, pkh)
	if err := v.Decode(tAddr); err != nil {
		t.Fatalf("transparent address rejected: %v", err)
	}

	var diversifier [11]byte
	var pkd [32]byte
	zAddr, err := EncodeShielded(types.Testnet, diversifier, pkd)
	if err != nil {
		t.Fatalf("encode shielded: %v", err)
	}
	if err := v.Decode(zAddr); err != nil {
		t.Fatalf("shielded address rejected: %v", err)
	}

	if err := v.Decode("not-an-address"); err == nil {
		t.Fatal("expected garbage input to be rejected")
	}
}
