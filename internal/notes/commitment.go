package notes

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/ccoin/zams/pkg/types"
)

var (
	ErrInvalidValue   = errors.New("invalid commitment value")
	ErrInvalidBlinder = errors.New("invalid blinder")
)

var (
	generatorG  bn254.G1Affine
	generatorH  bn254.G1Affine
	initialized bool
)

// InitializeGenerators sets up the Pedersen commitment generators used
// for shielded output value commitments (cv). H is G multiplied by a
// fixed scalar taken from domainHash("ZAMS_PEDERSEN_H"), so the discrete
// log of H with respect to G is that public scalar.
func InitializeGenerators() error {
	if initialized {
		return nil
	}
	_, _, g1Gen, _ := bn254.Generators()
	generatorG = g1Gen

	hBytes := domainHash("ZAMS_PEDERSEN_H")
	generatorH.ScalarMultiplication(&generatorG, new(big.Int).SetBytes(hBytes))

	initialized = true
	return nil
}

// ValueCommitment is a Pedersen commitment C = value*G + blinder*H to a
// note's value, standing in for Sapling's cv construction.
type ValueCommitment struct {
	Point bn254.G1Affine
}

// NewValueCommitment commits to value with blinder.
func NewValueCommitment(value, blinder *big.Int) (*ValueCommitment, error) {
	if err := InitializeGenerators(); err != nil {
		return nil, err
	}
	if value == nil || blinder == nil {
		return nil, ErrInvalidValue
	}

	var valueG, blinderH, commitment bn254.G1Affine
	valueG.ScalarMultiplication(&generatorG, value)
	blinderH.ScalarMultiplication(&generatorH, blinder)
	commitment.Add(&valueG, &blinderH)

	return &ValueCommitment{Point: commitment}, nil
}

// NewRandomValueCommitment commits to value with a freshly sampled
// blinder, returning the blinder so the caller can later open it.
func NewRandomValueCommitment(value uint64) (*ValueCommitment, *big.Int, error) {
	blinder, err := RandomScalar()
	if err != nil {
		return nil, nil, err
	}
	c, err := NewValueCommitment(new(big.Int).SetUint64(value), blinder)
	if err != nil {
		return nil, nil, err
	}
	return c, blinder, nil
}

// Verify checks that c opens to (value, blinder).
func (c *ValueCommitment) Verify(value, blinder *big.Int) bool {
	expected, err := NewValueCommitment(value, blinder)
	if err != nil {
		return false
	}
	return c.Point.Equal(&expected.Point)
}

// Add homomorphically sums two commitments.
func (c *ValueCommitment) Add(other *ValueCommitment) *ValueCommitment {
	var result bn254.G1Affine
	result.Add(&c.Point, &other.Point)
	return &ValueCommitment{Point: result}
}

// Bytes returns the uncompressed point encoding of the commitment.
func (c *ValueCommitment) Bytes() []byte {
	return c.Point.Marshal()
}

// ToHash truncates the commitment's byte encoding into a types.Hash for
// storage alongside note commitments.
func (c *ValueCommitment) ToHash() types.Hash {
	var out types.Hash
	b := c.Bytes()
	if len(b) >= types.HashSize {
		copy(out[:], b[:types.HashSize])
	}
	return out
}

// RandomScalar samples a uniform scalar in the BN254 scalar field.
func RandomScalar() (*big.Int, error) {
	var scalar fr.Element
	if _, err := scalar.SetRandom(); err != nil {
		return nil, err
	}
	return scalar.BigInt(new(big.Int)), nil
}

// RandomBytes returns n cryptographically random bytes (used for note
// rcm/blinder generation).
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// VerifyValueConservation checks sum(inputs) = sum(outputs) + fee*G,
// the shielded pool's value-balance invariant (spec §8 property 1 at
// the cryptographic-commitment level, mirrored again over plaintext
// values by the planner/builder).
func VerifyValueConservation(inputs, outputs []*ValueCommitment, fee uint64) bool {
	if err := InitializeGenerators(); err != nil {
		return false
	}

	var inputSum bn254.G1Affine
	inputSum.SetInfinity()
	for _, c := range inputs {
		inputSum.Add(&inputSum, &c.Point)
	}

	var outputSum bn254.G1Affine
	outputSum.SetInfinity()
	for _, c := range outputs {
		outputSum.Add(&outputSum, &c.Point)
	}

	var feeCommitment bn254.G1Affine
	feeCommitment.ScalarMultiplication(&generatorG, new(big.Int).SetUint64(fee))
	outputSum.Add(&outputSum, &feeCommitment)

	return inputSum.Equal(&outputSum)
}

// NoteCommitment derives a note's commitment cmu from its plaintext
// fields, standing in for Sapling's windowed-Pedersen note commitment.
// It is what gets appended as a tree leaf (spec §3 Note.cmu,
// §4.3 "append o.cmu").
func NoteCommitment(diversifier [11]byte, pkd [32]byte, value uint64, rcm [32]byte) types.Hash {
	h := sha256.New()
	h.Write([]byte("ZAMS_NOTE_COMMITMENT"))
	h.Write(diversifier[:])
	h.Write(pkd[:])
	vb := make([]byte, 8)
	for i := 0; i < 8; i++ {
		vb[i] = byte(value >> (56 - 8*i))
	}
	h.Write(vb)
	h.Write(rcm[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// domainHash derives deterministic seed bytes for a fixed label; used
// only to pick the scalar that turns G into the secondary generator H.
func domainHash(label string) []byte {
	result := make([]byte, 32)
	data := []byte(label)
	for i := 0; i < 32; i++ {
		if i < len(data) {
			result[i] = data[i] ^ byte(i*17)
		} else {
			result[i] = byte(i * 31)
		}
	}
	return result
}
