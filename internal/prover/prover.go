package prover

import (
	"context"
	"errors"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
)

var (
	ErrCircuitNotCompiled      = errors.New("circuit not compiled for this input shape")
	ErrProofGenerationFailed   = errors.New("proof generation failed")
	ErrProofVerificationFailed = errors.New("proof verification failed")
)

// Descriptor is the minimal shape the prover needs: the anchor root, the
// declared fee, and the plaintext values of every input and output (the
// builder supplies these from rehydrated notes/UTXOs; the proof itself
// hides them from anyone but the prover).
type Descriptor struct {
	AnchorRoot [32]byte
	Fee        uint64
	InputValues  []uint64
	OutputValues []uint64
}

// Proof is an opaque serialized Groth16 proof plus its public inputs.
type Proof struct {
	Data         []byte
	PublicInputs []byte
}

// circuitKey identifies a compiled circuit by its input/output shape;
// circuits are compiled lazily and cached since setup is expensive.
type circuitKey struct {
	numInputs  int
	numOutputs int
}

type compiledCircuit struct {
	cs frontend.CompiledConstraintSystem
	pk groth16.ProvingKey
	vk groth16.VerifyingKey
}

// Prover generates and verifies Groth16 proofs of value conservation
// for transaction descriptors.
type Prover struct {
	mu       sync.Mutex
	circuits map[circuitKey]*compiledCircuit
}

// New creates an empty Prover; circuits are compiled on first use.
func New() *Prover {
	return &Prover{circuits: make(map[circuitKey]*compiledCircuit)}
}

func (p *Prover) circuitFor(numInputs, numOutputs int) (*compiledCircuit, error) {
	key := circuitKey{numInputs, numOutputs}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cc, ok := p.circuits[key]; ok {
		return cc, nil
	}

	cs, pk, vk, err := compile(numInputs, numOutputs)
	if err != nil {
		return nil, err
	}
	cc := &compiledCircuit{cs: cs, pk: pk, vk: vk}
	p.circuits[key] = cc
	return cc, nil
}

// Prove builds a Groth16 proof that d's inputs and outputs conserve
// value (spec §4.5 "invoke the prover; emit raw transaction bytes").
func (p *Prover) Prove(ctx context.Context, d *Descriptor) (*Proof, error) {
	cc, err := p.circuitFor(len(d.InputValues), len(d.OutputValues))
	if err != nil {
		return nil, err
	}

	assignment := &TransactionCircuit{
		MerkleRoot: d.AnchorRoot[:],
		Fee:        d.Fee,
		NumInputs:  len(d.InputValues),
		NumOutputs: len(d.OutputValues),
		Values:     make([]frontend.Variable, len(d.InputValues)+len(d.OutputValues)),
	}
	for i, v := range d.InputValues {
		assignment.Values[i] = v
	}
	for i, v := range d.OutputValues {
		assignment.Values[len(d.InputValues)+i] = v
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}

	proof, err := groth16.Prove(cc.cs, cc.pk, witness)
	if err != nil {
		return nil, ErrProofGenerationFailed
	}

	publicWitness, err := witness.Public()
	if err != nil {
		return nil, err
	}
	publicBytes, err := publicWitness.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return &Proof{Data: proof.MarshalBinary(), PublicInputs: publicBytes}, nil
}

// Verify checks a previously generated proof against its circuit shape.
func (p *Prover) Verify(ctx context.Context, numInputs, numOutputs int, proof *Proof) (bool, error) {
	cc, err := p.circuitFor(numInputs, numOutputs)
	if err != nil {
		return false, err
	}

	pr := groth16.NewProof(ecc.BN254)
	if err := pr.UnmarshalBinary(proof.Data); err != nil {
		return false, err
	}

	publicWitness, err := frontend.NewWitness(nil, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, err
	}
	if err := publicWitness.UnmarshalBinary(proof.PublicInputs); err != nil {
		return false, err
	}

	if err := groth16.Verify(pr, cc.vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}
