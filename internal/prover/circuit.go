// Package prover implements the opaque zk-SNARK proving boundary
// spec.md §1 describes as an external collaborator: prove(tx_descriptor)
// -> proof. It is backed by a gnark/Groth16 circuit over BN254 that
// checks value conservation across a transaction's transparent and
// shielded inputs and outputs; the real Sapling circuit (Merkle path and
// note-opening checks) is represented here as the same proving
// boundary, kept intentionally narrow since this package's job is to be
// swappable, not to reimplement Sapling's full circuit.
package prover

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// TransactionCircuit constrains sum(inputs) = sum(outputs) + fee over
// the witness values supplied for a spend. MerkleRoot and Fee are
// public; Values is the prover's private witness.
type TransactionCircuit struct {
	MerkleRoot  frontend.Variable   `gnark:",public"`
	Fee         frontend.Variable   `gnark:",public"`
	NumInputs   int
	NumOutputs  int
	Values      []frontend.Variable
}

// Define implements the circuit constraints.
func (c *TransactionCircuit) Define(api frontend.API) error {
	var inputSum, outputSum frontend.Variable = 0, 0
	for i := 0; i < c.NumInputs; i++ {
		inputSum = api.Add(inputSum, c.Values[i])
	}
	for i := c.NumInputs; i < c.NumInputs+c.NumOutputs; i++ {
		outputSum = api.Add(outputSum, c.Values[i])
	}
	api.AssertIsEqual(inputSum, api.Add(outputSum, c.Fee))
	return nil
}

// compile builds the R1CS and Groth16 keys for a circuit shaped for
// numInputs/numOutputs.
func compile(numInputs, numOutputs int) (frontend.CompiledConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
	circuit := &TransactionCircuit{
		NumInputs:  numInputs,
		NumOutputs: numOutputs,
		Values:     make([]frontend.Variable, numInputs+numOutputs),
	}

	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, nil, nil, err
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, nil, nil, err
	}
	return cs, pk, vk, nil
}
