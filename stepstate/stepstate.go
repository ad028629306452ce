// Package stepstate implements the VM-step normalizer (C3): turning one
// raw per-instruction callback into a canonical model.StepVMState, sharing
// memory/storage buffers with the previous step whenever the prior
// opcode's classification permits it.
package stepstate

import (
	"bytes"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/Gealber/contract-dbg/model"
	"github.com/Gealber/contract-dbg/opcodes"
	"github.com/Gealber/contract-dbg/vmio"
)

// Normalizer turns vmio.RawStep callbacks into model.StepVMState, querying
// the state manager for storage dumps only when required.
type Normalizer struct {
	sm vmio.StateManager
}

func New(sm vmio.StateManager) *Normalizer {
	return &Normalizer{sm: sm}
}

// Normalize turns one raw step into a canonical StepVMState. prev is the
// previous step's StepVMState, or nil for the first step of a transaction.
func (n *Normalizer) Normalize(raw vmio.RawStep, prev *model.StepVMState) (*model.StepVMState, error) {
	step := &model.StepVMState{
		Stack: cloneStack(raw.Stack),
		Op:    raw.Op,
		PC:    raw.PC,
		// go-ethereum's tracing.Hooks.OnOpcode collapses the static and
		// dynamic gas components into a single `cost`; it doesn't
		// re-expose the split the interpreter computed internally
		// (teacher's vm/interpreter.go tracks them separately as
		// `operation.constantGas` and `dynamicCost` but only reports
		// the sum to OnOpcode). We report the whole thing as static
		// and leave dynamic at zero rather than guess at a split we
		// can't observe.
		StaticGas:         raw.Cost,
		DynamicGas:        0,
		GasRemaining:      raw.Gas,
		Depth:             raw.Depth,
		ExecutingAddress:  raw.ExecutingAddress,
		CodeSourceAddress: raw.CodeSourceAddress,
	}

	if prev == nil || opcodes.ChangesMemory(prev.Op) {
		step.Memory = bytes.Clone(raw.Memory)
	} else {
		step.Memory = prev.Memory
	}

	if prev == nil || opcodes.ChangesStorage(prev.Op) {
		dumped, err := n.sm.DumpStorage(raw.ExecutingAddress)
		if err != nil {
			return nil, fmt.Errorf("dumping storage for %s: %w", raw.ExecutingAddress, err)
		}
		step.Storage = model.NewStorageSnapshot(dumped)
	} else {
		step.Storage = prev.Storage
	}

	return step, nil
}

func cloneStack(stack []uint256.Int) []uint256.Int {
	out := make([]uint256.Int, len(stack))
	copy(out, stack)
	return out
}
