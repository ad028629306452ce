// Package model holds the trace annotator's core data model: StepVMState,
// the per-step normalized VM view; StepState, the fully annotated trace
// entry; and the small shared value types (storage snapshots, emitted
// events) referenced by several components.
package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/Gealber/contract-dbg/artifact"
	"github.com/Gealber/contract-dbg/frame"
)

// StorageSnapshot is a persistent, shareable view of one account's storage
// at a point in the trace. Steps alias the same *StorageSnapshot whenever
// invariant 4 permits it (the prior opcode didn't SSTORE); re-dumping
// storage allocates a fresh snapshot instead of mutating a shared one, so
// older steps never observe a later write.
type StorageSnapshot struct {
	values map[common.Hash]common.Hash
}

// NewStorageSnapshot wraps a freshly dumped storage map. The caller gives
// up ownership of values.
func NewStorageSnapshot(values map[common.Hash]common.Hash) *StorageSnapshot {
	return &StorageSnapshot{values: values}
}

func (s *StorageSnapshot) Get(key common.Hash) (common.Hash, bool) {
	if s == nil {
		return common.Hash{}, false
	}
	v, ok := s.values[key]
	return v, ok
}

func (s *StorageSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// EventDesc is the payload and topic list captured by a LOG-N instruction.
type EventDesc struct {
	Payload []byte
	Topics  []*big.Int
}

// StepVMState is one instruction's canonical, VM-agnostic view: the
// operand stack, linear memory, persistent storage, and the bookkeeping
// values (gas, pc, depth) every other component reads. Memory and Storage
// may be shared (same pointer) with the previous step per invariant 4.
type StepVMState struct {
	Stack   []uint256.Int
	Memory  []byte
	Storage *StorageSnapshot

	Op                vm.OpCode
	PC                uint64
	StaticGas         uint64
	DynamicGas        uint64
	GasRemaining      uint64
	Depth             int // normalized: outermost frame reports depth 1
	ExecutingAddress  common.Address
	CodeSourceAddress common.Address
}

// StepState extends StepVMState with everything the trace driver (C8)
// attaches after composing C2-C7 for this step.
type StepState struct {
	StepVMState

	Code         []byte
	CodeHash     *[32]byte // nil when unresolved (e.g. unknown metadata trailer)
	FrameStack   []frame.Frame // immutable clone, cheap to retain indefinitely
	SourceTriple *artifact.SourceTriple
	ASTNode      artifact.ASTNode
	Event        *EventDesc
	ContractInfo *artifact.ContractInfo // of the current external frame
}

// CloneFrameStack makes an independent copy of a frame stack for a step
// snapshot. Frames themselves are immutable once built, so this is a
// shallow copy of the slice header's backing elements — cheap, and bounded
// by call depth.
func CloneFrameStack(stack []frame.Frame) []frame.Frame {
	out := make([]frame.Frame, len(stack))
	copy(out, stack)
	return out
}

// ExternalDepth counts the External/Creation frames in a stack, which must
// equal the step's normalized VM depth.
func ExternalDepth(stack []frame.Frame) int {
	n := 0
	for _, f := range stack {
		if f.IsExternal() {
			n++
		}
	}
	return n
}

// BaseFrame returns the bottom of the stack, or nil for an empty stack
// (which should never happen once a transaction has started).
func BaseFrame(stack []frame.Frame) frame.Frame {
	if len(stack) == 0 {
		return nil
	}
	return stack[0]
}

// Top returns the top of the stack, the frame the current instruction
// executed in, or nil for an empty stack.
func Top(stack []frame.Frame) frame.Frame {
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}
