// Package reconciler implements the stack reconciler (C6), the state
// machine that keeps the logical (external + internal) call-frame stack in
// sync with the raw depth transitions and jump annotations the VM reports.
// This is the heart of the trace annotator.
package reconciler

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/Gealber/contract-dbg/abi"
	"github.com/Gealber/contract-dbg/artifact"
	"github.com/Gealber/contract-dbg/codeident"
	"github.com/Gealber/contract-dbg/frame"
	"github.com/Gealber/contract-dbg/model"
	"github.com/Gealber/contract-dbg/opcodes"
	"github.com/Gealber/contract-dbg/srcmap"
)

// ErrInvariantViolation is the one error kind the reconciler treats as
// fatal: a bug in the reconciler or an incompatible VM, never recovered
// locally.
type ErrInvariantViolation struct {
	Reason string
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

func violation(format string, args ...any) error {
	return &ErrInvariantViolation{Reason: fmt.Sprintf(format, args...)}
}

// Reconciler applies Rule A / Rule B per step.
type Reconciler struct {
	manager  artifact.Manager
	decoder  abi.Decoder
	resolver *srcmap.Resolver
}

func New(manager artifact.Manager, decoder abi.Decoder, resolver *srcmap.Resolver) *Reconciler {
	return &Reconciler{manager: manager, decoder: decoder, resolver: resolver}
}

// Reconcile returns the frame stack for the current step. prev is the
// previous step's fully-annotated StepState, or nil for the trace's first
// step (in which case the stack is returned unchanged — the driver is
// responsible for seeding the initial external frame before the first
// call). stepIdx is the index this step will occupy in the trace.
func (r *Reconciler) Reconcile(
	stack []frame.Frame,
	cur *model.StepVMState,
	prev *model.StepState,
	resolvedCode *codeident.Resolved,
	stepIdx int,
) ([]frame.Frame, error) {
	if prev == nil {
		return stack, nil
	}

	if cur.Depth != prev.Depth {
		return r.ruleA(stack, cur, &prev.StepVMState, resolvedCode, stepIdx)
	}
	return r.ruleB(stack, cur, prev, stepIdx)
}

// ruleA implements "external depth changed".
func (r *Reconciler) ruleA(
	stack []frame.Frame,
	cur *model.StepVMState,
	prev *model.StepVMState,
	resolvedCode *codeident.Resolved,
	stepIdx int,
) ([]frame.Frame, error) {
	if cur.Depth > prev.Depth {
		if cur.Depth != prev.Depth+1 {
			return nil, violation("depth increased by %d in one step (from %d to %d), expected exactly 1", cur.Depth-prev.Depth, prev.Depth, cur.Depth)
		}
		if !opcodes.IncreasesDepth(prev.Op) {
			return nil, violation("depth increased but prior opcode %s does not increase depth", prev.Op)
		}

		if opcodes.CreatesContract(prev.Op) {
			initCode, err := frame.SliceInitCode(prev.Stack, prev.Memory)
			if err != nil {
				return nil, fmt.Errorf("rule A creation branch: %w", err)
			}
			f, err := frame.MakeCreationFrame(r.manager, prev.ExecutingAddress, initCode, stepIdx)
			if err != nil {
				return nil, err
			}
			return append(append([]frame.Frame{}, stack...), f), nil
		}

		valueCarrying := opcodes.IsValueCarryingCall(prev.Op)
		args := frame.CallArgsFor(valueCarrying)
		receiver, msgData, err := frame.SliceCallData(prev.Stack, prev.Memory, args)
		if err != nil {
			return nil, fmt.Errorf("rule A call branch: %w", err)
		}

		var hash [32]byte
		var code []byte
		if resolvedCode != nil {
			code = resolvedCode.Code
			if resolvedCode.Hash != nil {
				hash = *resolvedCode.Hash
			}
		}
		f, err := frame.MakeCallFrame(r.manager, r.decoder, prev.ExecutingAddress, receiver, msgData, code, hash, stepIdx)
		if err != nil {
			return nil, err
		}
		return append(append([]frame.Frame{}, stack...), f), nil
	}

	// cur.Depth < prev.Depth: unwind. Pop from the top until the number of
	// External/Creation frames removed equals the depth drop; internal
	// frames riding on top are popped too but don't count against the
	// quota (this absorbs reverts/errors that unwind several internal
	// frames at once).
	quota := prev.Depth - cur.Depth
	out := append([]frame.Frame{}, stack...)
	popped := 0
	for popped < quota {
		if len(out) == 0 {
			return nil, violation("depth dropped by %d but frame stack emptied after popping only %d external frame(s)", quota, popped)
		}
		top := out[len(out)-1]
		out = out[:len(out)-1]
		if top.IsExternal() {
			popped++
		}
	}
	return out, nil
}

// ruleB implements "same external depth": internal call entry/return,
// detected from the current PC's source-triple jump annotation.
func (r *Reconciler) ruleB(stack []frame.Frame, cur *model.StepVMState, prev *model.StepState, stepIdx int) ([]frame.Frame, error) {
	extIdx, ext := lastExternal(stack)
	if ext == nil {
		// No external frame at all: nothing to consult a source triple
		// against. The driver is responsible for seeding one before the
		// first step, so this should not occur in practice.
		return stack, nil
	}

	info := contractInfoOf(ext)
	duringCreation := ext.Kind() == frame.KindCreation

	var hash [32]byte
	knownHash := false
	if prev.CodeHash != nil {
		hash = *prev.CodeHash
		knownHash = true
	}

	triple, node, ok := r.resolver.Resolve(info, hash, knownHash, cur.PC, duringCreation)
	if !ok {
		return stack, nil // MissingDebugInfo: no change
	}

	switch {
	case cur.Op == vm.JUMPDEST && prev.Op == vm.JUMP && prev.SourceTriple != nil && prev.SourceTriple.Jump == artifact.JumpInto:
		args, err := frame.DecodeFunArgs(node, cur.Stack)
		if err != nil {
			return nil, err // *frame.ErrStackUnderflow is an InvariantViolation
		}
		f := &frame.InternalCallFrame{
			NearestExternalIdx: extIdx,
			Callee:             node,
			EntryPC:            cur.PC,
			Start:              stepIdx,
			Arguments:          args,
		}
		return append(append([]frame.Frame{}, stack...), f), nil

	case cur.Op == vm.JUMP && triple.Jump == artifact.JumpOut:
		top := model.Top(stack)
		if _, ok := top.(*frame.InternalCallFrame); !ok {
			return nil, violation("internal return (JUMP, jump=out) at pc %d but top of frame stack is %T, not an internal-call frame", cur.PC, top)
		}
		return stack[:len(stack)-1], nil

	default:
		return stack, nil
	}
}

func lastExternal(stack []frame.Frame) (int, frame.Frame) {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].IsExternal() {
			return i, stack[i]
		}
	}
	return -1, nil
}

func contractInfoOf(f frame.Frame) *artifact.ContractInfo {
	switch v := f.(type) {
	case *frame.ExternalCallFrame:
		return v.Info
	case *frame.CreationFrame:
		return v.Info
	default:
		return nil
	}
}
