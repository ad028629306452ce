// Package frame implements the trace annotator's call-stack element (C5):
// the Frame sum type, its two external-call constructors, and the
// decodeFunArgs helper the reconciler uses to build internal-call frames.
//
// Grounded on medusa's CallFrame (fuzzing/executiontracer/execution_tracer.go,
// see _examples/other_examples/41281e1a_...), which tracks entered/exited
// call scopes the same way, and on go-ethereum's ScopeContext accessors for
// how stack/memory/calldata slices are read.
package frame

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Gealber/contract-dbg/abi"
	"github.com/Gealber/contract-dbg/artifact"
)

// Kind discriminates the three Frame variants.
type Kind int

const (
	KindExternalCall Kind = iota
	KindCreation
	KindInternalCall
)

func (k Kind) String() string {
	switch k {
	case KindExternalCall:
		return "external-call"
	case KindCreation:
		return "creation"
	case KindInternalCall:
		return "internal-call"
	default:
		return "unknown"
	}
}

// Frame is a closed sum type over ExternalCall, Creation and InternalCall.
// Implemented as a sealed interface (rather than a class hierarchy): tagged
// variants modeled as a sum type.
type Frame interface {
	Kind() Kind
	StartStep() int
	IsExternal() bool
	frame()
}

// ExternalCallFrame is a CALL/CALLCODE/DELEGATECALL/STATICCALL frame.
type ExternalCallFrame struct {
	Sender, Receiver common.Address
	MsgData          []byte
	Code             []byte
	Info             *artifact.ContractInfo // nil when unresolved
	Callee           abi.Callee             // nil when unresolved
	Arguments        []abi.ArgumentView
	Start            int
}

func (*ExternalCallFrame) frame()           {}
func (*ExternalCallFrame) Kind() Kind       { return KindExternalCall }
func (f *ExternalCallFrame) StartStep() int { return f.Start }
func (*ExternalCallFrame) IsExternal() bool { return true }

// CreationFrame is a CREATE/CREATE2 frame. Receiver is always the zero
// address (the trace annotator never learns the deployed address from a
// depth transition alone).
type CreationFrame struct {
	Sender       common.Address
	Receiver     common.Address // always the zero address
	InitCode     []byte
	Info         *artifact.ContractInfo // nil when unresolved
	Callee       *artifact.FunctionDefinition // the constructor, if any
	Arguments    []abi.ArgumentView           // left empty: see MakeCreationFrame
	Start        int
}

func (*CreationFrame) frame()           {}
func (*CreationFrame) Kind() Kind       { return KindCreation }
func (f *CreationFrame) StartStep() int { return f.Start }
func (*CreationFrame) IsExternal() bool { return true }

// InternalCallFrame is a same-contract function invocation inferred from a
// JUMP annotated jump=into immediately followed by a JUMPDEST. It carries a
// non-owning back-reference to the nearest enclosing external frame — an
// index into the same stack snapshot, never a pointer cycle.
type InternalCallFrame struct {
	NearestExternalIdx int
	Callee             artifact.ASTNode // *FunctionDefinition or *StateVariableDeclaration
	EntryPC            uint64
	Start              int
	Arguments          []abi.ArgumentView
}

func (*InternalCallFrame) frame()           {}
func (*InternalCallFrame) Kind() Kind       { return KindInternalCall }
func (f *InternalCallFrame) StartStep() int { return f.Start }
func (*InternalCallFrame) IsExternal() bool { return false }

// Selector returns the first 4 bytes of msgData. When msgData is shorter
// than 4 bytes (e.g. a bare-value transfer), the bytes present are kept and
// the rest are zero.
func Selector(msgData []byte) [4]byte {
	var sel [4]byte
	copy(sel[:], msgData)
	return sel
}

// findFunction returns the contract's unique function whose selector
// matches, or nil if none does.
func findFunction(info *artifact.ContractInfo, sel [4]byte) *artifact.FunctionDefinition {
	if info == nil || info.AST == nil {
		return nil
	}
	for _, fn := range info.AST.Functions {
		if fn.Sel == sel {
			return fn
		}
	}
	return nil
}

// findStateVariableGetter returns the contract's unique public state
// variable whose synthesized getter selector matches, or nil.
func findStateVariableGetter(info *artifact.ContractInfo, sel [4]byte) *artifact.StateVariableDeclaration {
	if info == nil || info.AST == nil {
		return nil
	}
	for _, v := range info.AST.StateVariables {
		if v.GetterSel == sel {
			return v
		}
	}
	return nil
}

// MakeCallFrame resolves ContractInfo by codeHash, resolves the callee by
// selector among functions then public state variables, and decodes its
// arguments if a callee was resolved.
func MakeCallFrame(
	manager artifact.Manager,
	decoder abi.Decoder,
	sender, receiver common.Address,
	msgData, code []byte,
	codeHash [32]byte,
	stepIdx int,
) (*ExternalCallFrame, error) {
	f := &ExternalCallFrame{
		Sender:   sender,
		Receiver: receiver,
		MsgData:  msgData,
		Code:     code,
		Start:    stepIdx,
	}

	info, err := manager.GetContractFromMDHash(codeHash)
	if err != nil {
		return nil, fmt.Errorf("resolving contract info for call frame: %w", err)
	}
	f.Info = info // nil is a valid "unresolved" outcome (MissingDebugInfo)
	if info == nil {
		return f, nil
	}

	sel := Selector(msgData)
	var callee abi.Callee
	if fn := findFunction(info, sel); fn != nil {
		f.Callee = fn
		callee = fn
	} else if v := findStateVariableGetter(info, sel); v != nil {
		f.Callee = v
		callee = v
	}
	if callee == nil {
		return f, nil // undefined callee tolerated
	}
	if decoder == nil {
		return f, nil // no decoder: callee resolved, arguments left undecoded
	}

	args, err := decoder.DecodeMsgData(callee, msgData, abi.LocationCalldata, abi.EncoderVersion(info.ABIEncoderVersion))
	if err != nil {
		// DecodeFailure: arguments remain undefined, frame still valid.
		return f, nil
	}
	f.Arguments = args
	return f, nil
}

// MakeCreationFrame resolves a CreationFrame's contract info and
// constructor. Constructor argument decoding is left as future work;
// Arguments is always left empty here.
func MakeCreationFrame(manager artifact.Manager, sender common.Address, initCode []byte, stepIdx int) (*CreationFrame, error) {
	f := &CreationFrame{Sender: sender, InitCode: initCode, Start: stepIdx}

	info, err := manager.GetContractFromCreationBytecode(initCode)
	if err != nil {
		return nil, fmt.Errorf("resolving contract info for creation frame: %w", err)
	}
	f.Info = info
	if info == nil || info.AST == nil {
		return f, nil
	}
	f.Callee = info.AST.Constructor
	return f, nil
}

// ErrStackUnderflow is an InvariantViolation: decodeFunArgs ran off the
// bottom of the operand stack while accumulating formal-parameter slots.
type ErrStackUnderflow struct {
	StackLen int
	Needed   int
}

func (e *ErrStackUnderflow) Error() string {
	return fmt.Sprintf("stack underflow decoding function arguments: have %d words, need %d", e.StackLen, e.Needed)
}

// formalsOf returns (formals, ok) for any resolvable callee: a function's
// declared parameters, or a state-variable getter's synthesized ARG_i
// formals. ok is false when callee is neither.
func formalsOf(callee artifact.ASTNode) ([]artifact.Parameter, bool) {
	switch c := callee.(type) {
	case *artifact.FunctionDefinition:
		return c.Parameters, true
	case *artifact.StateVariableDeclaration:
		return c.GetterParams, true
	default:
		return nil, false
	}
}

// DecodeFunArgs walks formals from last to first, accumulating stack
// depth, and reports each as a Stack-located
// DataView. Returns (nil, nil) — undefined, tolerated — when the callee's
// type can't be resolved to formals at all (MissingDebugInfo), and a hard
// *ErrStackUnderflow when the live operand stack is shallower than the
// accumulated offset (InvariantViolation).
func DecodeFunArgs(callee artifact.ASTNode, operandStack []uint256.Int) ([]abi.ArgumentView, error) {
	formals, ok := formalsOf(callee)
	if !ok {
		return nil, nil
	}

	views := make([]abi.ArgumentView, len(formals))
	offsetFromTop := -1
	for i := len(formals) - 1; i >= 0; i-- {
		slots := 1
		if formals[i].IsDynamicCalldata {
			slots = 2
		}
		offsetFromTop += slots
		if offsetFromTop >= len(operandStack) {
			return nil, &ErrStackUnderflow{StackLen: len(operandStack), Needed: offsetFromTop + 1}
		}
		views[i] = abi.ArgumentView{
			Name: formals[i].Name,
			View: &abi.DataView{
				Type:     formals[i].Type,
				Location: abi.Stack(offsetFromTop),
			},
		}
	}
	return views, nil
}

// SliceInitCode reads the CREATE/CREATE2 offset/size operands (prev
// evmStack[top-1], [top-2]) and slices them out of the caller's memory.
// This is the shared helper behind Rule A's contract-creation branch.
func SliceInitCode(stack []uint256.Int, memory []byte) ([]byte, error) {
	if len(stack) < 3 {
		return nil, errors.New("insufficient stack for CREATE operands")
	}
	top := len(stack) - 1
	offset := stack[top-1].Uint64()
	size := stack[top-2].Uint64()
	return sliceMemory(memory, offset, size)
}

func sliceMemory(memory []byte, offset, size uint64) ([]byte, error) {
	end := offset + size
	if end < offset || end > uint64(len(memory)) {
		return nil, fmt.Errorf("memory slice [%d:%d) out of bounds (len %d)", offset, end, len(memory))
	}
	return bytes.Clone(memory[offset:end]), nil
}

// CallArgs are the per-opcode stack-offset conventions for ordinary (non
// creation) CALL-family opcodes.
type CallArgs struct {
	ArgOffsetIdx int // index from top for argOffset
	ArgSizeIdx   int // index from top for argSize
}

// CallArgsFor returns the argument-location convention for a CALL-family
// opcode, given whether it carries a value slot. value-carrying
// CALL/CALLCODE use stack slots 3,4; DELEGATECALL/STATICCALL (no value
// slot) use 2,3.
func CallArgsFor(valueCarrying bool) CallArgs {
	if valueCarrying {
		return CallArgs{ArgOffsetIdx: 3, ArgSizeIdx: 4}
	}
	return CallArgs{ArgOffsetIdx: 2, ArgSizeIdx: 3}
}

// SliceCallData reads (argOffset, argSize) from the given stack positions
// (counted from the top, 0-indexed) and the receiver address from
// stack[top-1], and slices the call's msg-data out of memory.
func SliceCallData(stack []uint256.Int, memory []byte, args CallArgs) (receiver common.Address, msgData []byte, err error) {
	top := len(stack) - 1
	need := args.ArgSizeIdx
	if top < need {
		return common.Address{}, nil, fmt.Errorf("insufficient stack for call operands: have %d, need %d", len(stack), need+1)
	}
	receiver = common.Address(stack[top-1].Bytes20())
	offset := stack[top-args.ArgOffsetIdx].Uint64()
	size := stack[top-args.ArgSizeIdx].Uint64()
	msgData, err = sliceMemory(memory, offset, size)
	return receiver, msgData, err
}
