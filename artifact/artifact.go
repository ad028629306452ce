// Package artifact declares the interface this core consumes from the (out
// of scope) artifact manager: resolving a code hash or creation-bytecode
// blob to compile-time metadata produced by the source language's compiler.
// Nothing in this package talks to a compiler or a filesystem — it only
// describes the shape of what the manager hands back, the way the core
// reads it.
package artifact

import "fmt"

// JumpKind annotates a source triple with the jump the compiler emitted it
// for, when the instruction at that PC is a JUMP/JUMPDEST.
type JumpKind int

const (
	JumpNone JumpKind = iota
	JumpInto
	JumpOut
	JumpRegular
)

// SourceTriple identifies a span of source text, optionally annotated with
// a jump kind when the underlying instruction is a JUMP/JUMPDEST.
type SourceTriple struct {
	Start       int
	Length      int
	SourceIndex int
	Jump        JumpKind
}

// Key is the "start:length:sourceIndex" form used to look up the AST node
// matching a triple in ContractInfo.SrcMap.
func (t SourceTriple) Key() string {
	return fmt.Sprintf("%d:%d:%d", t.Start, t.Length, t.SourceIndex)
}

// ASTNode is a closed sum type: the only two node kinds the core ever needs
// to resolve a triple or a selector to are function definitions and public
// state-variable declarations.
type ASTNode interface {
	astNode()
}

// Parameter is one formal of a function or a synthesized getter.
type Parameter struct {
	Name              string
	Type              string
	IsDynamicCalldata bool // occupies 2 stack slots (offset, length) rather than 1
}

// FunctionDefinition is a resolvable, callable AST node: a contract
// function or its constructor.
type FunctionDefinition struct {
	Name         string
	Sel          [4]byte
	Parameters   []Parameter
	Returns      []Parameter
	IsConstructor bool
}

func (*FunctionDefinition) astNode() {}

// CalleeName implements abi.Callee.
func (f *FunctionDefinition) CalleeName() string { return f.Name }

// Selector implements abi.Callee.
func (f *FunctionDefinition) Selector() [4]byte { return f.Sel }

// StateVariableDeclaration is a public state variable; its synthesized
// getter has no explicit formals in source, so decodeFunArgs and the ABI
// decoder see synthetic ARG_i names instead.
type StateVariableDeclaration struct {
	Name           string
	GetterSel      [4]byte
	Type           string
	GetterParams   []Parameter // synthesized, named ARG_0, ARG_1, ...
	GetterReturns  []Parameter
}

func (*StateVariableDeclaration) astNode() {}

func (v *StateVariableDeclaration) CalleeName() string { return v.Name }

func (v *StateVariableDeclaration) Selector() [4]byte { return v.GetterSel }

// ASTRoot is the compiler's AST root as consumed by the core: just the
// lists needed to resolve a selector or a jump target.
type ASTRoot struct {
	Functions      []*FunctionDefinition
	StateVariables []*StateVariableDeclaration
	Constructor    *FunctionDefinition
}

// BytecodeInfo carries one bytecode blob (either deployed code or creation
// code) together with its per-instruction source triples, and resolves a PC
// to the triple for the instruction starting there.
//
// Triples[i] is the source triple for the i-th instruction in Code, where
// "instruction" means one opcode plus however many immediate bytes it
// consumes (PUSH1..PUSH32 span 1+N bytes; every other opcode spans 1 byte).
type BytecodeInfo struct {
	Code    []byte
	Triples []SourceTriple

	pcToInstr map[uint64]int
}

// GetOffsetSrc returns the source triple for the instruction starting at
// pc. It tolerates missing debug info and out-of-range PCs by returning
// ok=false rather than failing — callers treat that as MissingDebugInfo.
func (b *BytecodeInfo) GetOffsetSrc(pc uint64) (SourceTriple, bool) {
	if b == nil {
		return SourceTriple{}, false
	}
	if b.pcToInstr == nil {
		b.pcToInstr = indexInstructionBoundaries(b.Code)
	}
	idx, ok := b.pcToInstr[pc]
	if !ok || idx >= len(b.Triples) {
		return SourceTriple{}, false
	}
	return b.Triples[idx], true
}

// indexInstructionBoundaries walks code once, assigning each instruction
// boundary PC an increasing instruction index. PUSH1..PUSH32 (0x60..0x7f)
// consume 1+N immediate bytes that are never themselves instruction
// boundaries.
func indexInstructionBoundaries(code []byte) map[uint64]int {
	const (
		opPush1  = 0x60
		opPush32 = 0x7f
	)
	idx := make(map[uint64]int, len(code))
	instr := 0
	for pc := uint64(0); pc < uint64(len(code)); instr++ {
		idx[pc] = instr
		op := code[pc]
		if op >= opPush1 && op <= opPush32 {
			pc += uint64(op-opPush1+1) + 1
		} else {
			pc++
		}
	}
	return idx
}

// ContractInfo is the opaque-to-the-core metadata bundle the artifact
// manager produces for one compiled contract.
type ContractInfo struct {
	Bytecode          *BytecodeInfo // creation-time code + source map
	DeployedBytecode  *BytecodeInfo // runtime code + source map
	AST               *ASTRoot
	SrcMap            map[string]ASTNode // SourceTriple.Key() -> node
	ABIEncoderVersion int               // see abi.EncoderVersion
}

// LookupNode resolves a triple to its AST node, tolerating an unresolved
// lookup (no node at that span) by returning ok=false.
func (c *ContractInfo) LookupNode(t SourceTriple) (ASTNode, bool) {
	if c == nil || c.SrcMap == nil {
		return nil, false
	}
	n, ok := c.SrcMap[t.Key()]
	return n, ok
}

// Manager is the external collaborator that resolves compiled bytecode to
// ContractInfo. Implementations live outside this module.
type Manager interface {
	// GetContractFromMDHash resolves deployed code by its appended
	// metadata hash. Returns nil, nil when unresolved.
	GetContractFromMDHash(hash [32]byte) (*ContractInfo, error)
	// GetContractFromCreationBytecode resolves creation code, stripping
	// constructor-argument tail bytes to match. Returns nil, nil when
	// unresolved.
	GetContractFromCreationBytecode(creationCode []byte) (*ContractInfo, error)
}
