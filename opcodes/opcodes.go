// Package opcodes is the ground truth the stack reconciler and step
// normalizer consult to classify an instruction: does it change call depth,
// create a contract, write to memory, or emit a log. A single static table
// keyed by go-ethereum's vm.OpCode.
package opcodes

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/core/vm"
)

// valueCarryingCallOps are the CALL-family opcodes that carry an explicit
// value argument on the stack (and so use the 3,4 argument-offset
// convention rather than 2,3). A set rather than a slice/switch since
// membership, not order, is all that's ever asked of it.
var valueCarryingCallOps = mapset.NewThreadUnsafeSet(vm.CALL, vm.CALLCODE)

// IsValueCarryingCall reports whether op is CALL or CALLCODE, the two
// depth-increasing opcodes whose argument layout includes a value slot.
func IsValueCarryingCall(op vm.OpCode) bool { return valueCarryingCallOps.Contains(op) }

// Properties describes everything the reconciler/normalizer need to know
// about one opcode.
type Properties struct {
	Op              vm.OpCode
	Mnemonic        string
	IncreasesDepth  bool // CALL, CALLCODE, DELEGATECALL, STATICCALL, CREATE, CREATE2
	CreatesContract bool // CREATE, CREATE2
	ChangesMemory   bool // writes to linear memory
	ChangesStorage  bool // SSTORE
	IsLog           bool // LOG0..LOG4
	LogTopicCount   int  // meaningful only when IsLog
}

var table = buildTable()

// Lookup returns the classification for op. Unknown opcodes get a
// zero-value Properties record (no special behavior), matching the
// teacher's tolerant-by-default style.
func Lookup(op vm.OpCode) Properties {
	if p, ok := table[op]; ok {
		return p
	}
	return Properties{Op: op, Mnemonic: op.String()}
}

func IncreasesDepth(op vm.OpCode) bool  { return Lookup(op).IncreasesDepth }
func CreatesContract(op vm.OpCode) bool { return Lookup(op).CreatesContract }
func ChangesMemory(op vm.OpCode) bool   { return Lookup(op).ChangesMemory }
func ChangesStorage(op vm.OpCode) bool  { return op == vm.SSTORE }
func IsJump(op vm.OpCode) bool          { return op == vm.JUMP }
func IsJumpdest(op vm.OpCode) bool      { return op == vm.JUMPDEST }

// LogN returns the number of topics for a LOG-N opcode and ok=true when op
// is in fact a LOG instruction: N = mnemonic[3] - '0'.
func LogN(op vm.OpCode) (n int, ok bool) {
	p := Lookup(op)
	if !p.IsLog {
		return 0, false
	}
	return p.LogTopicCount, true
}

func buildTable() map[vm.OpCode]Properties {
	t := make(map[vm.OpCode]Properties)

	add := func(op vm.OpCode, mutate func(*Properties)) {
		p, ok := t[op]
		if !ok {
			p = Properties{Op: op, Mnemonic: op.String()}
		}
		if mutate != nil {
			mutate(&p)
		}
		t[op] = p
	}

	depthIncreasing := []vm.OpCode{vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL, vm.CREATE, vm.CREATE2}
	for _, op := range depthIncreasing {
		op := op
		add(op, func(p *Properties) { p.IncreasesDepth = true })
	}
	add(vm.CREATE, func(p *Properties) { p.CreatesContract = true })
	add(vm.CREATE2, func(p *Properties) { p.CreatesContract = true })

	memoryWriters := []vm.OpCode{vm.MSTORE, vm.MSTORE8, vm.CALLDATACOPY, vm.CODECOPY,
		vm.EXTCODECOPY, vm.RETURNDATACOPY, vm.MCOPY}
	for _, op := range memoryWriters {
		op := op
		add(op, func(p *Properties) { p.ChangesMemory = true })
	}
	// CALL-family ops write their return data into the caller's memory at
	// [retOffset, retOffset+retSize), but that's only known after the sub
	// call returns, which the tracer observes as a separate step; from the
	// reconciler's point of view those opcodes don't change memory at the
	// step they execute on.

	add(vm.SSTORE, func(p *Properties) { p.ChangesStorage = true })

	for n, op := range []vm.OpCode{vm.LOG0, vm.LOG1, vm.LOG2, vm.LOG3, vm.LOG4} {
		n, op := n, op
		add(op, func(p *Properties) {
			p.IsLog = true
			p.LogTopicCount = n
		})
	}

	add(vm.JUMP, nil)
	add(vm.JUMPDEST, nil)

	return t
}

// IsLogMnemonic is a fallback classifier operating purely on the mnemonic
// string, for opcodes the static table hasn't been populated for (e.g. a
// future LOG-like instruction from an EIP this table predates).
func IsLogMnemonic(mnemonic string) (n int, ok bool) {
	if !strings.HasPrefix(mnemonic, "LOG") || len(mnemonic) != 4 {
		return 0, false
	}
	d := mnemonic[3]
	if d < '0' || d > '4' {
		return 0, false
	}
	return int(d - '0'), true
}
