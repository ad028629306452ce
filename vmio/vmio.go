// Package vmio declares the interfaces and data carriers this core
// consumes from the (out of scope) VM, and adapts go-ethereum's
// core/tracing.Hooks callback shape — driven via evm.Config.Tracer — into
// the single per-step callback this module's trace driver composes C3-C7
// over.
package vmio

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// StateManager is the external collaborator queried for contract code and
// storage: the debugger's handle onto chain state.
type StateManager interface {
	GetContractCode(address common.Address) ([]byte, error)
	DumpStorage(address common.Address) (map[common.Hash]common.Hash, error)
}

// RawStep is one per-instruction callback as delivered by the VM, prior to
// normalization by stepstate.Normalize.
type RawStep struct {
	PC                uint64
	Op                vm.OpCode
	Gas               uint64
	Cost              uint64
	Depth             int // VM-reported call depth; outermost frame reports 1
	ExecutingAddress  common.Address
	CodeSourceAddress common.Address
	Stack             []uint256.Int // top-of-stack last, mirrors scope.StackData()
	Memory            []byte
	Err               error
}

// StepHandler is called once per instruction, synchronously: the VM is
// blocked until it returns.
type StepHandler func(RawStep)

// TxStartHandler/TxEndHandler bookend a transaction.
type TxStartHandler func(tx *types.Transaction, from common.Address)
type TxEndHandler func(err error)

// Subscription is what a Driver hands the VM: a *tracing.Hooks wired to
// call back into this module. Building it here (rather than in the driver)
// keeps the go-ethereum tracing-hook dialect isolated to one file.
type Subscription struct {
	OnStep    StepHandler
	OnTxStart TxStartHandler
	OnTxEnd   TxEndHandler
}

// Hooks adapts a Subscription into go-ethereum's *tracing.Hooks, the shape
// an EVM driven with vm.Config.Tracer set invokes directly.
func (s Subscription) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnTxStart: func(vmCtx *tracing.VMContext, tx *types.Transaction, from common.Address) {
			if s.OnTxStart != nil {
				s.OnTxStart(tx, from)
			}
		},
		OnTxEnd: func(receipt *types.Receipt, err error) {
			if s.OnTxEnd != nil {
				s.OnTxEnd(err)
			}
		},
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
			if s.OnStep == nil {
				return
			}
			s.OnStep(RawStep{
				PC:                pc,
				Op:                vm.OpCode(op),
				Gas:               gas,
				Cost:              cost,
				Depth:             depth,
				ExecutingAddress:  scope.Address(),
				CodeSourceAddress: scope.Address(),
				Stack:             scope.StackData(),
				Memory:            scope.MemoryData(),
				Err:               err,
			})
		},
		OnFault: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, depth int, err error) {
			if s.OnStep == nil {
				return
			}
			s.OnStep(RawStep{
				PC:                pc,
				Op:                vm.OpCode(op),
				Gas:               gas,
				Cost:              cost,
				Depth:             depth,
				ExecutingAddress:  scope.Address(),
				CodeSourceAddress: scope.Address(),
				Stack:             scope.StackData(),
				Memory:            scope.MemoryData(),
				Err:               err,
			})
		},
	}
}

// Transaction is the minimal view of a signed transaction the trace driver
// needs: recipient (nil for a contract creation), msg data, value, gas.
type Transaction struct {
	From     common.Address
	To       *common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	Nonce    uint64
}

// RunTxResult mirrors the VM's own transaction result object: the part of
// the driver's return value that isn't the trace.
type RunTxResult struct {
	ReturnData []byte
	GasUsed    uint64
	Reverted   bool
	Err        error
}
