// Package dbgtrace is the trace driver (C8) and public surface of the
// debugger: it subscribes to VM step callbacks, composes C3-C7 per step,
// and returns the annotated trace together with the transaction result.
//
// Same Config+SetDefaults shape and "adopt a state.StateDB, call vmenv.Call"
// driving style as a runtime-level single-transaction executor. The VM
// itself is an out-of-scope external collaborator, consumed only via its
// callback surface, so this package drives go-ethereum's real core/vm.EVM
// directly.
package dbgtrace

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/Gealber/contract-dbg/abi"
	"github.com/Gealber/contract-dbg/artifact"
	"github.com/Gealber/contract-dbg/codeident"
	"github.com/Gealber/contract-dbg/events"
	"github.com/Gealber/contract-dbg/frame"
	"github.com/Gealber/contract-dbg/model"
	"github.com/Gealber/contract-dbg/reconciler"
	"github.com/Gealber/contract-dbg/srcmap"
	"github.com/Gealber/contract-dbg/stepstate"
	"github.com/Gealber/contract-dbg/vmio"
)

// Config is the handful of block/tx context fields the EVM needs, with
// SetDefaults filling in a permissive single-node chain config so a lone
// transaction can be replayed without a full chain behind it.
type Config struct {
	ChainConfig *params.ChainConfig
	BlockNumber *big.Int
	Time        uint64
	Coinbase    common.Address
	Difficulty  *big.Int
	BaseFee     *big.Int
	Random      *common.Hash
	GetHashFn   func(n uint64) common.Hash
}

// SetDefaults fills in cfg's zero fields with a permissive, always-active
// chain configuration, trimmed to what DebugTx actually consults.
func SetDefaults(cfg *Config) {
	if cfg.ChainConfig == nil {
		shanghai := uint64(0)
		cancun := uint64(0)
		cfg.ChainConfig = &params.ChainConfig{
			ChainID:                       big.NewInt(1),
			HomesteadBlock:                new(big.Int),
			EIP150Block:                   new(big.Int),
			EIP155Block:                   new(big.Int),
			EIP158Block:                   new(big.Int),
			ByzantiumBlock:                new(big.Int),
			ConstantinopleBlock:           new(big.Int),
			PetersburgBlock:               new(big.Int),
			IstanbulBlock:                 new(big.Int),
			MuirGlacierBlock:              new(big.Int),
			BerlinBlock:                   new(big.Int),
			LondonBlock:                   new(big.Int),
			TerminalTotalDifficulty:       big.NewInt(0),
			TerminalTotalDifficultyPassed: true,
			ShanghaiTime:                  &shanghai,
			CancunTime:                    &cancun,
		}
	}
	if cfg.Difficulty == nil {
		cfg.Difficulty = new(big.Int)
	}
	if cfg.BlockNumber == nil {
		cfg.BlockNumber = new(big.Int)
	}
	if cfg.BaseFee == nil {
		cfg.BaseFee = big.NewInt(params.InitialBaseFee)
	}
	if cfg.Random == nil {
		cfg.Random = &common.Hash{}
	}
	if cfg.GetHashFn == nil {
		cfg.GetHashFn = func(n uint64) common.Hash { return common.Hash{} }
	}
}

// Debugger is the public construction: one artifact-manager handle, reused
// across any number of DebugTx calls.
type Debugger struct {
	manager  artifact.Manager
	decoder  abi.Decoder
	resolver *srcmap.Resolver
}

// New builds a Debugger against an artifact-manager handle. decoder may be
// nil if argument decoding is not needed; callees then remain resolved but
// undecoded (tolerated as a decode failure).
func New(manager artifact.Manager, decoder abi.Decoder) *Debugger {
	return &Debugger{manager: manager, decoder: decoder, resolver: srcmap.New()}
}

// DecodeSourceLoc implements the public surface's decodeSourceLoc helper:
// resolve a PC against whichever ContractInfo the given external/creation
// frame carries.
func (d *Debugger) DecodeSourceLoc(pc uint64, ext frame.Frame) (*artifact.SourceTriple, artifact.ASTNode) {
	var info *artifact.ContractInfo
	duringCreation := false
	switch f := ext.(type) {
	case *frame.ExternalCallFrame:
		info = f.Info
	case *frame.CreationFrame:
		info = f.Info
		duringCreation = true
	default:
		return nil, nil
	}
	triple, node, ok := d.resolver.Resolve(info, [32]byte{}, false, pc, duringCreation)
	if !ok {
		return nil, nil
	}
	return &triple, node
}

// DebugTx builds the initial frame (Creation if tx.To is nil, otherwise
// Call, resolving code by the recipient), wires a Subscription that
// composes C3-C7 per step, executes the transaction with nonce/balance/
// signature checks suppressed, and returns (trace, result).
func (d *Debugger) DebugTx(tx vmio.Transaction, cfg *Config, stateDB *state.StateDB, sm vmio.StateManager) ([]*model.StepState, *vmio.RunTxResult, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	SetDefaults(cfg)
	if stateDB == nil {
		return nil, nil, errors.New("dbgtrace: state db is required")
	}

	normalizer := stepstate.New(sm)
	identifier := codeident.New(sm)
	recon := reconciler.New(d.manager, d.decoder, d.resolver)

	var (
		trace      []*model.StepState
		prevState  *model.StepState
		frameStack []frame.Frame
		stepErr    error
	)

	creating := tx.To == nil
	initial, err := d.seedInitialFrame(tx, creating, sm)
	if err != nil {
		return nil, nil, fmt.Errorf("dbgtrace: seeding initial frame: %w", err)
	}
	frameStack = []frame.Frame{initial}

	sub := vmio.Subscription{
		OnStep: func(raw vmio.RawStep) {
			if stepErr != nil {
				return
			}
			step, err := d.processStep(raw, prevState, frameStack, normalizer, identifier, recon, len(trace))
			if err != nil {
				stepErr = err
				return
			}
			frameStack = step.FrameStack
			prevState = step
			trace = append(trace, step)
		},
	}

	result, err := d.run(tx, cfg, stateDB, sub.Hooks())
	if err != nil {
		return trace, nil, err
	}
	if stepErr != nil {
		return trace, result, stepErr
	}
	return trace, result, nil
}

// seedInitialFrame builds the frame the trace starts in, before any step
// callback fires: a Creation frame when the transaction has no recipient,
// otherwise a Call frame resolved against the recipient's deployed code.
func (d *Debugger) seedInitialFrame(tx vmio.Transaction, creating bool, sm vmio.StateManager) (frame.Frame, error) {
	if creating {
		return frame.MakeCreationFrame(d.manager, tx.From, tx.Data, 0)
	}
	code, err := sm.GetContractCode(*tx.To)
	if err != nil {
		return nil, fmt.Errorf("fetching code for %s: %w", tx.To, err)
	}
	var codeHash [32]byte
	if hash, known := codeident.DeployedCodeMetadataHash(code); known {
		codeHash = hash
	}
	return frame.MakeCallFrame(d.manager, d.decoder, tx.From, *tx.To, tx.Data, code, codeHash, 0)
}

// processStep runs C3 (normalize) -> C4 (identify code) -> C6 (reconcile
// frames) -> C2 (resolve source/AST against the nearest external or
// creation frame of the new stack) -> C7 (extract
// any event), and assembles the committed StepState snapshot.
func (d *Debugger) processStep(
	raw vmio.RawStep,
	prev *model.StepState,
	frameStack []frame.Frame,
	normalizer *stepstate.Normalizer,
	identifier *codeident.Resolver,
	recon *reconciler.Reconciler,
	stepIdx int,
) (*model.StepState, error) {
	var prevVM *model.StepVMState
	var prevResolved *codeident.Resolved
	if prev != nil {
		prevVM = &prev.StepVMState
		prevResolved = &codeident.Resolved{Code: prev.Code, Hash: prev.CodeHash}
	}

	vmState, err := normalizer.Normalize(raw, prevVM)
	if err != nil {
		return nil, fmt.Errorf("normalizing step %d: %w", stepIdx, err)
	}

	resolved, err := identifier.Resolve(vmState, prevVM, prevResolved)
	if err != nil {
		return nil, fmt.Errorf("identifying code at step %d: %w", stepIdx, err)
	}

	newStack, err := recon.Reconcile(frameStack, vmState, prev, resolved, stepIdx)
	if err != nil {
		return nil, fmt.Errorf("reconciling frame stack at step %d: %w", stepIdx, err)
	}

	step := &model.StepState{
		StepVMState: *vmState,
		FrameStack:  model.CloneFrameStack(newStack),
	}
	if resolved != nil {
		step.Code = resolved.Code
		step.CodeHash = resolved.Hash
	}

	var ext frame.Frame
	for i := len(newStack) - 1; i >= 0; i-- {
		if newStack[i].IsExternal() {
			ext = newStack[i]
			break
		}
	}
	if ext != nil {
		step.ContractInfo = contractInfoOf(ext)
		duringCreation := ext.Kind() == frame.KindCreation
		var hash [32]byte
		known := false
		if resolved != nil && resolved.Hash != nil {
			hash = *resolved.Hash
			known = true
		}
		triple, node, ok := d.resolver.Resolve(step.ContractInfo, hash, known, vmState.PC, duringCreation)
		if ok {
			step.SourceTriple = &triple
			step.ASTNode = node
		}
	}

	event, isLog, err := events.Extract(vmState.Op, vmState.Stack, vmState.Memory)
	if err != nil {
		log.Warn("dbgtrace: dropping malformed log event", "pc", vmState.PC, "err", err)
	} else if isLog {
		step.Event = event
	}

	return step, nil
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

// run adopts a go-ethereum vm.EVM over stateDB and executes the
// transaction with origin/nonce/signature checks suppressed — the debugger
// replays an already-observed transaction, it never originates one.
func (d *Debugger) run(tx vmio.Transaction, cfg *Config, stateDB *state.StateDB, hooks *tracing.Hooks) (*vmio.RunTxResult, error) {
	blockCtx := vm.BlockContext{
		CanTransfer: func(db vm.StateDB, addr common.Address, amount *uint256.Int) bool { return true },
		Transfer:    func(db vm.StateDB, from, to common.Address, amount *uint256.Int) {},
		GetHash:     cfg.GetHashFn,
		Coinbase:    cfg.Coinbase,
		BlockNumber: cfg.BlockNumber,
		Time:        cfg.Time,
		Difficulty:  cfg.Difficulty,
		BaseFee:     cfg.BaseFee,
		Random:      cfg.Random,
		GasLimit:    math.MaxUint64,
	}
	txCtx := vm.TxContext{Origin: tx.From, GasPrice: big.NewInt(0)}

	evm := vm.NewEVM(blockCtx, txCtx, stateDB, cfg.ChainConfig, vm.Config{Tracer: hooks})

	value := new(uint256.Int)
	if tx.Value != nil {
		value = uint256.MustFromBig(tx.Value)
	}

	if hooks != nil && hooks.OnTxStart != nil {
		kind := &types.LegacyTx{To: tx.To, Data: tx.Data, Value: tx.Value, Gas: tx.GasLimit, Nonce: tx.Nonce}
		hooks.OnTxStart(evm.GetVMContext(), types.NewTx(kind), tx.From)
	}

	if !stateDB.Exist(tx.From) {
		stateDB.CreateAccount(tx.From)
	}

	var (
		ret         []byte
		leftOverGas uint64
		deployedAt  common.Address
		err         error
	)
	if tx.To == nil {
		ret, deployedAt, leftOverGas, err = evm.Create(vm.AccountRef(tx.From), tx.Data, tx.GasLimit, value)
		_ = deployedAt
	} else {
		ret, leftOverGas, err = evm.Call(vm.AccountRef(tx.From), *tx.To, tx.Data, tx.GasLimit, value)
	}

	result := &vmio.RunTxResult{
		ReturnData: ret,
		GasUsed:    tx.GasLimit - leftOverGas,
		Reverted:   errors.Is(err, vm.ErrExecutionReverted),
		Err:        err,
	}

	if hooks != nil && hooks.OnTxEnd != nil {
		hooks.OnTxEnd(nil, err)
	}

	return result, nil
}
