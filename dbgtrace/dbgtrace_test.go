package dbgtrace

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/Gealber/contract-dbg/artifact"
	"github.com/Gealber/contract-dbg/model"
	"github.com/Gealber/contract-dbg/vmio"
)

type noopManager struct{}

func (noopManager) GetContractFromMDHash([32]byte) (*artifact.ContractInfo, error) { return nil, nil }
func (noopManager) GetContractFromCreationBytecode([]byte) (*artifact.ContractInfo, error) {
	return nil, nil
}

type codeMapStateManager struct {
	codeByAddress map[common.Address][]byte
}

func (m *codeMapStateManager) GetContractCode(addr common.Address) ([]byte, error) {
	return m.codeByAddress[addr], nil
}

func (m *codeMapStateManager) DumpStorage(common.Address) (map[common.Hash]common.Hash, error) {
	return map[common.Hash]common.Hash{}, nil
}

// buildCallBytecode assembles: CALL(gas, callee, 0, 0, 0, 0, 0); STOP.
func buildCallBytecode(callee common.Address) []byte {
	code := []byte{
		0x60, 0x00, // PUSH1 0  (retLength)
		0x60, 0x00, // PUSH1 0  (retOffset)
		0x60, 0x00, // PUSH1 0  (argsLength)
		0x60, 0x00, // PUSH1 0  (argsOffset)
		0x60, 0x00, // PUSH1 0  (value)
		0x73, // PUSH20 <callee address>
	}
	code = append(code, callee.Bytes()...)
	code = append(code,
		0x61, 0x27, 0x10, // PUSH2 0x2710 (gas)
		0xf1, // CALL
		0x00, // STOP
	)
	return code
}

// TestDebugTxExternalDepthMatchesStepDepthAcrossACall drives a real
// go-ethereum EVM through one external CALL and checks, for every recorded
// step, that the number of External/Creation frames on the stack equals
// the step's own depth -- not just at hand-set depths, but across an
// actual multi-depth trace.
func TestDebugTxExternalDepthMatchesStepDepthAcrossACall(t *testing.T) {
	from := common.HexToAddress("0xf000000000000000000000000000000000000f")
	outer := common.HexToAddress("0xa000000000000000000000000000000000000a")
	callee := common.HexToAddress("0xb000000000000000000000000000000000000b")

	outerCode := buildCallBytecode(callee)
	calleeCode := []byte{0x00} // STOP

	db, err := state.New(types.EmptyRootHash, state.NewDatabase(rawdb.NewMemoryDatabase()), nil)
	require.NoError(t, err)
	db.SetCode(outer, outerCode)
	db.SetCode(callee, calleeCode)

	sm := &codeMapStateManager{codeByAddress: map[common.Address][]byte{
		outer:  outerCode,
		callee: calleeCode,
	}}

	dbg := New(noopManager{}, nil)
	tx := vmio.Transaction{
		From:     from,
		To:       &outer,
		Value:    big.NewInt(0),
		GasLimit: 200000,
	}

	trace, result, err := dbg.DebugTx(tx, nil, db, sm)
	require.NoError(t, err)
	require.NoError(t, result.Err)
	require.NotEmpty(t, trace)

	sawDepth2 := false
	for _, step := range trace {
		require.Equal(t, model.ExternalDepth(step.FrameStack), step.Depth,
			"step at pc %d op %s: external frame count must equal depth", step.PC, step.Op)
		if step.Depth == 2 {
			sawDepth2 = true
		}
	}
	require.True(t, sawDepth2, "expected the CALL to produce at least one depth-2 step")
}
