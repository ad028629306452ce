package stepstate

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/Gealber/contract-dbg/vmio"
)

type fakeStateManager struct {
	dumps int
	data  map[common.Hash]common.Hash
	err   error
}

func (f *fakeStateManager) GetContractCode(common.Address) ([]byte, error) { return nil, nil }
func (f *fakeStateManager) DumpStorage(common.Address) (map[common.Hash]common.Hash, error) {
	f.dumps++
	return f.data, f.err
}

func TestNormalizeFirstStepAlwaysDumps(t *testing.T) {
	sm := &fakeStateManager{data: map[common.Hash]common.Hash{{1}: {2}}}
	n := New(sm)

	raw := vmio.RawStep{Op: vm.ADD, PC: 0, Stack: []uint256.Int{}, Memory: []byte{1, 2, 3}, Depth: 1}
	step, err := n.Normalize(raw, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sm.dumps)
	require.Equal(t, 1, step.Depth) // depth passed through unchanged, no +1
	v, ok := step.Storage.Get(common.Hash{1})
	require.True(t, ok)
	require.Equal(t, common.Hash{2}, v)
}

func TestNormalizeSharesMemoryWhenPriorOpDoesNotWrite(t *testing.T) {
	sm := &fakeStateManager{}
	n := New(sm)

	raw1 := vmio.RawStep{Op: vm.ADD, Memory: []byte{9, 9, 9}}
	step1, err := n.Normalize(raw1, nil)
	require.NoError(t, err)

	raw2 := vmio.RawStep{Op: vm.ADD, Memory: []byte{9, 9, 9}}
	step2, err := n.Normalize(raw2, &step1.StepVMState)
	require.NoError(t, err)

	require.Same(t, &step1.Memory[0], &step2.Memory[0])
}

func TestNormalizeClonesMemoryWhenPriorOpWrites(t *testing.T) {
	sm := &fakeStateManager{}
	n := New(sm)

	raw1 := vmio.RawStep{Op: vm.MSTORE, Memory: []byte{9, 9, 9}}
	step1, err := n.Normalize(raw1, nil)
	require.NoError(t, err)

	raw2 := vmio.RawStep{Op: vm.ADD, Memory: []byte{9, 9, 9}}
	step2, err := n.Normalize(raw2, &step1.StepVMState)
	require.NoError(t, err)

	require.NotSame(t, &step1.Memory[0], &step2.Memory[0])
	require.Equal(t, step1.Memory, step2.Memory)
}

func TestNormalizeSharesStorageWhenPriorOpDoesNotWrite(t *testing.T) {
	sm := &fakeStateManager{data: map[common.Hash]common.Hash{{1}: {2}}}
	n := New(sm)

	step1, err := n.Normalize(vmio.RawStep{Op: vm.ADD}, nil)
	require.NoError(t, err)
	step2, err := n.Normalize(vmio.RawStep{Op: vm.ADD}, &step1.StepVMState)
	require.NoError(t, err)

	require.Equal(t, 1, sm.dumps)
	require.Same(t, step1.Storage, step2.Storage)
}

func TestNormalizeRedumpsStorageAfterSstore(t *testing.T) {
	sm := &fakeStateManager{data: map[common.Hash]common.Hash{{1}: {2}}}
	n := New(sm)

	step1, err := n.Normalize(vmio.RawStep{Op: vm.SSTORE}, nil)
	require.NoError(t, err)
	step2, err := n.Normalize(vmio.RawStep{Op: vm.ADD}, &step1.StepVMState)
	require.NoError(t, err)

	require.Equal(t, 2, sm.dumps)
	require.NotSame(t, step1.Storage, step2.Storage)
}

func TestNormalizeDumpStorageError(t *testing.T) {
	sm := &fakeStateManager{err: errBoom{}}
	n := New(sm)

	_, err := n.Normalize(vmio.RawStep{Op: vm.ADD}, nil)
	require.Error(t, err)
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
