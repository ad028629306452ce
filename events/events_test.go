package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func u256(v uint64) uint256.Int {
	var x uint256.Int
	x.SetUint64(v)
	return x
}

func TestExtractNonLogOpcode(t *testing.T) {
	event, ok, err := Extract(vm.ADD, nil, nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, event)
}

func TestExtractLog0(t *testing.T) {
	memory := []byte("hello world payload")
	// stack top-of-stack last: [..., size=5, offset=6]
	stack := []uint256.Int{u256(5), u256(6)}

	event, ok, err := Extract(vm.LOG0, stack, memory)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("world"), event.Payload)
	require.Empty(t, event.Topics)
}

func TestExtractLog2TopicOrder(t *testing.T) {
	memory := make([]byte, 32)
	// stack (top last): [topic1, topic0, size, offset]; topic0 sits
	// nearest the top (just below size), matching how solc-generated
	// LOG sequences push the declared topics.
	stack := []uint256.Int{u256(111), u256(222), u256(0), u256(0)}

	event, ok, err := Extract(vm.LOG2, stack, memory)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, event.Topics, 2)
	// topics come out in declaration order: topic0 first, topic1 second.
	require.Equal(t, uint64(222), event.Topics[0].Uint64())
	require.Equal(t, uint64(111), event.Topics[1].Uint64())
}

func TestExtractInsufficientStack(t *testing.T) {
	_, ok, err := Extract(vm.LOG1, []uint256.Int{u256(0)}, nil)
	require.True(t, ok)
	require.Error(t, err)
}

func TestExtractOutOfBoundsMemory(t *testing.T) {
	stack := []uint256.Int{u256(0), u256(100)}
	_, ok, err := Extract(vm.LOG0, stack, make([]byte, 4))
	require.True(t, ok)
	require.Error(t, err)
}
