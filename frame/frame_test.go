package frame

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/Gealber/contract-dbg/artifact"
)

func u256(v uint64) uint256.Int {
	var x uint256.Int
	x.SetUint64(v)
	return x
}

func TestSelector(t *testing.T) {
	sel := Selector([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0x01, 0x02})
	require.Equal(t, [4]byte{0xaa, 0xbb, 0xcc, 0xdd}, sel)
}

func TestSelectorShortData(t *testing.T) {
	sel := Selector([]byte{0xaa})
	require.Equal(t, [4]byte{0xaa, 0, 0, 0}, sel)
}

func TestDecodeFunArgsUndefinedCallee(t *testing.T) {
	args, err := DecodeFunArgs(nil, nil)
	require.NoError(t, err)
	require.Nil(t, args)
}

func TestDecodeFunArgsStaticFormals(t *testing.T) {
	fn := &artifact.FunctionDefinition{
		Name: "transfer",
		Parameters: []artifact.Parameter{
			{Name: "to", Type: "address"},
			{Name: "amount", Type: "uint256"},
		},
	}
	stack := make([]uint256.Int, 2)
	args, err := DecodeFunArgs(fn, stack)
	require.NoError(t, err)
	require.Len(t, args, 2)
	// iterated last-to-first: "amount" (last formal) sits closest to top
	require.Equal(t, 0, args[1].View.Location.OffsetFromTop)
	require.Equal(t, 1, args[0].View.Location.OffsetFromTop)
}

func TestDecodeFunArgsDynamicCalldataTakesTwoSlots(t *testing.T) {
	fn := &artifact.FunctionDefinition{
		Parameters: []artifact.Parameter{
			{Name: "data", Type: "bytes", IsDynamicCalldata: true},
			{Name: "flag", Type: "bool"},
		},
	}
	stack := make([]uint256.Int, 3)
	args, err := DecodeFunArgs(fn, stack)
	require.NoError(t, err)
	require.Equal(t, 0, args[1].View.Location.OffsetFromTop) // flag: 1 slot
	require.Equal(t, 2, args[0].View.Location.OffsetFromTop) // data: 2 slots
}

func TestDecodeFunArgsStackUnderflow(t *testing.T) {
	fn := &artifact.FunctionDefinition{
		Parameters: []artifact.Parameter{{Name: "a", Type: "uint256"}, {Name: "b", Type: "uint256"}},
	}
	_, err := DecodeFunArgs(fn, make([]uint256.Int, 1))
	require.Error(t, err)
	var underflow *ErrStackUnderflow
	require.ErrorAs(t, err, &underflow)
}

func TestDecodeFunArgsStateVariableGetter(t *testing.T) {
	v := &artifact.StateVariableDeclaration{
		Name:         "balances",
		GetterParams: []artifact.Parameter{{Name: "ARG_0", Type: "address"}},
	}
	args, err := DecodeFunArgs(v, make([]uint256.Int, 1))
	require.NoError(t, err)
	require.Len(t, args, 1)
	require.Equal(t, "ARG_0", args[0].Name)
}

func TestSliceInitCode(t *testing.T) {
	memory := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	// stack top last: [..., size=3, offset=2, value=0]
	stack := []uint256.Int{u256(3), u256(2), u256(0)}
	code, err := SliceInitCode(stack, memory)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 3, 4}, code)
}

func TestSliceInitCodeOutOfBounds(t *testing.T) {
	// stack top last: [..., size=100, offset=0, value=0]
	stack := []uint256.Int{u256(100), u256(0), u256(0)}
	_, err := SliceInitCode(stack, make([]byte, 4))
	require.Error(t, err)
}

func TestCallArgsFor(t *testing.T) {
	require.Equal(t, CallArgs{ArgOffsetIdx: 3, ArgSizeIdx: 4}, CallArgsFor(true))
	require.Equal(t, CallArgs{ArgOffsetIdx: 2, ArgSizeIdx: 3}, CallArgsFor(false))
}

func TestSliceCallData(t *testing.T) {
	memory := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	addrBytes := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14}
	var receiverWord uint256.Int
	receiverWord.SetBytes(append(make([]byte, 12), addrBytes...))

	// indices, per DELEGATECALL/STATICCALL's 2,3 convention: [size, offset, receiver, gas]
	stack := []uint256.Int{u256(4), u256(0), receiverWord, u256(0)}

	receiver, msgData, err := SliceCallData(stack, memory, CallArgsFor(false))
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, msgData)
	require.Equal(t, addrBytes, receiver.Bytes())
}
