package srcmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Gealber/contract-dbg/artifact"
)

func fnNode(name string) *artifact.FunctionDefinition { return &artifact.FunctionDefinition{Name: name} }

func buildInfo() *artifact.ContractInfo {
	deployed := &artifact.BytecodeInfo{
		Code:    []byte{0x60, 0x01, 0x5b}, // PUSH1 0x01, JUMPDEST
		Triples: []artifact.SourceTriple{{Start: 0, Length: 2, SourceIndex: 0}, {Start: 2, Length: 1, SourceIndex: 0, Jump: artifact.JumpInto}},
	}
	node := fnNode("foo")
	return &artifact.ContractInfo{
		DeployedBytecode: deployed,
		SrcMap: map[string]artifact.ASTNode{
			artifact.SourceTriple{Start: 2, Length: 1, SourceIndex: 0, Jump: artifact.JumpInto}.Key(): node,
		},
	}
}

func TestResolveHitsTripleAndNode(t *testing.T) {
	r := New()
	info := buildInfo()

	triple, node, ok := r.Resolve(info, [32]byte{1}, true, 2, false)
	require.True(t, ok)
	require.Equal(t, artifact.JumpInto, triple.Jump)
	require.NotNil(t, node)
	require.Equal(t, "foo", node.(*artifact.FunctionDefinition).Name)
}

func TestResolveMissingPC(t *testing.T) {
	r := New()
	info := buildInfo()

	_, _, ok := r.Resolve(info, [32]byte{1}, true, 99, false)
	require.False(t, ok)
}

func TestResolveNilContractInfo(t *testing.T) {
	r := New()
	_, _, ok := r.Resolve(nil, [32]byte{}, true, 0, false)
	require.False(t, ok)
}

func TestResolveCachesOnlyWhenHashKnown(t *testing.T) {
	r := New()
	info := buildInfo()

	// Two distinct "unknown hash" lookups must not collide through the
	// cache: after the first lookup, resolve a second info with a different
	// triple at the same pc and confirm it is resolved fresh, not served a
	// stale hit.
	_, _, ok := r.Resolve(info, [32]byte{}, false, 0, false)
	require.True(t, ok)

	other := buildInfo()
	other.DeployedBytecode.Triples[0].Length = 999
	triple, _, ok := r.Resolve(other, [32]byte{}, false, 0, false)
	require.True(t, ok)
	require.Equal(t, 999, triple.Length)
}
