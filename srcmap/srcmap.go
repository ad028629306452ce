// Package srcmap implements the source-map resolver (C2): given a PC and a
// ContractInfo, returns the decoded source triple and matching AST node,
// tolerating missing debug info rather than failing.
//
// Resolution results are cached per (codeHash, pc) with a bounded LRU —
// erigon carries hashicorp/golang-lru for comparable hot-path caches over
// long-running state lookups, and a multi-million-step trace re-resolves
// the same handful of PCs over and over, so the cache pays for itself.
package srcmap

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Gealber/contract-dbg/artifact"
)

const defaultCacheSize = 4096

type cacheKey struct {
	codeHash [32]byte
	pc       uint64
	creation bool
}

type resolved struct {
	triple artifact.SourceTriple
	node   artifact.ASTNode
	ok     bool
}

// Resolver decodes source locations for a series of steps, caching the
// (codeHash, pc) -> (triple, node) mapping across the whole transaction.
type Resolver struct {
	cache *lru.Cache[cacheKey, resolved]
}

// New constructs a Resolver with the default cache size. A zero-value
// Resolver also works (resolution is simply uncached).
func New() *Resolver {
	c, _ := lru.New[cacheKey, resolved](defaultCacheSize)
	return &Resolver{cache: c}
}

// Resolve looks up the triple whose instruction index matches pc's
// position in the relevant bytecode (deployed code, or
// creation code while still inside a constructor), then the AST node for
// that triple. Both return values are nil/zero with ok=false when debug
// info is missing or the PC falls outside the table — callers must treat
// that as MissingDebugInfo, not a failure.
//
// codeHash identifies the bytecode for caching purposes; pass
// knownHash=false (e.g. the code's metadata trailer was absent/malformed)
// to skip the cache rather than key it on a meaningless zero hash.
func (r *Resolver) Resolve(info *artifact.ContractInfo, codeHash [32]byte, knownHash bool, pc uint64, duringCreation bool) (artifact.SourceTriple, artifact.ASTNode, bool) {
	if info == nil {
		return artifact.SourceTriple{}, nil, false
	}

	if r != nil && r.cache != nil && knownHash {
		key := cacheKey{codeHash: codeHash, pc: pc, creation: duringCreation}
		if v, ok := r.cache.Get(key); ok {
			return v.triple, v.node, v.ok
		}
		t, n, ok := r.resolveUncached(info, pc, duringCreation)
		r.cache.Add(key, resolved{triple: t, node: n, ok: ok})
		return t, n, ok
	}
	return r.resolveUncached(info, pc, duringCreation)
}

func (r *Resolver) resolveUncached(info *artifact.ContractInfo, pc uint64, duringCreation bool) (artifact.SourceTriple, artifact.ASTNode, bool) {
	bytecode := info.DeployedBytecode
	if duringCreation {
		bytecode = info.Bytecode
	}
	triple, ok := bytecode.GetOffsetSrc(pc)
	if !ok {
		return artifact.SourceTriple{}, nil, false
	}
	node, _ := info.LookupNode(triple)
	// An unresolved AST node (MissingDebugInfo) still returns the triple:
	// callers may want the source span even without the AST node.
	return triple, node, true
}
