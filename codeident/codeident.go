// Package codeident implements the code identifier (C4): for each step,
// resolve which code blob is executing and compute its identifying hash —
// either a creation-code hash (freshly sliced initcode) or a deployed-code
// metadata hash (extracted from the CBOR trailer the source-language
// compiler appends to deployed bytecode).
package codeident

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Gealber/contract-dbg/frame"
	"github.com/Gealber/contract-dbg/model"
	"github.com/Gealber/contract-dbg/opcodes"
	"github.com/Gealber/contract-dbg/vmio"
)

// Resolved is the code blob and identifying hash for one step.
type Resolved struct {
	Code     []byte
	Hash     *[32]byte // nil when the metadata trailer is absent or malformed
	Creation bool       // true when Code is initcode, not deployed bytecode
}

// Resolver implements the three-way branch: creation code, newly-entered
// deployed code, or reuse of the previous resolution. It needs the state
// manager to fetch deployed code by address, and keeps no state of its own
// beyond that — callers pass the previous step's resolution back in to get
// the reuse branch.
type Resolver struct {
	sm vmio.StateManager
}

func New(sm vmio.StateManager) *Resolver {
	return &Resolver{sm: sm}
}

// Resolve runs the three-way branch. prevStep/prevResolved may both be nil
// for the first step of a transaction.
func (r *Resolver) Resolve(cur *model.StepVMState, prevStep *model.StepVMState, prevResolved *Resolved) (*Resolved, error) {
	switch {
	case prevStep != nil && opcodes.CreatesContract(prevStep.Op):
		initCode, err := frame.SliceInitCode(prevStep.Stack, prevStep.Memory)
		if err != nil {
			return nil, fmt.Errorf("slicing initcode after %s: %w", prevStep.Op, err)
		}
		hash := crypto.Keccak256Hash(initCode)
		var h [32]byte
		copy(h[:], hash.Bytes())
		return &Resolved{Code: initCode, Hash: &h, Creation: true}, nil

	case prevStep == nil || cur.CodeSourceAddress != prevStep.CodeSourceAddress:
		code, err := r.sm.GetContractCode(cur.CodeSourceAddress)
		if err != nil {
			return nil, fmt.Errorf("fetching code for %s: %w", cur.CodeSourceAddress, err)
		}
		hash, ok := DeployedCodeMetadataHash(code)
		if !ok {
			return &Resolved{Code: code, Hash: nil, Creation: false}, nil
		}
		return &Resolved{Code: code, Hash: &hash, Creation: false}, nil

	default:
		return prevResolved, nil
	}
}

// DeployedCodeMetadataHash extracts the compiler-appended metadata hash
// from the tail of deployed bytecode. Solidity (and compatible source
// languages) append a CBOR-encoded map followed by a 2-byte big-endian
// length of that map; the map conventionally carries an "ipfs" (or
// "bzzr0"/"bzzr1") key, and the returned hash is the keccak256 of that
// key's byte-string value.
// Returns ok=false for any absent or malformed trailer rather than
// failing; an absent or malformed trailer is treated as undefined, not
// an error.
func DeployedCodeMetadataHash(code []byte) (hash [32]byte, ok bool) {
	if len(code) < 2 {
		return hash, false
	}
	n := int(code[len(code)-2])<<8 | int(code[len(code)-1])
	if n <= 0 || n+2 > len(code) {
		return hash, false
	}
	cbor := code[len(code)-2-n : len(code)-2]

	val, found := cborMapLookupBytes(cbor, "ipfs")
	if !found {
		val, found = cborMapLookupBytes(cbor, "bzzr1")
	}
	if !found {
		val, found = cborMapLookupBytes(cbor, "bzzr0")
	}
	if !found {
		return hash, false
	}
	h := crypto.Keccak256Hash(val)
	copy(hash[:], h.Bytes())
	return hash, true
}

// cborMapLookupBytes walks a CBOR map at the top level looking for a
// text-string key equal to want, returning its value's raw bytes if that
// value is itself a byte string. It supports only the handful of major
// types solc's metadata trailer actually uses (map, text string, byte
// string, unsigned int) — enough to tolerate the one well-known format
// without pulling in a general CBOR library for ~20 lines of map walking.
func cborMapLookupBytes(data []byte, want string) ([]byte, bool) {
	pos := 0
	mapLen, ok := cborReadMapHeader(data, &pos)
	if !ok {
		return nil, false
	}
	for i := 0; i < mapLen; i++ {
		key, ok := cborReadTextString(data, &pos)
		if !ok {
			return nil, false
		}
		valStart := pos
		if !cborSkipItem(data, &pos) {
			return nil, false
		}
		if key == want {
			return cborReadByteStringAt(data, valStart)
		}
	}
	return nil, false
}

func cborReadMapHeader(data []byte, pos *int) (int, bool) {
	if *pos >= len(data) {
		return 0, false
	}
	b := data[*pos]
	major := b >> 5
	if major != 5 {
		return 0, false
	}
	n, ok := cborReadArgument(data, pos, b)
	return n, ok
}

func cborReadTextString(data []byte, pos *int) (string, bool) {
	if *pos >= len(data) {
		return "", false
	}
	b := data[*pos]
	if b>>5 != 3 {
		return "", false
	}
	n, ok := cborReadArgument(data, pos, b)
	if !ok || *pos+n > len(data) {
		return "", false
	}
	s := string(data[*pos : *pos+n])
	*pos += n
	return s, true
}

func cborReadByteStringAt(data []byte, pos int) ([]byte, bool) {
	if pos >= len(data) {
		return nil, false
	}
	b := data[pos]
	if b>>5 != 2 {
		return nil, false
	}
	n, ok := cborReadArgument(data, &pos, b)
	if !ok || pos+n > len(data) {
		return nil, false
	}
	return data[pos : pos+n], true
}

// cborSkipItem advances *pos past one CBOR item of a supported major type.
func cborSkipItem(data []byte, pos *int) bool {
	if *pos >= len(data) {
		return false
	}
	b := data[*pos]
	major := b >> 5
	switch major {
	case 0: // unsigned int
		_, ok := cborReadArgument(data, pos, b)
		return ok
	case 2, 3: // byte/text string
		n, ok := cborReadArgument(data, pos, b)
		if !ok || *pos+n > len(data) {
			return false
		}
		*pos += n
		return true
	default:
		return false
	}
}

// cborReadArgument reads the CBOR "additional information" argument for
// the item whose first byte is b, advancing *pos past the header (but not
// past any following bytes the argument describes, e.g. string contents).
func cborReadArgument(data []byte, pos *int, b byte) (int, bool) {
	add := b & 0x1f
	*pos++
	switch {
	case add < 24:
		return int(add), true
	case add == 24:
		if *pos >= len(data) {
			return 0, false
		}
		v := int(data[*pos])
		*pos++
		return v, true
	case add == 25:
		if *pos+2 > len(data) {
			return 0, false
		}
		v := int(data[*pos])<<8 | int(data[*pos+1])
		*pos += 2
		return v, true
	default:
		return 0, false
	}
}
