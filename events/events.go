// Package events implements the event extractor (C7): on a LOG-N
// instruction, slices the topics and payload out of the operand stack and
// memory.
package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/Gealber/contract-dbg/model"
	"github.com/Gealber/contract-dbg/opcodes"
)

// Extract reads (offset, size) from stack[top], stack[top-1] if op is a
// LOG-N instruction, slices the payload out of memory, and reads the N
// topics immediately below size. Returns ok=false for any non-LOG opcode.
func Extract(op vm.OpCode, stack []uint256.Int, memory []byte) (*model.EventDesc, bool, error) {
	n, isLog := opcodes.LogN(op)
	if !isLog {
		return nil, false, nil
	}

	need := 2 + n
	if len(stack) < need {
		return nil, true, fmt.Errorf("insufficient stack for %s: have %d, need %d", op, len(stack), need)
	}

	top := len(stack) - 1
	offset := stack[top].Uint64()
	size := stack[top-1].Uint64()

	end := offset + size
	if end < offset || end > uint64(len(memory)) {
		return nil, true, fmt.Errorf("log payload [%d:%d) out of bounds (memory len %d)", offset, end, len(memory))
	}
	payload := make([]byte, size)
	copy(payload, memory[offset:end])

	// The N topics sit immediately below size, with the one nearest the
	// top (stack[top-2]) popped first: that's topics[0], preserving
	// declaration order (e.g. [sig, from, to] for an indexed Transfer).
	topics := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		topics[i] = stack[top-2-i].ToBig()
	}

	return &model.EventDesc{Payload: payload, Topics: topics}, true, nil
}
