// Package stateprovider adapts the bare JSON-RPC client (rpc.Client) into
// the vmio.StateManager the core queries mid-trace for contract code and
// storage, pinned to one block/transaction-index so every step of one
// DebugTx call observes a consistent, un-moving view of chain state.
package stateprovider

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Gealber/contract-dbg/rpc"
)

// Provider implements vmio.StateManager against a live RPC endpoint,
// replaying state as of a fixed block and transaction index.
type Provider struct {
	client   *rpc.Client
	blk      string
	blkHash  common.Hash
	txIndex  int
	codeOnce map[common.Address][]byte
}

// New pins a Provider to the block the transaction being debugged actually
// executed in. blk is the block-number-or-tag string rpc.Client's existing
// calls expect ("latest", "0x...",); blkHash/txIndex additionally pin the
// debug_storageRangeAt calls DumpStorage issues.
func New(client *rpc.Client, blk string, blkHash common.Hash, txIndex int) *Provider {
	return &Provider{
		client:   client,
		blk:      blk,
		blkHash:  blkHash,
		txIndex:  txIndex,
		codeOnce: make(map[common.Address][]byte),
	}
}

// GetContractCode implements vmio.StateManager, memoizing per address since
// a contract's deployed code never changes mid-transaction.
func (p *Provider) GetContractCode(address common.Address) ([]byte, error) {
	if code, ok := p.codeOnce[address]; ok {
		return code, nil
	}
	code, err := p.client.GetCode(address.Hex(), p.blk)
	if err != nil {
		return nil, fmt.Errorf("stateprovider: fetching code for %s: %w", address, err)
	}
	p.codeOnce[address] = code
	return code, nil
}

// DumpStorage implements vmio.StateManager via debug_storageRangeAt,
// returning the account's full storage as of the pinned block/tx index.
func (p *Provider) DumpStorage(address common.Address) (map[common.Hash]common.Hash, error) {
	raw, err := p.client.DumpStorageAt(p.blkHash, p.txIndex, address)
	if err != nil {
		return nil, fmt.Errorf("stateprovider: dumping storage for %s: %w", address, err)
	}
	return raw, nil
}
