package main

import (
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Gealber/contract-dbg/artifact"
	"github.com/Gealber/contract-dbg/dbgtrace"
	"github.com/Gealber/contract-dbg/rpc"
	"github.com/Gealber/contract-dbg/stateprovider"
	"github.com/Gealber/contract-dbg/vmio"
)

func main() {
	debugLiveTx()
}

// noArtifacts is a stand-in artifact manager for an address with no known
// source: every lookup reports MissingDebugInfo rather than failing, the
// same tolerant default the core falls back to when an artifact manager
// hasn't indexed a contract yet.
type noArtifacts struct{}

func (noArtifacts) GetContractFromMDHash([32]byte) (*artifact.ContractInfo, error) {
	return nil, nil
}

func (noArtifacts) GetContractFromCreationBytecode([]byte) (*artifact.ContractInfo, error) {
	return nil, nil
}

func debugLiveTx() {
	rpcEndpoint := "https://eth.llamarpc.com"
	rpcClt := rpc.NewClient(rpcEndpoint)

	sm := stateprovider.New(rpcClt, "latest", common.Hash{}, -1)
	dbg := dbgtrace.New(noArtifacts{}, nil)

	to := common.HexToAddress("0x0000000000000000000000000000000000000011")
	tx := vmio.Transaction{
		From:     common.HexToAddress("0x0000000000000000000000000000000000000000"),
		To:       &to,
		Data:     hexutil.MustDecode(`0x0000000000000000000000000000000000000000000000000000000000000020`),
		Value:    big.NewInt(0),
		GasLimit: 300000,
	}

	db, err := state.New(types.EmptyRootHash, state.NewDatabase(rawdb.NewMemoryDatabase()), nil)
	if err != nil {
		log.Fatal(err)
	}

	trace, result, err := dbg.DebugTx(tx, nil, db, sm)
	if err != nil {
		log.Fatal(err)
	}

	log.Println("-----------------------------------------------------------")
	log.Println("return data:", hexutil.Encode(result.ReturnData))
	log.Println("gas used:", result.GasUsed)
	log.Println("steps recorded:", len(trace))

	for i, step := range trace {
		if step.Event != nil {
			log.Printf("step %d emitted an event with %d topics\n", i, len(step.Event.Topics))
		}
	}
}
