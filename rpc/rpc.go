package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type Client struct {
	Endpoint string
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint}
}

func (c *Client) GetCode(address, blk string) ([]byte, error) {
	// try to convert block into number
	blkNumber, ok := new(big.Int).SetString(strings.TrimLeft(blk, "0x"), 16)
	if !ok || blkNumber.Cmp(big.NewInt(0)) <= 0 {
		blk = "latest"
	}

	params := []interface{}{
		address, blk,
	}

	rpcResp, err := rpcPost(c.Endpoint, "eth_getCode", params)
	if err != nil {
		return nil, err
	}

	resultB, _ := rpcResp.Result.MarshalJSON()

	var result string
	err = json.Unmarshal(resultB, &result)
	if err != nil {
		return nil, err
	}

	return hexutil.MustDecode(result), nil
}

// StorageRangeResult mirrors geth's debug_storageRangeAt response shape:
// a page of (key, value) pairs plus the next key to resume from, or nil
// once the account's storage is exhausted.
type StorageRangeResult struct {
	Storage map[common.Hash]StorageEntry `json:"storage"`
	NextKey *common.Hash                 `json:"nextKey"`
}

type StorageEntry struct {
	Key   *common.Hash `json:"key"`
	Value common.Hash  `json:"value"`
}

// DumpStorageAt pages through an account's full storage via geth's
// debug_storageRangeAt, the same RPC method block explorers and tracing
// tools use to reconstruct storage without a local state trie. blockHash
// and txIndex pin the point in the block the account should be read at;
// pass the zero hash and -1 to read the state before any transaction in
// the block.
func (c *Client) DumpStorageAt(blockHash common.Hash, txIndex int, address common.Address) (map[common.Hash]common.Hash, error) {
	const pageSize = 1024

	out := make(map[common.Hash]common.Hash)
	start := common.Hash{}
	for {
		params := []interface{}{blockHash, txIndex, address, start, pageSize}
		rpcResp, err := rpcPost(c.Endpoint, "debug_storageRangeAt", params)
		if err != nil {
			return nil, err
		}
		if rpcResp.Err != nil {
			return nil, rpcResp.Err
		}

		resultB, _ := rpcResp.Result.MarshalJSON()
		var page StorageRangeResult
		if err := json.Unmarshal(resultB, &page); err != nil {
			return nil, fmt.Errorf("decoding storage range page: %w", err)
		}

		for _, entry := range page.Storage {
			if entry.Key == nil {
				continue
			}
			out[*entry.Key] = entry.Value
		}

		if page.NextKey == nil {
			return out, nil
		}
		start = *page.NextKey
	}
}

type RPCRequest struct {
	ID      int           `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type RPCResponse struct {
	ID      int             `json:"id"`
	JSONRpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Err     *ErrResponse    `json:"error,omitempty"`
}

type ErrResponse struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *ErrResponse) Error() string {
	return fmt.Sprintf(`{"code": "%d", "message": "%s"}`, e.Code, e.Message)
}

func rpcPost(rpcEndpoint, method string, params []interface{}) (*RPCResponse, error) {
	payload := RPCRequest{
		ID:      1,
		JSONRpc: "2.0",
		Method:  method,
		Params:  params,
	}

	data, err := json.Marshal(&payload)
	if err != nil {
		return nil, err
	}
	body := bytes.NewBuffer(data)

	resp, err := http.Post(rpcEndpoint, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result RPCResponse
	err = json.Unmarshal(b, &result)

	return &result, err
}
