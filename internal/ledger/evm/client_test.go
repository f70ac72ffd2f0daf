package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/shipment/config"
	"example.com/backstage/services/shipment/internal/ledger"
)

const (
	contractAddress = "0x84101173a9BEf7Feda466B9b4293617Ca8D46F98"
	senderAddress   = "0x1111111111111111111111111111111111111111"
	receiverAddress = "0x2222222222222222222222222222222222222222"
	txHash          = "0x9b0ac7b2d5b4b5b0f8a4d1f7d6e5c4b3a2918070605040302010f0e0d0c0b0a0"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// fakeNode answers JSON-RPC calls from a per-method handler table.
type fakeNode struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(params []json.RawMessage) (interface{}, *rpcError)
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	node := &fakeNode{
		calls:    make(map[string]int),
		handlers: make(map[string]func([]json.RawMessage) (interface{}, *rpcError)),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		node.mu.Lock()
		node.calls[req.Method]++
		handler, ok := node.handlers[req.Method]
		node.mu.Unlock()

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if !ok {
			resp["error"] = rpcError{Code: -32601, Message: "method not found"}
		} else if result, rpcErr := handler(req.Params); rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)

	return node, server
}

func (n *fakeNode) handle(method string, fn func(params []json.RawMessage) (interface{}, *rpcError)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = fn
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func dialTestClient(t *testing.T, url, address string) *Client {
	client, err := Dial(context.Background(), config.LedgerConfig{
		RPCURL:              url,
		ContractAddress:     address,
		GasLimit:            500000,
		SubmitTimeout:       2 * time.Second,
		CallTimeout:         2 * time.Second,
		ReceiptPollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func receiptJSON(status string) map[string]interface{} {
	return map[string]interface{}{
		"type":              "0x0",
		"status":            status,
		"cumulativeGasUsed": "0xb4a3",
		"logsBloom":         "0x" + strings.Repeat("0", 512),
		"logs":              []interface{}{},
		"transactionHash":   txHash,
		"blockHash":         "0x" + strings.Repeat("1", 64),
		"blockNumber":       "0x2a",
		"transactionIndex":  "0x0",
		"gasUsed":           "0xb4a3",
		"contractAddress":   nil,
	}
}

func TestSubmitStatusNote(t *testing.T) {
	node, server := newFakeNode(t)

	sentTx := make(chan map[string]string, 1)
	node.handle("eth_sendTransaction", func(params []json.RawMessage) (interface{}, *rpcError) {
		var args map[string]string
		assert.NoError(t, json.Unmarshal(params[0], &args))
		sentTx <- args
		return txHash, nil
	})

	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *rpcError) {
		if node.count("eth_getTransactionReceipt") == 1 {
			return nil, nil
		}
		return receiptJSON("0x1"), nil
	})

	client := dialTestClient(t, server.URL, contractAddress)

	receipt, err := client.SubmitStatusNote(context.Background(), "TRACK001", "Package received at warehouse", senderAddress)
	require.NoError(t, err)

	assert.Equal(t, common.HexToHash(txHash).Hex(), receipt.TransactionHash)
	assert.Equal(t, uint64(42), receipt.BlockNumber)
	assert.Equal(t, uint64(46243), receipt.GasUsed)
	assert.GreaterOrEqual(t, node.count("eth_getTransactionReceipt"), 2)

	sent := <-sentTx
	assert.True(t, strings.EqualFold(senderAddress, sent["from"]))
	assert.True(t, strings.EqualFold(contractAddress, sent["to"]))
	assert.Equal(t, "0x7a120", sent["gas"])

	data, err := hexutil.Decode(sent["data"])
	require.NoError(t, err)
	method, err := client.abi.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, methodUpdateStatusWithNote, method.Name)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"TRACK001", "Package received at warehouse"}, args)
}

func TestSubmitStatusNoteRevertMessage(t *testing.T) {
	node, server := newFakeNode(t)
	node.handle("eth_sendTransaction", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "VM Exception while processing transaction: revert Shipment not found"}
	})

	client := dialTestClient(t, server.URL, contractAddress)

	_, err := client.SubmitStatusNote(context.Background(), "MISSING", "Package received", senderAddress)
	require.Error(t, err)
	assert.Equal(t, ledger.KindNotFound, ledger.Classify(err).Kind)
	assert.Zero(t, node.count("eth_getTransactionReceipt"))
}

func TestSubmitStatusNoteRevertData(t *testing.T) {
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	encoded, err := abi.Arguments{{Type: stringType}}.Pack("Only shipment participants can update")
	require.NoError(t, err)
	revertData := append(hexutil.MustDecode("0x08c379a0"), encoded...)

	node, server := newFakeNode(t)
	node.handle("eth_sendTransaction", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: 3, Message: "execution reverted", Data: hexutil.Encode(revertData)}
	})

	client := dialTestClient(t, server.URL, contractAddress)

	_, err = client.SubmitStatusNote(context.Background(), "TRACK001", "Package received", senderAddress)
	require.EqualError(t, err, "execution reverted: Only shipment participants can update")
	assert.Equal(t, ledger.KindForbidden, ledger.Classify(err).Kind)
}

func TestSubmitStatusNoteFailedReceipt(t *testing.T) {
	node, server := newFakeNode(t)
	node.handle("eth_sendTransaction", func([]json.RawMessage) (interface{}, *rpcError) {
		return txHash, nil
	})
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *rpcError) {
		return receiptJSON("0x0"), nil
	})

	client := dialTestClient(t, server.URL, contractAddress)

	_, err := client.SubmitStatusNote(context.Background(), "TRACK001", "Package received", senderAddress)
	classified := ledger.Classify(err)
	assert.Equal(t, ledger.KindContractRejected, classified.Kind)
	assert.Equal(t, "transaction reverted by contract", classified.Message)
}

func TestSubmitStatusNoteTimesOut(t *testing.T) {
	node, server := newFakeNode(t)
	node.handle("eth_sendTransaction", func([]json.RawMessage) (interface{}, *rpcError) {
		return txHash, nil
	})
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, nil
	})

	client := dialTestClient(t, server.URL, contractAddress)
	client.cfg.SubmitTimeout = 50 * time.Millisecond

	_, err := client.SubmitStatusNote(context.Background(), "TRACK001", "Package received", senderAddress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), common.HexToHash(txHash).Hex())
	assert.Equal(t, ledger.KindUnavailable, ledger.Classify(err).Kind)
}

func TestSubmitStatusNoteSurvivesCallerCancellation(t *testing.T) {
	node, server := newFakeNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node.handle("eth_sendTransaction", func([]json.RawMessage) (interface{}, *rpcError) {
		return txHash, nil
	})
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *rpcError) {
		// the caller goes away once the transaction is pending
		if node.count("eth_getTransactionReceipt") < 3 {
			cancel()
			return nil, nil
		}
		return receiptJSON("0x1"), nil
	})

	client := dialTestClient(t, server.URL, contractAddress)

	receipt, err := client.SubmitStatusNote(ctx, "TRACK001", "Package received", senderAddress)
	require.NoError(t, err)
	assert.Error(t, ctx.Err())
	assert.Equal(t, common.HexToHash(txHash).Hex(), receipt.TransactionHash)
	assert.Equal(t, 1, node.count("eth_sendTransaction"))
	assert.GreaterOrEqual(t, node.count("eth_getTransactionReceipt"), 3)
}

func TestFetchDetails(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(shipmentABI))
	require.NoError(t, err)

	output, err := parsed.Methods[methodGetShipmentDetails].Outputs.Pack(
		big.NewInt(1),
		common.HexToAddress(senderAddress),
		common.HexToAddress(receiverAddress),
		"TRACK001",
		uint8(1),
		"Package received at warehouse",
	)
	require.NoError(t, err)

	node, server := newFakeNode(t)
	node.handle("eth_call", func(params []json.RawMessage) (interface{}, *rpcError) {
		var call map[string]interface{}
		assert.NoError(t, json.Unmarshal(params[0], &call))
		assert.True(t, strings.EqualFold(contractAddress, call["to"].(string)))
		return hexutil.Encode(output), nil
	})

	client := dialTestClient(t, server.URL, contractAddress)

	record, err := client.FetchDetails(context.Background(), "TRACK001")
	require.NoError(t, err)

	assert.Equal(t, "1", record.MedicineID.String())
	assert.Equal(t, common.HexToAddress(senderAddress).Hex(), record.Sender)
	assert.Equal(t, common.HexToAddress(receiverAddress).Hex(), record.Receiver)
	assert.Equal(t, "TRACK001", record.TrackingID)
	assert.Equal(t, 1, record.StatusCode)
	assert.Equal(t, "Package received at warehouse", record.Notes)
}

func TestUnboundClientIsUnavailable(t *testing.T) {
	node, server := newFakeNode(t)
	client := dialTestClient(t, server.URL, "")

	require.False(t, client.Bound())

	_, err := client.SubmitStatusNote(context.Background(), "TRACK001", "Package received", senderAddress)
	require.ErrorIs(t, err, ledger.ErrUnavailable)

	_, err = client.FetchDetails(context.Background(), "TRACK001")
	require.ErrorIs(t, err, ledger.ErrUnavailable)

	assert.Zero(t, node.count("eth_sendTransaction"))
	assert.Zero(t, node.count("eth_call"))
}

func TestDialRejectsMalformedContractAddress(t *testing.T) {
	_, err := Dial(context.Background(), config.LedgerConfig{
		RPCURL:          "http://127.0.0.1:8545",
		ContractAddress: "not-an-address",
	})
	require.Error(t, err)
}

func TestRecordFromOutputsRejectsShortOutput(t *testing.T) {
	_, err := recordFromOutputs([]interface{}{big.NewInt(1)})
	require.Error(t, err)
}
