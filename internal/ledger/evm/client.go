// Package evm implements ledger.Client against an EVM node through
// go-ethereum. Transactions are sent with eth_sendTransaction so the node
// signs for the submitting account; this service never holds keys.
package evm

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shipment/config"
	"example.com/backstage/services/shipment/internal/ledger"
)

const (
	methodUpdateStatusWithNote = "updateShipmentStatusWithNote"
	methodGetShipmentDetails   = "getShipmentDetails"
)

const shipmentABI = `[
  {
    "type": "function",
    "name": "updateShipmentStatusWithNote",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "_trackingId", "type": "string"},
      {"name": "_notes", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getShipmentDetails",
    "stateMutability": "view",
    "inputs": [
      {"name": "_trackingId", "type": "string"}
    ],
    "outputs": [
      {"name": "medicineId", "type": "uint256"},
      {"name": "sender", "type": "address"},
      {"name": "receiver", "type": "address"},
      {"name": "trackingId", "type": "string"},
      {"name": "status", "type": "uint8"},
      {"name": "notes", "type": "string"}
    ]
  }
]`

// Client talks to the shipment contract. A Client without a contract address
// stays unbound and answers every call with ledger.ErrUnavailable.
type Client struct {
	rpc      *rpc.Client
	eth      *ethclient.Client
	abi      abi.ABI
	address  common.Address
	contract *bind.BoundContract
	cfg      config.LedgerConfig
}

// Dial connects to the node and binds the contract. It fails when the ABI or
// a non-empty contract address cannot be turned into a binding.
func Dial(ctx context.Context, cfg config.LedgerConfig) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(shipmentABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse shipment contract ABI")
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial ledger node %s", cfg.RPCURL)
	}

	c := &Client{
		rpc: rpcClient,
		eth: ethclient.NewClient(rpcClient),
		abi: parsed,
		cfg: cfg,
	}

	if cfg.ContractAddress == "" {
		log.Warn().Msg("Ledger contract address not configured, ledger calls will report unavailable")
		return c, nil
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		rpcClient.Close()
		return nil, errors.Errorf("invalid ledger contract address %q", cfg.ContractAddress)
	}

	c.address = common.HexToAddress(cfg.ContractAddress)
	c.contract = bind.NewBoundContract(c.address, parsed, c.eth, c.eth, c.eth)

	log.Info().Str("contract", c.address.Hex()).Str("rpc_url", cfg.RPCURL).Msg("Shipment contract initialized")

	return c, nil
}

// Bound reports whether a contract binding exists.
func (c *Client) Bound() bool {
	return c.contract != nil
}

// Close releases the node connection
func (c *Client) Close() {
	c.rpc.Close()
}

// sendTxArgs is the eth_sendTransaction parameter object.
type sendTxArgs struct {
	From common.Address  `json:"from"`
	To   *common.Address `json:"to"`
	Gas  hexutil.Uint64  `json:"gas"`
	Data hexutil.Bytes   `json:"data"`
}

// SubmitStatusNote sends updateShipmentStatusWithNote from the given account
// with the configured gas ceiling and waits for the receipt.
func (c *Client) SubmitStatusNote(ctx context.Context, trackingID, notes, from string) (*ledger.Receipt, error) {
	if !c.Bound() {
		return nil, ledger.ErrUnavailable
	}

	deadline := time.Now().Add(c.cfg.SubmitTimeout)
	sendCtx := ctx
	if c.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	input, err := c.abi.Pack(methodUpdateStatusWithNote, trackingID, notes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack status note call")
	}

	args := sendTxArgs{
		From: common.HexToAddress(from),
		To:   &c.address,
		Gas:  hexutil.Uint64(c.cfg.GasLimit),
		Data: input,
	}

	var hash common.Hash
	if err := c.rpc.CallContext(sendCtx, &hash, "eth_sendTransaction", args); err != nil {
		return nil, revertError(err)
	}

	log.Debug().Str("tx_hash", hash.Hex()).Str("tracking_id", trackingID).Msg("Status note transaction sent")

	// The node has accepted the transaction; it is mined whether or not the
	// caller is still waiting, so only the submit deadline ends the wait.
	waitCtx := context.WithoutCancel(ctx)
	if c.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(waitCtx, deadline)
		defer cancel()
	}

	receipt, err := c.waitMined(waitCtx, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "awaiting receipt for transaction %s", hash.Hex())
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return nil, errors.New("execution reverted")
	}

	return &ledger.Receipt{
		TransactionHash: receipt.TxHash.Hex(),
		BlockNumber:     blockNumber(receipt),
		GasUsed:         receipt.GasUsed,
	}, nil
}

// waitMined polls for the receipt the same way bind.WaitMined does, keyed by
// hash because the node built the transaction.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	interval := c.cfg.ReceiptPollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, revertError(err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FetchDetails calls getShipmentDetails.
func (c *Client) FetchDetails(ctx context.Context, trackingID string) (*ledger.Record, error) {
	if !c.Bound() {
		return nil, ledger.ErrUnavailable
	}

	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodGetShipmentDetails, trackingID); err != nil {
		return nil, revertError(err)
	}

	return recordFromOutputs(out)
}

func recordFromOutputs(out []interface{}) (*ledger.Record, error) {
	if len(out) != 6 {
		return nil, errors.Errorf("unexpected getShipmentDetails output length %d", len(out))
	}

	medicineID, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected medicineId type %T", out[0])
	}
	sender, ok := out[1].(common.Address)
	if !ok {
		return nil, errors.Errorf("unexpected sender type %T", out[1])
	}
	receiver, ok := out[2].(common.Address)
	if !ok {
		return nil, errors.Errorf("unexpected receiver type %T", out[2])
	}
	trackingID, ok := out[3].(string)
	if !ok {
		return nil, errors.Errorf("unexpected trackingId type %T", out[3])
	}
	status, ok := out[4].(uint8)
	if !ok {
		return nil, errors.Errorf("unexpected status type %T", out[4])
	}
	notes, ok := out[5].(string)
	if !ok {
		return nil, errors.Errorf("unexpected notes type %T", out[5])
	}

	return &ledger.Record{
		MedicineID: medicineID,
		Sender:     sender.Hex(),
		Receiver:   receiver.Hex(),
		TrackingID: trackingID,
		StatusCode: int(status),
		Notes:      notes,
	}, nil
}

func blockNumber(receipt *types.Receipt) uint64 {
	if receipt.BlockNumber == nil {
		return 0
	}
	return receipt.BlockNumber.Uint64()
}

// revertError surfaces an ABI encoded revert reason carried in the error
// data when the node left it out of the message.
func revertError(err error) error {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) || strings.Contains(err.Error(), "revert ") {
		return err
	}

	encoded, ok := dataErr.ErrorData().(string)
	if !ok {
		return err
	}

	data, decodeErr := hexutil.Decode(encoded)
	if decodeErr != nil {
		return err
	}

	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return err
	}

	return errors.Errorf("execution reverted: %s", reason)
}
