package entrygate

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const entryFeeABIJSON = `[
	{"inputs":[{"internalType":"string","name":"txRef","type":"string"}],"name":"getAgentByTxRef","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"agent","type":"address"}],"name":"hasAgentPaid","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

// ChainVerifier checks entry payment against an EntryFeeContract deployed
// on an EVM chain: the transaction reference must resolve to the caller's
// wallet address, and that address must have hasAgentPaid == true.
type ChainVerifier struct {
	client   *ethclient.Client
	contract common.Address
	abi      abi.ABI
}

// NewChainVerifier dials rpcURL and binds to the entry-fee contract at
// contractAddress.
func NewChainVerifier(rpcURL, contractAddress string) (*ChainVerifier, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(entryFeeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse entry fee abi: %w", err)
	}
	return &ChainVerifier{
		client:   client,
		contract: common.HexToAddress(contractAddress),
		abi:      parsed,
	}, nil
}

// VerifyPaid calls getAgentByTxRef then hasAgentPaid, matching
// original_source/app/chain/entry_fee.py::_verify_entry_sync.
func (c *ChainVerifier) VerifyPaid(ctx context.Context, txRef, walletAddress string) (bool, error) {
	if walletAddress == "" {
		return false, ErrMissingAgentAddress{}
	}
	bound := bind.NewBoundContract(c.contract, c.abi, c.client, c.client, c.client)
	want := common.HexToAddress(walletAddress)

	var onChainOut []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &onChainOut, "getAgentByTxRef", txRef); err != nil {
		return false, fmt.Errorf("getAgentByTxRef: %w", err)
	}
	onChainAgent, ok := onChainOut[0].(common.Address)
	if !ok || !strings.EqualFold(onChainAgent.Hex(), want.Hex()) {
		return false, nil
	}

	var paidOut []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &paidOut, "hasAgentPaid", want); err != nil {
		return false, fmt.Errorf("hasAgentPaid: %w", err)
	}
	paid, _ := paidOut[0].(bool)
	return paid, nil
}

// Close releases the underlying RPC connection.
func (c *ChainVerifier) Close() {
	c.client.Close()
}
