package anchorsink

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const stateAnchorABIJSON = `[
	{"inputs":[{"internalType":"uint256","name":"tick","type":"uint256"},{"internalType":"bytes32","name":"stateHash","type":"bytes32"},{"internalType":"uint256","name":"aliveAgents","type":"uint256"}],"name":"anchorState","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// ChainAnchorer submits a signed anchorState transaction to the
// StateAnchorContract, matching
// original_source/app/chain/state_anchor.py::StateAnchorService.anchor_state.
type ChainAnchorer struct {
	client     *ethclient.Client
	contract   common.Address
	abi        abi.ABI
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewChainAnchorer dials rpcURL, binds to the anchor contract, and derives
// the oracle account from privateKeyHex (no "0x" prefix required).
func NewChainAnchorer(ctx context.Context, rpcURL, contractAddress, privateKeyHex string) (*ChainAnchorer, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(stateAnchorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse anchor abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse oracle key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	return &ChainAnchorer{
		client:     client,
		contract:   common.HexToAddress(contractAddress),
		abi:        parsed,
		privateKey: key,
		address:    address,
		chainID:    chainID,
	}, nil
}

// AnchorState signs and submits one anchorState(tick, stateHash,
// aliveAgents) transaction and waits for it to be mined.
func (c *ChainAnchorer) AnchorState(ctx context.Context, tick uint64, stateHash string, aliveAgents int) error {
	hashBytes, err := hex.DecodeString(strings.TrimPrefix(stateHash, "0x"))
	if err != nil {
		return fmt.Errorf("state hash must be hex: %w", err)
	}
	if len(hashBytes) != 32 {
		return fmt.Errorf("state hash must be 32 bytes, got %d", len(hashBytes))
	}
	var hashArr [32]byte
	copy(hashArr[:], hashBytes)

	opts, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainID)
	if err != nil {
		return fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	bound := bind.NewBoundContract(c.contract, c.abi, c.client, c.client, c.client)
	tx, err := bound.Transact(opts, "anchorState", new(big.Int).SetUint64(tick), hashArr, big.NewInt(int64(aliveAgents)))
	if err != nil {
		return fmt.Errorf("submit anchorState: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return fmt.Errorf("wait for anchor receipt: %w", err)
	}
	if receipt.Status != 1 {
		return fmt.Errorf("anchorState transaction reverted")
	}
	return nil
}

// Close releases the underlying RPC connection.
func (c *ChainAnchorer) Close() {
	c.client.Close()
}
