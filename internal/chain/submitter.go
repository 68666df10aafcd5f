// Package chain adapts the on-chain ledger contract behind the narrow
// domain.ChainSubmitter interface. The contract exposes a single method:
//
//	function recordPositionEvent(string positionId, string kind, string payloadJson)
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

const ledgerABI = `[{
	"name": "recordPositionEvent",
	"type": "function",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "positionId", "type": "string"},
		{"name": "kind", "type": "string"},
		{"name": "payloadJson", "type": "string"}
	],
	"outputs": []
}]`

// Config holds the parameters for the Ethereum submitter.
type Config struct {
	RPCURL          string
	PrivateKeyHex   string
	ContractAddress string
	ChainID         int64
}

// EthereumSubmitter implements domain.ChainSubmitter against a JSON-RPC
// endpoint, signing legacy transactions with a local secp256k1 key.
type EthereumSubmitter struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	from       common.Address
	contract   common.Address
	chainID    *big.Int
	abi        abi.ABI
}

// NewEthereumSubmitter dials the RPC endpoint and prepares the contract
// binding. The private key is hex-encoded, with or without a 0x prefix.
func NewEthereumSubmitter(ctx context.Context, cfg Config) (*EthereumSubmitter, error) {
	if cfg.RPCURL == "" || cfg.PrivateKeyHex == "" || cfg.ContractAddress == "" {
		return nil, fmt.Errorf("chain: rpc url, private key, and contract address are required")
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(ledgerABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: parse contract abi: %w", err)
	}

	return &EthereumSubmitter{
		client:     client,
		privateKey: pk,
		from:       ethcrypto.PubkeyToAddress(pk.PublicKey),
		contract:   common.HexToAddress(cfg.ContractAddress),
		chainID:    big.NewInt(cfg.ChainID),
		abi:        parsedABI,
	}, nil
}

// Submit records one ledger event on chain and returns the transaction hash.
func (s *EthereumSubmitter) Submit(ctx context.Context, positionID string, kind domain.LedgerEventKind, payloadJSON string) (string, error) {
	data, err := s.abi.Pack("recordPositionEvent", positionID, string(kind), payloadJSON)
	if err != nil {
		return "", fmt.Errorf("chain: pack call data: %w", err)
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return "", fmt.Errorf("chain: pending nonce: %w", err)
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: suggest gas price: %w", err)
	}

	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.from,
		To:   &s.contract,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("chain: estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, s.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("chain: sign transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("chain: send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// From returns the submitter's sending address.
func (s *EthereumSubmitter) From() common.Address {
	return s.from
}

// Close releases the underlying RPC client.
func (s *EthereumSubmitter) Close() {
	s.client.Close()
}
