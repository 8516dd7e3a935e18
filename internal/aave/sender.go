package aave

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChainClient is the RPC surface the sender and reads need; *ethclient.Client satisfies it.
type ChainClient interface {
	ethereum.ContractCaller
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxSender submits contract calls from one account. Send returns the hash of the
// signed transaction even when broadcasting fails, so callers can look it up later.
type TxSender interface {
	From() common.Address
	Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// RevertError is a call the chain refused during gas estimation.
type RevertError struct {
	Err error
}

func (e *RevertError) Error() string { return "execution reverted: " + e.Err.Error() }

func (e *RevertError) Unwrap() error { return e.Err }

type EthSender struct {
	client        ChainClient
	key           *ecdsa.PrivateKey
	from          common.Address
	chainID       *big.Int
	gasMultiplier float64
	pollInterval  time.Duration

	mu sync.Mutex
}

func NewEthSender(client ChainClient, hexKey string, chainID int64, gasMultiplier float64, pollInterval time.Duration) (*EthSender, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, err
	}
	if gasMultiplier < 1 {
		gasMultiplier = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &EthSender{
		client:        client,
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		chainID:       big.NewInt(chainID),
		gasMultiplier: gasMultiplier,
		pollInterval:  pollInterval,
	}, nil
}

func (s *EthSender) From() common.Address { return s.from }

func (s *EthSender) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	// One in-flight nonce at a time.
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &to, Value: value, Data: data})
	if err != nil {
		if strings.Contains(err.Error(), "execution reverted") {
			return common.Hash{}, &RevertError{Err: err}
		}
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas = uint64(float64(gas) * s.gasMultiplier)

	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas tip: %w", err)
	}
	head, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return signed.Hash(), err
	}
	return signed.Hash(), nil
}

// WaitMined polls for the receipt until ctx ends.
func (s *EthSender) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
