// Package deploy signs and broadcasts contract creation transactions and
// deploys upgradeable proxies on top of them.
package deploy

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	DefaultGasMultiplierPct = 120
	DefaultPollInterval     = 2 * time.Second
)

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

// EthCli is the subset of ethclient.Client used for deployments.
type EthCli interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Sender signs transactions with a single key and waits for them to be mined.
type Sender struct {
	cli     EthCli
	privKey *ecdsa.PrivateKey
	logger  *zap.Logger

	From             common.Address
	ChainID          *big.Int
	GasMultiplierPct uint64
	PollInterval     time.Duration
}

// New creates a Sender for chainID.
func New(cli EthCli, privateKey *ecdsa.PrivateKey, chainID *big.Int, logger *zap.Logger) *Sender {
	return &Sender{
		cli:              cli,
		privKey:          privateKey,
		logger:           logger,
		From:             crypto.PubkeyToAddress(privateKey.PublicKey),
		ChainID:          new(big.Int).Set(chainID),
		GasMultiplierPct: DefaultGasMultiplierPct,
		PollInterval:     DefaultPollInterval,
	}
}

// VerifyChain fails if the node serves a different chain than configured.
func (s *Sender) VerifyChain(ctx context.Context) error {
	remote, err := s.cli.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	if remote.Cmp(s.ChainID) != 0 {
		return fmt.Errorf("node chain ID %s does not match configured chain ID %s", remote, s.ChainID)
	}
	return nil
}

// Send signs and broadcasts a transaction. A nil to creates a contract.
func (s *Sender) Send(ctx context.Context, to *common.Address, data []byte, value *big.Int) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := s.cli.PendingNonceAt(ctx, s.From)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasLimit, err := s.cli.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.From,
		To:    to,
		Data:  data,
		Value: value,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gasLimit = gasLimit * s.GasMultiplierPct / 100

	txData, err := s.feeFields(ctx, nonce, to, data, value, gasLimit)
	if err != nil {
		return nil, err
	}

	signedTx, err := types.SignNewTx(s.privKey, types.LatestSignerForChainID(s.ChainID), txData)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.cli.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	s.logger.Info("Transaction sent",
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.Stringer("to", toField{to}),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit),
		zap.Uint8("tx_type", signedTx.Type()))

	return signedTx, nil
}

// feeFields picks an EIP-1559 transaction when the chain reports a base fee
// and a legacy one otherwise.
func (s *Sender) feeFields(ctx context.Context, nonce uint64, to *common.Address, data []byte, value *big.Int, gasLimit uint64) (types.TxData, error) {
	head, err := s.cli.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	if head.BaseFee != nil {
		tip, err := s.cli.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas tip cap: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		return &types.DynamicFeeTx{
			ChainID:   s.ChainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        to,
			Value:     value,
			Data:      data,
		}, nil
	}

	gasPrice, err := s.cli.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	return &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       to,
		Value:    value,
		Data:     data,
	}, nil
}

// Deploy sends a contract creation transaction and returns the address the
// contract will have once mined.
func (s *Sender) Deploy(ctx context.Context, data []byte) (*types.Transaction, common.Address, error) {
	tx, err := s.Send(ctx, nil, data, nil)
	if err != nil {
		return nil, common.Address{}, err
	}
	return tx, crypto.CreateAddress(s.From, tx.Nonce()), nil
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
func (s *Sender) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.cli.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrReverted, txHash.Hex())
			}
			s.logger.Info("Transaction confirmed",
				zap.String("tx_hash", txHash.Hex()),
				zap.Uint64("gas_used", receipt.GasUsed),
				zap.Stringer("block_number", receipt.BlockNumber))
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("failed to get receipt for %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for transaction %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// HasCode reports whether a contract exists at address.
func (s *Sender) HasCode(ctx context.Context, address common.Address) (bool, error) {
	code, err := s.cli.CodeAt(ctx, address, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get code at %s: %w", address.Hex(), err)
	}
	return len(code) > 0, nil
}

// Call runs a read-only call against the latest block.
func (s *Sender) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return s.cli.CallContract(ctx, ethereum.CallMsg{From: s.From, To: &to, Data: data}, nil)
}

type toField struct{ to *common.Address }

func (f toField) String() string {
	if f.to == nil {
		return "contract creation"
	}
	return f.to.Hex()
}
