package deploy_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/silesiacoin/starterdeploy/deploy"
	"github.com/silesiacoin/starterdeploy/deploy/mocks"
)

const (
	privateKey = "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19"
	chain      = 220720
)

var (
	chainID    = big.NewInt(chain)
	privKey, _ = crypto.HexToECDSA(privateKey)
	from       = crypto.PubkeyToAddress(privKey.PublicKey)
	gwei       = big.NewInt(1_000_000_000)
)

func getSender(t *testing.T, c deploy.EthCli) *deploy.Sender {
	s := deploy.New(c, privKey, chainID, zaptest.NewLogger(t))
	s.PollInterval = time.Millisecond
	return s
}

func TestSend(t *testing.T) {
	to := common.HexToAddress("0xe86Ffce704C00556dF42e31F14CEd095390A08eF")

	t.Run("legacy when head has no base fee", func(t *testing.T) {
		// Given
		cli := &mocks.EthCli{}
		cli.On("PendingNonceAt", mock.Anything, from).Return(uint64(3), nil)
		cli.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(21000), nil)
		cli.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{Number: big.NewInt(1)}, nil)
		cli.On("SuggestGasPrice", mock.Anything).Return(gwei, nil)
		cli.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)

		s := getSender(t, cli)

		// When
		tx, err := s.Send(context.Background(), &to, []byte{0x01}, big.NewInt(5))

		// Then
		require.NoError(t, err)
		assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
		assert.Equal(t, uint64(3), tx.Nonce())
		assert.Equal(t, uint64(25200), tx.Gas())
		assert.Equal(t, gwei, tx.GasPrice())
		assert.Equal(t, &to, tx.To())
		assert.Equal(t, big.NewInt(5), tx.Value())

		signer, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
		require.NoError(t, err)
		assert.Equal(t, from, signer)

		cli.AssertNotCalled(t, "SuggestGasTipCap", mock.Anything)
		cli.AssertNumberOfCalls(t, "SendTransaction", 1)
	})

	t.Run("dynamic fee when head has base fee", func(t *testing.T) {
		// Given
		cli := &mocks.EthCli{}
		cli.On("PendingNonceAt", mock.Anything, from).Return(uint64(0), nil)
		cli.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(100000), nil)
		cli.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).
			Return(&types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(10_000_000_000)}, nil)
		cli.On("SuggestGasTipCap", mock.Anything).Return(gwei, nil)
		cli.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)

		s := getSender(t, cli)
		s.GasMultiplierPct = 150

		// When
		tx, err := s.Send(context.Background(), nil, []byte{0x60, 0x80}, nil)

		// Then
		require.NoError(t, err)
		assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
		assert.Equal(t, uint64(150000), tx.Gas())
		assert.Equal(t, gwei, tx.GasTipCap())
		assert.Equal(t, big.NewInt(21_000_000_000), tx.GasFeeCap())
		assert.Equal(t, chainID, tx.ChainId())
		assert.Nil(t, tx.To())

		cli.AssertNotCalled(t, "SuggestGasPrice", mock.Anything)
	})

	t.Run("estimate failure is returned before signing", func(t *testing.T) {
		cli := &mocks.EthCli{}
		cli.On("PendingNonceAt", mock.Anything, from).Return(uint64(0), nil)
		cli.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(0), errors.New("execution reverted"))

		_, err := getSender(t, cli).Send(context.Background(), &to, nil, nil)

		assert.ErrorContains(t, err, "failed to estimate gas: execution reverted")
		cli.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
	})
}

func TestDeployAddress(t *testing.T) {
	cli := &mocks.EthCli{}
	cli.On("PendingNonceAt", mock.Anything, from).Return(uint64(7), nil)
	cli.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(21000), nil)
	cli.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{Number: big.NewInt(1)}, nil)
	cli.On("SuggestGasPrice", mock.Anything).Return(gwei, nil)
	cli.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)

	tx, addr, err := getSender(t, cli).Deploy(context.Background(), []byte{0x60})

	require.NoError(t, err)
	assert.Nil(t, tx.To())
	assert.Equal(t, crypto.CreateAddress(from, 7), addr)
}

func TestWaitForReceipt(t *testing.T) {
	hash := common.HexToHash("0x0e670ec64341771606e55d6b4ca35a1a6b75ee3d5145a99d05921026d1527331")

	t.Run("polls until mined", func(t *testing.T) {
		// Given
		cli := mocks.NewEthCli(t)
		cli.On("TransactionReceipt", mock.Anything, hash).Return(nil, ethereum.NotFound).Twice()
		cli.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			TxHash:      hash,
			GasUsed:     21000,
			BlockNumber: big.NewInt(12),
		}, nil).Once()

		// When
		receipt, err := getSender(t, cli).WaitForReceipt(context.Background(), hash)

		// Then
		require.NoError(t, err)
		assert.Equal(t, uint64(21000), receipt.GasUsed)
		cli.AssertNumberOfCalls(t, "TransactionReceipt", 3)
	})

	t.Run("reverted", func(t *testing.T) {
		cli := mocks.NewEthCli(t)
		cli.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{
			Status:      types.ReceiptStatusFailed,
			TxHash:      hash,
			BlockNumber: big.NewInt(12),
		}, nil).Once()

		receipt, err := getSender(t, cli).WaitForReceipt(context.Background(), hash)

		assert.ErrorIs(t, err, deploy.ErrReverted)
		assert.NotNil(t, receipt)
	})

	t.Run("node error stops polling", func(t *testing.T) {
		cli := mocks.NewEthCli(t)
		cli.On("TransactionReceipt", mock.Anything, hash).Return(nil, errors.New("connection refused")).Once()

		_, err := getSender(t, cli).WaitForReceipt(context.Background(), hash)

		assert.ErrorContains(t, err, "connection refused")
		cli.AssertNumberOfCalls(t, "TransactionReceipt", 1)
	})

	t.Run("deadline", func(t *testing.T) {
		cli := mocks.NewEthCli(t)
		cli.On("TransactionReceipt", mock.Anything, hash).Return(nil, ethereum.NotFound)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := getSender(t, cli).WaitForReceipt(ctx, hash)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestVerifyChain(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		cli := mocks.NewEthCli(t)
		cli.On("ChainID", mock.Anything).Return(big.NewInt(chain), nil)

		assert.NoError(t, getSender(t, cli).VerifyChain(context.Background()))
	})

	t.Run("mismatch", func(t *testing.T) {
		cli := mocks.NewEthCli(t)
		cli.On("ChainID", mock.Anything).Return(big.NewInt(1), nil)

		err := getSender(t, cli).VerifyChain(context.Background())
		assert.ErrorContains(t, err, "node chain ID 1 does not match configured chain ID 220720")
	})
}

func TestHasCode(t *testing.T) {
	addr := common.HexToAddress("0x01")
	cli := mocks.NewEthCli(t)
	cli.On("CodeAt", mock.Anything, addr, (*big.Int)(nil)).Return([]byte{}, nil).Once()
	cli.On("CodeAt", mock.Anything, addr, (*big.Int)(nil)).Return([]byte{0x60}, nil).Once()

	s := getSender(t, cli)

	live, err := s.HasCode(context.Background(), addr)
	require.NoError(t, err)
	assert.False(t, live)

	live, err = s.HasCode(context.Background(), addr)
	require.NoError(t, err)
	assert.True(t, live)
}
