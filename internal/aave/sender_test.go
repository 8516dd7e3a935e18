package aave

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const senderKey = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2"

type fakeClient struct {
	estimateErr   error
	sent          []*types.Transaction
	receiptMisses int
}

func (f *fakeClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1_000_000), nil }

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000)}, nil
}

func (f *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, f.estimateErr
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if f.receiptMisses > 0 {
		f.receiptMisses--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func TestEthSenderSignsDynamicFeeTx(t *testing.T) {
	client := &fakeClient{}
	s, err := NewEthSender(client, "0x"+senderKey, 42161, 1.5, time.Millisecond)
	require.NoError(t, err)

	to := common.HexToAddress("0x01")
	hash, err := s.Send(context.Background(), to, big.NewInt(5), []byte{0x01, 0x02})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(150_000), tx.Gas())
	assert.Equal(t, 0, tx.GasFeeCap().Cmp(big.NewInt(21_000_000)))

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(42161)), tx)
	require.NoError(t, err)
	assert.Equal(t, s.From(), from)
}

func TestEthSenderRevertOnEstimate(t *testing.T) {
	client := &fakeClient{estimateErr: errors.New("execution reverted: 27")}
	s, err := NewEthSender(client, senderKey, 1, 1, time.Millisecond)
	require.NoError(t, err)
	hash, err := s.Send(context.Background(), common.Address{}, nil, nil)
	var revert *RevertError
	require.ErrorAs(t, err, &revert)
	assert.Equal(t, common.Hash{}, hash)
	assert.Empty(t, client.sent)
}

func TestWaitMinedPollsUntilFound(t *testing.T) {
	client := &fakeClient{receiptMisses: 2}
	s, err := NewEthSender(client, senderKey, 1, 1, time.Millisecond)
	require.NoError(t, err)
	receipt, err := s.WaitMined(context.Background(), common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestWaitMinedHonoursContext(t *testing.T) {
	client := &fakeClient{receiptMisses: 1 << 30}
	s, err := NewEthSender(client, senderKey, 1, 1, time.Millisecond)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.WaitMined(ctx, common.Hash{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
