package nft

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"nftmint/internal/contracts"
	"nftmint/internal/wallet"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	testContract = "0x4F6494c627Fa3518aB766bA92e75b739f0858C5A"
	testAccount  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

// stubWallet is a provider offering every optional capability.
type stubWallet struct {
	*wallet.FakeProvider

	mu        sync.Mutex
	estimate  error
	sendErr   error
	sent      []ethereum.CallMsg
	receipts  map[common.Hash]*types.Receipt
	callData  map[string][]byte
	parsedABI abi.ABI
}

func newStubWallet(t *testing.T) *stubWallet {
	parsed, err := contracts.ParseABI()
	require.NoError(t, err)
	return &stubWallet{
		FakeProvider: wallet.NewFakeProvider("0x4", testAccount),
		receipts:     make(map[common.Hash]*types.Receipt),
		callData:     make(map[string][]byte),
		parsedABI:    parsed,
	}
}

func (s *stubWallet) setUint(method string, v int64) {
	out, _ := s.parsedABI.Methods[method].Outputs.Pack(big.NewInt(v))
	s.callData[method] = out
}

func (s *stubWallet) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (s *stubWallet) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, m := range s.parsedABI.Methods {
		if len(call.Data) >= 4 && string(call.Data[:4]) == string(m.ID) {
			if out, ok := s.callData[name]; ok {
				return out, nil
			}
			return nil, errors.New("execution reverted")
		}
	}
	return nil, errors.New("unknown selector")
}

func (s *stubWallet) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if s.estimate != nil {
		return 0, s.estimate
	}
	return 150_000, nil
}

func (s *stubWallet) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (s *stubWallet) SendTransaction(_ context.Context, call ethereum.CallMsg) (common.Hash, error) {
	if s.sendErr != nil {
		return common.Hash{}, s.sendErr
	}
	s.sent = append(s.sent, call)
	return common.HexToHash("0xfeed"), nil
}

// revertError mimics a JSON-RPC error carrying revert data.
type revertError struct {
	msg  string
	data string
}

func (e revertError) Error() string          { return e.msg }
func (e revertError) ErrorCode() int         { return 3 }
func (e revertError) ErrorData() interface{} { return e.data }

func bindStub(t *testing.T, w *stubWallet) *EthClient {
	binder, err := NewEthBinder(EthBinderConfig{
		Gateway:         wallet.NewGateway(w),
		ContractAddress: testContract,
		ReceiptPoll:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	c, err := binder.Bind(testAccount)
	require.NoError(t, err)
	eth, ok := c.(*EthClient)
	require.True(t, ok, "stub wallet has no log subscriptions")
	return eth
}

func TestEthClientMintSubmitsThroughWallet(t *testing.T) {
	w := newStubWallet(t)
	c := bindStub(t, w)

	pending, err := c.Mint(context.Background())
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xfeed"), pending.Hash())

	require.Len(t, w.sent, 1)
	require.Equal(t, testAccount, w.sent[0].From)
	require.Equal(t, uint64(150_000), w.sent[0].Gas)
	require.Equal(t, []byte(w.parsedABI.Methods[contracts.MethodMint].ID), w.sent[0].Data)
}

func TestEthClientMintClassifiesFailures(t *testing.T) {
	revertData := append(common.Hex2Bytes("08c379a0"), mustPackString(t, "All NFTs have been minted")...)

	cases := []struct {
		name     string
		estimate error
		send     error
		want     error
	}{
		{
			name:     "revert reason in message",
			estimate: errors.New("execution reverted: All NFTs have been minted"),
			want:     ErrSupplyExhausted,
		},
		{
			name:     "revert reason in data",
			estimate: revertError{msg: "execution reverted", data: hexutil.Encode(revertData)},
			want:     ErrSupplyExhausted,
		},
		{
			name:     "insufficient funds",
			estimate: errors.New("insufficient funds for gas * price + value"),
			want:     ErrInsufficientFunds,
		},
		{
			name: "user rejected",
			send: wallet.ErrUserRejected,
			want: wallet.ErrUserRejected,
		},
		{
			name: "anything else",
			send: errors.New("nonce too low"),
			want: ErrMintFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newStubWallet(t)
			w.estimate = tc.estimate
			w.sendErr = tc.send

			_, err := bindStub(t, w).Mint(context.Background())
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func mustPackString(t *testing.T, s string) []byte {
	strTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	out, err := abi.Arguments{{Type: strTy}}.Pack(s)
	require.NoError(t, err)
	return out
}

func TestEthClientReads(t *testing.T) {
	w := newStubWallet(t)
	w.setUint(contracts.MethodCurrentSupply, 7)
	w.setUint(contracts.MethodMaxSupply, 50)
	c := bindStub(t, w)
	ctx := context.Background()

	minted, err := c.CurrentSupply(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), minted)

	maxSupply, err := c.MaxSupply(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(50), maxSupply)

	delete(w.callData, contracts.MethodMaxSupply)
	_, err = c.MaxSupply(ctx)
	require.ErrorIs(t, err, ErrReadFailure)
}

func TestPendingTxWait(t *testing.T) {
	w := newStubWallet(t)
	c := bindStub(t, w)

	pending, err := c.Mint(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		w.mu.Lock()
		w.receipts[pending.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful}
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	receipt, err := pending.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestPendingTxWaitReverted(t *testing.T) {
	w := newStubWallet(t)
	c := bindStub(t, w)

	pending, err := c.Mint(context.Background())
	require.NoError(t, err)
	w.receipts[pending.Hash()] = &types.Receipt{Status: types.ReceiptStatusFailed}

	_, err = pending.Wait(context.Background())
	require.ErrorIs(t, err, ErrTxReverted)
}

func TestPendingTxWaitCancelled(t *testing.T) {
	w := newStubWallet(t)
	c := bindStub(t, w)

	pending, err := c.Mint(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pending.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBindRequiresSigner(t *testing.T) {
	binder, err := NewEthBinder(EthBinderConfig{
		Gateway:         wallet.NewGateway(wallet.NewFakeProvider("0x4")),
		ContractAddress: testContract,
	})
	require.NoError(t, err)

	_, err = binder.Bind(testAccount)
	require.ErrorIs(t, err, wallet.ErrProviderUnavailable)
}

func TestNewEthBinderRejectsBadAddress(t *testing.T) {
	_, err := NewEthBinder(EthBinderConfig{ContractAddress: "not-an-address"})
	require.Error(t, err)
}
