package ledger

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datamask/internal/config"
	"datamask/internal/models"
)

var testAccount = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

type fakeContract struct {
	mu     sync.Mutex
	stored map[common.Address][]models.LedgerRecord
	status uint64
	addErr error
	nonce  uint64
}

func (f *fakeContract) AddVideo(opts *bind.TransactOpts, videoHash, result string) (*types.Transaction, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		f.stored = make(map[common.Address][]models.LedgerRecord)
	}
	f.stored[opts.From] = append(f.stored[opts.From], models.LedgerRecord{ContentHash: videoHash, Result: result, Timestamp: time.Unix(1700000000, 0).UTC()})
	f.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.nonce, GasPrice: big.NewInt(1), Gas: 21000}), nil
}

func (f *fakeContract) GetUserVideos(opts *bind.CallOpts, user common.Address) ([]models.LedgerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[user], nil
}

func (f *fakeContract) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return &types.Receipt{Status: f.status, BlockNumber: big.NewInt(7), TxHash: tx.Hash()}, nil
}

type fakeProvider struct {
	contract *fakeContract
	accounts []common.Address
	requests atomic.Int32
	onChange func()
}

func (p *fakeProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	p.requests.Add(1)
	time.Sleep(time.Millisecond)
	return p.accounts, nil
}

func (p *fakeProvider) Signer(ctx context.Context, account common.Address) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{From: account}, nil
}

func (p *fakeProvider) Contract(ctx context.Context) (RecordContract, error) {
	return p.contract, nil
}

func (p *fakeProvider) WatchAccounts(ctx context.Context, onChange func()) error {
	p.onChange = onChange
	return nil
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		contract: &fakeContract{status: types.ReceiptStatusSuccessful},
		accounts: []common.Address{testAccount},
	}
}

func TestContentHashIsKeccak256(t *testing.T) {
	assert.Equal(t, "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8", ContentHash([]byte("hello")))
}

func TestNoProvider(t *testing.T) {
	client := NewClient(nil, nil)
	_, err := client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.Equal(t, "wallet provider not found", err.Error())

	_, err = client.ListMyRecords(context.Background())
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.NoError(t, client.Watch(context.Background()))
}

func TestStoreRecordRequiresFile(t *testing.T) {
	client := NewClient(newFakeProvider(), nil)
	_, err := client.StoreRecord(context.Background(), nil, "clean")
	assert.ErrorIs(t, err, ErrNoFile)
	_, err = client.StoreRecord(context.Background(), strings.NewReader(""), "clean")
	assert.ErrorIs(t, err, ErrNoFile)
	assert.Equal(t, "no file provided", ErrNoFile.Error())
}

func TestStoreAndListRecords(t *testing.T) {
	provider := newFakeProvider()
	client := NewClient(provider, nil)
	ctx := context.Background()

	records, err := client.ListMyRecords(ctx)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	receipt, err := client.StoreRecord(ctx, bytes.NewReader([]byte("hello")), "2 detections")
	require.NoError(t, err)
	assert.Equal(t, ContentHash([]byte("hello")), receipt.ContentHash)
	assert.Equal(t, testAccount.Hex(), receipt.Account)
	assert.Equal(t, uint64(7), receipt.BlockNumber)
	assert.NotEmpty(t, receipt.TxHash)

	records, err = client.ListMyRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, receipt.ContentHash, records[0].ContentHash)
	assert.Equal(t, "2 detections", records[0].Result)
}

func TestStoreRecordReverted(t *testing.T) {
	provider := newFakeProvider()
	provider.contract.status = types.ReceiptStatusFailed
	client := NewClient(provider, nil)

	_, err := client.StoreRecord(context.Background(), strings.NewReader("x"), "r")
	assert.ErrorIs(t, err, ErrReverted)

	provider.contract.addErr = errors.New("insufficient funds")
	_, err = client.StoreRecord(context.Background(), strings.NewReader("x"), "r")
	assert.ErrorContains(t, err, "insufficient funds")
}

func TestConnectOnceUnderConcurrency(t *testing.T) {
	provider := newFakeProvider()
	client := NewClient(provider, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Connect(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), provider.requests.Load())

	account, ok := client.Account()
	assert.True(t, ok)
	assert.Equal(t, testAccount.Hex(), account)
}

func TestInvalidateAndWatch(t *testing.T) {
	provider := newFakeProvider()
	client := NewClient(provider, nil)
	ctx := context.Background()

	_, err := client.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Watch(ctx))
	require.NotNil(t, provider.onChange)

	provider.onChange()
	_, ok := client.Account()
	assert.False(t, ok)

	_, err = client.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.requests.Load())

	client.Invalidate()
	client.Invalidate()
	_, ok = client.Account()
	assert.False(t, ok)
}

func TestNoAccounts(t *testing.T) {
	provider := newFakeProvider()
	provider.accounts = nil
	_, err := NewClient(provider, nil).Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestEthProviderWithoutRPC(t *testing.T) {
	_, err := NewEthProvider(context.Background(), config.LedgerConfig{})
	assert.ErrorIs(t, err, ErrProviderNotFound)

	_, err = NewEthProvider(context.Background(), config.LedgerConfig{RPCURL: "http://127.0.0.1:1", ContractAddress: "nope"})
	assert.ErrorContains(t, err, "invalid contract address")
}

func TestEmbeddedABI(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(videoStorageABI))
	require.NoError(t, err)
	require.Contains(t, parsed.Methods, "addVideo")
	require.Contains(t, parsed.Methods, "getUserVideos")
	assert.Len(t, parsed.Methods["addVideo"].Inputs, 2)
	assert.True(t, parsed.Methods["getUserVideos"].IsConstant())
}
