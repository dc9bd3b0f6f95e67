// Package ledger records document content hashes and their results on an EVM
// contract through an injected wallet provider.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"datamask/internal/logging"
	"datamask/internal/models"
)

var (
	ErrProviderNotFound = errors.New("wallet provider not found")
	ErrNoFile           = errors.New("no file provided")
	ErrNoAccounts       = errors.New("wallet provider returned no accounts")
	ErrReverted         = errors.New("transaction reverted")
)

// WalletProvider supplies accounts, a signer and the record contract.
type WalletProvider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	Signer(ctx context.Context, account common.Address) (*bind.TransactOpts, error)
	Contract(ctx context.Context) (RecordContract, error)
}

// AccountWatcher is implemented by providers that can report account changes.
type AccountWatcher interface {
	WatchAccounts(ctx context.Context, onChange func()) error
}

// RecordContract is the on-chain entry point.
type RecordContract interface {
	AddVideo(opts *bind.TransactOpts, videoHash, result string) (*types.Transaction, error)
	GetUserVideos(opts *bind.CallOpts, user common.Address) ([]models.LedgerRecord, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Client holds the connected account and contract handle. It connects lazily on
// first use and can be invalidated at any time.
type Client struct {
	provider WalletProvider
	logger   *zap.Logger

	mu       sync.Mutex
	account  common.Address
	signer   *bind.TransactOpts
	contract RecordContract
}

// NewClient wraps provider, which may be nil when no wallet is configured.
func NewClient(provider WalletProvider, logger *zap.Logger) *Client {
	return &Client{provider: provider, logger: logging.Or(logger)}
}

// Connect requests accounts and binds the contract. Concurrent first calls
// initialize once.
func (c *Client) Connect(ctx context.Context) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return common.Address{}, err
	}
	return c.account, nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.contract != nil {
		return nil
	}
	if c.provider == nil {
		return ErrProviderNotFound
	}
	accounts, err := c.provider.RequestAccounts(ctx)
	if err != nil {
		c.logger.Error("request accounts", zap.Error(err))
		return fmt.Errorf("request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return ErrNoAccounts
	}
	signer, err := c.provider.Signer(ctx, accounts[0])
	if err != nil {
		c.logger.Error("build signer", zap.Error(err))
		return fmt.Errorf("signer: %w", err)
	}
	contract, err := c.provider.Contract(ctx)
	if err != nil {
		c.logger.Error("bind contract", zap.Error(err))
		return fmt.Errorf("bind contract: %w", err)
	}
	c.account, c.signer, c.contract = accounts[0], signer, contract
	c.logger.Info("ledger connected", zap.String("account", c.account.Hex()))
	return nil
}

// session returns a consistent snapshot of the connection.
func (c *Client) session(ctx context.Context) (common.Address, *bind.TransactOpts, RecordContract, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return common.Address{}, nil, nil, err
	}
	return c.account, c.signer, c.contract, nil
}

// ContentHash is the Keccak-256 of data as 0x-prefixed hex.
func ContentHash(data []byte) string {
	return crypto.Keccak256Hash(data).Hex()
}

// StoreRecord hashes the whole file and stores (hash, result) on chain, waiting
// for the transaction to be mined.
func (c *Client) StoreRecord(ctx context.Context, file io.Reader, result string) (*models.LedgerReceipt, error) {
	if file == nil {
		return nil, ErrNoFile
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoFile
	}

	account, signer, contract, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	hash := ContentHash(data)

	opts := *signer
	opts.Context = ctx
	tx, err := contract.AddVideo(&opts, hash, result)
	if err != nil {
		c.logger.Error("store record", zap.String("hash", hash), zap.Error(err))
		return nil, fmt.Errorf("add record: %w", err)
	}
	receipt, err := contract.WaitMined(ctx, tx)
	if err != nil {
		c.logger.Error("wait for receipt", zap.String("tx", tx.Hash().Hex()), zap.Error(err))
		return nil, fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}

	out := &models.LedgerReceipt{
		TxHash:      tx.Hash().Hex(),
		ContentHash: hash,
		Account:     account.Hex(),
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	c.logger.Info("record stored", zap.String("hash", hash), zap.String("tx", out.TxHash))
	return out, nil
}

// ListMyRecords returns the connected account's records; never nil.
func (c *Client) ListMyRecords(ctx context.Context) ([]models.LedgerRecord, error) {
	account, _, contract, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	records, err := contract.GetUserVideos(&bind.CallOpts{Context: ctx, From: account}, account)
	if err != nil {
		c.logger.Error("list records", zap.String("account", account.Hex()), zap.Error(err))
		return nil, fmt.Errorf("get records: %w", err)
	}
	if records == nil {
		records = []models.LedgerRecord{}
	}
	return records, nil
}

// Account reports the connected account, if any.
func (c *Client) Account() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contract == nil {
		return "", false
	}
	return c.account.Hex(), true
}

// Invalidate drops the account and contract handle; the next call reconnects.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = common.Address{}
	c.signer = nil
	c.contract = nil
}

// Watch invalidates the client whenever the provider reports an account change.
// Providers that cannot watch are ignored.
func (c *Client) Watch(ctx context.Context) error {
	watcher, ok := c.provider.(AccountWatcher)
	if !ok {
		return nil
	}
	return watcher.WatchAccounts(ctx, func() {
		c.logger.Info("wallet accounts changed")
		c.Invalidate()
	})
}
