package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"datamask/internal/config"
	"datamask/internal/models"
)

//go:embed VideoStorage.abi.json
var videoStorageABI string

// EthProvider is a WalletProvider backed by a JSON-RPC node and a local keystore.
type EthProvider struct {
	client   *ethclient.Client
	keystore *keystore.KeyStore
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	account  string
	password string
}

// NewEthProvider dials the node. An empty RPC URL means no wallet is configured
// and yields ErrProviderNotFound.
func NewEthProvider(ctx context.Context, cfg config.LedgerConfig) (*EthProvider, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, ErrProviderNotFound
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(videoStorageABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(dialCtx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}
	var ks *keystore.KeyStore
	if cfg.KeystoreDir != "" {
		ks = keystore.NewKeyStore(cfg.KeystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
	}
	return &EthProvider{
		client:   client,
		keystore: ks,
		abi:      parsed,
		address:  common.HexToAddress(cfg.ContractAddress),
		chainID:  chainID,
		account:  cfg.Account,
		password: cfg.Passphrase,
	}, nil
}

// RequestAccounts lists keystore accounts, the configured one first.
func (p *EthProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if p.keystore == nil {
		return nil, errors.New("no keystore configured")
	}
	var (
		preferred []common.Address
		rest      []common.Address
	)
	for _, acc := range p.keystore.Accounts() {
		if p.account != "" && strings.EqualFold(acc.Address.Hex(), p.account) {
			preferred = append(preferred, acc.Address)
			continue
		}
		rest = append(rest, acc.Address)
	}
	if p.account != "" && len(preferred) == 0 {
		return nil, fmt.Errorf("account %s not in keystore", p.account)
	}
	return append(preferred, rest...), nil
}

// Signer unlocks the account and returns transact options for it.
func (p *EthProvider) Signer(ctx context.Context, account common.Address) (*bind.TransactOpts, error) {
	if p.keystore == nil {
		return nil, errors.New("no keystore configured")
	}
	acc, err := p.keystore.Find(accounts.Account{Address: account})
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if err := p.keystore.Unlock(acc, p.password); err != nil {
		return nil, fmt.Errorf("unlock account: %w", err)
	}
	opts, err := bind.NewKeyStoreTransactorWithChainID(p.keystore, acc, p.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// Contract binds the record contract at the configured address.
func (p *EthProvider) Contract(ctx context.Context) (RecordContract, error) {
	code, err := p.client.CodeAt(ctx, p.address, nil)
	if err != nil {
		return nil, fmt.Errorf("code at %s: %w", p.address.Hex(), err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("no contract deployed at %s", p.address.Hex())
	}
	return &boundRecords{
		contract: bind.NewBoundContract(p.address, p.abi, p.client, p.client, p.client),
		backend:  p.client,
	}, nil
}

// WatchAccounts calls onChange whenever a keystore wallet arrives or is dropped.
func (p *EthProvider) WatchAccounts(ctx context.Context, onChange func()) error {
	if p.keystore == nil {
		return nil
	}
	events := make(chan accounts.WalletEvent, 8)
	sub := p.keystore.Subscribe(events)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Err():
				return
			case ev := <-events:
				if ev.Kind == accounts.WalletArrived || ev.Kind == accounts.WalletDropped {
					onChange()
				}
			}
		}
	}()
	return nil
}

// Close releases the RPC connection.
func (p *EthProvider) Close() {
	p.client.Close()
}

type boundRecords struct {
	contract *bind.BoundContract
	backend  bind.DeployBackend
}

// contractVideo matches the tuple returned by getUserVideos.
type contractVideo struct {
	VideoHash string
	Result    string
	Timestamp *big.Int
}

func (b *boundRecords) AddVideo(opts *bind.TransactOpts, videoHash, result string) (*types.Transaction, error) {
	return b.contract.Transact(opts, "addVideo", videoHash, result)
}

func (b *boundRecords) GetUserVideos(opts *bind.CallOpts, user common.Address) ([]models.LedgerRecord, error) {
	var out []interface{}
	if err := b.contract.Call(opts, &out, "getUserVideos", user); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return []models.LedgerRecord{}, nil
	}
	videos := *abi.ConvertType(out[0], new([]contractVideo)).(*[]contractVideo)
	records := make([]models.LedgerRecord, 0, len(videos))
	for _, v := range videos {
		rec := models.LedgerRecord{ContentHash: v.VideoHash, Result: v.Result}
		if v.Timestamp != nil {
			rec.Timestamp = time.Unix(v.Timestamp.Int64(), 0).UTC()
		}
		records = append(records, rec)
	}
	return records, nil
}

func (b *boundRecords) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, b.backend, tx)
}
