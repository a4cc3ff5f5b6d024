package external

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/TrustLayer-Labs/credentials-api/models"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// TrustLayerHookABI covers the subset of the hook contract the relayer uses.
const TrustLayerHookABI = `[
	{"type":"function","name":"registerTrader","stateMutability":"nonpayable","inputs":[{"name":"trader","type":"address"},{"name":"tier","type":"uint8"},{"name":"commitment","type":"bytes32"},{"name":"expiry","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"revokeTrader","stateMutability":"nonpayable","inputs":[{"name":"trader","type":"address"}],"outputs":[]},
	{"type":"function","name":"getTraderInfo","stateMutability":"view","inputs":[{"name":"trader","type":"address"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"tier","type":"uint8"},{"name":"registeredAt","type":"uint256"},{"name":"expiry","type":"uint256"},{"name":"commitment","type":"bytes32"}]}]},
	{"type":"function","name":"getTierConfig","stateMutability":"view","inputs":[{"name":"tier","type":"uint8"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"feeBps","type":"uint24"},{"name":"maxTradeSize","type":"uint256"},{"name":"enabled","type":"bool"}]}]},
	{"type":"function","name":"canSwap","stateMutability":"view","inputs":[{"name":"trader","type":"address"},{"name":"tradeSize","type":"uint256"}],"outputs":[{"name":"","type":"bool"},{"name":"","type":"string"}]},
	{"type":"function","name":"previewFee","stateMutability":"view","inputs":[{"name":"trader","type":"address"}],"outputs":[{"name":"","type":"uint24"}]},
	{"type":"function","name":"admin","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"relayer","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// ErrTransactionReverted is returned when a relayer transaction was mined but failed.
var ErrTransactionReverted = errors.New("transaction reverted")

// Receipt identifies a mined relayer transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
}

// HookContract is the companion-chain contract the registration flow writes to.
type HookContract interface {
	Address() common.Address
	RelayerAddress() common.Address
	BlockNumber(ctx context.Context) (uint64, error)
	Info(ctx context.Context) (*models.HookInfo, error)
	TraderInfo(ctx context.Context, trader common.Address) (*models.TraderInfo, error)
	TierConfig(ctx context.Context, tier models.Tier) (*models.TierConfig, error)
	CanSwap(ctx context.Context, trader common.Address, tradeSize *big.Int) (bool, string, error)
	PreviewFee(ctx context.Context, trader common.Address) (uint32, error)
	RegisterTrader(ctx context.Context, trader common.Address, tier models.Tier, commitment common.Hash, expiry *big.Int) (*Receipt, error)
	RevokeTrader(ctx context.Context, trader common.Address) (*Receipt, error)
}

// hookBackend is what the client needs from an Ethereum node.
type hookBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// HookClient talks to the TrustLayer hook through a relayer key.
type HookClient struct {
	address  common.Address
	backend  hookBackend
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	relayer  common.Address
	chainID  *big.Int
	logger   *zap.Logger

	// Serialises submissions so concurrent requests do not pick the same
	// pending nonce.
	sendLock sync.Mutex

	closer func()
}

// HookConfig configures the companion-chain client.
type HookConfig struct {
	RPCURL      string
	HookAddress common.Address
	RelayerKey  *ecdsa.PrivateKey
	// ChainID is queried from the node when zero.
	ChainID int64
}

// DialHookClient connects to the RPC endpoint and binds the hook contract.
func DialHookClient(ctx context.Context, cfg HookConfig, logger *zap.Logger) (*HookClient, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to get chain id: %w", err)
		}
	}

	hc, err := newHookClient(cfg.HookAddress, client, cfg.RelayerKey, chainID, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	hc.closer = client.Close

	logger.Info("Connected to Ethereum",
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("hook_address", cfg.HookAddress.Hex()),
		zap.String("relayer_address", hc.relayer.Hex()))
	return hc, nil
}

func newHookClient(address common.Address, backend hookBackend, key *ecdsa.PrivateKey, chainID *big.Int, logger *zap.Logger) (*HookClient, error) {
	parsed, err := abi.JSON(strings.NewReader(TrustLayerHookABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse hook ABI: %w", err)
	}
	return &HookClient{
		address:  address,
		backend:  backend,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		key:      key,
		relayer:  crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		logger:   logger,
	}, nil
}

func (c *HookClient) Address() common.Address {
	return c.address
}

func (c *HookClient) RelayerAddress() common.Address {
	return c.relayer
}

func (c *HookClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return n, nil
}

func (c *HookClient) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

func (c *HookClient) callAddress(ctx context.Context, method string) (common.Address, error) {
	out, err := c.call(ctx, method)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (c *HookClient) Info(ctx context.Context) (*models.HookInfo, error) {
	admin, err := c.callAddress(ctx, "admin")
	if err != nil {
		return nil, err
	}
	relayer, err := c.callAddress(ctx, "relayer")
	if err != nil {
		return nil, err
	}
	return &models.HookInfo{HookAddress: c.address, Admin: admin, Relayer: relayer}, nil
}

type traderInfoTuple struct {
	Tier         uint8
	RegisteredAt *big.Int
	Expiry       *big.Int
	Commitment   [32]byte
}

func (c *HookClient) TraderInfo(ctx context.Context, trader common.Address) (*models.TraderInfo, error) {
	out, err := c.call(ctx, "getTraderInfo", trader)
	if err != nil {
		return nil, err
	}
	t := abi.ConvertType(out[0], new(traderInfoTuple)).(*traderInfoTuple)
	return &models.TraderInfo{
		Tier:         models.Tier(t.Tier),
		RegisteredAt: t.RegisteredAt,
		Expiry:       t.Expiry,
		Commitment:   common.Hash(t.Commitment),
	}, nil
}

type tierConfigTuple struct {
	FeeBps       *big.Int
	MaxTradeSize *big.Int
	Enabled      bool
}

func (c *HookClient) TierConfig(ctx context.Context, tier models.Tier) (*models.TierConfig, error) {
	out, err := c.call(ctx, "getTierConfig", uint8(tier))
	if err != nil {
		return nil, err
	}
	t := abi.ConvertType(out[0], new(tierConfigTuple)).(*tierConfigTuple)
	return &models.TierConfig{
		FeeBps:       uint32(t.FeeBps.Uint64()),
		MaxTradeSize: t.MaxTradeSize,
		Enabled:      t.Enabled,
	}, nil
}

func (c *HookClient) CanSwap(ctx context.Context, trader common.Address, tradeSize *big.Int) (bool, string, error) {
	out, err := c.call(ctx, "canSwap", trader, tradeSize)
	if err != nil {
		return false, "", err
	}
	ok := *abi.ConvertType(out[0], new(bool)).(*bool)
	reason := *abi.ConvertType(out[1], new(string)).(*string)
	return ok, reason, nil
}

func (c *HookClient) PreviewFee(ctx context.Context, trader common.Address) (uint32, error) {
	out, err := c.call(ctx, "previewFee", trader)
	if err != nil {
		return 0, err
	}
	fee := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	return uint32(fee.Uint64()), nil
}

// transact signs and submits a call, then blocks until it is mined.
func (c *HookClient) transact(ctx context.Context, method string, params ...interface{}) (*Receipt, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx

	c.sendLock.Lock()
	tx, err := c.contract.Transact(opts, method, params...)
	c.sendLock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	c.logger.Info("Submitted hook transaction",
		zap.String("method", method),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()))

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: waiting for %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s: %s: %w", method, tx.Hash().Hex(), ErrTransactionReverted)
	}
	return &Receipt{TxHash: receipt.TxHash, BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

func (c *HookClient) RegisterTrader(ctx context.Context, trader common.Address, tier models.Tier, commitment common.Hash, expiry *big.Int) (*Receipt, error) {
	return c.transact(ctx, "registerTrader", trader, uint8(tier), [32]byte(commitment), expiry)
}

func (c *HookClient) RevokeTrader(ctx context.Context, trader common.Address) (*Receipt, error) {
	return c.transact(ctx, "revokeTrader", trader)
}

func (c *HookClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}
