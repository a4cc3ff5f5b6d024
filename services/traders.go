package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/TrustLayer-Labs/credentials-api/external"
	"github.com/TrustLayer-Labs/credentials-api/models"
	"github.com/TrustLayer-Labs/credentials-api/util"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	ethNotConfigured = "Ethereum not configured"

	// How long a submitted hook transaction may take to be mined.
	hookWriteTimeout = 5 * time.Minute
)

type RegisterTraderParams struct {
	AleoTxID     string `validate:"required"`
	EthAddress   string `validate:"required"`
	ExpiryBlocks uint64
}

type Registration struct {
	AleoTxID       string
	EthTxHash      common.Hash
	Trader         common.Address
	Tier           models.Tier
	AleoCommitment string
	Commitment     common.Hash
	Expiry         uint64
	BlockNumber    uint64
}

func (r *Registration) Message() string {
	return fmt.Sprintf("Successfully registered %s trader", r.Tier.Name())
}

type RevokeTraderParams struct {
	EthAddress     string `validate:"required"`
	AleoCommitment string
}

type Revocation struct {
	EthTxHash   common.Hash
	Trader      common.Address
	BlockNumber uint64
}

type HookStatus struct {
	Info              models.HookInfo
	RelayerConfigured common.Address
}

type TraderStatus struct {
	Address common.Address
	Info    models.TraderInfo
	// IsActive is nil when the current block could not be read.
	IsActive *bool
	// FeeBps is the hook's fee preview for the trader, nil when unavailable.
	FeeBps *uint32
}

type TierStatus struct {
	Tier   models.Tier
	Config models.TierConfig
}

type SwapCheck struct {
	Address   common.Address
	Amount    string
	AmountWei *big.Int
	CanSwap   bool
	Reason    string
}

func (s *Service) requireHook() error {
	if s.hook == nil {
		return unavailableError(ethNotConfigured)
	}
	return nil
}

func (s *Service) hookCallError(op string, err error) error {
	s.logger.Warn("Hook call failed", zap.String("op", op), zap.Error(err))
	s.m.Counter("hook_call_failed").Inc()
	return executionError(err.Error(), "")
}

func parseTraderAddress(field, s string) (common.Address, error) {
	addr, err := util.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return common.Address{}, validationError("Invalid " + field)
	}
	return addr, nil
}

// RegisterTrader mirrors a tier proof from Aleo onto the hook contract. Nothing
// is written unless the proof transaction exists, carries a registrable tier,
// and its commitment is issued and not revoked.
func (s *Service) RegisterTrader(ctx context.Context, p RegisterTraderParams) (*Registration, error) {
	if err := s.requireHook(); err != nil {
		return nil, err
	}
	p.AleoTxID = strings.TrimSpace(p.AleoTxID)
	if err := s.validate.Struct(p); err != nil {
		return nil, validationError("aleoTxId and ethAddress are required")
	}
	trader, err := parseTraderAddress("ethAddress", p.EthAddress)
	if err != nil {
		return nil, err
	}

	tx, _, err := s.fetchTransaction(ctx, p.AleoTxID, "Aleo transaction not found")
	if err != nil {
		return nil, err
	}

	pf := s.extractProof(tx)
	if pf.Tier == nil || pf.Commitment == nil {
		s.m.Counter("register_trader_unparsable").Inc()
		return nil, validationError("Could not extract tier/commitment from Aleo transaction")
	}
	tier := *pf.Tier
	if tier == models.TierIneligible {
		s.m.Counter("register_trader_ineligible").Inc()
		return nil, validationError("Tier 0 (Ineligible) cannot be registered")
	}
	if !tier.Valid() {
		return nil, validationError(fmt.Sprintf("Tier %d is not a valid tier", tier))
	}

	status, err := s.CheckCredential(ctx, *pf.Commitment)
	if err != nil {
		return nil, err
	}
	if status.Degraded {
		return nil, upstreamError("Could not verify credential on Aleo")
	}
	if !status.WasIssued {
		s.m.Counter("register_trader_not_issued").Inc()
		return nil, validationError("Credential was not issued on Aleo")
	}
	if status.IsRevoked {
		s.m.Counter("register_trader_revoked").Inc()
		return nil, validationError("Credential has been revoked on Aleo")
	}

	digits, ok := models.CommitmentDigits(*pf.Commitment)
	if !ok {
		return nil, validationError("Commitment is not a field element")
	}
	commitment, err := util.CommitmentToBytes32(digits)
	if err != nil {
		return nil, validationError("Commitment does not fit in bytes32")
	}

	head, err := s.hook.BlockNumber(ctx)
	if err != nil {
		return nil, s.hookCallError("blockNumber", err)
	}
	offset := p.ExpiryBlocks
	if offset == 0 {
		offset = s.defaultExpiryBlocks
	}
	if offset > math.MaxUint64-head {
		return nil, validationError("expiryBlocks is too large")
	}
	expiry := head + offset

	// A submitted transaction is followed to the end even if the caller leaves.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookWriteTimeout)
	defer cancel()
	receipt, err := s.hook.RegisterTrader(wctx, trader, tier, commitment, new(big.Int).SetUint64(expiry))
	if err != nil {
		if errors.Is(err, external.ErrTransactionReverted) {
			s.m.Counter("register_trader_reverted").Inc()
		}
		return nil, s.hookCallError("registerTrader", err)
	}

	reg := &Registration{
		AleoTxID:       p.AleoTxID,
		EthTxHash:      receipt.TxHash,
		Trader:         trader,
		Tier:           tier,
		AleoCommitment: *pf.Commitment,
		Commitment:     commitment,
		Expiry:         expiry,
		BlockNumber:    receipt.BlockNumber,
	}

	s.logger.Info("Registered trader",
		zap.String("trader", trader.Hex()),
		zap.String("tier", tier.Name()),
		zap.String("aleoTxId", p.AleoTxID),
		zap.String("ethTxHash", receipt.TxHash.Hex()),
		zap.Uint64("expiry", expiry))
	s.m.Counter("register_trader").Inc()
	s.record(models.TraderRegistered, trader.Hex(), receipt.TxHash.Hex(),
		fmt.Sprintf("tier=%d commitment=%s expiry=%d aleoTxId=%s", tier, *pf.Commitment, expiry, p.AleoTxID))
	return reg, nil
}

// RevokeTrader removes a trader from the hook. When an Aleo commitment is
// given, the credential must already be revoked on Aleo.
func (s *Service) RevokeTrader(ctx context.Context, p RevokeTraderParams) (*Revocation, error) {
	if err := s.requireHook(); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(p); err != nil {
		return nil, validationError("ethAddress is required")
	}
	trader, err := parseTraderAddress("ethAddress", p.EthAddress)
	if err != nil {
		return nil, err
	}

	if commitment := strings.TrimSpace(p.AleoCommitment); commitment != "" {
		revoked, err := s.aleo.QueryMapping(ctx, models.MappingRevoked, commitment)
		if err != nil {
			s.logger.Warn("Revoked lookup failed", zap.String("commitment", commitment), zap.Error(err))
			return nil, upstreamError("Could not check revocation on Aleo")
		}
		if !revoked.IsTrue() {
			return nil, validationError("Credential not revoked on Aleo. Revoke on Aleo first.")
		}
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookWriteTimeout)
	defer cancel()
	receipt, err := s.hook.RevokeTrader(wctx, trader)
	if err != nil {
		return nil, s.hookCallError("revokeTrader", err)
	}

	s.logger.Info("Revoked trader",
		zap.String("trader", trader.Hex()),
		zap.String("ethTxHash", receipt.TxHash.Hex()))
	s.m.Counter("revoke_trader").Inc()
	s.record(models.TraderRevoked, trader.Hex(), receipt.TxHash.Hex(), p.AleoCommitment)
	return &Revocation{EthTxHash: receipt.TxHash, Trader: trader, BlockNumber: receipt.BlockNumber}, nil
}

func (s *Service) HookInfo(ctx context.Context) (*HookStatus, error) {
	if err := s.requireHook(); err != nil {
		return nil, err
	}
	info, err := s.hook.Info(ctx)
	if err != nil {
		return nil, s.hookCallError("hookInfo", err)
	}
	return &HookStatus{Info: *info, RelayerConfigured: s.hook.RelayerAddress()}, nil
}

func (s *Service) TraderInfo(ctx context.Context, address string) (*TraderStatus, error) {
	if err := s.requireHook(); err != nil {
		return nil, err
	}
	trader, err := parseTraderAddress("address", address)
	if err != nil {
		return nil, err
	}
	info, err := s.hook.TraderInfo(ctx, trader)
	if err != nil {
		return nil, s.hookCallError("getTraderInfo", err)
	}

	status := &TraderStatus{Address: trader, Info: *info}
	if head, err := s.hook.BlockNumber(ctx); err == nil {
		active := info.IsActive(head)
		status.IsActive = &active
	} else {
		s.logger.Debug("Could not read block number for trader status", zap.Error(err))
	}
	if fee, err := s.hook.PreviewFee(ctx, trader); err == nil {
		status.FeeBps = &fee
	} else {
		s.logger.Debug("Could not preview fee for trader", zap.Error(err))
	}
	return status, nil
}

func (s *Service) TierConfig(ctx context.Context, tierParam string) (*TierStatus, error) {
	if err := s.requireHook(); err != nil {
		return nil, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(tierParam), 10, 8)
	if err != nil || !models.Tier(n).Valid() {
		return nil, validationError("Invalid tier")
	}
	tier := models.Tier(n)
	cfg, err := s.hook.TierConfig(ctx, tier)
	if err != nil {
		return nil, s.hookCallError("getTierConfig", err)
	}
	return &TierStatus{Tier: tier, Config: *cfg}, nil
}

func (s *Service) CanSwap(ctx context.Context, address, amount string) (*SwapCheck, error) {
	if err := s.requireHook(); err != nil {
		return nil, err
	}
	trader, err := parseTraderAddress("address", address)
	if err != nil {
		return nil, err
	}
	wei, err := util.ParseEther(amount)
	if err != nil {
		return nil, validationError("Invalid amount")
	}
	ok, reason, err := s.hook.CanSwap(ctx, trader, wei)
	if err != nil {
		return nil, s.hookCallError("canSwap", err)
	}
	return &SwapCheck{Address: trader, Amount: amount, AmountWei: wei, CanSwap: ok, Reason: reason}, nil
}
