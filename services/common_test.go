package services

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TrustLayer-Labs/credentials-api/database"
	"github.com/TrustLayer-Labs/credentials-api/external"
	"github.com/TrustLayer-Labs/credentials-api/metrics"
	"github.com/TrustLayer-Labs/credentials-api/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const testProgram = "trustlayer_credentials_amm_v2.aleo"

var errUpstream = errors.New("connection refused")

// fakeChain is an in-memory explorer.
type fakeChain struct {
	lock      sync.Mutex
	mappings  map[string]models.MappingValue
	failing   map[string]bool
	height    uint32
	heightErr error
	txs       map[string]*models.Transaction
	txErr     error
	lookups   int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		mappings: make(map[string]models.MappingValue),
		failing:  make(map[string]bool),
		txs:      make(map[string]*models.Transaction),
	}
}

func (f *fakeChain) set(mapping, key string, v models.MappingValue) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.mappings[mapping+"/"+key] = v
}

func (f *fakeChain) fail(mapping, key string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.failing[mapping+"/"+key] = true
}

func (f *fakeChain) QueryMapping(ctx context.Context, mapping, key string) (models.MappingValue, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.lookups++
	if f.failing[mapping+"/"+key] {
		return models.MappingUnknown, errUpstream
	}
	if v, ok := f.mappings[mapping+"/"+key]; ok {
		return v, nil
	}
	return models.MappingAbsent, nil
}

func (f *fakeChain) BlockHeight(ctx context.Context) (uint32, error) {
	return f.height, f.heightErr
}

func (f *fakeChain) Transaction(ctx context.Context, txID string) (*models.Transaction, json.RawMessage, error) {
	if f.txErr != nil {
		return nil, nil, f.txErr
	}
	tx, ok := f.txs[txID]
	if !ok {
		return nil, nil, external.ErrNotFound
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		return nil, nil, err
	}
	return tx, raw, nil
}

// proofTx builds a prove_tier transaction the way the explorer reports it.
func proofTx(id, tier, commitment string) *models.Transaction {
	return &models.Transaction{
		ID:   id,
		Type: "execute",
		Execution: &models.Execution{Transitions: []models.Transition{{
			ID:       "au1" + id,
			Program:  testProgram,
			Function: models.ProveTierFunction,
			Inputs: []models.Argument{
				{Type: models.VisibilityRecord, Value: "record1qqq"},
				{Type: models.VisibilityPublic, Value: "500000u32"},
			},
			Outputs: []models.Argument{
				{Type: models.VisibilityPublic, Value: tier},
				{Type: models.VisibilityFuture, Value: "{\n  program_id: " + testProgram + ",\n  function_name: prove_tier,\n  arguments: [\n    " + commitment + "\n  ]\n}"},
			},
		}}},
	}
}

type registerCall struct {
	trader     common.Address
	tier       models.Tier
	commitment common.Hash
	expiry     *big.Int
}

type fakeHook struct {
	lock      sync.Mutex
	block     uint64
	blockErr  error
	writeErr  error
	callErr   error
	registers []registerCall
	revokes   []common.Address
	traders   map[common.Address]*models.TraderInfo
	configs   map[models.Tier]*models.TierConfig
}

func newFakeHook() *fakeHook {
	return &fakeHook{
		block:   1000,
		traders: make(map[common.Address]*models.TraderInfo),
		configs: make(map[models.Tier]*models.TierConfig),
	}
}

func (f *fakeHook) Address() common.Address {
	return common.HexToAddress("0x1000000000000000000000000000000000000001")
}

func (f *fakeHook) RelayerAddress() common.Address {
	return common.HexToAddress("0x3000000000000000000000000000000000000003")
}

func (f *fakeHook) BlockNumber(ctx context.Context) (uint64, error) {
	return f.block, f.blockErr
}

func (f *fakeHook) Info(ctx context.Context) (*models.HookInfo, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &models.HookInfo{
		HookAddress: f.Address(),
		Admin:       common.HexToAddress("0x2000000000000000000000000000000000000002"),
		Relayer:     f.RelayerAddress(),
	}, nil
}

func (f *fakeHook) TraderInfo(ctx context.Context, trader common.Address) (*models.TraderInfo, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	if info, ok := f.traders[trader]; ok {
		return info, nil
	}
	return &models.TraderInfo{RegisteredAt: big.NewInt(0), Expiry: big.NewInt(0)}, nil
}

func (f *fakeHook) TierConfig(ctx context.Context, tier models.Tier) (*models.TierConfig, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	if cfg, ok := f.configs[tier]; ok {
		return cfg, nil
	}
	return &models.TierConfig{MaxTradeSize: big.NewInt(0)}, nil
}

func (f *fakeHook) CanSwap(ctx context.Context, trader common.Address, tradeSize *big.Int) (bool, string, error) {
	if f.callErr != nil {
		return false, "", f.callErr
	}
	info, ok := f.traders[trader]
	if !ok || !info.IsRegistered() {
		return false, "Trader not registered", nil
	}
	return true, "", nil
}

func (f *fakeHook) PreviewFee(ctx context.Context, trader common.Address) (uint32, error) {
	return 30, f.callErr
}

func (f *fakeHook) RegisterTrader(ctx context.Context, trader common.Address, tier models.Tier, commitment common.Hash, expiry *big.Int) (*external.Receipt, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.registers = append(f.registers, registerCall{trader, tier, commitment, expiry})
	return &external.Receipt{TxHash: common.HexToHash("0xabc1"), BlockNumber: f.block + 1}, nil
}

func (f *fakeHook) RevokeTrader(ctx context.Context, trader common.Address) (*external.Receipt, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.revokes = append(f.revokes, trader)
	return &external.Receipt{TxHash: common.HexToHash("0xabc2"), BlockNumber: f.block + 1}, nil
}

type proverCall struct {
	op   string
	args []string
}

type fakeProver struct {
	lock    sync.Mutex
	calls   []proverCall
	txID    string
	err     error
	records map[string]string
}

func newFakeProver() *fakeProver {
	return &fakeProver{txID: "at1fake", records: make(map[string]string)}
}

func (f *fakeProver) called(op string, args ...string) (*external.ProverResult, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls = append(f.calls, proverCall{op, args})
	if f.err != nil {
		return nil, f.err
	}
	return &external.ProverResult{TxID: f.txID, Stdout: "broadcast " + f.txID, Duration: time.Millisecond}, nil
}

func (f *fakeProver) Issue(ctx context.Context, recipient string, score uint16, expiry uint32, nonce string) (*external.ProverResult, error) {
	return f.called("issue", recipient, models.U16(score), models.U32(expiry), nonce)
}

func (f *fakeProver) Revoke(ctx context.Context, commitment string) (*external.ProverResult, error) {
	return f.called("revoke", commitment)
}

func (f *fakeProver) AddIssuer(ctx context.Context, issuer string) (*external.ProverResult, error) {
	return f.called("add_issuer", issuer)
}

func (f *fakeProver) RemoveIssuer(ctx context.Context, issuer string) (*external.ProverResult, error) {
	return f.called("remove_issuer", issuer)
}

func (f *fakeProver) ProveTier(ctx context.Context, record string, blockHeight uint32) (*external.ProverResult, error) {
	return f.called("prove_tier", record, models.U32(blockHeight))
}

func (f *fakeProver) Decrypt(ctx context.Context, ciphertext, viewKey string) (*external.ProverResult, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls = append(f.calls, proverCall{"decrypt", []string{ciphertext, viewKey}})
	plaintext, ok := f.records[ciphertext]
	if !ok {
		return nil, errors.New("exit status 1: failed to decrypt")
	}
	return &external.ProverResult{Stdout: plaintext}, nil
}

type testEnv struct {
	svc    *Service
	chain  *fakeChain
	hook   *fakeHook
	prover *fakeProver
	clock  clockwork.FakeClock
}

type testOption func(*ServiceConfig)

func withoutHook() testOption {
	return func(c *ServiceConfig) { c.Hook = nil }
}

func withoutSigner() testOption {
	return func(c *ServiceConfig) { c.CanSign = false }
}

func withoutJournal() testOption {
	return func(c *ServiceConfig) { c.DB = nil }
}

// Create a new service backed by fakes and an in-memory journal.
func setupTestService(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()

	// Every connection to this DSN shares one in-memory database, as long as
	// at least one connection stays open. Each test gets its own name.
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(0)
	t.Cleanup(func() { db.Close() })

	logger, err := zap.NewDevelopmentConfig().Build()
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		chain:  newFakeChain(),
		hook:   newFakeHook(),
		prover: newFakeProver(),
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	config := &ServiceConfig{
		DB:      db,
		Aleo:    env.chain,
		Hook:    env.hook,
		Prover:  env.prover,
		CanSign: true,
		Program: testProgram,
		ViewKey: "AViewKey1default",
		Logger:  logger,
		Clock:   env.clock,
	}
	for _, opt := range opts {
		opt(config)
	}

	if _, err := metrics.Init(name); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(metrics.Deinit)

	env.svc = NewService(config)
	if err := env.svc.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(env.svc.Deinit)
	return env
}
