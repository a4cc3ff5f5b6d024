package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/TrustLayer-Labs/credentials-api/models"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	firstProbeDelay = time.Second
	probeInterval   = 30 * time.Second
	probeTimeout    = 10 * time.Second
)

type aleoHeight interface {
	BlockHeight(ctx context.Context) (uint32, error)
}

type ethBlock interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// ProbeUpstreamsTask periodically checks that the Aleo explorer and the
// companion chain RPC answer. The result is only reported on /health; the
// credential flows always query the ledgers themselves.
type ProbeUpstreamsTask struct {
	aleo   aleoHeight
	eth    ethBlock
	clock  clockwork.Clock
	done   chan bool
	logger *zap.Logger

	lock sync.RWMutex
	last *models.UpstreamStatus
}

// NewProbeUpstreamsTask creates the task. eth is nil when the companion chain
// is not configured.
func NewProbeUpstreamsTask(aleo aleoHeight, eth ethBlock, clock clockwork.Clock, logger *zap.Logger) *ProbeUpstreamsTask {
	return &ProbeUpstreamsTask{
		aleo:   aleo,
		eth:    eth,
		clock:  clock,
		done:   make(chan bool),
		logger: logger,
	}
}

// Snapshot returns a copy of the latest probe, or nil if none completed yet.
func (t *ProbeUpstreamsTask) Snapshot() *models.UpstreamStatus {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if t.last == nil {
		return nil
	}
	s := *t.last
	return &s
}

func (t *ProbeUpstreamsTask) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	status := models.UpstreamStatus{
		CheckedAt:  t.clock.Now().Unix(),
		EthEnabled: t.eth != nil,
	}

	if height, err := t.aleo.BlockHeight(ctx); err != nil {
		t.logger.Warn("Aleo explorer unreachable", zap.Error(err))
	} else {
		status.AleoReachable = true
		status.AleoHeight = height
	}

	if t.eth != nil {
		if block, err := t.eth.BlockNumber(ctx); err != nil {
			t.logger.Warn("Ethereum RPC unreachable", zap.Error(err))
		} else {
			status.EthReachable = true
			status.EthBlockNumber = block
		}
	}

	t.lock.Lock()
	t.last = &status
	t.lock.Unlock()

	t.logger.Debug("Probed upstreams",
		zap.Bool("aleo", status.AleoReachable),
		zap.Uint32("aleoHeight", status.AleoHeight),
		zap.Bool("eth", status.EthReachable),
		zap.Uint64("ethBlock", status.EthBlockNumber))
}

func (t *ProbeUpstreamsTask) Run() {
	ticker := t.clock.NewTicker(firstProbeDelay)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			t.logger.Info("Probe upstreams task stopped")
			return
		case <-ticker.Chan():
			t.probe()
			ticker.Reset(probeInterval)
		}
	}
}

func (t *ProbeUpstreamsTask) Stop() error {
	t.done <- true
	return nil
}
