package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/TrustLayer-Labs/credentials-api/models"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	writeTimeout   = 120 * time.Second
	proveTimeout   = 300 * time.Second
	decryptTimeout = 30 * time.Second

	redacted = "<redacted>"
)

var (
	txIDPattern = regexp.MustCompile(`at1[a-z0-9]+`)

	// ErrProverTimeout is returned when snarkos did not finish in time.
	ErrProverTimeout = errors.New("prover timed out")
)

// ProverResult is the outcome of a single snarkos invocation. TxID is empty
// when the output did not contain a transaction id.
type ProverResult struct {
	TxID     string
	Stdout   string
	Duration time.Duration
}

// Prover submits signed executions of the credential program.
type Prover interface {
	Issue(ctx context.Context, recipient string, score uint16, expiry uint32, nonce string) (*ProverResult, error)
	Revoke(ctx context.Context, commitment string) (*ProverResult, error)
	AddIssuer(ctx context.Context, issuer string) (*ProverResult, error)
	RemoveIssuer(ctx context.Context, issuer string) (*ProverResult, error)
	ProveTier(ctx context.Context, record string, blockHeight uint32) (*ProverResult, error)
	Decrypt(ctx context.Context, ciphertext, viewKey string) (*ProverResult, error)
}

// commandRunner runs a command to completion and returns what it printed.
type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type SnarkOSConfig struct {
	Binary     string
	Program    string
	PrivateKey string
	Endpoint   string
	Network    string
	// BroadcastURL defaults to <Endpoint>/<Network>/transaction/broadcast.
	BroadcastURL  string
	NetworkID     uint
	MaxConcurrent int64
}

// SnarkOSProver shells out to the snarkos developer CLI. Arguments are passed
// as an argv list, never through a shell.
type SnarkOSProver struct {
	cfg    SnarkOSConfig
	sem    *semaphore.Weighted
	run    commandRunner
	logger *zap.Logger
}

func NewSnarkOSProver(cfg SnarkOSConfig, logger *zap.Logger) *SnarkOSProver {
	if cfg.Binary == "" {
		cfg.Binary = "snarkos"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &SnarkOSProver{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		run:    execRunner,
		logger: logger,
	}
}

func (p *SnarkOSProver) Issue(ctx context.Context, recipient string, score uint16, expiry uint32, nonce string) (*ProverResult, error) {
	return p.execute(ctx, "issue", writeTimeout, recipient, models.U16(score), models.U32(expiry), nonce)
}

func (p *SnarkOSProver) Revoke(ctx context.Context, commitment string) (*ProverResult, error) {
	return p.execute(ctx, "revoke", writeTimeout, commitment)
}

func (p *SnarkOSProver) AddIssuer(ctx context.Context, issuer string) (*ProverResult, error) {
	return p.execute(ctx, "add_issuer", writeTimeout, issuer)
}

func (p *SnarkOSProver) RemoveIssuer(ctx context.Context, issuer string) (*ProverResult, error) {
	return p.execute(ctx, "remove_issuer", writeTimeout, issuer)
}

func (p *SnarkOSProver) ProveTier(ctx context.Context, record string, blockHeight uint32) (*ProverResult, error) {
	return p.execute(ctx, models.ProveTierFunction, proveTimeout, strings.TrimSpace(record), models.U32(blockHeight))
}

func (p *SnarkOSProver) Decrypt(ctx context.Context, ciphertext, viewKey string) (*ProverResult, error) {
	args := []string{"developer", "decrypt", "--ciphertext", ciphertext, "--view-key", viewKey}
	res, err := p.invoke(ctx, "decrypt", decryptTimeout, args, viewKey)
	if err != nil {
		return nil, err
	}
	res.Stdout = strings.TrimSpace(res.Stdout)
	return res, nil
}

func (p *SnarkOSProver) broadcastURL() string {
	if p.cfg.BroadcastURL != "" {
		return p.cfg.BroadcastURL
	}
	return strings.TrimRight(p.cfg.Endpoint, "/") + "/" + p.cfg.Network + "/transaction/broadcast"
}

func (p *SnarkOSProver) execute(ctx context.Context, function string, timeout time.Duration, inputs ...string) (*ProverResult, error) {
	args := []string{"developer", "execute", p.cfg.Program, function}
	args = append(args, inputs...)
	args = append(args,
		"--private-key", p.cfg.PrivateKey,
		"--query", p.cfg.Endpoint,
		"--broadcast", p.broadcastURL(),
		"--network", strconv.FormatUint(uint64(p.cfg.NetworkID), 10),
	)
	res, err := p.invoke(ctx, function, timeout, args, p.cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	res.TxID = txIDPattern.FindString(res.Stdout)
	return res, nil
}

// invoke waits for a free slot while honouring ctx, then runs the command
// detached from ctx so only the timeout can stop a started proof.
func (p *SnarkOSProver) invoke(ctx context.Context, op string, timeout time.Duration, args []string, secrets ...string) (*ProverResult, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%s: waiting for prover slot: %w", op, err)
	}
	defer p.sem.Release(1)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	p.logger.Info("Running snarkos",
		zap.String("op", op),
		zap.Strings("args", redact(args, secrets...)),
		zap.Duration("timeout", timeout))

	start := time.Now()
	stdout, stderr, err := p.run(runCtx, p.cfg.Binary, args...)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			p.logger.Warn("snarkos timed out", zap.String("op", op), zap.Duration("elapsed", elapsed))
			return nil, fmt.Errorf("%s: %w after %s", op, ErrProverTimeout, timeout)
		}
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = truncate(strings.TrimSpace(string(stdout)), 300)
		}
		p.logger.Warn("snarkos failed",
			zap.String("op", op),
			zap.Duration("elapsed", elapsed),
			zap.String("stderr", truncate(msg, 300)),
			zap.Error(err))
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", op, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p.logger.Info("snarkos finished",
		zap.String("op", op),
		zap.Duration("elapsed", elapsed),
		zap.String("stdout", truncate(string(stdout), 500)))

	return &ProverResult{Stdout: string(stdout), Duration: elapsed}, nil
}

func redact(args []string, secrets ...string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a
		for _, s := range secrets {
			if s != "" && a == s {
				out[i] = redacted
			}
		}
	}
	return out
}
