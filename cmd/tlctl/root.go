package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/TrustLayer-Labs/credentials-api/external"
	"github.com/TrustLayer-Labs/credentials-api/services"
	"github.com/creasty/defaults"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// settings mirrors the Aleo part of the server configuration.
type settings struct {
	Endpoint      string `default:"https://api.explorer.provable.com/v1"`
	Network       string `default:"testnet"`
	NetworkID     uint   `default:"1"`
	Program       string `default:"trustlayer_credentials_amm_v2.aleo"`
	PrivateKey    string
	ViewKey       string
	SnarkOSBin    string `default:"snarkos"`
	MaxConcurrent int64  `default:"1"`
}

func loadSettings(getenv func(string) string) (*settings, error) {
	s := &settings{}
	if err := defaults.Set(s); err != nil {
		return nil, err
	}
	set := func(dst *string, name string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	set(&s.Endpoint, "ALEO_ENDPOINT")
	set(&s.Network, "ALEO_NETWORK")
	set(&s.Program, "ALEO_PROGRAM")
	set(&s.PrivateKey, "ALEO_PRIVATE_KEY")
	set(&s.ViewKey, "ALEO_VIEW_KEY")
	set(&s.SnarkOSBin, "SNARKOS_BIN")
	if v := getenv("ALEO_NETWORK_ID"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid ALEO_NETWORK_ID: %q", v)
		}
		s.NetworkID = uint(n)
	}
	return s, nil
}

type cli struct {
	getenv  func(string) string
	verbose bool
	timeout time.Duration

	svc    *services.Service
	logger *zap.Logger
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	c := &cli{getenv: getenv}

	root := &cobra.Command{
		Use:   "tlctl",
		Short: "Operate TrustLayer credentials on Aleo",
		Long: `tlctl checks and manages TrustLayer credentials directly against the Aleo
explorer and the snarkos CLI. It reads ALEO_ENDPOINT, ALEO_NETWORK,
ALEO_PROGRAM, ALEO_PRIVATE_KEY and SNARKOS_BIN like the server does.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.svc != nil {
				c.svc.Deinit()
			}
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 10*time.Minute, "Operation timeout")

	root.AddCommand(
		c.verifyCmd(),
		c.blockHeightCmd(),
		c.issueCmd(),
		c.revokeCmd(),
		c.issuerCmd("add-issuer", "Approve an issuer address", func(ctx context.Context, addr string) (*services.IssuerResult, error) {
			return c.svc.AddIssuer(ctx, addr)
		}),
		c.issuerCmd("remove-issuer", "Remove an approved issuer", func(ctx context.Context, addr string) (*services.IssuerResult, error) {
			return c.svc.RemoveIssuer(ctx, addr)
		}),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(c.getenv)
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if c.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if c.logger, err = cfg.Build(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	aleo := external.NewAleoClient(s.Endpoint, s.Network, s.Program, &http.Client{Timeout: 30 * time.Second})
	prover := external.NewSnarkOSProver(external.SnarkOSConfig{
		Binary:        s.SnarkOSBin,
		Program:       s.Program,
		PrivateKey:    s.PrivateKey,
		Endpoint:      s.Endpoint,
		Network:       s.Network,
		BroadcastURL:  aleo.BroadcastURL(),
		NetworkID:     s.NetworkID,
		MaxConcurrent: s.MaxConcurrent,
	}, c.logger)

	c.svc = services.NewService(&services.ServiceConfig{
		Aleo:    aleo,
		Prover:  prover,
		CanSign: s.PrivateKey != "",
		Program: s.Program,
		ViewKey: s.ViewKey,
		Logger:  c.logger,
		Clock:   clockwork.NewRealClock(),
	})
	return c.svc.Init()
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <commitment>",
		Short: "Check whether a credential commitment is issued and not revoked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			status, err := c.svc.CheckCredential(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"commitment": status.Commitment,
				"wasIssued":  status.WasIssued,
				"isRevoked":  status.IsRevoked,
				"isValid":    status.IsValid,
				"degraded":   status.Degraded,
			})
		},
	}
}

func (c *cli) blockHeightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block-height",
		Short: "Print the latest Aleo block height",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			height, err := c.svc.BlockHeight(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]uint32{"blockHeight": height})
		},
	}
}

func (c *cli) issueCmd() *cobra.Command {
	var (
		recipient string
		score     int64
		expiry    int64
		nonce     string
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a credential to an Aleo address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			res, err := c.svc.IssueCredential(ctx, services.IssueCredentialParams{
				Recipient: recipient,
				Score:     &score,
				Expiry:    &expiry,
				Nonce:     nonce,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"message":   res.Message(),
				"txId":      res.TxID,
				"recipient": res.Recipient,
				"score":     res.Score,
				"expiry":    res.Expiry,
				"nonce":     res.Nonce,
				"tier":      res.Tier,
				"tierName":  res.Tier.Name(),
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "Aleo address receiving the credential")
	cmd.Flags().Int64Var(&score, "score", 0, "Private score, 0 to 1000")
	cmd.Flags().Int64Var(&expiry, "expiry", 0, "Expiry block height")
	cmd.Flags().StringVar(&nonce, "nonce", "", "Nonce field element")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("score")
	_ = cmd.MarkFlagRequired("expiry")
	_ = cmd.MarkFlagRequired("nonce")
	return cmd
}

func (c *cli) revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <commitment>",
		Short: "Revoke a credential on Aleo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			res, err := c.svc.RevokeCredential(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"txId": res.TxID, "commitment": res.Commitment})
		},
	}
}

func (c *cli) issuerCmd(use, short string, op func(context.Context, string) (*services.IssuerResult, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <address>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			res, err := op(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"message":       res.Message,
				"txId":          res.TxID,
				"issuerAddress": res.IssuerAddress,
			})
		},
	}
}
