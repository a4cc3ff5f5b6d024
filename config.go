package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/TrustLayer-Labs/credentials-api/util"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Application configuration.
type config struct {
	ListenAddr     string   `yaml:"listen_addr" default:"0.0.0.0:3001" validate:"required,hostname_port"`
	Debug          bool     `yaml:"debug"`
	LogLevel       string   `yaml:"log_level"`
	DBPath         string   `yaml:"db_path"`
	AllowedOrigins []string `yaml:"allowed_origins" default:"[\"*\"]" validate:"min=1"`
	AdminJWTSecret string   `yaml:"admin_jwt_secret"`
	StaticDir      string   `yaml:"static_dir"`

	Aleo aleoConfig `yaml:"aleo"`
	Eth  ethConfig  `yaml:"eth"`
}

type aleoConfig struct {
	Endpoint            string `yaml:"endpoint" default:"https://api.explorer.provable.com/v1" validate:"required,url"`
	Network             string `yaml:"network" default:"testnet" validate:"required"`
	NetworkID           uint   `yaml:"network_id" default:"1"`
	Program             string `yaml:"program" default:"trustlayer_credentials_amm_v2.aleo" validate:"required,endswith=.aleo"`
	PrivateKey          string `yaml:"private_key"`
	ViewKey             string `yaml:"view_key"`
	SnarkOSBin          string `yaml:"snarkos_bin" default:"snarkos" validate:"required"`
	MaxConcurrentProofs int64  `yaml:"max_concurrent_proofs" default:"4" validate:"min=1"`
}

type ethConfig struct {
	RPCURL              string `yaml:"rpc_url" default:"http://127.0.0.1:8545" validate:"omitempty,url"`
	RelayerKey          string `yaml:"relayer_key"`
	HookAddress         string `yaml:"hook_address" validate:"omitempty,eth_addr"`
	ChainID             int64  `yaml:"chain_id" validate:"min=0"`
	DefaultExpiryBlocks uint64 `yaml:"default_expiry_blocks" default:"100000" validate:"min=1"`
}

// ethEnabled reports whether registration on the companion chain can work.
func (c *config) ethEnabled() bool {
	return c.Eth.RPCURL != "" && c.Eth.RelayerKey != "" && c.Eth.HookAddress != ""
}

func (c *config) logLevel() zapcore.Level {
	if c.Debug {
		return zapcore.DebugLevel
	}
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// Parse command-line arguments, layered over defaults, an optional YAML file
// and the environment.
func parseArguments() (config, error) {
	return loadConfig(os.Args[0], os.Args[1:], os.Getenv)
}

func loadConfig(name string, args []string, getenv func(string) string) (config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "Optional YAML configuration file")
	addr := fs.String("addr", "", "Address on which to listen to HTTP requests")
	dbPath := fs.String("db-path", "", "sqlite3 audit journal path, empty to disable")
	staticDir := fs.String("static-dir", "", "Directory holding the built panel bundle")
	debug := fs.Bool("debug", false, "Whether to enable verbose logging")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	var cfg config
	if err := defaults.Set(&cfg); err != nil {
		return config{}, fmt.Errorf("set defaults: %w", err)
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(getenv); err != nil {
		return config{}, err
	}

	// Flags win over everything else, but only when given.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ListenAddr = *addr
		case "db-path":
			cfg.DBPath = *dbPath
		case "static-dir":
			cfg.StaticDir = *staticDir
		case "debug":
			cfg.Debug = *debug
		}
	})

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) applyEnvOverrides(getenv func(string) string) error {
	str := func(dst *string, names ...string) {
		for _, n := range names {
			if v := strings.TrimSpace(getenv(n)); v != "" {
				*dst = v
				return
			}
		}
	}

	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("invalid PORT: %q", port)
		}
		c.ListenAddr = "0.0.0.0:" + port
	}
	str(&c.LogLevel, "LOG_LEVEL")
	str(&c.DBPath, "DB_PATH")
	str(&c.AdminJWTSecret, "ADMIN_JWT_SECRET")
	str(&c.StaticDir, "STATIC_DIR")
	if origins := strings.TrimSpace(getenv("ALLOWED_ORIGINS")); origins != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}

	str(&c.Aleo.Endpoint, "ALEO_ENDPOINT")
	str(&c.Aleo.Network, "ALEO_NETWORK")
	str(&c.Aleo.Program, "ALEO_PROGRAM")
	str(&c.Aleo.PrivateKey, "ALEO_PRIVATE_KEY")
	str(&c.Aleo.ViewKey, "ALEO_VIEW_KEY")
	str(&c.Aleo.SnarkOSBin, "SNARKOS_BIN")
	if v := strings.TrimSpace(getenv("ALEO_NETWORK_ID")); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid ALEO_NETWORK_ID: %q", v)
		}
		c.Aleo.NetworkID = uint(n)
	}
	if v := strings.TrimSpace(getenv("MAX_CONCURRENT_PROOFS")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_CONCURRENT_PROOFS: %q", v)
		}
		c.Aleo.MaxConcurrentProofs = n
	}

	str(&c.Eth.RPCURL, "ARB_RPC", "ETH_RPC")
	str(&c.Eth.RelayerKey, "PRIVATE_KEY", "RELAYER_PRIVATE_KEY")
	str(&c.Eth.HookAddress, "HOOK_ADDRESS")
	if v := strings.TrimSpace(getenv("ETH_CHAIN_ID")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ETH_CHAIN_ID: %q", v)
		}
		c.Eth.ChainID = n
	}
	return nil
}

func checkHTTPURL(name, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s: invalid scheme '%s'", name, u.Scheme)
	}
	return nil
}

func (c *config) validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s fails '%s'", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := checkHTTPURL("aleo endpoint", c.Aleo.Endpoint); err != nil {
		return err
	}
	if err := checkHTTPURL("eth rpc url", c.Eth.RPCURL); err != nil {
		return err
	}
	if c.Eth.RelayerKey != "" {
		if _, err := util.LoadWallet(c.Eth.RelayerKey); err != nil {
			return errors.New("invalid relayer private key")
		}
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %q", c.LogLevel)
		}
	}
	return nil
}
