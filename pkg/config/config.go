// Package config loads settlementd configuration from a YAML file with
// TVA_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full settlementd configuration.
type Config struct {
	HTTP struct {
		Port      string `mapstructure:"port"`
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"http"`

	NATS struct {
		URL            string        `mapstructure:"url"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
		EventBuffer    int           `mapstructure:"event_buffer"`
	} `mapstructure:"nats"`

	Ledger struct {
		// Mode selects the gateway implementation: "horizon" or "memory".
		Mode              string        `mapstructure:"mode"`
		HorizonURL        string        `mapstructure:"horizon_url"`
		NetworkPassphrase string        `mapstructure:"network_passphrase"`
		RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"ledger"`

	Vault struct {
		Address     string   `mapstructure:"address"`
		SignerSeeds []string `mapstructure:"signer_seeds"`
	} `mapstructure:"vault"`

	Settlement struct {
		BatchLimit     int           `mapstructure:"batch_limit"`
		ScanWindow     int           `mapstructure:"scan_window"`
		SubmitAttempts int           `mapstructure:"submit_attempts"`
		SubmitBackoff  time.Duration `mapstructure:"submit_backoff"`
		PollAttempts   int           `mapstructure:"poll_attempts"`
		PollInterval   time.Duration `mapstructure:"poll_interval"`
		FetchAttempts  int           `mapstructure:"fetch_attempts"`
		FetchBackoff   time.Duration `mapstructure:"fetch_backoff"`
		LockTTL        time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"settlement"`

	Store struct {
		// Mode selects the replay record store: "postgres" or "memory".
		Mode        string `mapstructure:"mode"`
		PostgresDSN string `mapstructure:"postgres_dsn"`
	} `mapstructure:"store"`

	Redis struct {
		// Enabled switches the settlement lock from in-process to Redis.
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"redis"`

	Etcd struct {
		// Enabled turns on leader election for multi-instance deployments.
		Enabled   bool     `mapstructure:"enabled"`
		Endpoints []string `mapstructure:"endpoints"`
	} `mapstructure:"etcd"`

	Influx struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url"`
		Token   string `mapstructure:"token"`
		Org     string `mapstructure:"org"`
		Bucket  string `mapstructure:"bucket"`
	} `mapstructure:"influx"`
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http.port", "8080")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.request_timeout", 10*time.Second)
	v.SetDefault("nats.event_buffer", 64)
	v.SetDefault("ledger.mode", "horizon")
	v.SetDefault("ledger.request_timeout", 30*time.Second)
	v.SetDefault("settlement.batch_limit", 100)
	v.SetDefault("settlement.scan_window", 200)
	v.SetDefault("settlement.submit_attempts", 3)
	v.SetDefault("settlement.submit_backoff", 500*time.Millisecond)
	v.SetDefault("settlement.poll_attempts", 30)
	v.SetDefault("settlement.poll_interval", 2*time.Second)
	v.SetDefault("settlement.fetch_attempts", 3)
	v.SetDefault("settlement.fetch_backoff", time.Second)
	v.SetDefault("settlement.lock_ttl", 5*time.Minute)
	v.SetDefault("store.mode", "postgres")
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetEnvPrefix("TVA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Vault.Address == "" {
		return nil, fmt.Errorf("vault.address is required")
	}
	if cfg.Ledger.Mode == "horizon" && cfg.Ledger.HorizonURL == "" {
		return nil, fmt.Errorf("ledger.horizon_url is required in horizon mode")
	}
	if cfg.Store.Mode == "postgres" && cfg.Store.PostgresDSN == "" {
		return nil, fmt.Errorf("store.postgres_dsn is required in postgres mode")
	}

	return &cfg, nil
}
