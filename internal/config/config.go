package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"costbasis/internal/price"
)

// Uniswap V2 mainnet deployment.
const (
	DefaultFactory            = "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
	DefaultFactoryDeployBlock = 10000835
	DefaultRouter             = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
)

// Price sources.
const (
	PriceSourceCoinGecko = "coingecko"
	PriceSourceSubgraph  = "subgraph"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Chain    ChainConfig
	Scan     ScanConfig
	Uniswap  UniswapConfig
	Price    PriceConfig
	Holder   HolderConfig
	Postgres PostgresConfig
	Serve    ServeConfig
	Out      string
	LogLevel string
}

type ChainConfig struct {
	RPCURL         string
	RequestTimeout time.Duration
}

// ScanConfig is the default window shape and retry budget of log queries.
type ScanConfig struct {
	WindowSize   uint64
	Concurrency  int
	Attempts     int
	RetryBackoff time.Duration
}

type UniswapConfig struct {
	Factory            string
	FactoryDeployBlock uint64
	Router             string
	PairWindowSize     uint64
	PairConcurrency    int
	TxConcurrency      int
}

type PriceConfig struct {
	Source        string
	CoinGeckoURL  string
	SubgraphURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
}

type HolderConfig struct {
	CollectBatch    uint64
	PageSize        int
	BalanceChunk    int
	MonitorInterval time.Duration
}

type PostgresConfig struct {
	DSN string
}

type ServeConfig struct {
	Listen string
}

// Load merges .env, config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("COSTBASIS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Chain: ChainConfig{
			RPCURL:         v.GetString("rpc"),
			RequestTimeout: v.GetDuration("request-timeout"),
		},
		Scan: ScanConfig{
			WindowSize:   v.GetUint64("window-size"),
			Concurrency:  v.GetInt("concurrency"),
			Attempts:     v.GetInt("attempts"),
			RetryBackoff: v.GetDuration("retry-backoff"),
		},
		Uniswap: UniswapConfig{
			Factory:            v.GetString("factory"),
			FactoryDeployBlock: v.GetUint64("factory-deploy-block"),
			Router:             v.GetString("router"),
			PairWindowSize:     v.GetUint64("pair-window-size"),
			PairConcurrency:    v.GetInt("pair-concurrency"),
			TxConcurrency:      v.GetInt("tx-concurrency"),
		},
		Price: PriceConfig{
			Source:        strings.ToLower(v.GetString("price-source")),
			CoinGeckoURL:  v.GetString("coingecko-url"),
			SubgraphURL:   v.GetString("subgraph-url"),
			RedisAddr:     v.GetString("redis-addr"),
			RedisPassword: v.GetString("redis-password"),
			RedisDB:       v.GetInt("redis-db"),
			CacheTTL:      v.GetDuration("price-cache-ttl"),
		},
		Holder: HolderConfig{
			CollectBatch:    v.GetUint64("collect-batch"),
			PageSize:        v.GetInt("page-size"),
			BalanceChunk:    v.GetInt("balance-chunk"),
			MonitorInterval: v.GetDuration("monitor-interval"),
		},
		Postgres: PostgresConfig{
			DSN: v.GetString("pg-dsn"),
		},
		Serve: ServeConfig{
			Listen: v.GetString("listen"),
		},
		Out:      v.GetString("out"),
		LogLevel: v.GetString("log-level"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("request-timeout", 30*time.Second)
	v.SetDefault("window-size", uint64(2000))
	v.SetDefault("concurrency", 10)
	v.SetDefault("attempts", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)

	v.SetDefault("factory", DefaultFactory)
	v.SetDefault("factory-deploy-block", uint64(DefaultFactoryDeployBlock))
	v.SetDefault("router", DefaultRouter)
	v.SetDefault("pair-window-size", uint64(0))
	v.SetDefault("pair-concurrency", 4)
	v.SetDefault("tx-concurrency", 8)

	v.SetDefault("price-source", PriceSourceCoinGecko)
	v.SetDefault("coingecko-url", price.DefaultCoinGeckoURL)
	v.SetDefault("subgraph-url", price.DefaultSubgraphURL)
	v.SetDefault("redis-db", 0)
	v.SetDefault("price-cache-ttl", 24*time.Hour)

	v.SetDefault("collect-batch", uint64(10000))
	v.SetDefault("page-size", 1000)
	v.SetDefault("balance-chunk", 100)
	v.SetDefault("monitor-interval", time.Minute)

	v.SetDefault("listen", ":8080")
	v.SetDefault("log-level", "info")
}

// Addresses parses the factory and router addresses.
func (u UniswapConfig) Addresses() (factory, router common.Address, err error) {
	if !common.IsHexAddress(u.Factory) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid factory address: %q", u.Factory)
	}
	if !common.IsHexAddress(u.Router) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid router address: %q", u.Router)
	}
	return common.HexToAddress(u.Factory), common.HexToAddress(u.Router), nil
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Scan.Attempts <= 0 {
		return fmt.Errorf("attempts must be positive")
	}
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	switch c.Price.Source {
	case PriceSourceCoinGecko, PriceSourceSubgraph:
	default:
		return fmt.Errorf("unknown price source %q", c.Price.Source)
	}
	_, _, err := c.Uniswap.Addresses()
	return err
}
