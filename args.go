package main

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"barterswap/api"
	"barterswap/ledger"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")

	// auth config
	pflag.String("auth-private-key-file", "", "PEM encoded PKCS#8 ed25519 private key")
	pflag.String("auth-issuer", "barterswap", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "public", "")

	// redis config
	pflag.Bool("redis-enabled", true, "")
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "barterswap:", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "barterswap:auction-events", "")

	// nats config
	pflag.Bool("nats-enabled", false, "")
	pflag.String("nats-url", "nats://127.0.0.1:4222", "")
	pflag.String("nats-name", "barterswap", "")
	pflag.String("nats-subject-prefix", "auction.settled", "")
	pflag.Bool("nats-jetstream", false, "")
	pflag.String("nats-stream", "AUCTION_SETTLED", "")
	pflag.Duration("nats-max-age", 7*24*time.Hour, "")

	// auction config
	pflag.Duration("auction-sweep-interval", api.DefaultAuctionConfig.SweepInterval, "")
	pflag.Int("auction-retry-attempts", api.DefaultAuctionConfig.RetryAttempts, "")
	pflag.Duration("auction-retry-backoff", api.DefaultAuctionConfig.RetryBackoff, "")
	pflag.Bool("auction-lock-enabled", api.DefaultAuctionConfig.LockEnabled, "")
	pflag.Duration("auction-lock-expiry", api.DefaultAuctionConfig.LockExpiry, "")

	// currency config
	pflag.String("currency-starting-balance", ledger.DefaultConfig.StartingBalance.StringFixed(2), "")
	pflag.String("currency-positive-feedback-reward", ledger.DefaultConfig.PositiveFeedbackReward.StringFixed(2), "")
	pflag.String("currency-negative-feedback-penalty", ledger.DefaultConfig.NegativeFeedbackPenalty.StringFixed(2), "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("BARTERSWAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL:      viper.GetString("server-url"),
		PrivateKeyFile: viper.GetString("auth-private-key-file"),
		Currency: CurrencyArgs{
			StartingBalance:         viper.GetString("currency-starting-balance"),
			PositiveFeedbackReward:  viper.GetString("currency-positive-feedback-reward"),
			NegativeFeedbackPenalty: viper.GetString("currency-negative-feedback-penalty"),
		},
		ServerConfig: api.ServerConfig{
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Enabled:   viper.GetBool("redis-enabled"),
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
				StreamKeys: api.RedisStreamKeys{
					Events: viper.GetString("redis-stream-key-for-events"),
				},
			},
			NATS: api.NATSConfig{
				Enabled:       viper.GetBool("nats-enabled"),
				URL:           viper.GetString("nats-url"),
				Name:          viper.GetString("nats-name"),
				SubjectPrefix: viper.GetString("nats-subject-prefix"),
				JetStream:     viper.GetBool("nats-jetstream"),
				Stream:        viper.GetString("nats-stream"),
				MaxAge:        viper.GetDuration("nats-max-age"),
			},
			Auth: api.AuthConfig{
				Issuer: viper.GetString("auth-issuer"),
			},
			Auction: api.AuctionConfig{
				SweepInterval: viper.GetDuration("auction-sweep-interval"),
				RetryAttempts: viper.GetInt("auction-retry-attempts"),
				RetryBackoff:  viper.GetDuration("auction-retry-backoff"),
				LockEnabled:   viper.GetBool("auction-lock-enabled"),
				LockExpiry:    viper.GetDuration("auction-lock-expiry"),
			},
		},
	}
}

type Args struct {
	ServerURL      string
	PrivateKeyFile string
	Currency       CurrencyArgs
	ServerConfig   api.ServerConfig
}

// CurrencyArgs 以字串保存金額，在 Validate 時轉成 decimal
type CurrencyArgs struct {
	StartingBalance         string
	PositiveFeedbackReward  string
	NegativeFeedbackPenalty string
}

// Validate 檢查必要參數，並載入私鑰與金額設定
func (args *Args) Validate() error {
	var errs []error
	if args.ServerURL == "" {
		errs = append(errs, errors.New("server-url is required"))
	}
	if args.ServerConfig.DB.Host == "" || args.ServerConfig.DB.Database == "" {
		errs = append(errs, errors.New("db-host and db-database are required"))
	}
	if args.ServerConfig.Redis.Enabled && args.ServerConfig.Redis.Addr == "" {
		errs = append(errs, errors.New("redis-addr is required when redis is enabled"))
	}
	if args.PrivateKeyFile == "" {
		errs = append(errs, errors.New("auth-private-key-file is required"))
	} else if signer, err := loadPrivateKey(args.PrivateKeyFile); err != nil {
		errs = append(errs, err)
	} else {
		args.ServerConfig.Auth.PrivateKey = signer
	}
	currency, err := args.Currency.parse()
	if err != nil {
		errs = append(errs, err)
	}
	args.ServerConfig.Currency = currency
	return errors.Join(errs...)
}

func (c CurrencyArgs) parse() (ledger.Config, error) {
	var (
		config ledger.Config
		errs   []error
	)
	fields := []struct {
		name  string
		value string
		dest  *decimal.Decimal
	}{
		{"currency-starting-balance", c.StartingBalance, &config.StartingBalance},
		{"currency-positive-feedback-reward", c.PositiveFeedbackReward, &config.PositiveFeedbackReward},
		{"currency-negative-feedback-penalty", c.NegativeFeedbackPenalty, &config.NegativeFeedbackPenalty},
	}
	for _, field := range fields {
		amount, err := decimal.NewFromString(field.value)
		if err != nil || amount.IsNegative() {
			errs = append(errs, fmt.Errorf("%s must be a non-negative amount, got %q", field.name, field.value))
			continue
		}
		*field.dest = amount.Round(2)
	}
	return config, errors.Join(errs...)
}

func loadPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fail to read private key file, err=%w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("private key file is not PEM encoded")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("fail to parse private key, err=%w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.New("private key cannot be used for signing")
	}
	return signer, nil
}
