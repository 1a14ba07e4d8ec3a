package api

import (
	"crypto"
	"time"

	"barterswap/ledger"
)

type ServerConfig struct {
	DB       DBConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Auth     AuthConfig
	Auction  AuctionConfig
	Currency ledger.Config
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

// RedisConfig 未啟用時，事件只在本機推送且不使用分散式鎖
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int

	KeyPrefix  string
	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Events string
}

type NATSConfig struct {
	Enabled       bool
	URL           string
	Name          string
	SubjectPrefix string

	// JetStream 啟用時結算事件會寫入 stream 保存 MaxAge
	JetStream bool
	Stream    string
	MaxAge    time.Duration
}

type AuthConfig struct {
	PrivateKey crypto.Signer
	Issuer     string
}

type AuctionConfig struct {
	SweepInterval time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	LockEnabled   bool
	LockExpiry    time.Duration
}

var DefaultAuctionConfig = AuctionConfig{
	SweepInterval: time.Minute,
	RetryAttempts: 3,
	RetryBackoff:  50 * time.Millisecond,
	LockEnabled:   true,
	LockExpiry:    8 * time.Second,
}
