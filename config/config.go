package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wfunc/auctionserver/logger"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       logger.Config   `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Auction   AuctionConfig   `mapstructure:"auction"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Timer     TimerConfig     `mapstructure:"timer"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`

	// HeartbeatInterval bounds connection idle time; zero disables deadlines.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type DatabaseConfig struct {
	// Driver is one of "gorm", "postgres" or "memory".
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// RedisConfig enables the session token cache when Addr is set.
type RedisConfig struct {
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	TokenPrefix string `mapstructure:"token_prefix"`
}

// AuthConfig controls token login. AutoRegister creates a profile for an
// unknown token, which is only meant for development.
type AuthConfig struct {
	AutoRegister bool          `mapstructure:"auto_register"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// MaxMineSize keeps a generated mine inside a single room snapshot frame.
const MaxMineSize = 32

type AuctionConfig struct {
	MaxMembers     int           `mapstructure:"max_members"`
	InitialBid     uint32        `mapstructure:"initial_bid"`
	Duration       time.Duration `mapstructure:"duration"`
	StartOffset    time.Duration `mapstructure:"start_offset"`
	MaxRoomID      int           `mapstructure:"max_room_id"`
	MineSize       int           `mapstructure:"mine_size"`
	DefaultVisible bool          `mapstructure:"default_visible"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type TimerConfig struct {
	Resolution time.Duration `mapstructure:"resolution"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.metrics_address", ":9090")
	v.SetDefault("server.heartbeat_interval", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("redis.token_prefix", "session:")
	v.SetDefault("auth.auto_register", false)
	v.SetDefault("auth.token_ttl", "2h")
	v.SetDefault("auction.max_members", 8)
	v.SetDefault("auction.initial_bid", 500)
	v.SetDefault("auction.duration", "60s")
	v.SetDefault("auction.start_offset", "0s")
	v.SetDefault("auction.max_room_id", 65535)
	v.SetDefault("auction.mine_size", 8)
	v.SetDefault("auction.default_visible", true)
	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("timer.resolution", "100ms")
}

// LoadConfig reads config.yaml from path. A missing file is not an error;
// defaults and AUCTION_* environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("auction")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Auction.MaxMembers <= 0 || c.Auction.MaxMembers > 255:
		return fmt.Errorf("auction.max_members must be in 1..255, got %d", c.Auction.MaxMembers)
	case c.Auction.Duration <= 0:
		return fmt.Errorf("auction.duration must be positive, got %s", c.Auction.Duration)
	case c.Auction.StartOffset < 0:
		return fmt.Errorf("auction.start_offset must not be negative, got %s", c.Auction.StartOffset)
	case c.Auction.MaxRoomID < 0 || c.Auction.MaxRoomID > 65535:
		return fmt.Errorf("auction.max_room_id must be in 0..65535, got %d", c.Auction.MaxRoomID)
	case c.Auction.MineSize <= 0 || c.Auction.MineSize > MaxMineSize:
		return fmt.Errorf("auction.mine_size must be in 1..%d, got %d", MaxMineSize, c.Auction.MineSize)
	case c.Timer.Resolution <= 0:
		return fmt.Errorf("timer.resolution must be positive, got %s", c.Timer.Resolution)
	}
	switch c.Database.Driver {
	case "gorm", "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}
