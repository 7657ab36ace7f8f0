package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the runtime parameters shared by the gateway, api and pusher binaries.
type Config struct {
	LogLevel            string          `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration   `mapstructure:"shutdown_grace_period"`
	Gateway             ListenConfig    `mapstructure:"gateway"`
	API                 ListenConfig    `mapstructure:"api"`
	Pusher              ListenConfig    `mapstructure:"pusher"`
	Auth                AuthConfig      `mapstructure:"auth"`
	Store               StoreConfig     `mapstructure:"store"`
	Redis               RedisConfig     `mapstructure:"redis"`
	Kafka               KafkaConfig     `mapstructure:"kafka"`
	Push                PushConfig      `mapstructure:"push"`
	Presence            PresenceConfig  `mapstructure:"presence"`
	Relay               RelayConfig     `mapstructure:"relay"`
	Snowflake           SnowflakeConfig `mapstructure:"snowflake"`
	Profiles            ProfilesConfig  `mapstructure:"profiles"`
}

type ListenConfig struct {
	Address string `mapstructure:"address"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// StoreConfig selects the message store backend.
type StoreConfig struct {
	Driver         string   `mapstructure:"driver"`
	SQLitePath     string   `mapstructure:"sqlite_path"`
	PostgresURL    string   `mapstructure:"postgres_url"`
	ScyllaHosts    []string `mapstructure:"scylla_hosts"`
	ScyllaKeyspace string   `mapstructure:"scylla_keyspace"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type KafkaConfig struct {
	Brokers   []string `mapstructure:"brokers"`
	PushTopic string   `mapstructure:"push_topic"`
	GroupID   string   `mapstructure:"group_id"`
}

type PushConfig struct {
	Mode string    `mapstructure:"mode"`
	FCM  FCMConfig `mapstructure:"fcm"`
}

type FCMConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
	TokenURL        string `mapstructure:"token_url"`
}

type PresenceConfig struct {
	Policy  string `mapstructure:"policy"`
	Mailbox int    `mapstructure:"mailbox"`
}

type RelayConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type SnowflakeConfig struct {
	NodeID int64 `mapstructure:"node_id"`
}

type ProfilesConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreScylla   = "scylla"

	PushLog   = "log"
	PushKafka = "kafka"
	PushFCM   = "fcm"

	PresenceLastWins   = "last_wins"
	PresenceRefCounted = "ref_counted"
)

var defaults = map[string]any{
	"log_level":                 "info",
	"shutdown_grace_period":     "10s",
	"gateway.address":           ":8080",
	"api.address":               ":8081",
	"pusher.address":            ":8082",
	"auth.jwt_secret":           "my_secret_key",
	"auth.token_ttl":            "24h",
	"store.driver":              StoreMemory,
	"store.sqlite_path":         "chat.db",
	"store.postgres_url":        "",
	"store.scylla_hosts":        []string{"localhost:9042"},
	"store.scylla_keyspace":     "chat",
	"redis.addr":                "",
	"kafka.brokers":             []string{"localhost:19092"},
	"kafka.push_topic":          "push-notifications",
	"kafka.group_id":            "pusher",
	"push.mode":                 PushLog,
	"push.fcm.credentials_file": "",
	"push.fcm.endpoint":         "https://fcm.googleapis.com",
	"push.fcm.token_url":        "",
	"presence.policy":           PresenceLastWins,
	"presence.mailbox":          256,
	"relay.idle_timeout":        "5m",
	"snowflake.node_id":         1,
	"profiles.cache_size":       1024,
	"profiles.cache_ttl":        "1m",
}

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with RELAY_ and override file values,
// e.g. RELAY_STORE_DRIVER=sqlite.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite, StorePostgres, StoreScylla:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == StorePostgres && c.Store.PostgresURL == "" {
		return fmt.Errorf("store.postgres_url is required for the postgres driver")
	}
	switch c.Push.Mode {
	case PushLog, PushKafka, PushFCM:
	default:
		return fmt.Errorf("unknown push mode %q", c.Push.Mode)
	}
	if c.Push.Mode == PushFCM && c.Push.FCM.CredentialsFile == "" {
		return fmt.Errorf("push.fcm.credentials_file is required for fcm push")
	}
	switch c.Presence.Policy {
	case PresenceLastWins, PresenceRefCounted:
	default:
		return fmt.Errorf("unknown presence policy %q", c.Presence.Policy)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	return nil
}
