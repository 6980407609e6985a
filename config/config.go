package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix  = "PEERCHAT"
	configName = "peerchat"
	configType = "toml"
)

type Config struct {
	// Directory service
	ListenAddr    string
	AdminAddr     string
	Store         string // sqlite, toml, redis or memory
	DBPath        string
	TOMLPath      string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	BcryptCost    int
	PushQueueSize int
	PushRetries   int
	PushBackoff   time.Duration

	// Client session
	DirectoryAddr string
	ClientHost    string
	ClientPort    int
	InboxCapacity int

	CallTimeout time.Duration
	Debug       bool
}

// SetDefaults registers every key so env and flags can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":1099")
	v.SetDefault("admin_addr", "127.0.0.1:8099")
	v.SetDefault("store", "sqlite")
	v.SetDefault("db_path", "peerchat.db")
	v.SetDefault("toml_path", "peerchat-data.toml")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_prefix", "peerchat:")
	v.SetDefault("bcrypt_cost", 0)
	v.SetDefault("push_queue_size", 64)
	v.SetDefault("push_retries", 3)
	v.SetDefault("push_backoff", 200*time.Millisecond)
	v.SetDefault("directory_addr", "localhost:1099")
	v.SetDefault("client_host", "localhost")
	v.SetDefault("client_port", 0)
	v.SetDefault("inbox_capacity", 1024)
	v.SetDefault("call_timeout", 10*time.Second)
	v.SetDefault("debug", false)
}

// Load reads defaults, an optional peerchat.toml in the working directory
// and PEERCHAT_* environment variables, in increasing precedence.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{
		ListenAddr:    v.GetString("listen_addr"),
		AdminAddr:     v.GetString("admin_addr"),
		Store:         v.GetString("store"),
		DBPath:        v.GetString("db_path"),
		TOMLPath:      v.GetString("toml_path"),
		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisPrefix:   v.GetString("redis_prefix"),
		BcryptCost:    v.GetInt("bcrypt_cost"),
		PushQueueSize: v.GetInt("push_queue_size"),
		PushRetries:   v.GetInt("push_retries"),
		PushBackoff:   v.GetDuration("push_backoff"),
		DirectoryAddr: v.GetString("directory_addr"),
		ClientHost:    v.GetString("client_host"),
		ClientPort:    v.GetInt("client_port"),
		InboxCapacity: v.GetInt("inbox_capacity"),
		CallTimeout:   v.GetDuration("call_timeout"),
		Debug:         v.GetBool("debug"),
	}

	if cfg.PushQueueSize <= 0 {
		cfg.PushQueueSize = 64
	}
	if cfg.PushRetries <= 0 {
		cfg.PushRetries = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.InboxCapacity < 0 {
		cfg.InboxCapacity = 0
	}

	return cfg, nil
}
