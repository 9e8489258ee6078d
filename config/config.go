// Package config loads service settings from the environment and an
// optional .env file.
package config

import (
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	DB      DBConfig
	Backend BackendConfig
	Cache   CacheConfig
	Retry   RetryConfig
	Engine  EngineConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type LogConfig struct {
	Level string
	JSON  bool
}

type DBConfig struct {
	// Path of the sqlite file holding ledgers, snapshots and the audit log.
	Path string
}

type BackendConfig struct {
	BaseURL        string
	APIToken       string
	TimeoutSeconds int
}

type CacheConfig struct {
	Enabled       bool
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	TTLSeconds    int
}

type RetryConfig struct {
	IntervalSeconds int
	Concurrency     int
}

type EngineConfig struct {
	Strict bool
}

var (
	once     sync.Once
	instance *Config
)

// Load reads the configuration once per process.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()
		instance = Read(viper.New())
	})
	return instance
}

// Read builds a Config from v after applying defaults and binding the
// environment.
func Read(v *viper.Viper) *Config {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("SERVER_READ_TIMEOUT", 15)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)
	v.SetDefault("DB_PATH", "./data/forecast.db")
	v.SetDefault("BACKEND_BASE_URL", "")
	v.SetDefault("BACKEND_API_TOKEN", "")
	v.SetDefault("BACKEND_TIMEOUT_SECONDS", 30)
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL_SECONDS", 60)
	v.SetDefault("RETRY_INTERVAL_SECONDS", 30)
	v.SetDefault("RETRY_CONCURRENCY", 4)
	v.SetDefault("ENGINE_STRICT", false)

	// Read from environment variables
	v.AutomaticEnv()

	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			JSON:  v.GetBool("LOG_JSON"),
		},
		DB: DBConfig{
			Path: v.GetString("DB_PATH"),
		},
		Backend: BackendConfig{
			BaseURL:        v.GetString("BACKEND_BASE_URL"),
			APIToken:       v.GetString("BACKEND_API_TOKEN"),
			TimeoutSeconds: v.GetInt("BACKEND_TIMEOUT_SECONDS"),
		},
		Cache: CacheConfig{
			Enabled:       v.GetBool("CACHE_ENABLED"),
			RedisURL:      v.GetString("REDIS_URL"),
			RedisHost:     v.GetString("REDIS_HOST"),
			RedisPort:     v.GetString("REDIS_PORT"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			TTLSeconds:    v.GetInt("CACHE_TTL_SECONDS"),
		},
		Retry: RetryConfig{
			IntervalSeconds: v.GetInt("RETRY_INTERVAL_SECONDS"),
			Concurrency:     v.GetInt("RETRY_CONCURRENCY"),
		},
		Engine: EngineConfig{
			Strict: v.GetBool("ENGINE_STRICT"),
		},
	}
}

func (c ServerConfig) Addr() string { return ":" + c.Port }

func (c BackendConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c RetryConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.TTLSeconds) * time.Second
}
