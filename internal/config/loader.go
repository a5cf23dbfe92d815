// Package config loads service configuration from an optional config.yaml
// with MATTERS_* environment overrides.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/viper"

	"github.com/rpattn/matters/internal/db"
)

// EnvPrefix is prepended to every environment override, e.g. MATTERS_DATABASE_HOST.
const EnvPrefix = "MATTERS"

type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

type RedisConfig struct {
	// URL is empty when the boundary cache is disabled.
	URL string
	TTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type QueryConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Config is the full service configuration.
type Config struct {
	Database         db.Config
	Server           ServerConfig
	SLAThreshold     time.Duration
	Redis            RedisConfig
	Log              LogConfig
	DefaultAccountID int64
	Query            QueryConfig
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		SLAThreshold:     8 * time.Hour,
		Redis:            RedisConfig{TTL: 24 * time.Hour},
		Log:              LogConfig{Level: "info", Format: "console"},
		DefaultAccountID: 1,
		Query:            QueryConfig{DefaultPageSize: 25, MaxPageSize: 100},
	}
}

var envKeys = []string{
	"database.host",
	"database.port",
	"database.user",
	"database.password",
	"database.dbname",
	"database.sslmode",
	"database.max_conns",
	"server.addr",
	"server.cors_origins",
	"sla.threshold_hours",
	"redis.url",
	"redis.ttl",
	"log.level",
	"log.format",
	"account.default_id",
	"query.default_page_size",
	"query.max_page_size",
}

// Load reads config.yaml from configPath when present and applies
// environment overrides on top of Default.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return cfg, goerr.Wrap(err, "failed to bind env", goerr.V("key", key))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, goerr.Wrap(err, "failed to read config file", goerr.V("path", configPath))
		}
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.max_conns") {
		cfg.Database.MaxConns = v.GetInt32("database.max_conns")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.cors_origins") {
		cfg.Server.CORSOrigins = splitList(v.GetStringSlice("server.cors_origins"))
	}

	if v.IsSet("sla.threshold_hours") {
		cfg.SLAThreshold = time.Duration(v.GetFloat64("sla.threshold_hours") * float64(time.Hour))
	}

	if v.IsSet("redis.url") {
		cfg.Redis.URL = v.GetString("redis.url")
	}
	if v.IsSet("redis.ttl") {
		cfg.Redis.TTL = v.GetDuration("redis.ttl")
	}

	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		cfg.Log.Format = v.GetString("log.format")
	}

	if v.IsSet("account.default_id") {
		cfg.DefaultAccountID = v.GetInt64("account.default_id")
	}

	if v.IsSet("query.default_page_size") {
		cfg.Query.DefaultPageSize = v.GetInt("query.default_page_size")
	}
	if v.IsSet("query.max_page_size") {
		cfg.Query.MaxPageSize = v.GetInt("query.max_page_size")
	}

	return cfg, cfg.Validate()
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	switch {
	case c.SLAThreshold <= 0:
		return goerr.New("sla threshold must be positive", goerr.V("threshold", c.SLAThreshold))
	case c.DefaultAccountID <= 0:
		return goerr.New("default account id must be positive", goerr.V("account_id", c.DefaultAccountID))
	case c.Query.DefaultPageSize <= 0 || c.Query.MaxPageSize < c.Query.DefaultPageSize:
		return goerr.New("invalid page sizes",
			goerr.V("default", c.Query.DefaultPageSize),
			goerr.V("max", c.Query.MaxPageSize),
		)
	case c.Database.MaxConns < 0:
		return goerr.New("database max_conns must not be negative", goerr.V("max_conns", c.Database.MaxConns))
	}
	return nil
}

// Env strings arrive as one comma separated value.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
