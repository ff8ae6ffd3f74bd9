// Package config loads server settings from defaults, an optional config
// file, a .env file and SK_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all server settings.
type Config struct {
	GRPCAddr string `mapstructure:"grpc_addr" validate:"required"`
	OpsAddr  string `mapstructure:"ops_addr"`
	TLSCert  string `mapstructure:"tls_cert" validate:"required_with=TLSKey"`
	TLSKey   string `mapstructure:"tls_key" validate:"required_with=TLSCert"`
	Dev      bool   `mapstructure:"dev"`

	Store       string `mapstructure:"store" validate:"oneof=memory postgres"`
	DatabaseDSN string `mapstructure:"database_dsn" validate:"required_if=Store postgres"`
	DBMaxConns  int32  `mapstructure:"db_max_conns" validate:"gte=0"`

	JWTKey     string        `mapstructure:"jwt_key" validate:"required"`
	AccessTTL  time.Duration `mapstructure:"access_ttl" validate:"gt=0"`
	AdminToken string        `mapstructure:"admin_token"`

	LoginWindow   time.Duration `mapstructure:"login_window"`
	LoginMaxFails int           `mapstructure:"login_max_fails" validate:"gt=0"`
	LoginBlockFor time.Duration `mapstructure:"login_block_for"`

	StartingGems      int64         `mapstructure:"starting_gems" validate:"gte=0"`
	RepairWindow      time.Duration `mapstructure:"repair_window" validate:"gt=0"`
	ReconcileSchedule string        `mapstructure:"reconcile_schedule"`
	ReconcilePageSize int           `mapstructure:"reconcile_page_size" validate:"gt=0"`
	CatalogFile       string        `mapstructure:"catalog_file"`

	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	CatalogCacheTTL time.Duration `mapstructure:"catalog_cache_ttl"`
}

var defaults = map[string]any{
	"grpc_addr":           ":8443",
	"ops_addr":            ":9090",
	"tls_cert":            "",
	"tls_key":             "",
	"dev":                 false,
	"store":               "postgres",
	"database_dsn":        "",
	"db_max_conns":        0,
	"jwt_key":             "",
	"access_ttl":          15 * time.Minute,
	"admin_token":         "",
	"login_window":        15 * time.Minute,
	"login_max_fails":     5,
	"login_block_for":     15 * time.Minute,
	"starting_gems":       0,
	"repair_window":       48 * time.Hour,
	"reconcile_schedule":  "10 0 * * *",
	"reconcile_page_size": 500,
	"catalog_file":        "",
	"redis_addr":          "",
	"redis_password":      "",
	"redis_db":            0,
	"catalog_cache_ttl":   5 * time.Minute,
}

// Load reads configuration. path may be empty; a missing .env is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix("SK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
