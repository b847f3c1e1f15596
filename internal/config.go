package internal

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type NovaTSConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Workdir     string `mapstructure:"workdir"`
		MaxSegments int    `mapstructure:"max_segments"`
		WALSync     bool   `mapstructure:"wal_sync"`
	} `mapstructure:"storage"`

	Cache struct {
		Capacity          int  `mapstructure:"capacity"`
		InvalidateOnFlush bool `mapstructure:"invalidate_on_flush"`
	} `mapstructure:"cache"`

	Server struct {
		Addr  string `mapstructure:"addr"`
		Debug bool   `mapstructure:"debug"`
	} `mapstructure:"server"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// EnvPrefix prefixes environment overrides, e.g. NOVATS_STORAGE_WORKDIR.
const EnvPrefix = "NOVATS"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "novats")
	v.SetDefault("storage.workdir", "./data")
	v.SetDefault("storage.max_segments", 8)
	v.SetDefault("storage.wal_sync", false)
	v.SetDefault("cache.capacity", 256)
	v.SetDefault("cache.invalidate_on_flush", true)
	v.SetDefault("server.addr", "127.0.0.1:5544")
	v.SetDefault("server.debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// NewViper returns a viper instance with defaults and env overrides wired, so
// callers can bind flags before calling Unmarshal.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultConfig is the configuration used when no file is given.
func DefaultConfig() *NovaTSConfig {
	cfg, err := Unmarshal(NewViper())
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

func LoadConfig(path string) (*NovaTSConfig, error) {
	v := NewViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Unmarshal(v)
}

func Unmarshal(v *viper.Viper) (*NovaTSConfig, error) {
	var cfg NovaTSConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Storage.MaxSegments < 1 {
		return nil, fmt.Errorf("config: storage.max_segments must be >= 1, got %d", cfg.Storage.MaxSegments)
	}
	return &cfg, nil
}
