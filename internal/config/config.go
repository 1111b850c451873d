// Package config loads the daemon's configuration the way
// orbas1-Synnergy's pkg/config does: a single viper-backed Load that
// reads a base file, merges an optional named override, and lets
// environment variables take the final word.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the unified configuration for a hashtreed node. Nested
// structs mirror the ten components plus the ambient packages, the way
// pkg/config.Config groups Network/Consensus/VM/Storage/Logging.
type Config struct {
	Node struct {
		DataDir    string `mapstructure:"data_dir"`
		ListenHTTP string `mapstructure:"listen_http"`
	} `mapstructure:"node"`

	Blobstore struct {
		DBPath   string `mapstructure:"db_path"`
		MaxBytes int64  `mapstructure:"max_bytes"`
	} `mapstructure:"blobstore"`

	Transport struct {
		Endpoints      []string      `mapstructure:"endpoints"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
		TrustedKeyHex  string        `mapstructure:"trusted_key_hex"`
	} `mapstructure:"transport"`

	Signaling struct {
		RelayURL        string `mapstructure:"relay_url"`
		FollowsPoolSize int    `mapstructure:"follows_pool_size"`
		OtherPoolSize   int    `mapstructure:"other_pool_size"`
	} `mapstructure:"signaling"`

	Registry struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"registry"`

	Logging struct {
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"logging"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"metrics"`

	Identity struct {
		KeyPath string `mapstructure:"key_path"`
		OrgSalt string `mapstructure:"org_salt"`
	} `mapstructure:"identity"`
}

// AppConfig holds the configuration loaded via Load.
var AppConfig Config

// Load reads config/default.{yaml,yml,...} from the given paths, merges
// an optional named override (e.g. "bootstrap" reads config/bootstrap.*),
// lets environment variables override file values, and stores the
// result in AppConfig.
func Load(env string, searchPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if len(searchPaths) == 0 {
		v.AddConfigPath("config")
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read default: %w", err)
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: merge %s: %w", env, err)
		}
	}

	v.SetEnvPrefix("HASHTREE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &AppConfig, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.data_dir", "./data")
	v.SetDefault("node.listen_http", ":8080")
	v.SetDefault("blobstore.db_path", "./data/blobs.db")
	v.SetDefault("blobstore.max_bytes", int64(1<<30))
	v.SetDefault("transport.request_timeout", 30*time.Second)
	v.SetDefault("signaling.follows_pool_size", 24)
	v.SetDefault("signaling.other_pool_size", 48)
	v.SetDefault("registry.path", "./data/registry.enc")
	v.SetDefault("metrics.listen_addr", ":9090")
	v.SetDefault("identity.key_path", "./data/identity.enc")
}
