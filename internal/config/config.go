// Package config loads service configuration from file, environment and flags
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DEBUGTIMELINE_HTTP_ADDR
const EnvPrefix = "DEBUGTIMELINE"

// DefaultConfigName is looked up in the working directory when no file is given
const DefaultConfigName = "debugtimeline"

// Config is the full service configuration
type Config struct {
	HTTP          HTTPConfig          `mapstructure:"http"`
	GRPC          GRPCConfig          `mapstructure:"grpc"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Journal       JournalConfig       `mapstructure:"journal"`
	Log           LogConfig           `mapstructure:"log"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr" validate:"required,hostname_port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" validate:"min=1,dive,required"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
}

type ObservabilityConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
}

// JournalConfig controls persistence. An empty Path keeps the session in memory.
type JournalConfig struct {
	Path               string        `mapstructure:"path"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval" validate:"gte=0"`
	MaxFileSize        int64         `mapstructure:"max_file_size" validate:"gte=4096"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name" validate:"required"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// flagKeys maps command-line flags onto config keys
var flagKeys = map[string]string{
	"http-addr":  "http.addr",
	"grpc-addr":  "grpc.addr",
	"journal":    "journal.path",
	"log-level":  "log.level",
	"log-pretty": "log.pretty",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.addr", ":50051")

	v.SetDefault("observability.enabled", true)
	v.SetDefault("observability.addr", ":9090")

	v.SetDefault("journal.path", "")
	v.SetDefault("journal.checkpoint_interval", 10*time.Minute)
	v.SetDefault("journal.max_file_size", int64(64<<20))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "debugtimeline")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads configuration. Precedence from lowest: defaults, config file,
// environment, flags that were set explicitly. cfgFile may be empty, in which
// case ./debugtimeline.{yaml,toml,json} is used when present. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultConfigName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every failing field
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RegisterFlags adds the overridable flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", ":8080", "HTTP listen address")
	fs.String("grpc-addr", ":50051", "gRPC listen address")
	fs.String("journal", "", "journal path; empty keeps the session in memory")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("log-pretty", false, "human-readable console logs")
}
