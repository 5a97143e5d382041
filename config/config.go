package config

import (
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	StrategyRoundRobin         = "round-robin"
	StrategyWeightedRoundRobin = "weighted-round-robin"
	StrategyLeastLoad          = "least-load"
)

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Weight  uint32 `mapstructure:"weight"`
}

type HealthCheckConfig struct {
	Interval    string `mapstructure:"interval"`
	MaxFailures uint32 `mapstructure:"max_failures"`
}

type ProbeConfig struct {
	Timeout        string  `mapstructure:"timeout"`
	ThreadPoolSize int     `mapstructure:"thread_pool_size"`
	DNSCacheTTL    string  `mapstructure:"dns_cache_ttl"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
}

type StrategyConfig struct {
	Type string `mapstructure:"type"`
}

type DiscoveryConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
	Prefix    string   `mapstructure:"prefix"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

type Config struct {
	Servers     []ServerConfig    `mapstructure:"servers"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Probe       ProbeConfig       `mapstructure:"probe"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

func Load() (*Config, error) {
	viper.SetDefault("health_check.interval", "5s")
	viper.SetDefault("health_check.max_failures", 3)
	viper.SetDefault("probe.timeout", "1s")
	viper.SetDefault("probe.thread_pool_size", 4)
	viper.SetDefault("probe.dns_cache_ttl", "300s")
	viper.SetDefault("probe.rate_per_second", 0)
	viper.SetDefault("strategy.type", StrategyRoundRobin)
	viper.SetDefault("discovery.prefix", "/lbcore/backends")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("logging.environment", EnvDev)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Servers,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateServerConfig)),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Probe,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProbeConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProbeConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&pc.DNSCacheTTL,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&pc.ThreadPoolSize,
						validation.Min(1),
					),
				)
			}),
		),
		validation.Field(&c.Strategy,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StrategyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Type,
						validation.Required,
						validation.In(StrategyRoundRobin, StrategyWeightedRoundRobin, StrategyLeastLoad),
					),
				)
			}),
		),
		validation.Field(&c.Discovery,
			validation.By(func(value interface{}) error {
				dc, ok := value.(DiscoveryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a DiscoveryConfig")
				}
				return validation.ValidateStruct(&dc,
					validation.Field(&dc.Endpoints,
						validation.Each(validation.By(validateHostPort)),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
					validation.Field(&lc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
				)
			}),
		),
	)
}

func validateServerConfig(value interface{}) error {
	sc, ok := value.(ServerConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServerConfig")
	}

	if sc.Address == "" {
		return validation.NewError("validation_empty_address", "server address cannot be empty")
	}

	return validateServerAddress(sc.Address)
}

// validateServerAddress accepts "host" or "host:port"; the probe defaults a
// missing port to 80.
func validateServerAddress(address string) error {
	host := address

	if strings.Contains(address, ":") {
		var port string
		var err error
		host, port, err = net.SplitHostPort(address)
		if err != nil {
			return validation.NewError("validation_invalid_hostport", "must be in host:port format")
		}

		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return validation.NewError("validation_invalid_port", "port must be between 1 and 65535")
		}
	}

	if err := is.Host.Validate(host); err != nil {
		return validation.NewError("validation_invalid_host", "invalid host")
	}

	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}
