package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig selects what is streamed and how it is printed.
type AppConfig struct {
	Stream string         `mapstructure:"stream"`
	Match  []string       `mapstructure:"match"`
	Filter map[string]any `mapstructure:"filter"`
	Format string         `mapstructure:"format"`
	Color  string         `mapstructure:"color"`
}

// LoggingConfig holds the logging-related configuration.
type LoggingConfig struct {
	Level string `mapstructure:"log_level"`
}

// DockerConfig overrides the daemon address taken from the environment.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

type TimingConfig struct {
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	TeardownGrace    time.Duration `mapstructure:"teardown_grace"`
	StartPad         time.Duration `mapstructure:"start_pad"`
	RetryMaxInterval time.Duration `mapstructure:"retry_max_interval"`
}

type OutputConfig struct {
	StreamBuffer int `mapstructure:"stream_buffer"`
}

// Config is the top-level configuration struct.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Logging LoggingConfig `mapstructure:"log"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Timing  TimingConfig  `mapstructure:"timing"`
	Output  OutputConfig  `mapstructure:"output"`
}

// SetDefaults registers every default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.stream", "both")
	v.SetDefault("app.match", []string{})
	v.SetDefault("app.format", "text")
	v.SetDefault("app.color", "auto")
	v.SetDefault("log.log_level", "INFO")
	v.SetDefault("docker.host", "")
	v.SetDefault("timing.reconnect_delay", 200*time.Millisecond)
	v.SetDefault("timing.teardown_grace", 25*time.Millisecond)
	v.SetDefault("timing.start_pad", 10*time.Millisecond)
	v.SetDefault("timing.retry_max_interval", 5*time.Second)
	v.SetDefault("output.stream_buffer", 1024)
}

// InitConfig sets defaults, reads the config file and enables environment
// overrides. An empty configFile looks for config.yaml in the working
// directory and tolerates its absence.
func InitConfig(configFile string) error {
	SetDefaults(viper.GetViper())

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config") // Looks for config.yaml
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return nil
}

// Load unmarshals the configuration into the Config struct.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.App.Format {
	case "text", "json":
	default:
		return fmt.Errorf("app.format must be text or json, got %q", c.App.Format)
	}
	switch c.App.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("app.color must be auto, always or never, got %q", c.App.Color)
	}
	if c.Output.StreamBuffer <= 0 {
		return fmt.Errorf("output.stream_buffer must be positive, got %d", c.Output.StreamBuffer)
	}
	return nil
}
