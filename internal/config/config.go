package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Client ClientConfig `mapstructure:"client"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

type ClientConfig struct {
	ServerURL          string        `mapstructure:"server_url"`
	PageHost           string        `mapstructure:"page_host"`
	PageSecure         bool          `mapstructure:"page_secure"`
	NoiseSuppression   bool          `mapstructure:"noise_suppression"`
	EchoCancellation   bool          `mapstructure:"echo_cancellation"`
	AutoGainControl    bool          `mapstructure:"auto_gain_control"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBase          time.Duration `mapstructure:"retry_base"`
	RetryFactor        float64       `mapstructure:"retry_factor"`
	RetryMax           time.Duration `mapstructure:"retry_max"`
	RetryReset         string        `mapstructure:"retry_reset"`
	StreamPollInterval time.Duration `mapstructure:"stream_poll_interval"`
	SourceAddr         string        `mapstructure:"source_addr"`
	PlaybackAddr       string        `mapstructure:"playback_addr"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
}

type ServerConfig struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	StaticPath      string        `mapstructure:"static_path"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	Secret          string        `mapstructure:"secret"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	StaleSweep      time.Duration `mapstructure:"stale_sweep"`
	StaleTTL        time.Duration `mapstructure:"stale_ttl"`
	TelemetryPeriod time.Duration `mapstructure:"telemetry_period"`
	GatherTimeout   time.Duration `mapstructure:"gather_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client.server_url", "")
	v.SetDefault("client.page_host", "localhost")
	v.SetDefault("client.page_secure", false)
	v.SetDefault("client.noise_suppression", true)
	v.SetDefault("client.echo_cancellation", true)
	v.SetDefault("client.auto_gain_control", true)
	v.SetDefault("client.max_retries", 5)
	v.SetDefault("client.retry_base", "1s")
	v.SetDefault("client.retry_factor", 1.5)
	v.SetDefault("client.retry_max", "30s")
	v.SetDefault("client.retry_reset", "channel-open")
	v.SetDefault("client.stream_poll_interval", "5s")
	v.SetDefault("client.source_addr", "127.0.0.1:5004")
	v.SetDefault("client.playback_addr", "")
	v.SetDefault("client.dial_timeout", "10s")

	v.SetDefault("server.mode", "release")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_path", "./web")
	v.SetDefault("server.read_limit", 65536)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.secret", "voicestream")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.stale_sweep", "5m")
	v.SetDefault("server.stale_ttl", "10m")
	v.SetDefault("server.telemetry_period", "1s")
	v.SetDefault("server.gather_timeout", "2s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// Load reads config/config.<CONFIG_ENV>.yaml from the working directory.
func Load() (*Config, error) {
	return LoadFrom(".", os.Getenv("CONFIG_ENV"))
}

// LoadFrom reads <dir>/config/config.<env>.yaml, falling back to defaults
// when the file is missing. VOICE_* environment variables override both,
// e.g. VOICE_LOG_LEVEL or VOICE_CLIENT_SERVER_URL.
func LoadFrom(dir, env string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if env == "" {
		env = "dev"
	}
	fileName := filepath.Join(dir, "config", fmt.Sprintf("config.%s.yaml", env))
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Debug().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Debug().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
