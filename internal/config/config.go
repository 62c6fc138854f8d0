package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/LiveView/internal/core"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	// SecureCookies marks cookies Secure; needs TLS in front.
	SecureCookies bool `mapstructure:"secure_cookies"`

	Gateway   GatewayConfig   `mapstructure:"gateway"`
	RTC       RTCConfig       `mapstructure:"rtc"`
	Viewer    ViewerConfig    `mapstructure:"viewer"`
	Recording RecordingConfig `mapstructure:"recording"`
	Limits    LimitsConfig    `mapstructure:"limits"`
}

type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RTCConfig struct {
	SignalURL        string        `mapstructure:"signal_url"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type ViewerConfig struct {
	// Mode is the transport client mode: live (audience) or rtc.
	Mode              string        `mapstructure:"mode"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	JoinTimeout       time.Duration `mapstructure:"join_timeout"`
	FirstTrackWait    time.Duration `mapstructure:"first_track_wait"`
	LeaveTimeout      time.Duration `mapstructure:"leave_timeout"`
}

type RecordingConfig struct {
	// Dir enables recording of received media when set.
	Dir string `mapstructure:"dir"`
}

type LimitsConfig struct {
	OpensPerWindow   int           `mapstructure:"opens_per_window"`
	OpenWindow       time.Duration `mapstructure:"open_window"`
	MaxDroppedFrames int           `mapstructure:"max_dropped_frames"`
	// MountsPerToken caps concurrent shells per client token; 0 disables.
	MountsPerToken int `mapstructure:"mounts_per_token"`
}

// EnvPrefix prefixes environment overrides: LIVEVIEW_VIEWER_JOIN_TIMEOUT
// sets viewer.join_timeout.
const EnvPrefix = "LIVEVIEW"

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("secure_cookies", false)

	v.SetDefault("gateway.base_url", "http://localhost:8081/api")
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.timeout", "10s")

	v.SetDefault("rtc.signal_url", "ws://localhost:7000/signal")
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rtc.handshake_timeout", "10s")

	v.SetDefault("viewer.mode", "live")
	v.SetDefault("viewer.heartbeat_interval", "10s")
	v.SetDefault("viewer.join_timeout", "15s")
	v.SetDefault("viewer.first_track_wait", "3s")
	v.SetDefault("viewer.leave_timeout", "3s")

	v.SetDefault("recording.dir", "")

	v.SetDefault("limits.opens_per_window", 10)
	v.SetDefault("limits.open_window", "1m")
	v.SetDefault("limits.max_dropped_frames", 16)
	v.SetDefault("limits.mounts_per_token", 4)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("gateway", cfg.Gateway.BaseURL).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway.base_url is required"))
	}
	if c.RTC.SignalURL == "" {
		errs = append(errs, errors.New("rtc.signal_url is required"))
	}
	if !core.ClientMode(c.Viewer.Mode).Valid() {
		errs = append(errs, fmt.Errorf("viewer.mode %q must be live or rtc", c.Viewer.Mode))
	}
	if c.Viewer.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("viewer.heartbeat_interval must be positive"))
	}
	if c.Viewer.JoinTimeout <= 0 {
		errs = append(errs, errors.New("viewer.join_timeout must be positive"))
	}
	if c.Limits.OpensPerWindow <= 0 || c.Limits.OpenWindow <= 0 {
		errs = append(errs, errors.New("limits.opens_per_window and limits.open_window must be positive"))
	}
	if c.Limits.MountsPerToken < 0 {
		errs = append(errs, errors.New("limits.mounts_per_token must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
