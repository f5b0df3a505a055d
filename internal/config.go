package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tgmonitor/internal/transport"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Auth     AuthConfig        `yaml:"auth"`
	Telegram TelegramConfig    `yaml:"telegram"`
	Proxy    transport.Config  `yaml:"proxy"`
	Monitor  MonitorConfig     `yaml:"monitor"`
	Refresh  RefreshConfig     `yaml:"refresh"`
	Ads      AdsConfig         `yaml:"ads"`
	Rules    RulesConfig       `yaml:"rules"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"sqlite", &c.SQLite},
		{"auth", &c.Auth},
		{"telegram", &c.Telegram},
		{"proxy", &c.Proxy},
		{"monitor", &c.Monitor},
		{"refresh", &c.Refresh},
		{"ads", &c.Ads},
	}
	for _, ch := range checks {
		if err := ch.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds the rule database location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds admin API authentication.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

var phoneRe = regexp.MustCompile(`^\+\d{6,15}$`)

// TelegramConfig points at the protocol sidecar. Phone, when set, is used to
// resume the stored session at boot.
type TelegramConfig struct {
	BridgeURL      string        `yaml:"bridge_url"`
	Token          string        `yaml:"token"`
	Phone          string        `yaml:"phone"`
	SessionName    string        `yaml:"session_name"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Validate validates the telegram configuration.
func (c *TelegramConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BridgeURL, validation.Required, validation.By(websocketURL)),
		validation.Field(&c.Phone, validation.Match(phoneRe)),
		validation.Field(&c.SessionName, validation.Required),
		validation.Field(&c.RequestTimeout, validation.Min(0*time.Second)),
	)
}

func websocketURL(v any) error {
	s, _ := v.(string)
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

// MonitorConfig tunes the dispatcher and the health loop.
type MonitorConfig struct {
	TargetID       int64         `yaml:"target_id"`
	Autostart      bool          `yaml:"autostart"`
	QueueSize      int           `yaml:"queue_size"`
	HealthInterval time.Duration `yaml:"health_interval"`
	HandleTimeout  time.Duration `yaml:"handle_timeout"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
}

// Validate validates the monitor configuration.
func (c *MonitorConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.QueueSize, validation.Required, validation.Min(1), validation.Max(1<<16)),
		validation.Field(&c.HealthInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.HandleTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SendTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// RefreshConfig sets how often rules and ads are reloaded.
type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Validate validates the refresh configuration.
func (c *RefreshConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second), validation.Max(c.Interval)),
	)
}

// AdsConfig configures the advertisement endpoint. An empty URL disables it.
type AdsConfig struct {
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl"`
}

// Validate validates the ads configuration.
func (c *AdsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.By(httpURL)),
		validation.Field(&c.TTL, validation.Min(0*time.Second)),
	)
}

func httpURL(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	return nil
}

// RulesConfig locates the keyword seed file. An empty path disables seeding.
type RulesConfig struct {
	SeedFile string `yaml:"seed_file"`
	Watch    bool   `yaml:"watch"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./tgmonitor.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Telegram: TelegramConfig{
			BridgeURL:      "ws://127.0.0.1:8765/ws",
			SessionName:    "tgmonitor",
			RequestTimeout: 30 * time.Second,
		},
		Proxy: transport.Direct,
		Monitor: MonitorConfig{
			QueueSize:      256,
			HealthInterval: 60 * time.Second,
			HandleTimeout:  60 * time.Second,
			SendTimeout:    30 * time.Second,
		},
		Refresh: RefreshConfig{
			Interval: 5 * time.Minute,
			Timeout:  time.Minute,
		},
		Ads: AdsConfig{
			TTL: time.Hour,
		},
		Rules: RulesConfig{
			SeedFile: "config/keywords.yaml",
			Watch:    true,
		},
	}
}
