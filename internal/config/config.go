// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Site        SiteConfig        `mapstructure:"site" yaml:"site"`
	Form        FormConfig        `mapstructure:"form" yaml:"form"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts" yaml:"artifacts"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"-"`
	Reservation ReservationConfig `mapstructure:"reservation" yaml:"-"`
}

// LoggerConfig defines the configuration for the application's logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig selects and tunes the page backend.
type BrowserConfig struct {
	// Driver is "cdp" (chromedp), "playwright" or "memdom" (no browser).
	Driver            string         `mapstructure:"driver" yaml:"driver"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// SiteConfig describes the reservation web application.
type SiteConfig struct {
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	ReservationPath string `mapstructure:"reservation_path" yaml:"reservation_path"`
	// AuthMarkers are substrings of a path or host that reveal a login redirect.
	AuthMarkers          []string `mapstructure:"auth_markers" yaml:"auth_markers"`
	SubmitLabels         []string `mapstructure:"submit_labels" yaml:"submit_labels"`
	ConfirmationPatterns []string `mapstructure:"confirmation_patterns" yaml:"confirmation_patterns"`
	// OverlaySelectors are removed before filling, e.g. consent banners.
	OverlaySelectors []string `mapstructure:"overlay_selectors" yaml:"overlay_selectors"`
	UsernameLabels   []string `mapstructure:"username_labels" yaml:"username_labels"`
	PasswordLabels   []string `mapstructure:"password_labels" yaml:"password_labels"`
	LoginLabels      []string `mapstructure:"login_labels" yaml:"login_labels"`
}

// FormConfig holds the option defaults and timing of form filling.
type FormConfig struct {
	Duration            string        `mapstructure:"duration" yaml:"duration"`
	Source              string        `mapstructure:"source" yaml:"source"`
	Occasion            string        `mapstructure:"occasion" yaml:"occasion"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
	OptionalTimeout     time.Duration `mapstructure:"optional_timeout" yaml:"optional_timeout"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout" yaml:"confirmation_timeout"`
	SettleDelay         time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	KeyDelay            time.Duration `mapstructure:"key_delay" yaml:"key_delay"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StrictVisibility    bool          `mapstructure:"strict_visibility" yaml:"strict_visibility"`
	// Labels maps a field key (guests, date, time, ...) to the label texts
	// it may carry on the page.
	Labels map[string][]string `mapstructure:"labels" yaml:"labels"`
}

// ArtifactsConfig controls where failure diagnostics are written.
type ArtifactsConfig struct {
	Dir            string        `mapstructure:"dir" yaml:"dir"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
	S3             S3Config      `mapstructure:"s3" yaml:"s3"`
}

// S3Config enables upload of artifacts to a bucket.
type S3Config struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Bucket  string `mapstructure:"bucket" yaml:"bucket"`
	Region  string `mapstructure:"region" yaml:"region"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix"`
}

// StoreConfig holds the run journal connection details.
type StoreConfig struct {
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// CredentialsConfig carries secrets. They only ever come from the
// environment.
type CredentialsConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Cookies  string `mapstructure:"cookies"`
}

// ReservationConfig carries the JSON request when it is passed through the
// environment.
type ReservationConfig struct {
	Data string `mapstructure:"data"`
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tablebook")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", "cdp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.args", []string{"--disable-gpu", "--no-first-run", "--no-default-browser-check"})
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 900})
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "500ms")

	// -- Site --
	v.SetDefault("site.base_url", "https://reservation.dish.co")
	v.SetDefault("site.reservation_path", "/reservation/add")
	v.SetDefault("site.auth_markers", []string{"login", "signin", "auth"})
	v.SetDefault("site.submit_labels", []string{"Uložit", "Vytvořit", "Rezervovat", "Save", "Create", "Submit"})
	v.SetDefault("site.confirmation_patterns", []string{
		`(?i)rezervace\s+(byla\s+)?(úspěšně\s+)?(uložena|vytvořena)`,
		`(?i)reservation\s+(was\s+)?(successfully\s+)?(saved|created)`,
	})
	v.SetDefault("site.overlay_selectors", []string{"#usercentrics-root"})
	v.SetDefault("site.username_labels", []string{"E-mail", "Email", "Uživatelské jméno", "Username"})
	v.SetDefault("site.password_labels", []string{"Heslo", "Password"})
	v.SetDefault("site.login_labels", []string{"Přihlásit", "Přihlásit se", "Log in", "Login", "Sign in"})

	// -- Form --
	v.SetDefault("form.duration", "2:00")
	v.SetDefault("form.source", "Telefon")
	v.SetDefault("form.occasion", "Normální návštěva")
	v.SetDefault("form.timeout", "60s")
	v.SetDefault("form.optional_timeout", "5s")
	v.SetDefault("form.confirmation_timeout", "15s")
	v.SetDefault("form.settle_delay", "200ms")
	v.SetDefault("form.key_delay", "35ms")
	v.SetDefault("form.poll_interval", "250ms")
	v.SetDefault("form.strict_visibility", false)
	v.SetDefault("form.labels", map[string][]string{})

	// -- Artifacts --
	v.SetDefault("artifacts.dir", ".")
	v.SetDefault("artifacts.capture_timeout", "20s")
	v.SetDefault("artifacts.s3.enabled", false)
	v.SetDefault("artifacts.s3.bucket", "")
	v.SetDefault("artifacts.s3.region", "eu-central-1")
	v.SetDefault("artifacts.s3.prefix", "tablebook/")

	// -- Store --
	v.SetDefault("store.postgres_url", "")

	// -- Secrets and input (environment only) --
	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")
	v.SetDefault("credentials.cookies", "")
	v.SetDefault("reservation.data", "")
}

// BindEnv maps the conventional, unprefixed environment variable names onto
// configuration keys.
func BindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"credentials.username": "DISH_USERNAME",
		"credentials.password": "DISH_PASSWORD",
		"credentials.cookies":  "DISH_COOKIES",
		"reservation.data":     "RESERVATION_DATA",
		"form.duration":        "RES_DURATION_OPTION",
		"form.source":          "RES_SOURCE_OPTION",
		"form.occasion":        "RES_OCCASION_OPTION",
		"store.postgres_url":   "TABLEBOOK_DATABASE_URL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", key, env, err)
		}
	}
	return nil
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	if err := BindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Browser.Driver) {
	case "cdp", "playwright", "memdom":
	default:
		return fmt.Errorf("browser.driver must be one of cdp, playwright, memdom (got %q)", c.Browser.Driver)
	}
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is a required configuration field")
	}
	if len(c.Site.SubmitLabels) == 0 {
		return fmt.Errorf("site.submit_labels must name at least one label")
	}
	if len(c.Site.ConfirmationPatterns) == 0 {
		return fmt.Errorf("site.confirmation_patterns must contain at least one pattern")
	}
	if err := c.Form.Validate(); err != nil {
		return fmt.Errorf("form configuration invalid: %w", err)
	}
	if c.Artifacts.S3.Enabled && c.Artifacts.S3.Bucket == "" {
		return fmt.Errorf("artifacts.s3.bucket is required when S3 upload is enabled")
	}
	return nil
}

// Validate checks the form timing.
func (f *FormConfig) Validate() error {
	if f.Timeout <= 0 {
		return fmt.Errorf("form.timeout must be positive")
	}
	if f.OptionalTimeout <= 0 || f.OptionalTimeout > f.Timeout {
		return fmt.Errorf("form.optional_timeout must be positive and not exceed form.timeout")
	}
	if f.ConfirmationTimeout <= 0 {
		return fmt.Errorf("form.confirmation_timeout must be positive")
	}
	if f.SettleDelay < 150*time.Millisecond || f.SettleDelay > 500*time.Millisecond {
		return fmt.Errorf("form.settle_delay must be between 150ms and 500ms")
	}
	if f.KeyDelay < 0 || f.KeyDelay > time.Second {
		return fmt.Errorf("form.key_delay must be between 0 and 1s")
	}
	if f.PollInterval <= 0 {
		return fmt.Errorf("form.poll_interval must be positive")
	}
	return nil
}
