package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration. It is loaded once at
// startup and must not be modified after it is handed to the core.
type Config struct {
	Version     int                   `toml:"version"`
	Browser     BrowserConfig         `toml:"browser"`
	Wait        WaitConfig            `toml:"wait"`
	Auth        AuthConfig            `toml:"auth"`
	Convergence ConvergenceConfig     `toml:"convergence"`
	Logger      LoggerConfig          `toml:"logger"`
	Debug       DebugConfig           `toml:"debug"`
	Store       StoreConfig           `toml:"store"`
	Email       EmailConfig           `toml:"email"`
	Sites       map[string]SiteConfig `toml:"sites" validate:"dive"`
}

type BrowserConfig struct {
	Headless  bool   `toml:"headless"`
	Width     int    `toml:"width" validate:"gt=0"`
	Height    int    `toml:"height" validate:"gt=0"`
	UserAgent string `toml:"user_agent"`
}

// WaitConfig controls the polling engine.
type WaitConfig struct {
	Timeout      Duration `toml:"timeout"`
	PollInterval Duration `toml:"poll_interval"`
}

type AuthConfig struct {
	// SMSWindow bounds how long the one-time-code prompt waits for input.
	SMSWindow Duration `toml:"sms_window"`
	// Interactive enables manual-continue checkpoints.
	Interactive bool `toml:"interactive"`
}

// ConvergenceConfig holds the stability settings of each repeat-and-sample
// loop. The defaults were tuned by hand against the live sites.
type ConvergenceConfig struct {
	Coin      LoopConfig `toml:"coin"`
	Scroll    LoopConfig `toml:"scroll"`
	Coupons   LoopConfig `toml:"coupons"`
	Countdown LoopConfig `toml:"countdown"`
}

type LoopConfig struct {
	Threshold     int      `toml:"threshold" validate:"gte=1"`
	MaxIterations int      `toml:"max_iterations" validate:"gte=0"`
	Pause         Duration `toml:"pause"`
}

type LoggerConfig struct {
	Level       string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format      string `toml:"format" validate:"omitempty,oneof=console json"`
	AddSource   bool   `toml:"add_source"`
	ServiceName string `toml:"service_name"`
	LogFile     string `toml:"log_file"`
	MaxSize     int    `toml:"max_size"`
	MaxBackups  int    `toml:"max_backups"`
	MaxAge      int    `toml:"max_age"`
	Compress    bool   `toml:"compress"`
}

type DebugConfig struct {
	DryRun bool `toml:"dry_run"`
	Trace  bool `toml:"trace"`
}

type StoreConfig struct {
	// Path of the SQLite database. Empty means <config dir>/claim4me.db.
	Path string `toml:"path"`
	// Cookies selects the cookie backend: "sqlite" or "file".
	Cookies string `toml:"cookies" validate:"omitempty,oneof=sqlite file"`
}

type EmailConfig struct {
	Enabled  bool   `toml:"enabled"`
	SMTPHost string `toml:"smtp_host" validate:"required_if=Enabled true"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address" validate:"required_if=Enabled true"`
	ToAddr   string `toml:"to_address" validate:"required_if=Enabled true"`
}

// SiteConfig holds credentials and the selector/URL table of one site.
type SiteConfig struct {
	Username   string    `toml:"username"`
	Password   string    `toml:"password"`
	CookieID   string    `toml:"cookie_id"`
	MaxCoupons int       `toml:"max_coupons" validate:"gte=0"`
	Selectors  Selectors `toml:"selectors" validate:"required"`
}

// Duration is a time.Duration that reads and writes as "5s" in TOML.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration { return Duration{d} }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Browser: BrowserConfig{
			Headless: true,
			Width:    1200,
			Height:   800,
		},
		Wait: WaitConfig{
			Timeout:      D(5 * time.Second),
			PollInterval: D(500 * time.Millisecond),
		},
		Auth: AuthConfig{
			SMSWindow:   D(60 * time.Second),
			Interactive: true,
		},
		Convergence: ConvergenceConfig{
			Coin:      LoopConfig{Threshold: 2, MaxIterations: 30, Pause: D(time.Second)},
			Scroll:    LoopConfig{Threshold: 1, MaxIterations: 50, Pause: D(3 * time.Second)},
			Coupons:   LoopConfig{Threshold: 5, MaxIterations: 40, Pause: D(500 * time.Millisecond)},
			Countdown: LoopConfig{Threshold: 1, MaxIterations: 120, Pause: D(time.Second)},
		},
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "claim4me",
			MaxSize:     10,
			MaxBackups:  3,
			MaxAge:      28,
		},
		Store: StoreConfig{
			Cookies: "sqlite",
		},
		Email: EmailConfig{
			SMTPPort: 587,
		},
		Sites: map[string]SiteConfig{
			"shopee": {CookieID: "shopee", MaxCoupons: 5, Selectors: ShopeeSelectors()},
			"momo":   {CookieID: "momo", Selectors: MomoSelectors()},
		},
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Wait.Timeout.Duration <= 0 {
		return fmt.Errorf("invalid config: wait.timeout must be positive")
	}
	if c.Wait.PollInterval.Duration <= 0 {
		return fmt.Errorf("invalid config: wait.poll_interval must be positive")
	}
	return nil
}

// Site returns the named site configuration.
func (c *Config) Site(name string) (SiteConfig, error) {
	s, ok := c.Sites[name]
	if !ok {
		return SiteConfig{}, fmt.Errorf("unknown site %q", name)
	}
	return s, nil
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "claim4me"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the directory for run output dumps.
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "claim4me"), nil
}

// DatabasePath returns the configured store path or the default one.
func (c *Config) DatabasePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "claim4me.db"), nil
}

// Load reads config from disk. An empty path means ConfigPath(). Values
// missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	// Selector tables from the file extend the built-in ones.
	defaults := Default().Sites
	for name, site := range cfg.Sites {
		if d, ok := defaults[name]; ok {
			site.Selectors = d.Selectors.Merge(site.Selectors)
			if site.CookieID == "" {
				site.CookieID = d.CookieID
			}
			cfg.Sites[name] = site
		}
	}

	return cfg, nil
}

// Save writes config to path, or ConfigPath() when path is empty.
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
