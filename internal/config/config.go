// The application's root configuration, loaded once through Viper and
// shared as a singleton.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Attack   AttackConfig   `mapstructure:"attack"`
	Accounts AccountsConfig `mapstructure:"accounts"`
}

// LoggerConfig holds all the configuration for the logger.
// This is the single source of truth for this struct.
type LoggerConfig struct {
	Level       string `mapstructure:"level" json:"level" yaml:"level"`
	Format      string `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" json:"compress" yaml:"compress"`
}

// PostgresConfig holds settings for the database connection.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// EngineConfig holds settings for the batch attack engine.
type EngineConfig struct {
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
}

// BrowserConfig holds settings for the headless browser.
// The wait tiers bound element waits and navigation settling; any wait
// that expires is recorded as data for the classifier, not an error.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors"`
	Args            []string      `mapstructure:"args"`
	ShortWait       time.Duration `mapstructure:"short_wait"`
	MediumWait      time.Duration `mapstructure:"medium_wait"`
	LongWait        time.Duration `mapstructure:"long_wait"`
	CookieDir       string        `mapstructure:"cookie_dir"`
}

// AttackConfig holds settings specific to attack execution.
type AttackConfig struct {
	Provider   string `mapstructure:"provider"`
	SaveData   bool   `mapstructure:"save_data"`
	ResultsDir string `mapstructure:"results_dir"`
}

// Account describes one controlled identity at the provider. The marker
// list holds the identity fragments (names, usernames) the account leaks
// onto relying parties after login; finding one on a landing page tells
// us which account the session ended up bound to.
type Account struct {
	Name       string   `mapstructure:"name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Markers    []string `mapstructure:"markers"`
	CookieFile string   `mapstructure:"cookie_file"`
}

// AccountsConfig pairs the two control accounts. The attacker account
// plants the markers the oracle scans for; the victim account provides
// the session the forged responses are replayed into.
type AccountsConfig struct {
	Attacker Account `mapstructure:"attacker"`
	Victim   Account `mapstructure:"victim"`
}

// SetDefaults registers sane defaults so the tool runs with a minimal
// config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "statehound")
	v.SetDefault("engine.worker_concurrency", 1)
	v.SetDefault("engine.run_timeout", 10*time.Minute)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.short_wait", 5*time.Second)
	v.SetDefault("browser.medium_wait", 15*time.Second)
	v.SetDefault("browser.long_wait", 30*time.Second)
	v.SetDefault("browser.cookie_dir", "cookies")
	v.SetDefault("attack.provider", "facebook.com")
	v.SetDefault("attack.save_data", true)
	v.SetDefault("attack.results_dir", "results")
}

// Validate checks the invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url is required")
	}
	if c.Engine.WorkerConcurrency < 1 {
		return fmt.Errorf("engine.worker_concurrency must be at least 1, got %d", c.Engine.WorkerConcurrency)
	}
	if c.Browser.ShortWait <= 0 || c.Browser.MediumWait <= 0 || c.Browser.LongWait <= 0 {
		return fmt.Errorf("browser wait tiers must be positive")
	}
	if c.Browser.ShortWait > c.Browser.MediumWait || c.Browser.MediumWait > c.Browser.LongWait {
		return fmt.Errorf("browser wait tiers must be ordered short <= medium <= long")
	}
	if c.Accounts.Attacker.Username == "" || len(c.Accounts.Attacker.Markers) == 0 {
		return fmt.Errorf("accounts.attacker needs a username and at least one marker")
	}
	return nil
}

// Load initializes the configuration singleton from the given Viper
// instance. Subsequent calls are no-ops.
func Load(v *viper.Viper) error {
	var loadErr error
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Get returns the loaded configuration instance. It panics if Load has
// not run, which always indicates a wiring bug in the command setup.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}

// reset is a test hook.
func reset() {
	instance = nil
	once = sync.Once{}
}
