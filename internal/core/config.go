package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/crawlers"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/utils"
	"github.com/spf13/viper"
)

// EnvPrefix prefix of environment overrides, e.g. ROYALTIES_RUN_WORKERS
const EnvPrefix = "ROYALTIES"

// Config application configuration
type Config struct {
	Run        RunSettings        `mapstructure:"run"`
	Cities     []CityEntry        `mapstructure:"cities"`
	Terms      []string           `mapstructure:"terms"`
	Browser    BrowserSettings    `mapstructure:"browser"`
	Extraction ExtractionSettings `mapstructure:"extraction"`
	Output     OutputConfig       `mapstructure:"output"`
	Logging    LoggingConfig      `mapstructure:"logging"`
}

// RunSettings selection of one run
type RunSettings struct {
	Cities   []string `mapstructure:"cities"` // names from the cities list; empty selects all
	Years    []string `mapstructure:"years"`
	Months   []string `mapstructure:"months"` // empty means all twelve
	Workers  int      `mapstructure:"workers"`
	Headless bool     `mapstructure:"headless"`
}

// CityEntry portal settings of one municipality
type CityEntry struct {
	Name          string   `mapstructure:"name"`
	URL           string   `mapstructure:"url"`
	Portal        string   `mapstructure:"portal"`
	Mode          string   `mapstructure:"mode"`
	Iframe        string   `mapstructure:"iframe"`
	FundingField  string   `mapstructure:"funding_field"`
	Terms         []string `mapstructure:"terms"`
	DetailFetch   string   `mapstructure:"detail_fetch"`
	PagedURLQuery string   `mapstructure:"paged_url_query"`
}

// BrowserSettings browser session settings
type BrowserSettings struct {
	Bin            string        `mapstructure:"bin"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`
	LoadingTimeout time.Duration `mapstructure:"loading_timeout"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ExtractionSettings retry and batching
type ExtractionSettings struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	RowRetryPause time.Duration `mapstructure:"row_retry_pause"`
	LinksPerBatch int           `mapstructure:"links_per_batch"`
}

// OutputConfig output locations
type OutputConfig struct {
	DataDir        string `mapstructure:"data_dir"`
	DiagnosticsDir string `mapstructure:"diagnostics_dir"`
	ProgressFile   string `mapstructure:"progress_file"` // empty writes progress to stdout
}

// LoggingConfig logging settings
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig log rotation settings
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// LoadConfig reads config.yaml (or configPath), applies defaults and
// ROYALTIES_* environment overrides. A missing default file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".royalties"))
		}
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	config.Run.Months = normalizeMonths(config.Run.Months)
	return &config, nil
}

// setDefaults default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("run.cities", []string{})
	v.SetDefault("run.years", []string{})
	v.SetDefault("run.months", []string{})
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.headless", true)

	v.SetDefault("terms", []string{"royalty", "royalties", "royaltie", "petroleo"})

	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.wait_timeout", 20*time.Second)
	v.SetDefault("browser.loading_timeout", 60*time.Second)
	v.SetDefault("browser.http_timeout", 30*time.Second)
	v.SetDefault("browser.user_agent", "")

	v.SetDefault("extraction.max_attempts", 3)
	v.SetDefault("extraction.base_delay", 5*time.Second)
	v.SetDefault("extraction.row_retry_pause", 2*time.Second)
	v.SetDefault("extraction.links_per_batch", 50)

	v.SetDefault("output.data_dir", filepath.Join("data", "processed"))
	v.SetDefault("output.diagnostics_dir", "logs")
	v.SetDefault("output.progress_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)
}

// CLIOverrides command line values; zero values leave the config untouched
type CLIOverrides struct {
	Cities       []string
	Years        []string
	Months       []string
	Workers      int
	Visual       bool
	DataDir      string
	ProgressFile string
	LogLevel     string
}

// MergeCLIFlags applies command line values over the configuration
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	if len(o.Cities) > 0 {
		c.Run.Cities = o.Cities
	}
	if len(o.Years) > 0 {
		c.Run.Years = o.Years
	}
	if len(o.Months) > 0 {
		c.Run.Months = normalizeMonths(o.Months)
	}
	if o.Workers > 0 {
		c.Run.Workers = o.Workers
	}
	if o.Visual {
		c.Run.Headless = false
	}
	if o.DataDir != "" {
		c.Output.DataDir = o.DataDir
	}
	if o.ProgressFile != "" {
		c.Output.ProgressFile = o.ProgressFile
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
}

// RunConfig resolves the typed run configuration of the selected cities
func (c *Config) RunConfig() (*models.RunConfig, error) {
	selected := uniqueStrings(c.Run.Cities)
	if len(selected) == 0 {
		for _, city := range c.Cities {
			selected = append(selected, city.Name)
		}
	}

	rc := &models.RunConfig{
		Years:    uniqueStrings(c.Run.Years),
		Months:   normalizeMonths(c.Run.Months),
		Workers:  c.Run.Workers,
		Headless: c.Run.Headless,
		Terms:    c.Terms,
	}
	for _, name := range selected {
		entry, ok := c.city(name)
		if !ok {
			return nil, fmt.Errorf("city %q is not configured", name)
		}
		rc.Cities = append(rc.Cities, entry.toModel())
	}
	return rc, nil
}

// Validate checks the run selection, every selected city and its portal
func (c *Config) Validate() error {
	rc, err := c.RunConfig()
	if err != nil {
		return err
	}
	if err := rc.Validate(); err != nil {
		return err
	}
	for _, city := range rc.Cities {
		if err := utils.ValidateName(city.Name); err != nil {
			return fmt.Errorf("city %q: %w", city.Name, err)
		}
		if err := utils.ValidateURL(city.URL); err != nil {
			return fmt.Errorf("city %q: %w", city.Name, err)
		}
		if err := crawlers.CheckPortal(city); err != nil {
			return fmt.Errorf("city %q: %w", city.Name, err)
		}
	}
	if c.Extraction.MaxAttempts < 1 {
		return fmt.Errorf("extraction.max_attempts must be at least 1")
	}
	if c.Extraction.LinksPerBatch < 1 {
		return fmt.Errorf("extraction.links_per_batch must be at least 1")
	}
	return nil
}

// BrowserConfig session settings for crawlers.NewBrowser
func (c *Config) BrowserConfig() crawlers.BrowserConfig {
	return crawlers.BrowserConfig{
		Bin:            c.Browser.Bin,
		Headless:       c.Run.Headless,
		WaitTimeout:    c.Browser.WaitTimeout,
		LoadingTimeout: c.Browser.LoadingTimeout,
		HTTPTimeout:    c.Browser.HTTPTimeout,
		UserAgent:      c.Browser.UserAgent,
	}
}

// EngineConfig pagination settings for NewEngine
func (c *Config) EngineConfig() EngineConfig {
	return EngineConfig{
		DiagnosticsDir: c.Output.DiagnosticsDir,
		Retry: RetryPolicy{
			MaxAttempts: c.Extraction.MaxAttempts,
			BaseDelay:   c.Extraction.BaseDelay,
		},
		RowRetryPause: c.Extraction.RowRetryPause,
		LinksPerBatch: c.Extraction.LinksPerBatch,
		Workers:       c.Run.Workers,
	}
}

// LogConfig logger settings for utils.InitLogger
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

func (c *Config) city(name string) (CityEntry, bool) {
	for _, entry := range c.Cities {
		if entry.Name == name {
			return entry, true
		}
	}
	return CityEntry{}, false
}

func (e CityEntry) toModel() models.CityConfig {
	mode := models.CityMode(strings.ToLower(e.Mode))
	if mode == "" {
		mode = models.ModeMonthly
	}
	detail := strings.ToLower(e.DetailFetch)
	if detail == "" {
		detail = "browser"
	}
	return models.CityConfig{
		Name:          e.Name,
		URL:           e.URL,
		Portal:        e.Portal,
		Mode:          mode,
		Iframe:        e.Iframe,
		FundingField:  e.FundingField,
		Terms:         e.Terms,
		DetailFetch:   detail,
		PagedURLQuery: e.PagedURLQuery,
	}
}

// normalizeMonths pads single digit months ("3" becomes "03") and drops
// repeats
func normalizeMonths(months []string) []string {
	padded := make([]string, 0, len(months))
	for _, m := range months {
		m = strings.TrimSpace(m)
		if len(m) == 1 && m[0] >= '1' && m[0] <= '9' {
			m = "0" + m
		}
		padded = append(padded, m)
	}
	return uniqueStrings(padded)
}

// uniqueStrings trimmed, non empty values in first seen order
func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
