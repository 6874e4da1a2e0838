package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format identifies one of the export formats offered by the workspace API.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Formats is the fixed order in which a run processes exports. Markdown is
// always attempted before HTML.
var Formats = []Format{FormatMarkdown, FormatHTML}

// Required credential environment variables. All three must be set before
// any network activity happens.
const (
	EnvToken   = "NOTION_TOKEN"
	EnvSpaceID = "NOTION_SPACE_ID"
	EnvUserID  = "NOTION_USER_ID"
)

const (
	DefaultBaseURL      = "https://www.notion.so/api/v3"
	DefaultWorkDir      = "./backup"
	DefaultDbPath       = "./backup_state.duckdb"
	DefaultPollInterval = 10 * time.Second
	DefaultMaxWait      = 30 * time.Minute
	DefaultTimeZone     = "UTC"
	DefaultLocale       = "en"
)

// Config holds application settings. Credentials come exclusively from the
// environment; everything else can be set via config file or flags.
type Config struct {
	BaseURL      string
	WorkDir      string
	DbPath       string
	PollInterval time.Duration
	MaxWait      time.Duration
	TimeZone     string
	Locale       string

	Token   string
	SpaceID string
	UserID  string
}

// Default returns a Config populated with the package defaults.
func Default() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		WorkDir:      DefaultWorkDir,
		DbPath:       DefaultDbPath,
		PollInterval: DefaultPollInterval,
		MaxWait:      DefaultMaxWait,
		TimeZone:     DefaultTimeZone,
		Locale:       DefaultLocale,
	}
}

// fileConfig is the YAML shape of the optional config file. Durations are
// strings in time.ParseDuration syntax. Credentials are deliberately not
// file-configurable.
type fileConfig struct {
	BaseURL      string `yaml:"base_url"`
	WorkDir      string `yaml:"work_dir"`
	DbPath       string `yaml:"db_path"`
	PollInterval string `yaml:"poll_interval"`
	MaxWait      string `yaml:"max_wait"`
	TimeZone     string `yaml:"time_zone"`
	Locale       string `yaml:"locale"`
}

// LoadFile overlays settings from a YAML config file onto c. Fields absent
// from the file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.BaseURL != "" {
		c.BaseURL = fc.BaseURL
	}
	if fc.WorkDir != "" {
		c.WorkDir = fc.WorkDir
	}
	if fc.DbPath != "" {
		c.DbPath = fc.DbPath
	}
	if fc.TimeZone != "" {
		c.TimeZone = fc.TimeZone
	}
	if fc.Locale != "" {
		c.Locale = fc.Locale
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("config file %s: poll_interval: %w", path, err)
		}
		c.PollInterval = d
	}
	if fc.MaxWait != "" {
		d, err := time.ParseDuration(fc.MaxWait)
		if err != nil {
			return fmt.Errorf("config file %s: max_wait: %w", path, err)
		}
		c.MaxWait = d
	}
	return nil
}

// LoadCredentials reads the required credential variables from the
// environment. The error names every missing variable so the process can
// refuse to start before touching the network.
func (c *Config) LoadCredentials() error {
	var missing []string
	for _, v := range []struct {
		name string
		dst  *string
	}{
		{EnvToken, &c.Token},
		{EnvSpaceID, &c.SpaceID},
		{EnvUserID, &c.UserID},
	} {
		val := os.Getenv(v.name)
		if val == "" {
			missing = append(missing, v.name)
			continue
		}
		*v.dst = val
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Validate checks the non-credential settings.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL must not be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work directory must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("max wait must be positive, got %s", c.MaxWait)
	}
	return nil
}

// ArchivePath is where the downloaded outer archive for a format lands.
func (c Config) ArchivePath(f Format) string {
	return filepath.Join(c.WorkDir, string(f)+"-export.zip")
}

// OutputDir is the published backup directory for a format. It only ever
// contains a complete, fully extracted export.
func (c Config) OutputDir(f Format) string {
	return filepath.Join(c.WorkDir, string(f))
}

// StagingDir is where a fresh export is extracted before being renamed
// over OutputDir. Leftovers from interrupted runs are removed at run start.
func (c Config) StagingDir(f Format) string {
	return filepath.Join(c.WorkDir, "."+string(f)+".staging")
}
