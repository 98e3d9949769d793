package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	ReportDir string `toml:"report_dir"`
}

// Canvas contains connection settings for the target LMS instance.
type Canvas struct {
	Domain         string `toml:"domain"`
	Token          string `toml:"token"`
	CourseID       string `toml:"course_id"`
	ModuleID       string `toml:"module_id"`
	Publish        bool   `toml:"publish"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	PageSize       int    `toml:"page_size"`
}

// Upload contains retry and concurrency settings for item creation.
type Upload struct {
	MaxAttempts        int     `toml:"max_attempts"`
	RetryBackoffBase   float64 `toml:"retry_backoff_base"`
	RetryBackoffCap    float64 `toml:"retry_backoff_cap"`
	Concurrency        int     `toml:"concurrency"`
	JobTimeoutSeconds  int     `toml:"job_timeout_seconds"`
	DefaultPointValue  float64 `toml:"default_point_value"`
	DefaultDescription string  `toml:"default_description"`
}

// Reconcile contains settings for the post-upload verification rounds.
type Reconcile struct {
	MaxRounds            int  `toml:"max_rounds"`
	DeleteSafeDuplicates bool `toml:"delete_safe_duplicates"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobComplete    bool   `toml:"job_complete"`
	JobFailed      bool   `toml:"job_failed"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for quizsync.
//
// Configuration sections by subsystem:
//   - Paths: ledger, log, and report directories
//   - Canvas: LMS domain, token, course, and publish behaviour
//   - Upload: retry/backoff policy and item concurrency
//   - Reconcile: verification round budget and duplicate handling
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Canvas        Canvas        `toml:"canvas"`
	Upload        Upload        `toml:"upload"`
	Reconcile     Reconcile     `toml:"reconcile"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/quizsync/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. Credentials may arrive from the
// environment; a .env file in the working directory is honoured when present.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/quizsync/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("quizsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for ledger and log storage.
// ReportDir is created on a best-effort basis so sync can run when an export
// location is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.ReportDir) != "" {
		_ = os.MkdirAll(c.Paths.ReportDir, 0o755)
	}
	return nil
}

// LedgerPath returns the SQLite database location inside the data directory.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.DataDir, "ledger.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Target contains the resolved Canvas connection settings for one sync run.
type Target struct {
	Domain         string
	Token          string
	CourseID       string
	ModuleID       string
	Publish        bool
	TimeoutSeconds int
	PageSize       int
}

// CanvasTarget returns the connection settings for commands that talk to the
// LMS. Domain, token, and course must all be present by this point.
func (c *Config) CanvasTarget() (Target, error) {
	target := Target{
		Domain:         strings.TrimSpace(c.Canvas.Domain),
		Token:          strings.TrimSpace(c.Canvas.Token),
		CourseID:       strings.TrimSpace(c.Canvas.CourseID),
		ModuleID:       strings.TrimSpace(c.Canvas.ModuleID),
		Publish:        c.Canvas.Publish,
		TimeoutSeconds: c.Canvas.TimeoutSeconds,
		PageSize:       c.Canvas.PageSize,
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = "~/.config/quizsync/config.toml"
	}
	if target.Domain == "" {
		return Target{}, fmt.Errorf("canvas.domain is required. Set CANVAS_DOMAIN env var or edit %s (create with 'quizsync config init')", defaultPath)
	}
	if target.Token == "" {
		return Target{}, fmt.Errorf("canvas.token is required. Set CANVAS_TOKEN env var or edit %s", defaultPath)
	}
	if target.CourseID == "" {
		return Target{}, fmt.Errorf("canvas.course_id is required. Set CANVAS_COURSE_ID env var or pass --course")
	}
	return target, nil
}
