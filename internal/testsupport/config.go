package testsupport

import (
	"path/filepath"
	"testing"

	"quizsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ReportDir = filepath.Join(base, "reports")
	cfgVal.Canvas.Domain = "https://canvas.test"
	cfgVal.Canvas.Token = "test-token"
	cfgVal.Canvas.CourseID = "101"
	cfgVal.Upload.Concurrency = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithCanvasDomain points the config at a test server URL.
func WithCanvasDomain(domain string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Canvas.Domain = domain
	}
}

// WithCourse sets the target course identifier.
func WithCourse(courseID string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Canvas.CourseID = courseID
	}
}

// WithModule sets the target module identifier.
func WithModule(moduleID string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Canvas.ModuleID = moduleID
	}
}

// WithMaxAttempts overrides the upload retry budget.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.MaxAttempts = attempts
	}
}

// WithMaxRounds overrides the reconciliation round budget.
func WithMaxRounds(rounds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Reconcile.MaxRounds = rounds
	}
}

// WithConcurrency overrides the per-job upload concurrency.
func WithConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.Concurrency = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
