package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeCanvas(); err != nil {
		return err
	}
	c.normalizeUpload()
	c.normalizeReconcile()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReportDir) == "" {
		c.Paths.ReportDir = defaultReportDir
	}
	if c.Paths.ReportDir, err = expandPath(c.Paths.ReportDir); err != nil {
		return fmt.Errorf("paths.report_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCanvas() error {
	if value, ok := os.LookupEnv("CANVAS_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Canvas.Token = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("CANVAS_DOMAIN"); ok && strings.TrimSpace(value) != "" {
		c.Canvas.Domain = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("CANVAS_COURSE_ID"); ok && strings.TrimSpace(value) != "" {
		c.Canvas.CourseID = strings.TrimSpace(value)
	}
	c.Canvas.Domain = strings.TrimSpace(c.Canvas.Domain)
	c.Canvas.Domain = strings.TrimSuffix(c.Canvas.Domain, "/")
	if c.Canvas.Domain != "" && !strings.Contains(c.Canvas.Domain, "://") {
		c.Canvas.Domain = "https://" + c.Canvas.Domain
	}
	if c.Canvas.Domain != "" {
		if _, err := url.Parse(c.Canvas.Domain); err != nil {
			return fmt.Errorf("canvas.domain: %w", err)
		}
	}
	c.Canvas.Token = strings.TrimSpace(c.Canvas.Token)
	c.Canvas.CourseID = strings.TrimSpace(c.Canvas.CourseID)
	c.Canvas.ModuleID = strings.TrimSpace(c.Canvas.ModuleID)
	if c.Canvas.TimeoutSeconds <= 0 {
		c.Canvas.TimeoutSeconds = defaultCanvasTimeout
	}
	if c.Canvas.PageSize <= 0 {
		c.Canvas.PageSize = defaultCanvasPageSize
	}
	return nil
}

func (c *Config) normalizeUpload() {
	if c.Upload.MaxAttempts <= 0 {
		c.Upload.MaxAttempts = defaultUploadMaxAttempts
	}
	if c.Upload.RetryBackoffBase <= 0 {
		c.Upload.RetryBackoffBase = defaultUploadBackoffBase
	}
	if c.Upload.RetryBackoffCap <= 0 {
		c.Upload.RetryBackoffCap = defaultUploadBackoffCap
	}
	if c.Upload.Concurrency <= 0 {
		c.Upload.Concurrency = defaultUploadConcurrency
	}
	if c.Upload.JobTimeoutSeconds <= 0 {
		c.Upload.JobTimeoutSeconds = defaultJobTimeoutSeconds
	}
	if c.Upload.DefaultPointValue <= 0 {
		c.Upload.DefaultPointValue = defaultPointValue
	}
	if strings.TrimSpace(c.Upload.DefaultDescription) == "" {
		c.Upload.DefaultDescription = defaultQuizDescription
	}
}

func (c *Config) normalizeReconcile() {
	if c.Reconcile.MaxRounds <= 0 {
		c.Reconcile.MaxRounds = defaultReconcileMaxRounds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
