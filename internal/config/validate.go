package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Validate ensures the configuration is structurally usable. Credentials are
// checked later by CanvasTarget so offline commands (parse, jobs) still run.
func (c *Config) Validate() error {
	if err := c.validateCanvas(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCanvas() error {
	if c.Canvas.CourseID != "" {
		if _, err := strconv.ParseInt(c.Canvas.CourseID, 10, 64); err != nil {
			return fmt.Errorf("canvas.course_id must be numeric, got %q", c.Canvas.CourseID)
		}
	}
	if c.Canvas.ModuleID != "" {
		if _, err := strconv.ParseInt(c.Canvas.ModuleID, 10, 64); err != nil {
			return fmt.Errorf("canvas.module_id must be numeric, got %q", c.Canvas.ModuleID)
		}
	}
	if err := ensurePositiveMap(map[string]int{
		"canvas.timeout_seconds": c.Canvas.TimeoutSeconds,
		"canvas.page_size":       c.Canvas.PageSize,
	}); err != nil {
		return err
	}
	if c.Canvas.PageSize > 100 {
		return errors.New("canvas.page_size must be at most 100")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if err := ensurePositiveMap(map[string]int{
		"upload.max_attempts":        c.Upload.MaxAttempts,
		"upload.concurrency":         c.Upload.Concurrency,
		"upload.job_timeout_seconds": c.Upload.JobTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Upload.RetryBackoffBase <= 0 {
		return errors.New("upload.retry_backoff_base must be positive (seconds)")
	}
	if c.Upload.RetryBackoffCap < c.Upload.RetryBackoffBase {
		return errors.New("upload.retry_backoff_cap must be at least upload.retry_backoff_base")
	}
	if c.Upload.DefaultPointValue <= 0 {
		return errors.New("upload.default_point_value must be positive")
	}
	return nil
}

func (c *Config) validateReconcile() error {
	if c.Reconcile.MaxRounds <= 0 {
		return errors.New("reconcile.max_rounds must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if strings.TrimSpace(c.Notifications.NtfyTopic) != "" && c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive when ntfy_topic is set")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
