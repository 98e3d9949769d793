package config

const (
	defaultDataDir            = "~/.local/share/quizsync"
	defaultLogDir             = "~/.local/share/quizsync/logs"
	defaultReportDir          = "~/.local/share/quizsync/reports"
	defaultLogRetentionDays   = 60
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultCanvasTimeout      = 60
	defaultCanvasPageSize     = 100
	defaultUploadMaxAttempts  = 5
	defaultUploadBackoffBase  = 1.0
	defaultUploadBackoffCap   = 30.0
	defaultUploadConcurrency  = 4
	defaultJobTimeoutSeconds  = 1800
	defaultPointValue         = 1.0
	defaultQuizDescription    = "Uploaded by quizsync"
	defaultReconcileMaxRounds = 3
	defaultNotifyTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			ReportDir: defaultReportDir,
		},
		Canvas: Canvas{
			TimeoutSeconds: defaultCanvasTimeout,
			PageSize:       defaultCanvasPageSize,
		},
		Upload: Upload{
			MaxAttempts:        defaultUploadMaxAttempts,
			RetryBackoffBase:   defaultUploadBackoffBase,
			RetryBackoffCap:    defaultUploadBackoffCap,
			Concurrency:        defaultUploadConcurrency,
			JobTimeoutSeconds:  defaultJobTimeoutSeconds,
			DefaultPointValue:  defaultPointValue,
			DefaultDescription: defaultQuizDescription,
		},
		Reconcile: Reconcile{
			MaxRounds:            defaultReconcileMaxRounds,
			DeleteSafeDuplicates: true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			JobComplete:    true,
			JobFailed:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
