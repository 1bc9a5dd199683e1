package config

const (
	defaultEngineURL             = "http://127.0.0.1:8188"
	defaultPollIntervalMillis    = 500
	defaultTimeoutSeconds        = 1800
	defaultRequestTimeoutSeconds = 60
	defaultConcurrency           = 1
	defaultInputBaseDir          = "~/comfybatch/input"
	defaultOutputBaseDir         = "~/comfybatch/output"
	defaultLogDir                = "~/.local/share/comfybatch/logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultNotifyRequestTimeout  = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Engine: Engine{
			URL:                   defaultEngineURL,
			PollIntervalMillis:    defaultPollIntervalMillis,
			TimeoutSeconds:        defaultTimeoutSeconds,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
			Concurrency:           defaultConcurrency,
		},
		Paths: Paths{
			InputBaseDir:  defaultInputBaseDir,
			OutputBaseDir: defaultOutputBaseDir,
			LogDir:        defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			BatchStarted:   true,
			BatchCompleted: true,
			Errors:         true,
		},
		Ledger: Ledger{
			Enabled: true,
		},
	}
}
