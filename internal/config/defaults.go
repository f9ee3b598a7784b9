package config

import "runtime"

const (
	defaultConfigPath              = "~/.config/registrar/config.toml"
	defaultStateDir                = "~/.local/share/registrar"
	defaultLogDir                  = "~/.local/share/registrar/logs"
	defaultSocketName              = "registrar.sock"
	defaultBind                    = "127.0.0.1:8181"
	defaultBaseURL                 = "http://127.0.0.1:8181"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
	defaultDispatchInterval        = 2
	defaultHeartbeatInterval       = 60
	defaultRequestTimeout          = 10
	defaultMaxAttemptsBeforeError  = 10
	defaultServiceStatsMaxJobAge   = 14
	defaultJanitorInterval         = 3600
	minDispatchInterval            = 1
	defaultEncodingThreshold       = 0.0
	defaultAcceptExceedingMaxLoads = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Server: Server{
			BaseURL:        defaultBaseURL,
			Bind:           defaultBind,
			MetricsEnabled: true,
		},
		Dispatch: Dispatch{
			IntervalSeconds:                defaultDispatchInterval,
			HeartbeatSeconds:               defaultHeartbeatInterval,
			RequestTimeoutSeconds:          defaultRequestTimeout,
			AcceptJobLoadsExceedingMaxLoad: defaultAcceptExceedingMaxLoads,
			EncodingThreshold:              defaultEncodingThreshold,
		},
		Failover: Failover{
			MaxAttemptsBeforeErrorState: defaultMaxAttemptsBeforeError,
		},
		Statistics: Statistics{
			MaxJobAgeDays: defaultServiceStatsMaxJobAge,
		},
		Janitor: Janitor{
			IntervalSeconds: defaultJanitorInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

func defaultMaxLoad() float64 {
	return float64(runtime.NumCPU())
}
