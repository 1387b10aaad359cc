package config

// Budget failure policies.
const (
	BudgetPolicyOpen   = "open"
	BudgetPolicyClosed = "closed"
)

const (
	defaultDataDir            = "~/.local/share/shuttle"
	defaultLogDir             = "~/.local/share/shuttle/logs"
	defaultAPIBind            = "127.0.0.1:7512"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultWorkerCount        = 4
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultClaimTimeout       = 1800
	defaultBudgetPolicy       = BudgetPolicyOpen
	defaultBudgetTimeout      = 5
	defaultTrackboardTimeout  = 10
)

// StageNames lists the pipeline stages in execution order.
var StageNames = []string{"script", "voice", "render", "assemble", "subtitle", "publish"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	stages := make(map[string]Stage, len(StageNames))
	for _, name := range StageNames {
		stages[name] = Stage{Limit: 2}
	}
	stages["publish"] = Stage{Limit: 1, ReviewGated: true}

	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Scheduler: Scheduler{
			WorkerCount:        defaultWorkerCount,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			ClaimTimeout:       defaultClaimTimeout,
		},
		Stages: stages,
		Budget: Budget{
			Policy:         defaultBudgetPolicy,
			TimeoutSeconds: defaultBudgetTimeout,
		},
		Trackboard: Trackboard{
			TimeoutSeconds: defaultTrackboardTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
