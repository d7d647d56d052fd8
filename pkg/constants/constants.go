package constants

import "time"

const (
	// ServiceName OpenTelemetry service name
	ServiceName = "flakewatch"
	// BinaryVersion is the version reported by the cli.
	BinaryVersion = "v0.1.0"
	// DefaultPolicyFilePath default repository hosted policy file.
	DefaultPolicyFilePath = ".flakewatch.yml"
	// MysqlMaxIdleConnection max mysql idle connections.
	MysqlMaxIdleConnection = 25
	// MysqlMaxOpenConnection max mysql open connections.
	MysqlMaxOpenConnection = 25
	// MysqlMaxConnectionLifetime max mysql connection lifetime.
	MysqlMaxConnectionLifetime = 5 * time.Minute
	// DefaultShutDownDelay is the delay for graceful shutdown of all queue consumers
	DefaultShutDownDelay = 15e9 // 15 seconds, value is int64 nanoseconds due to issue in viper.
	// DefaultGracefulTimeout is default timeout for graceful shutdown of the app.
	DefaultGracefulTimeout = 5 * 6e10 // 5 minutes
	// DefaultWorkerWaitTimeout is the default time to wait for in-flight jobs on shutdown.
	DefaultWorkerWaitTimeout = 10 * 6e10 // 10 minutes
	// FloatPrecision value is used in parsing string to float
	FloatPrecision = 64
	// Base10 is used in parsing ints from string
	Base10 = 10
	// BitSize64 represent bitSize 64 of integers in which the result of parsing strings must fit into
	BitSize64 = 64
)

// All possible env values
const (
	Dev   = "dev"
	Prod  = "prod"
	Stage = "stage"
)

// Artifact providers.
const (
	ArtifactProviderGitHub = "github"
	ArtifactProviderAzure  = "azure"
)

// Default policy values, used when no repository policy file is present or it is invalid.
const (
	DefaultFlakyThreshold         = 0.6
	DefaultWarnThreshold          = 0.3
	DefaultMinOccurrences         = 5
	DefaultMinRecentFailures      = 2
	DefaultMinConfidence          = 0.5
	DefaultLookbackDays           = 14
	DefaultRollingWindowSize      = 50
	DefaultQuarantineDurationDays = 7
	DefaultFailureRateWeight      = 0.4
	DefaultInconsistencyWeight    = 0.3
	DefaultRecencyWeight          = 0.2
	DefaultBranchDiversityWeight  = 0.1
	// RecencyWindow is the number of most recent runs considered by the recency factor.
	RecencyWindow = 10
)

// Artifact retrieval defaults.
const (
	DefaultMaxArtifactSizeBytes = 512 << 20
	DefaultArtifactConcurrency  = 4
	DefaultDownloadTimeout      = 5 * 6e10 // 5 minutes
	DefaultListTimeout          = 30e9     // 30 seconds
	DefaultGitHubAPIURL         = "https://api.github.com"
	DefaultMaxArchiveEntries    = 10000
	DefaultMaxEntryBytes        = 256 << 20
	DefaultMaxExtractedBytes    = 2 << 30
	DefaultMaxNestingDepth      = 2
)

// Job orchestration defaults.
const (
	DefaultWorkers           = 8
	DefaultMaxAttempts       = 4
	DefaultInitialBackoff    = 2e9       // 2 seconds
	DefaultMaxBackoff        = 6e10      // 1 minute
	DefaultJobTimeout        = 15 * 6e10 // 15 minutes
	DefaultEstimatedDuration = 2 * 6e10  // 2 minutes
	DefaultPolicyCacheTTL    = 10 * 6e10 // 10 minutes
	DefaultPolicySweepPeriod = 6e10      // 1 minute
	DefaultPolicyFetchTime   = 10e9      // 10 seconds
	DefaultMaintenancePeriod = 5 * 6e10  // 5 minutes
)
