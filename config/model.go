package config

import (
	"time"

	"github.com/LambdaTest/flakewatch/pkg/lumber"
)

type (
	// ConfigWrapper is a wrapper for the config
	ConfigWrapper struct {
		Config `json:"data" mapstructure:"data"`
	}

	// Config the application's configuration
	Config struct {
		DB                DBConfig
		Redis             Redis
		Kafka             KafkaConfig
		Azure             Azure
		Artifacts         ArtifactsConfig
		Policy            PolicyConfig
		SCM               SCMConfig
		Jobs              JobsConfig
		Tracing           TracingConfig
		Port              string
		LogFile           string
		LogConfig         lumber.LoggingConfig
		Env               string
		Verbose           bool
		WorkerWaitTimeout time.Duration
		GracefulTimeout   time.Duration
		ShutDownDelay     time.Duration
	}

	// TracingConfig provides opentelemetry configurations
	TracingConfig struct {
		// OtelEndpoint for storing host name for otel collector
		OtelEndpoint string
	}

	// DBConfig providers the mysql db configuration.
	DBConfig struct {
		Host     string `json:"host"`
		Port     string `json:"port"`
		User     string `json:"user"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}

	// Redis represents the redis configuration.
	Redis struct {
		// Redis host:port address.
		Addr string
		// Redis username.
		Username string
		// Redis password.
		Password string
		// TLS enabled
		TLS bool
	}

	// KafkaConfig provides the kafka configuration.
	KafkaConfig struct {
		Brokers        string              `json:"brokers"`
		IngestionQueue KafkaConsumerConfig `json:"ingestion_queue"`
		AnalysisQueue  KafkaConsumerConfig `json:"analysis_queue"`
		DecisionTopic  string              `json:"decision_topic"`
	}

	// KafkaConsumerConfig provides the kafka configuration.
	KafkaConsumerConfig struct {
		Topic         string `json:"topic"`
		ConsumerGroup string `json:"consumer_group"`
	}

	// Azure providers the storage configuration for blob backed CI artifacts.
	Azure struct {
		// ArtifactContainerName container holding CI artifacts laid out as <org>/<repo>/<run>/<name>
		ArtifactContainerName string
		// StorageAccountName azure storage account name
		StorageAccountName string
		// StorageAccessKey azure storage access key
		StorageAccessKey string
	}

	// ArtifactsConfig configures the artifact retrieval and filtering stage.
	ArtifactsConfig struct {
		// Provider is one of github or azure.
		Provider string
		// GitHubAPIURL base url of the github rest api.
		GitHubAPIURL string
		// GitHubToken token used to list and download workflow artifacts.
		GitHubToken string
		// MaxSizeBytes artifacts larger than this are never downloaded.
		MaxSizeBytes int64
		// NamePatterns case-insensitive substrings or globs an artifact name must match.
		NamePatterns []string
		// Concurrency bounds parallel downloads and extraction within one job.
		Concurrency int
		// ListTimeout timeout for listing artifacts of a run.
		ListTimeout time.Duration
		// DownloadTimeout timeout for downloading a single artifact.
		DownloadTimeout time.Duration
		// TempDir transient storage for downloaded archives, os temp dir if empty.
		TempDir string
		// MaxArchiveEntries bounds the entries walked in one artifact.
		MaxArchiveEntries int
		// MaxEntryBytes bounds the decompressed size of a single entry.
		MaxEntryBytes int64
		// MaxExtractedBytes bounds the decompressed size of a whole artifact.
		MaxExtractedBytes int64
		// MaxNestingDepth bounds archives nested inside archives.
		MaxNestingDepth int
	}

	// PolicyConfig holds the environment derived default policy and the cache settings.
	PolicyConfig struct {
		FilePath               string
		CacheTTL               time.Duration
		SweepInterval          time.Duration
		FetchTimeout           time.Duration
		FlakyThreshold         float64
		WarnThreshold          float64
		MinOccurrences         int
		MinRecentFailures      int
		MinConfidence          float64
		LookbackDays           int
		RollingWindowSize      int
		AutoQuarantineEnabled  bool
		QuarantineDurationDays int
		ExcludePaths           []string
		ExemptedTests          []string
		LabelsRequired         []string
	}

	// SCMConfig configures access to repository hosted files.
	SCMConfig struct {
		// Driver is one of github, gitlab or bitbucket.
		Driver string
		// Token oauth token used to read the repository policy file.
		Token string
	}

	// JobsConfig configures the job orchestration layer.
	JobsConfig struct {
		Workers           int
		MaxAttempts       uint
		InitialBackoff    time.Duration
		MaxBackoff        time.Duration
		Timeout           time.Duration
		EstimatedDuration time.Duration
		StaleAfter        time.Duration
		MaintenancePeriod time.Duration
	}
)
