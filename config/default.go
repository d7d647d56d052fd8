package config

import (
	"github.com/LambdaTest/flakewatch/pkg/constants"
	"github.com/spf13/viper"
)

func setDefaultConfig() {
	viper.SetDefault("Data.LogConfig.EnableConsole", true)
	viper.SetDefault("Data.LogConfig.ConsoleJSONFormat", false)
	viper.SetDefault("Data.LogConfig.ConsoleLevel", "debug")
	viper.SetDefault("Data.LogConfig.EnableFile", true)
	viper.SetDefault("Data.LogConfig.FileJSONFormat", true)
	viper.SetDefault("Data.LogConfig.FileLevel", "debug")
	viper.SetDefault("Data.LogConfig.FileLocation", "./flakewatch.log")
	viper.SetDefault("Data.Env", "prod")
	viper.SetDefault("Data.Port", "9877")
	viper.SetDefault("Data.Verbose", false)
	viper.SetDefault("Data.WorkerWaitTimeout", constants.DefaultWorkerWaitTimeout)
	viper.SetDefault("Data.GracefulTimeout", constants.DefaultGracefulTimeout)
	viper.SetDefault("Data.ShutDownDelay", constants.DefaultShutDownDelay)

	viper.SetDefault("Data.Kafka.IngestionQueue.Topic", "flakewatch-ingestion")
	viper.SetDefault("Data.Kafka.IngestionQueue.ConsumerGroup", "flakewatch-ingestion-workers")
	viper.SetDefault("Data.Kafka.AnalysisQueue.Topic", "flakewatch-analysis")
	viper.SetDefault("Data.Kafka.AnalysisQueue.ConsumerGroup", "flakewatch-analysis-workers")
	viper.SetDefault("Data.Kafka.DecisionTopic", "flakewatch-decisions")

	viper.SetDefault("Data.Artifacts.Provider", constants.ArtifactProviderGitHub)
	viper.SetDefault("Data.Artifacts.GitHubAPIURL", constants.DefaultGitHubAPIURL)
	viper.SetDefault("Data.Artifacts.MaxSizeBytes", constants.DefaultMaxArtifactSizeBytes)
	viper.SetDefault("Data.Artifacts.NamePatterns", []string{"test", "junit", "*.xml", "report"})
	viper.SetDefault("Data.Artifacts.Concurrency", constants.DefaultArtifactConcurrency)
	viper.SetDefault("Data.Artifacts.ListTimeout", constants.DefaultListTimeout)
	viper.SetDefault("Data.Artifacts.DownloadTimeout", constants.DefaultDownloadTimeout)
	viper.SetDefault("Data.Artifacts.MaxArchiveEntries", constants.DefaultMaxArchiveEntries)
	viper.SetDefault("Data.Artifacts.MaxEntryBytes", constants.DefaultMaxEntryBytes)
	viper.SetDefault("Data.Artifacts.MaxExtractedBytes", constants.DefaultMaxExtractedBytes)
	viper.SetDefault("Data.Artifacts.MaxNestingDepth", constants.DefaultMaxNestingDepth)

	viper.SetDefault("Data.Policy.FilePath", constants.DefaultPolicyFilePath)
	viper.SetDefault("Data.Policy.CacheTTL", constants.DefaultPolicyCacheTTL)
	viper.SetDefault("Data.Policy.SweepInterval", constants.DefaultPolicySweepPeriod)
	viper.SetDefault("Data.Policy.FetchTimeout", constants.DefaultPolicyFetchTime)
	viper.SetDefault("Data.Policy.FlakyThreshold", constants.DefaultFlakyThreshold)
	viper.SetDefault("Data.Policy.WarnThreshold", constants.DefaultWarnThreshold)
	viper.SetDefault("Data.Policy.MinOccurrences", constants.DefaultMinOccurrences)
	viper.SetDefault("Data.Policy.MinRecentFailures", constants.DefaultMinRecentFailures)
	viper.SetDefault("Data.Policy.MinConfidence", constants.DefaultMinConfidence)
	viper.SetDefault("Data.Policy.LookbackDays", constants.DefaultLookbackDays)
	viper.SetDefault("Data.Policy.RollingWindowSize", constants.DefaultRollingWindowSize)
	viper.SetDefault("Data.Policy.AutoQuarantineEnabled", false)
	viper.SetDefault("Data.Policy.QuarantineDurationDays", constants.DefaultQuarantineDurationDays)

	viper.SetDefault("Data.SCM.Driver", "github")

	viper.SetDefault("Data.Jobs.Workers", constants.DefaultWorkers)
	viper.SetDefault("Data.Jobs.MaxAttempts", constants.DefaultMaxAttempts)
	viper.SetDefault("Data.Jobs.InitialBackoff", constants.DefaultInitialBackoff)
	viper.SetDefault("Data.Jobs.MaxBackoff", constants.DefaultMaxBackoff)
	viper.SetDefault("Data.Jobs.Timeout", constants.DefaultJobTimeout)
	viper.SetDefault("Data.Jobs.EstimatedDuration", constants.DefaultEstimatedDuration)
	viper.SetDefault("Data.Jobs.StaleAfter", 2*constants.DefaultJobTimeout)
	viper.SetDefault("Data.Jobs.MaintenancePeriod", constants.DefaultMaintenancePeriod)
}
