package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/LambdaTest/flakewatch/config"
	"github.com/LambdaTest/flakewatch/pkg/analysis"
	"github.com/LambdaTest/flakewatch/pkg/api"
	"github.com/LambdaTest/flakewatch/pkg/api/health"
	"github.com/LambdaTest/flakewatch/pkg/artifact"
	"github.com/LambdaTest/flakewatch/pkg/artifact/github"
	"github.com/LambdaTest/flakewatch/pkg/azure"
	"github.com/LambdaTest/flakewatch/pkg/constants"
	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/LambdaTest/flakewatch/pkg/db"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/extractor"
	"github.com/LambdaTest/flakewatch/pkg/gitscm"
	"github.com/LambdaTest/flakewatch/pkg/ingestion"
	"github.com/LambdaTest/flakewatch/pkg/jobqueue"
	"github.com/LambdaTest/flakewatch/pkg/jobs"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/LambdaTest/flakewatch/pkg/opentelemetry"
	"github.com/LambdaTest/flakewatch/pkg/policy"
	"github.com/LambdaTest/flakewatch/pkg/redis"
	"github.com/LambdaTest/flakewatch/pkg/requestutils"
	"github.com/LambdaTest/flakewatch/pkg/scheduler"
	"github.com/LambdaTest/flakewatch/pkg/server"
	analysisstore "github.com/LambdaTest/flakewatch/pkg/store/analysis"
	"github.com/LambdaTest/flakewatch/pkg/store/flakescore"
	ingestionstore "github.com/LambdaTest/flakewatch/pkg/store/ingestion"
	jobstore "github.com/LambdaTest/flakewatch/pkg/store/job"
	"github.com/LambdaTest/flakewatch/pkg/store/occurrence"
	"github.com/LambdaTest/flakewatch/pkg/store/quarantine"
	"github.com/LambdaTest/flakewatch/pkg/store/testcase"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// RootCommand will setup and return the root command
func RootCommand() *cobra.Command {
	rootCmd := cobra.Command{
		Use:     "flakewatch",
		Long:    `flakewatch ingests CI test reports, scores flaky tests and quarantines them according to repository policy.`,
		Version: constants.BinaryVersion,
		RunE:    run,
	}

	// define flags used for this command
	AttachCLIFlags(&rootCmd)

	return &rootCmd
}

func newArtifactSource(cfg *config.Config, logger lumber.Logger) (core.ArtifactSource, error) {
	if cfg.Artifacts.Provider == constants.ArtifactProviderAzure {
		return azure.NewArtifactSource(cfg, logger)
	}
	return github.New(cfg.Artifacts.GitHubAPIURL, cfg.Artifacts.GitHubToken, requestutils.New(logger), logger), nil
}

// nolint:funlen,gocyclo
func run(cmd *cobra.Command, args []string) error {
	// a WaitGroup for the goroutines to tell us they've stopped
	wg := sync.WaitGroup{}

	cfg, err := config.Load(cmd)
	if err != nil {
		fmt.Printf("Failed to load config: %v", err)
		return err
	}

	// patch logconfig file location with root level log file location
	if cfg.LogFile != "" {
		cfg.LogConfig.FileLocation = filepath.Join(cfg.LogFile, "fw.log")
	}

	logger, err := lumber.NewLogger(&cfg.LogConfig, cfg.Verbose, lumber.InstanceZapLogger)
	if err != nil {
		log.Printf("could not instantiate logger %s", err.Error())
		return err
	}
	database, err := db.Connect(cfg, logger)
	if err != nil {
		logger.Errorf("failed to create database connection %v", err)
		return err
	}
	defer database.Close()

	// create a context that we can cancel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		if err = database.Migrate(ctx); err != nil {
			logger.Errorf("failed to apply database schema %v", err)
			return err
		}
	}

	// initialize tracer
	if cfg.Tracing.OtelEndpoint != "" {
		tracerCleanup := opentelemetry.InitTracer(ctx, cfg, logger)
		defer func() {
			if tracerErr := tracerCleanup(context.Background()); tracerErr != nil {
				logger.Errorf("Failed to cleanup the tracer %v", tracerErr)
			}
		}()
	}

	redisDB, err := redis.New(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("failed to create redis database connection %v", err)
		return err
	}

	// stores
	testCaseStore := testcase.New(database, logger)
	occurrenceStore := occurrence.New(database, logger)
	flakeScoreStore := flakescore.New(database, logger)
	quarantineStore := quarantine.New(database, logger)
	jobStore := jobstore.New(database, logger)
	ingestionStore := ingestionstore.New(database, testCaseStore, occurrenceStore, logger)
	analysisStore := analysisstore.New(database, flakeScoreStore, quarantineStore, logger)

	// policy
	policySource, err := gitscm.NewFileSource(gitscm.New(logger), core.SCMDriver(cfg.SCM.Driver),
		cfg.SCM.Token, cfg.Policy.FilePath)
	if err != nil {
		logger.Errorf("could not instantiate policy file source %v", err)
		return err
	}
	resolver, err := policy.NewResolver(policySource, policy.Defaults(&cfg.Policy),
		cfg.Policy.CacheTTL, cfg.Policy.FetchTimeout, logger)
	if err != nil {
		logger.Errorf("could not instantiate policy resolver %v", err)
		return err
	}

	// artifacts
	artifactSource, err := newArtifactSource(cfg, logger)
	if err != nil {
		logger.Errorf("could not instantiate artifact source %v", err)
		return err
	}
	fs := afero.NewOsFs()
	fetcher := artifact.NewFetcher(artifactSource, fs, artifact.FetcherOptions{
		TempDir:         cfg.Artifacts.TempDir,
		Concurrency:     cfg.Artifacts.Concurrency,
		MaxSizeBytes:    cfg.Artifacts.MaxSizeBytes,
		ListTimeout:     cfg.Artifacts.ListTimeout,
		DownloadTimeout: cfg.Artifacts.DownloadTimeout,
	}, logger)
	filter := artifact.NewFilter(cfg.Artifacts.MaxSizeBytes, cfg.Artifacts.NamePatterns)
	reportExtractor := extractor.New(fs, cfg.Artifacts.TempDir, extractor.Limits{
		MaxEntries:    cfg.Artifacts.MaxArchiveEntries,
		MaxEntryBytes: cfg.Artifacts.MaxEntryBytes,
		MaxTotalBytes: cfg.Artifacts.MaxExtractedBytes,
		MaxDepth:      cfg.Artifacts.MaxNestingDepth,
	}, logger)

	// initialize queue producers
	producers := map[core.JobKind]core.QueueProducer{
		core.JobIngestion: jobqueue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.IngestionQueue.Topic, logger),
		core.JobAnalysis:  jobqueue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AnalysisQueue.Topic, logger),
	}
	decisionPublisher := jobqueue.NewDecisionPublisher(cfg.Kafka.Brokers, cfg.Kafka.DecisionTopic, logger)

	tracker := jobs.NewProgressTracker(redisDB)
	jobManager := jobs.NewManager(&cfg.Jobs, jobStore, producers, tracker, logger)
	handlers := map[core.JobKind]core.JobHandler{
		core.JobIngestion: ingestion.New(fetcher, filter, reportExtractor, ingestionStore, logger),
		core.JobAnalysis: analysis.New(resolver, testCaseStore, occurrenceStore, analysisStore,
			decisionPublisher, logger),
	}
	worker := jobs.NewWorker(&cfg.Jobs, jobStore, tracker, jobManager, handlers, logger)
	// in-flight jobs drain on shutdown, only the parent context aborts them
	worker.SetJobContext(ctx)

	// initialize queue consumers
	ingestionConsumer := jobqueue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.IngestionQueue, worker, logger)
	analysisConsumer := jobqueue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.AnalysisQueue, worker, logger)

	// schedulers
	schedulers := []core.Scheduler{
		scheduler.NewPolicySweeper(resolver, cfg.Policy.SweepInterval, logger),
		scheduler.NewQuarantineExpirer(quarantineStore, cfg.Jobs.MaintenancePeriod, logger),
		scheduler.NewStaleJobReaper(jobStore, cfg.Jobs.MaintenancePeriod, cfg.Jobs.StaleAfter, logger),
	}

	// create child context so as to close kafka consumers and schedulers on SIGTERM/SIGINT
	// and fail health API.
	childCtx, childCancel := context.WithCancel(ctx)
	defer childCancel()
	router := api.NewRouter(cfg, childCtx, jobManager, map[string]health.Check{
		"mysql": database.Ping,
		"redis": func(ctx context.Context) error {
			return redisDB.Client().Ping(ctx).Err()
		},
	}, logger)
	wg.Add(1)
	// setup http server
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(ctx, &router, cfg, logger); err != nil {
			logger.Errorf("error while running http server %v", err)
		}
	}()

	for _, consumer := range []core.QueueConsumer{ingestionConsumer, analysisConsumer} {
		wg.Add(1)
		go func(consumer core.QueueConsumer) {
			defer wg.Done()
			consumer.Run(childCtx)
		}(consumer)
	}
	// start schedulers
	for _, s := range schedulers {
		wg.Add(1)
		go func(s core.Scheduler) {
			defer wg.Done()
			s.Run(childCtx)
		}(s)
	}

	// listen for C-c
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	// create channel to mark status of waitgroup
	// this is required to brutally kill application in case of
	// timeout
	done := make(chan struct{})

	// asynchronously wait for all the go routines
	go func() {
		// and wait for all go routines
		wg.Wait()
		logger.Debugf("main: all goroutines have finished.")
		close(done)
	}()
	// wait for signal channel
	<-c
	logger.Debugf("main: received close signal - attempting graceful shutdown ....")
	childCancel()
	// add some delay so as to allow all go queue consumer to exit
	time.Sleep(cfg.ShutDownDelay)
	if err := worker.Wait(cfg.WorkerWaitTimeout); err != nil {
		logger.Errorf("Timeout waiting for in-flight jobs to finish, they will be reaped as stale.")
	}
	for kind, producer := range producers {
		if err := producer.Close(); err != nil {
			logger.Errorf("failed to close %s queue producer %v", kind, err)
		}
	}
	if err := decisionPublisher.Close(); err != nil {
		logger.Errorf("failed to close decision publisher %v", err)
	}
	// tell the goroutines to stop
	logger.Debugf("main: telling all goroutines to stop")
	cancel()
	select {
	case <-done:
		logger.Debugf("Go routines exited within timeout")
	case <-time.After(cfg.GracefulTimeout):
		logger.Errorf("Graceful timeout exceeded. Brutally killing the application")
		return errs.ErrTimeoutExceeded
	}
	return nil
}
