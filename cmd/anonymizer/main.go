package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/vana-com/pii-anonymizer/internal/anonymize"
	"github.com/vana-com/pii-anonymizer/internal/config"
	"github.com/vana-com/pii-anonymizer/internal/detect"
	"github.com/vana-com/pii-anonymizer/internal/engine"
	"github.com/vana-com/pii-anonymizer/internal/logger"
	"github.com/vana-com/pii-anonymizer/internal/nlp"
	"github.com/vana-com/pii-anonymizer/internal/pipeline"
	"github.com/vana-com/pii-anonymizer/internal/store"
	"github.com/vana-com/pii-anonymizer/internal/worker"
)

// Exit codes mirror the worker contract: 1 for parameter or configuration
// errors, 2 for query execution failures, 3 for processing failures.
const (
	exitConfigError     = 1
	exitQueryError      = 2
	exitProcessingError = 3
)

func main() {
	var (
		configPath   = flag.String("config", "configs/anonymizer.json", "Configuration file path")
		inputFile    = flag.String("input", "", "Local dataset file (CSV, Parquet, or JSON); overrides worker mode")
		outputDir    = flag.String("output", "", "Output directory (defaults to OUTPUT_PATH)")
		outputFormat = flag.String("format", "csv", "Output format for file inputs (csv or parquet)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(exitConfigError)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(exitConfigError)
	}
	defer log.Sync()

	log.Info("Starting PII anonymizer",
		zap.String("version", "0.1.0"),
		zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	params, err := worker.ParamsFromEnv()
	if err != nil {
		log.Error("Invalid container parameters", zap.Error(err))
		os.Exit(exitConfigError)
	}
	if *outputDir == "" {
		*outputDir = params.OutputPath
	}

	source, dest, err := openStores(ctx, cfg, params, *inputFile, *outputDir, *outputFormat, log)
	if err != nil {
		log.Error("Failed to open data stores", zap.Error(err))
		var queryErr *engine.QueryError
		if errors.As(err, &queryErr) {
			os.Exit(exitQueryError)
		}
		os.Exit(exitConfigError)
	}
	defer source.Close()

	run, err := buildPipeline(cfg, source, dest, log)
	if err != nil {
		dest.Close()
		log.Error("Failed to initialize pipeline", zap.Error(err))
		os.Exit(exitConfigError)
	}

	report, err := run.Run(ctx)
	if err != nil {
		dest.Close()
		log.Error("Anonymization run failed", zap.Error(err))
		os.Exit(exitProcessingError)
	}

	statsPath := filepath.Join(*outputDir, "stats.json")
	if err := finalizeOutput(dest, report, statsPath); err != nil {
		log.Error("Failed to finalize run", zap.Error(err))
		os.Exit(exitProcessingError)
	}

	log.Info("Anonymization completed successfully", zap.String("report", statsPath))
}

// finalizeOutput makes the destination durable before the run report exists.
// Buffered destinations flush rows and file footers in Close, so a close
// failure must leave no stats.json behind.
func finalizeOutput(dest store.Destination, report *pipeline.Report, statsPath string) error {
	if err := dest.Close(); err != nil {
		return fmt.Errorf("failed to finalize output: %w", err)
	}
	if err := report.Write(statsPath); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

// openStores selects the source and destination for this run. A local file
// input streams file-to-file, configured database URLs select the Postgres
// stores, and otherwise the worker contract applies: the dataset is a SQLite
// database, fetched from the Query Engine unless the container runs in dev
// mode.
func openStores(ctx context.Context, cfg *config.Config, params *worker.ContainerParams, inputFile, outputDir, outputFormat string, log *logger.Logger) (store.Source, store.Destination, error) {
	source, err := openSource(ctx, cfg, params, inputFile, log)
	if err != nil {
		return nil, nil, err
	}
	dest, err := openDestination(cfg, inputFile, outputDir, outputFormat, log)
	if err != nil {
		source.Close()
		return nil, nil, err
	}
	return source, dest, nil
}

func openSource(ctx context.Context, cfg *config.Config, params *worker.ContainerParams, inputFile string, log *logger.Logger) (store.Source, error) {
	storeLog := log.WithComponent("store").Logger

	if inputFile != "" {
		source, err := store.NewFileSource(inputFile, storeLog)
		if err != nil {
			return nil, err
		}
		return source, nil
	}
	if cfg.Storage.SourceDatabaseURL != "" {
		source, err := store.NewSQLStore(&store.SQLConfig{
			DatabaseURL:  cfg.Storage.SourceDatabaseURL,
			MaxOpenConns: cfg.Storage.MaxOpenConns,
			MaxIdleConns: cfg.Storage.MaxIdleConns,
		}, storeLog)
		if err != nil {
			return nil, err
		}
		return source, nil
	}

	if params.DevMode {
		log.Info("Running in development mode, using local database file",
			zap.String("path", params.DBPath()))
	} else {
		if err := params.ValidateProduction(); err != nil {
			return nil, err
		}
		client := engine.NewClient(engine.Config{
			BaseURL:        os.Getenv("QUERY_ENGINE_URL"),
			QuerySignature: params.QuerySignature,
		}, log.WithComponent("engine").Logger)

		if _, err := client.ExecuteQuery(ctx, params.Query, params.QueryParams,
			params.ComputeJobID, params.DataRefinerID, params.DBPath()); err != nil {
			return nil, err
		}
	}

	source, err := store.NewSQLiteSource(params.DBPath(), storeLog)
	if err != nil {
		return nil, err
	}
	return source, nil
}

func openDestination(cfg *config.Config, inputFile, outputDir, outputFormat string, log *logger.Logger) (store.Destination, error) {
	storeLog := log.WithComponent("store").Logger

	if cfg.Storage.DatabaseURL != "" {
		dest, err := store.NewSQLStore(&store.SQLConfig{
			DatabaseURL:  cfg.Storage.DatabaseURL,
			MaxOpenConns: cfg.Storage.MaxOpenConns,
			MaxIdleConns: cfg.Storage.MaxIdleConns,
		}, storeLog)
		if err != nil {
			return nil, err
		}
		return dest, nil
	}
	if inputFile != "" {
		dest, err := store.NewFileDestination(outputDir, store.FileFormat(outputFormat), storeLog)
		if err != nil {
			return nil, err
		}
		return dest, nil
	}
	dest, err := store.NewSQLiteDestination(filepath.Join(outputDir, "query_results.db"), storeLog)
	if err != nil {
		return nil, err
	}
	return dest, nil
}

// buildPipeline assembles detection and anonymization over the stores.
func buildPipeline(cfg *config.Config, source store.Source, dest store.Destination, log *logger.Logger) (*pipeline.Pipeline, error) {
	backend, err := nlp.NewBackend(cfg.NLP, log.WithComponent("nlp").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize NLP backend: %w", err)
	}

	detector, err := detect.NewEngine(cfg, backend, log.WithComponent("detect").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize detection engine: %w", err)
	}

	anonymizer, err := anonymize.NewEngine(cfg, log.WithComponent("anonymize").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize anonymization engine: %w", err)
	}

	transformer := pipeline.NewTransformer(detector, anonymizer, log.WithComponent("pipeline").Logger)
	return pipeline.New(cfg, source, dest, transformer, log.WithComponent("pipeline").Logger), nil
}
