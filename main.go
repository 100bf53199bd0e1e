package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wr-db/snowflake-writer/pkg/adapters/datasource"
	"github.com/wr-db/snowflake-writer/pkg/adapters/datasource/snowflake"
	_ "github.com/wr-db/snowflake-writer/pkg/adapters/staging/abs" // Azure Blob Storage staging
	_ "github.com/wr-db/snowflake-writer/pkg/adapters/staging/s3"  // Amazon S3 staging
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/config"
	"github.com/wr-db/snowflake-writer/pkg/logging"
	"github.com/wr-db/snowflake-writer/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(apperrors.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "snowflake-writer",
		Short:   "Load staged CSV data into Snowflake tables",
		Version: Version,
		Long: `snowflake-writer copies CSV files staged in S3 or Azure Blob Storage into
Snowflake tables, either replacing the table (full load) or merging on the
primary key (incremental load).

Exit Codes:
  0  - Success
  1  - User error (configuration or warehouse state)
  2  - Application error`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "config.yaml", "Path to the configuration file")
	root.PersistentFlags().Bool("dev", false, "Human-readable development logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Load every exported table of the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(cmd, func(ctx context.Context, cfg *config.Config, runner *services.Runner, logger *zap.Logger) error {
					tables, err := cfg.TableSpecs()
					if err != nil {
						return err
					}
					if err := runner.Run(ctx, tables); err != nil {
						return err
					}
					logger.Info("Writer finished successfully", zap.Int("tables", len(tables)))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "test-connection",
			Short: "Check that the warehouse, schema and credentials are usable",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(cmd, func(ctx context.Context, _ *config.Config, runner *services.Runner, logger *zap.Logger) error {
					if err := runner.TestConnection(ctx); err != nil {
						return err
					}
					logger.Info("Connection successful")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show-config",
			Short: "Print the effective configuration without secrets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				out, err := cfg.Dump()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// withRunner loads configuration, sets up logging and hands a Runner to fn.
func withRunner(cmd *cobra.Command, fn func(context.Context, *config.Config, *services.Runner, *zap.Logger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dev, err := cmd.Flags().GetBool("dev")
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel, dev)
	if err != nil {
		return apperrors.NewApplicationError(err, "failed to initialize logger: %s", err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("version", Version),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("concurrency", cfg.Concurrency),
		zap.String("host", cfg.DB.Host),
		zap.String("database", cfg.DB.Database),
		zap.String("schema", cfg.DB.Schema),
		zap.Int("tables", len(cfg.Tables)))

	dbCfg := cfg.DatabaseConfig()
	connect := func(ctx context.Context) (datasource.Connection, error) {
		conn, err := snowflake.NewConnection(ctx, dbCfg, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	runner := services.NewRunner(services.RunnerConfig{
		DataDir:     cfg.DataDir,
		Concurrency: cfg.Concurrency,
		Writer: services.WriterConfig{
			Database:  cfg.DB.Database,
			Schema:    cfg.DB.Schema,
			Warehouse: cfg.DB.Warehouse,
			RunID:     cfg.DB.RunID,
		},
	}, connect, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = fn(ctx, cfg, runner, logger)
	if err != nil {
		logger.Error("Writer failed", zap.Error(err))
	}
	return err
}
