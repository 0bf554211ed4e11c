// Command backfill imports historical ledger extracts from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-backfill/cmd/backfill/cli"
	"github.com/odyssey-erp/odyssey-backfill/internal/app"
	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	"github.com/odyssey-erp/odyssey-backfill/internal/backfill/memstore"
	"github.com/odyssey-erp/odyssey-backfill/internal/platform/db"
	"github.com/odyssey-erp/odyssey-backfill/jobs"
)

type globalFlags struct {
	envFile string
	debug   bool

	// exitCode is set by commands that report problems without failing.
	exitCode int
}

type runFlags struct {
	source      string
	format      string
	targetActor string
	batchSize   int
	dryRun      bool
	store       string
	documents   bool
	overwrite   bool
	jsonOutput  bool
	yes         bool
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	globals := &globalFlags{}
	if err := newRootCmd(globals).ExecuteContext(ctx); err != nil {
		return cli.ExitUsage
	}
	return globals.exitCode
}

func newRootCmd(globals *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "backfill",
		Short: "Import historical catalog, sales and expenses into the ledger",
		Long: `backfill validates and imports historical extracts (JSON, YAML or XLSX)
into the ledger of one target actor, derives cash movements and closed daily
summaries and optionally renders the missing documents.

Example:
  backfill validate --source extract.xlsx --target-actor <uuid>
  backfill run --source gs://bucket/extract.json --target-actor <uuid> --documents
  backfill enqueue --source gs://bucket/extract.json --target-actor <uuid>`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&globals.envFile, "env-file", "", "dotenv file loaded before the environment")
	root.PersistentFlags().BoolVar(&globals.debug, "debug", false, "enable debug logging")

	root.AddCommand(newValidateCmd(globals))
	root.AddCommand(newRunCmd(globals))
	root.AddCommand(newEnqueueCmd(globals))
	root.AddCommand(newQueueCmd(globals))
	return root
}

func loadConfig(globals *globalFlags) (*app.Config, *slog.Logger, error) {
	var files []string
	if globals.envFile != "" {
		files = append(files, globals.envFile)
	}
	cfg, err := app.LoadConfig(files...)
	if err != nil {
		return nil, nil, err
	}
	if globals.debug {
		cfg.LogLevel = "debug"
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func addSourceFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().StringVar(&flags.source, "source", "", "extract path, gs:// URI or - for stdin")
	cmd.Flags().StringVar(&flags.format, "format", "", "extract format: json, yaml or xlsx (default from extension)")
	cmd.Flags().StringVar(&flags.targetActor, "target-actor", "", "owner of the imported records")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "catalog insert chunk size (default from BACKFILL_BATCH_SIZE)")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target-actor")
}

func (f *runFlags) options(cmd *cobra.Command, cfg *app.Config) (cli.BackfillOptions, error) {
	actor, err := uuid.Parse(f.targetActor)
	if err != nil {
		return cli.BackfillOptions{}, fmt.Errorf("--target-actor: %w", err)
	}
	batchSize := f.batchSize
	if batchSize <= 0 {
		batchSize = cfg.BackfillBatchSize
	}
	return cli.BackfillOptions{
		Source:            f.source,
		Format:            f.format,
		TargetActor:       actor,
		SystemActor:       cfg.SystemActor(),
		DryRun:            f.dryRun,
		GenerateDocuments: f.documents,
		Overwrite:         f.overwrite,
		BatchSize:         batchSize,
		Yes:               f.yes,
		JSONOutput:        f.jsonOutput,
		Stdout:            cmd.OutOrStdout(),
		Stderr:            cmd.ErrOrStderr(),
		Stdin:             cmd.InOrStdin(),
	}, nil
}

func newValidateCmd(globals *globalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check an extract and print what a run would produce",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(globals)
			if err != nil {
				return err
			}
			opts, err := flags.options(cmd, cfg)
			if err != nil {
				return err
			}
			orch, err := backfill.NewOrchestrator(backfill.OrchestratorConfig{Repo: memstore.New(), Logger: logger})
			if err != nil {
				return err
			}
			runner, err := cli.NewBackfillCLI(orch)
			if err != nil {
				return err
			}
			globals.exitCode = runner.ValidateCommand(cmd.Context(), opts)
			return nil
		},
	}
	addSourceFlags(cmd, flags)
	cmd.Flags().BoolVar(&flags.documents, "documents", false, "include documents in the plan")
	return cmd
}

func newRunCmd(globals *globalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import an extract synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(globals)
			if err != nil {
				return err
			}
			opts, err := flags.options(cmd, cfg)
			if err != nil {
				return err
			}

			var repo backfill.RepositoryPort
			switch flags.store {
			case "memory":
				repo = memstore.New()
			case "postgres":
				pool, err := db.New(cmd.Context(), cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
				if err != nil {
					return err
				}
				defer pool.Close()
				repo = backfill.NewRepository(pool)
			default:
				return fmt.Errorf("--store must be memory or postgres, got %q", flags.store)
			}

			pipeline, err := app.NewPipeline(cmd.Context(), cfg, logger, app.PipelineOptions{
				Repo:          repo,
				WithDocuments: flags.documents,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := pipeline.Close(); err != nil {
					logger.Warn("document store close", slog.Any("error", err))
				}
			}()

			runner, err := cli.NewBackfillCLI(pipeline.Orchestrator)
			if err != nil {
				return err
			}
			globals.exitCode = runner.RunCommand(cmd.Context(), opts)
			return nil
		},
	}
	addSourceFlags(cmd, flags)
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "validate and plan without writing")
	cmd.Flags().StringVar(&flags.store, "store", "postgres", "target store: memory or postgres")
	cmd.Flags().BoolVar(&flags.documents, "documents", false, "render missing receipts and reports")
	cmd.Flags().BoolVar(&flags.overwrite, "overwrite", false, "re-render documents that already exist")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newEnqueueCmd(globals *globalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit an import to the worker queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(globals)
			if err != nil {
				return err
			}
			actor, err := uuid.Parse(flags.targetActor)
			if err != nil {
				return fmt.Errorf("--target-actor: %w", err)
			}
			queue, err := cli.NewJobsCLI(cfg.RedisOptions().Asynq())
			if err != nil {
				return err
			}
			defer func() {
				_ = queue.Close()
			}()
			info, err := queue.EnqueueBackfill(cmd.Context(), jobs.BackfillRunPayload{
				ExtractURI:        flags.source,
				Format:            flags.format,
				TargetActor:       actor,
				GenerateDocuments: flags.documents,
				OverwriteExisting: flags.overwrite,
				BatchSize:         flags.batchSize,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return json.NewEncoder(out).Encode(map[string]string{
					"task_id": info.ID,
					"queue":   info.Queue,
					"actor":   actor.String(),
				})
			}
			fmt.Fprintf(out, "Enqueued %s on queue %s for %s\n", info.ID, info.Queue, actor)
			return nil
		},
	}
	addSourceFlags(cmd, flags)
	cmd.Flags().BoolVar(&flags.documents, "documents", false, "render missing receipts and reports")
	cmd.Flags().BoolVar(&flags.overwrite, "overwrite", false, "re-render documents that already exist")
	return cmd
}

func newQueueCmd(globals *globalFlags) *cobra.Command {
	var (
		jsonOutput bool
		size       int
	)
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show backfill queue statistics and pending runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(globals)
			if err != nil {
				return err
			}
			queue, err := cli.NewJobsCLI(cfg.RedisOptions().Asynq())
			if err != nil {
				return err
			}
			defer func() {
				_ = queue.Close()
			}()
			stats, err := queue.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			pending, err := queue.ListPending(cmd.Context(), size)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				ids := make([]string, 0, len(pending))
				for _, task := range pending {
					ids = append(ids, task.ID)
				}
				return json.NewEncoder(out).Encode(struct {
					cli.QueueStats
					PendingIDs []string `json:"pending_ids"`
				}{stats, ids})
			}
			fmt.Fprintf(out, "Queue %s: pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			for _, task := range pending {
				fmt.Fprintf(out, " - %s %s\n", task.ID, task.Type)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	cmd.Flags().IntVar(&size, "size", 10, "pending tasks to list")
	return cmd
}
