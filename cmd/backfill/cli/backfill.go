package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	"github.com/odyssey-erp/odyssey-backfill/internal/extract"
	"github.com/odyssey-erp/odyssey-backfill/internal/storage"
)

// Exit codes reported by the backfill commands.
const (
	ExitOK         = 0
	ExitUsage      = 1
	ExitRunFailed  = 2
	ExitValidation = 10
)

type backfillRunner interface {
	Run(ctx context.Context, batch backfill.ImportBatch, sink backfill.ProgressSink) backfill.Result
}

// BackfillCLI drives historical imports from the command line.
type BackfillCLI struct {
	runner backfillRunner
	open   func(ctx context.Context, uri string) (io.ReadCloser, error)
}

// NewBackfillCLI constructs the helper around an orchestrator.
func NewBackfillCLI(runner backfillRunner) (*BackfillCLI, error) {
	if runner == nil {
		return nil, errors.New("backfill cli: runner required")
	}
	return &BackfillCLI{
		runner: runner,
		open: func(ctx context.Context, uri string) (io.ReadCloser, error) {
			return storage.OpenURI(ctx, uri)
		},
	}, nil
}

// BackfillOptions configures a validate or run invocation.
type BackfillOptions struct {
	Source            string
	SourceReader      io.Reader
	Format            string
	TargetActor       uuid.UUID
	SystemActor       uuid.UUID
	DryRun            bool
	GenerateDocuments bool
	Overwrite         bool
	BatchSize         int
	Yes               bool
	JSONOutput        bool
	Stdout            io.Writer
	Stderr            io.Writer
	Stdin             io.Reader
	Confirm           func(io.Reader, io.Writer) (bool, error)
}

// ValidateCommand checks an extract and prints what a run would produce.
func (c *BackfillCLI) ValidateCommand(ctx context.Context, opts BackfillOptions) int {
	opts.DryRun = true
	return c.RunCommand(ctx, opts)
}

// RunCommand imports an extract. Unless --yes is given, a dry run is shown
// and confirmed before anything is written.
func (c *BackfillCLI) RunCommand(ctx context.Context, opts BackfillOptions) int {
	opts = withDefaults(opts)
	batch, err := c.loadBatch(ctx, opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "backfill: %v\n", err)
		return ExitUsage
	}

	batch.DryRun = true
	plan := c.runner.Run(ctx, batch, nil)
	if opts.DryRun || plan.Status != backfill.StatusSuccess {
		if err := writeBackfillOutput(opts, batch, plan); err != nil {
			fmt.Fprintf(opts.Stderr, "backfill: %v\n", err)
			return ExitUsage
		}
		return exitCode(plan)
	}

	if !opts.Yes {
		if !opts.JSONOutput {
			renderBackfillHuman(opts.Stdout, batch, plan)
		}
		confirm := opts.Confirm
		if confirm == nil {
			confirm = defaultBackfillConfirm
		}
		ok, err := confirm(opts.Stdin, opts.Stdout)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "backfill: confirmation failed: %v\n", err)
			return ExitUsage
		}
		if !ok {
			fmt.Fprintln(opts.Stderr, "backfill: cancelled by user")
			return ExitUsage
		}
	}

	batch.DryRun = false
	var (
		sink    backfill.ProgressSink
		updates chan backfill.Progress
		printed = make(chan struct{})
	)
	if !opts.JSONOutput {
		updates = make(chan backfill.Progress, 8)
		sink = backfill.ChannelSink(updates)
		go func() {
			defer close(printed)
			for p := range updates {
				fmt.Fprintf(opts.Stderr, "[%3d%%] %s\n", p.Percent, p.Phase)
			}
		}()
	}
	res := c.runner.Run(ctx, batch, sink)
	if updates != nil {
		close(updates)
		<-printed
	}
	if err := writeBackfillOutput(opts, batch, res); err != nil {
		fmt.Fprintf(opts.Stderr, "backfill: %v\n", err)
		return ExitUsage
	}
	return exitCode(res)
}

func withDefaults(opts BackfillOptions) BackfillOptions {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	return opts
}

func (c *BackfillCLI) loadBatch(ctx context.Context, opts BackfillOptions) (backfill.ImportBatch, error) {
	source := strings.TrimSpace(opts.Source)
	var (
		format extract.Format
		err    error
	)
	switch {
	case opts.Format != "":
		format, err = extract.ParseFormat(opts.Format)
	case source == "" || source == "-":
		format = extract.FormatJSON
	default:
		format, err = extract.FormatFromPath(source)
	}
	if err != nil {
		return backfill.ImportBatch{}, err
	}

	var r io.Reader
	switch {
	case opts.SourceReader != nil:
		r = opts.SourceReader
	case source == "-":
		r = opts.Stdin
	case source == "":
		return backfill.ImportBatch{}, errors.New("--source is required")
	default:
		rc, err := c.open(ctx, source)
		if err != nil {
			return backfill.ImportBatch{}, err
		}
		defer func() {
			_ = rc.Close()
		}()
		r = rc
	}
	ext, err := extract.Decode(r, format)
	if err != nil {
		return backfill.ImportBatch{}, err
	}
	return ext.Apply(backfill.ImportBatch{
		BatchSize:                opts.BatchSize,
		TargetActor:              opts.TargetActor,
		SystemActor:              opts.SystemActor,
		GenerateMissingDocuments: opts.GenerateDocuments,
		OverwriteExisting:        opts.Overwrite,
	}), nil
}

func exitCode(res backfill.Result) int {
	switch {
	case res.Status == backfill.StatusSuccess:
		return ExitOK
	case res.FailedPhase == backfill.PhaseValidation:
		return ExitValidation
	default:
		return ExitRunFailed
	}
}

type backfillSummary struct {
	TargetActor string `json:"target_actor"`
	backfill.Result
}

func writeBackfillOutput(opts BackfillOptions, batch backfill.ImportBatch, res backfill.Result) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(backfillSummary{TargetActor: batch.TargetActor.String(), Result: res})
	}
	renderBackfillHuman(opts.Stdout, batch, res)
	return nil
}

func renderBackfillHuman(out io.Writer, batch backfill.ImportBatch, res backfill.Result) {
	mode := "run"
	if res.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(out, "Backfill (%s) for %s: %s\n", mode, batch.TargetActor, res.Status)
	if res.FailedPhase != "" {
		fmt.Fprintf(out, "Failed in: %s\n", res.FailedPhase)
	}
	if c := res.Results; c != nil {
		if res.DryRun {
			// The plan never reads the store, so names already present are still counted.
			fmt.Fprintf(out, "  catalog rows    %d submitted (existing names are skipped)\n", c.ItemsImported)
		} else {
			fmt.Fprintf(out, "  catalog items   %d\n", c.ItemsImported)
		}
		fmt.Fprintf(out, "  sales           %d\n", c.SalesImported)
		fmt.Fprintf(out, "  expenses        %d\n", c.ExpensesImported)
		fmt.Fprintf(out, "  cash movements  %d\n", c.CashMovementsGenerated)
		fmt.Fprintf(out, "  closed days     %d\n", c.SummariesClosed)
		fmt.Fprintf(out, "  documents       %d\n", c.DocumentsGenerated)
		fmt.Fprintf(out, "  elapsed         %dms\n", c.ElapsedMs)
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(out, "%d error(s):\n", len(res.Errors))
		for _, e := range res.Errors {
			fmt.Fprintf(out, " - %s\n", e)
		}
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintf(out, "%d warning(s):\n", len(res.Warnings))
		for _, w := range res.Warnings {
			fmt.Fprintf(out, " - %s\n", w)
		}
	}
}

func defaultBackfillConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Import into the ledger? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	response := strings.TrimSpace(line)
	return strings.EqualFold(response, "YES"), nil
}
