package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backfill/internal/backfill"
	"github.com/odyssey-erp/odyssey-backfill/internal/backfill/memstore"
)

const sampleExtract = `{
  "catalog": [
    {"name": "Haircut", "default_price": "45.00", "kind": "service"},
    {"name": "Shampoo", "default_price": "12.50", "kind": "product"}
  ],
  "sales": [
    {"date": "2024-03-01", "time": "09:30", "total_amount": "57.50", "payment_method": "cash",
     "line_items": [{"item_name": "Haircut", "price": "45.00"}, {"item_name": "Shampoo", "price": "12.50"}]},
    {"date": "2024-03-02", "time": "14:00", "total_amount": "45.00", "payment_method": "card",
     "line_items": [{"item_name": "Haircut", "price": "45.00"}]}
  ],
  "expenses": [
    {"date": "2024-03-01", "amount": "120.00", "description": "Towels", "category": "supplies", "payment_method": "cash"}
  ]
}`

const mismatchedExtract = `{
  "catalog": [{"name": "Haircut", "default_price": "19.00", "kind": "service"}],
  "sales": [
    {"date": "2024-03-01", "total_amount": "19.00", "payment_method": "cash",
     "line_items": [{"item_name": "Haircut", "price": "18.95"}]}
  ]
}`

func newTestCLI(t *testing.T) (*BackfillCLI, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	orch, err := backfill.NewOrchestrator(backfill.OrchestratorConfig{Repo: store})
	require.NoError(t, err)
	cli, err := NewBackfillCLI(orch)
	require.NoError(t, err)
	return cli, store
}

func baseOptions(source string) (BackfillOptions, *bytes.Buffer, *bytes.Buffer) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	return BackfillOptions{
		SourceReader: strings.NewReader(source),
		Format:       "json",
		TargetActor:  uuid.New(),
		SystemActor:  uuid.New(),
		Stdout:       stdout,
		Stderr:       stderr,
	}, stdout, stderr
}

func TestValidateCommandJSONSuccess(t *testing.T) {
	cli, store := newTestCLI(t)
	opts, stdout, _ := baseOptions(sampleExtract)
	opts.JSONOutput = true

	exitCode := cli.ValidateCommand(context.Background(), opts)
	require.Equal(t, ExitOK, exitCode)

	var payload struct {
		Status  string `json:"status"`
		DryRun  bool   `json:"dry_run"`
		Results struct {
			SalesImported          int `json:"sales_imported"`
			CashMovementsGenerated int `json:"cash_movements_generated"`
			SummariesClosed        int `json:"summaries_closed"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &payload))
	require.Equal(t, "success", payload.Status)
	require.True(t, payload.DryRun)
	require.Equal(t, 2, payload.Results.SalesImported)
	require.Equal(t, 2, payload.Results.CashMovementsGenerated)
	require.Equal(t, 2, payload.Results.SummariesClosed)
	require.Empty(t, store.Snapshot().Sales)
}

func TestValidateCommandReportsMismatch(t *testing.T) {
	cli, _ := newTestCLI(t)
	opts, stdout, _ := baseOptions(mismatchedExtract)

	exitCode := cli.ValidateCommand(context.Background(), opts)
	require.Equal(t, ExitValidation, exitCode)
	require.Contains(t, stdout.String(), "does not match total_amount 19.00")
	require.Contains(t, stdout.String(), "1 error(s)")
}

func TestValidateCommandLabelsCatalogRowsAsSubmitted(t *testing.T) {
	cli, store := newTestCLI(t)
	require.NoError(t, store.InsertCatalogItems(context.Background(), []backfill.CatalogItem{
		{ID: uuid.New(), Name: "Haircut", Kind: backfill.ItemKindService},
	}))

	opts, stdout, _ := baseOptions(sampleExtract)
	require.Equal(t, ExitOK, cli.ValidateCommand(context.Background(), opts))
	require.Contains(t, stdout.String(), "catalog rows    2 submitted")
	require.NotContains(t, stdout.String(), "catalog items")

	opts, stdout, _ = baseOptions(sampleExtract)
	opts.Yes = true
	require.Equal(t, ExitOK, cli.RunCommand(context.Background(), opts))
	require.Contains(t, stdout.String(), "catalog items   1")
	require.Len(t, store.Snapshot().Catalog, 2)
}

func TestRunCommandRequiresConfirmation(t *testing.T) {
	cli, store := newTestCLI(t)
	opts, stdout, stderr := baseOptions(sampleExtract)
	opts.Stdin = strings.NewReader("no\n")

	exitCode := cli.RunCommand(context.Background(), opts)
	require.Equal(t, ExitUsage, exitCode)
	require.Contains(t, stdout.String(), "Type YES to confirm")
	require.Contains(t, stderr.String(), "cancelled")
	require.Empty(t, store.Snapshot().Sales)
}

func TestRunCommandConfirmedImports(t *testing.T) {
	cli, store := newTestCLI(t)
	opts, stdout, stderr := baseOptions(sampleExtract)
	opts.Confirm = func(io.Reader, io.Writer) (bool, error) { return true, nil }

	exitCode := cli.RunCommand(context.Background(), opts)
	require.Equal(t, ExitOK, exitCode)
	require.Contains(t, stdout.String(), "Backfill (run)")
	require.Contains(t, stderr.String(), "[100%] "+backfill.PhaseComplete)

	snap := store.Snapshot()
	require.Len(t, snap.Catalog, 2)
	require.Len(t, snap.Sales, 2)
	require.Len(t, snap.Expenses, 1)
	require.Len(t, snap.CashMovements, 2)
	require.Len(t, snap.Summaries, 2)
}

func TestRunCommandYesSkipsPrompt(t *testing.T) {
	cli, store := newTestCLI(t)
	opts, stdout, _ := baseOptions(sampleExtract)
	opts.Yes = true
	opts.JSONOutput = true
	opts.Confirm = func(io.Reader, io.Writer) (bool, error) {
		t.Fatal("confirm must not be called with --yes")
		return false, nil
	}

	exitCode := cli.RunCommand(context.Background(), opts)
	require.Equal(t, ExitOK, exitCode)
	require.Contains(t, stdout.String(), `"dry_run":false`)
	require.Len(t, store.Snapshot().Sales, 2)
}

func TestRunCommandUnknownItemFailsSalesPhase(t *testing.T) {
	cli, store := newTestCLI(t)
	extract := `{
  "sales": [
    {"date": "2024-03-01", "total_amount": "10.00", "payment_method": "twint",
     "line_items": [{"item_name": "Beard trim", "price": "10.00"}]}
  ]
}`
	opts, stdout, _ := baseOptions(extract)
	opts.Yes = true

	exitCode := cli.RunCommand(context.Background(), opts)
	require.Equal(t, ExitRunFailed, exitCode)
	require.Contains(t, stdout.String(), "Failed in: "+backfill.PhaseSales)
	require.Contains(t, stdout.String(), `"Beard trim"`)
	require.Empty(t, store.Snapshot().Sales)
}

func TestRunCommandMissingSource(t *testing.T) {
	cli, _ := newTestCLI(t)
	stderr := new(bytes.Buffer)
	exitCode := cli.RunCommand(context.Background(), BackfillOptions{
		TargetActor: uuid.New(),
		SystemActor: uuid.New(),
		Stdout:      new(bytes.Buffer),
		Stderr:      stderr,
	})
	require.Equal(t, ExitUsage, exitCode)
	require.Contains(t, stderr.String(), "--source is required")
}

func TestRunCommandReadsStdin(t *testing.T) {
	cli, _ := newTestCLI(t)
	opts, stdout, _ := baseOptions("")
	opts.SourceReader = nil
	opts.Source = "-"
	opts.Format = ""
	opts.DryRun = true
	opts.Stdin = strings.NewReader(sampleExtract)

	exitCode := cli.RunCommand(context.Background(), opts)
	require.Equal(t, ExitOK, exitCode)
	require.Contains(t, stdout.String(), "Backfill (dry run)")
}

func TestDefaultBackfillConfirm(t *testing.T) {
	out := new(bytes.Buffer)
	ok, err := defaultBackfillConfirm(strings.NewReader("yes\n"), out)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = defaultBackfillConfirm(strings.NewReader(""), out)
	require.NoError(t, err)
	require.False(t, ok)
}
