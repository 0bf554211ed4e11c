package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backfill/cmd/backfill/cli"
)

const extractYAML = `catalog:
  - name: Haircut
    default_price: 45.00
    kind: service
sales:
  - date: 2024-03-01
    time: "09:30"
    total_amount: 45.00
    payment_method: cash
    line_items:
      - item_name: Haircut
        price: 45.00
`

func execute(t *testing.T, args ...string) (*globalFlags, string, error) {
	t.Helper()
	t.Setenv("BACKFILL_SYSTEM_ACTOR", uuid.NewString())
	globals := &globalFlags{}
	root := newRootCmd(globals)
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return globals, out.String(), err
}

func writeExtract(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extract.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateCommandPlansExtract(t *testing.T) {
	path := writeExtract(t, extractYAML)
	globals, out, err := execute(t, "validate", "--source", path, "--target-actor", uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, cli.ExitOK, globals.exitCode)
	require.Contains(t, out, "Backfill (dry run)")
	require.Contains(t, out, "cash movements  1")
}

func TestRunCommandMemoryStore(t *testing.T) {
	path := writeExtract(t, extractYAML)
	globals, out, err := execute(t, "run", "--store", "memory", "--yes", "--json", "--source", path, "--target-actor", uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, cli.ExitOK, globals.exitCode)
	require.Contains(t, out, `"sales_imported":1`)
	require.Contains(t, out, `"summaries_closed":1`)
}

func TestRunCommandRejectsUnknownStore(t *testing.T) {
	path := writeExtract(t, extractYAML)
	_, _, err := execute(t, "run", "--store", "sqlite", "--source", path, "--target-actor", uuid.NewString())
	require.ErrorContains(t, err, "--store must be memory or postgres")
}

func TestValidateCommandRequiresActor(t *testing.T) {
	path := writeExtract(t, extractYAML)
	_, _, err := execute(t, "validate", "--source", path, "--target-actor", "nope")
	require.ErrorContains(t, err, "--target-actor")
}
