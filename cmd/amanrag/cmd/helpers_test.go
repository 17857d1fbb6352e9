package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testDataset = `
chunks:
  - id: c1
    title: billing
    content: The Billing Service charges the customer card and posts every charge to the Ledger.
  - id: c2
    title: ledger
    content: The Ledger records each payment transaction with an idempotency key.
  - id: c3
    title: deploy
    content: The deploy pipeline releases the Web Frontend behind a feature flag.
entities:
  - id: billing
    name: Billing Service
  - id: ledger
    name: Ledger
  - id: frontend
    name: Web Frontend
relations:
  - from: billing
    to: ledger
    type: writes_to
    weight: 0.9
mentions:
  - entity: billing
    chunk: c1
  - entity: ledger
    chunk: c1
    weight: 0.8
  - entity: ledger
    chunk: c2
  - entity: frontend
    chunk: c3
`

// isolate points config, logs and data at temp dirs and returns the
// project directory.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	t.Setenv("AMANRAG_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("AMANRAG_TELEMETRY_ENABLED", "false")
	t.Setenv("AMANRAG_COMMUNITY_WATCH", "false")
	t.Setenv("AMANRAG_SOURCE_TIMEOUT", "2s")
	t.Setenv("AMANRAG_GLOBAL_DEADLINE", "5s")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// seedProject seeds testDataset and builds communities in dir.
func seedProject(t *testing.T, dir string) {
	t.Helper()
	dataset := filepath.Join(dir, "corpus.yaml")
	writeFile(t, dataset, testDataset)

	_, err := execute(t, "--dir", dir, "seed", dataset)
	require.NoError(t, err)
	_, err = execute(t, "--dir", dir, "community", "build")
	require.NoError(t, err)
}
