package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	catalogFile = ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCatalogPrintDefault(t *testing.T) {
	out, err := runCLI(t, "catalog", "print")
	require.NoError(t, err)
	assert.Contains(t, out, "type: feature")
	assert.Contains(t, out, "review_gated: true")
}

func TestCatalogValidateRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types: [\n"), 0o600))

	_, err := runCLI(t, "catalog", "validate", "--file", path)
	assert.Error(t, err)

	_, err = runCLI(t, "catalog", "validate")
	assert.Error(t, err)
}
