package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() { log.SetLevel(log.InfoLevel) })

	require.NoError(t, setupLogger("debug"))
	require.Equal(t, log.DebugLevel, log.GetLevel())

	require.Error(t, setupLogger("chatty"))
	require.Equal(t, log.DebugLevel, log.GetLevel(), "invalid level keeps the previous one")
}

func TestLoadEnvFiles(t *testing.T) {
	const key = "ORDERCORE_TEST_ENV_FILE_VALUE"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o600))

	require.NoError(t, loadEnvFiles(filepath.Join(dir, "missing.env"), path))
	require.Equal(t, "from-file", os.Getenv(key))
}

func TestLoadEnvFiles_DoesNotOverride(t *testing.T) {
	const key = "ORDERCORE_TEST_ENV_FILE_OVERRIDE"
	t.Setenv(key, "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o600))

	require.NoError(t, loadEnvFiles(path))
	require.Equal(t, "from-env", os.Getenv(key))
}
