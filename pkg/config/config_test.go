package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/gridcore/pkg/log"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gridcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, `
storage:
  dir: /var/lib/gridcore/pages
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/gridcore/pages", cfg.Storage.Dir)
	require.Equal(t, 4096, cfg.Storage.PageSize)
	require.Equal(t, 4096, cfg.PageMemory.Capacity)
	require.Equal(t, 3, cfg.Txn.MaxRemaps)
	require.Equal(t, 256, cfg.Vacuum.BatchSize)
}

func TestLoadOverridesNestedFields(t *testing.T) {
	path := writeConfig(t, `
txn:
  maxRemaps: 7
vacuum:
  workers: 8
  batchSize: 512
log:
  level: debug
  jsonOutput: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Txn.MaxRemaps)
	require.Equal(t, 8, cfg.Vacuum.Workers)
	require.Equal(t, 512, cfg.Vacuum.BatchSize)
	require.True(t, cfg.Log.JSONOutput)
	require.Equal(t, log.DebugLevel, cfg.LogLevel())
}

func TestLoadMissingFileReturnsConfigurationError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAMLReturnsConfigurationError(t *testing.T) {
	path := writeConfig(t, "storage: [this is not a mapping\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsNonPositivePageSize(t *testing.T) {
	cfg := Default()
	cfg.Storage.PageSize = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositivePartitionCount(t *testing.T) {
	cfg := Default()
	cfg.Partition.Count = 0
	require.Error(t, cfg.Validate())
}

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLogLevelDefaultsToInfo(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "nonsense"
	require.Equal(t, log.InfoLevel, cfg.LogLevel())
}
