package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "ibnr.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "month", cfg.Reserving.Grain)
	assert.InDelta(t, 1.0, cfg.Reserving.TailFactor, 0.0001)
	assert.Equal(t, 3, cfg.Reserving.MinOriginPeriods)
	assert.Equal(t, 2, cfg.Reserving.BFMaxLag)
	assert.InDelta(t, 0.25, cfg.Reserving.CVLimit, 0.0001)
	assert.Equal(t, 85, cfg.Confidence.AnomalyCeiling)
	assert.InDelta(t, 0.5, cfg.Confidence.DepthWeight, 0.0001)
	assert.InDelta(t, 0.90, cfg.Funding.CriticalRatio, 0.0001)
	assert.InDelta(t, 1.00, cfg.Funding.WarningRatio, 0.0001)
	assert.Equal(t, "ibnr-recalculate", cfg.Temporal.TaskQueue)
	assert.NoError(t, cfg.Validate("recalculate"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/ibnr
log:
  level: debug
  format: console
reserving:
  tail_factor: 1.03
  categories:
    Dental:
      method: expected_loss
funding:
  include_case_reserve: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.InDelta(t, 1.03, cfg.Reserving.TailFactor, 0.0001)
	assert.True(t, cfg.Funding.IncludeCaseReserve)
	// viper lower-cases keys; lookup is case-insensitive.
	assert.Equal(t, "expected_loss", cfg.Reserving.Category("Dental").Method)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Reserving.MinOriginPeriods)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("IBNR_STORE_DRIVER", "postgres")
	t.Setenv("IBNR_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadAssumptionsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assumptions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
categories:
  Medical:
    method: chain_ladder
    tail_factor: 1.02
  Pharmacy:
    method: bf
`), 0644))

	cfg := validDefaults()
	cfg.Reserving.Categories = map[string]CategoryConfig{"medical": {Method: "expected_loss"}}

	require.NoError(t, cfg.LoadAssumptions(path))

	med := cfg.Reserving.Category("Medical")
	assert.Equal(t, "chain_ladder", med.Method)
	assert.InDelta(t, 1.02, med.TailFactor, 0.0001)
	assert.Equal(t, "bf", cfg.Reserving.Category("pharmacy").Method)
	assert.Len(t, cfg.Reserving.Categories, 2)
}

func TestLoadAssumptionsFile_Missing(t *testing.T) {
	cfg := validDefaults()
	err := cfg.LoadAssumptions(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read assumptions")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "ibnr.db"
	cfg.Server.Port = 8080
	cfg.Reserving.Grain = "month"
	cfg.Reserving.TailFactor = 1.0
	cfg.Reserving.MinOriginPeriods = 3
	cfg.Reserving.CVLimit = 0.25
	cfg.Confidence.DepthWeight = 0.5
	cfg.Confidence.StabilityWeight = 0.5
	cfg.Confidence.AnomalyCeiling = 85
	cfg.Funding.CriticalRatio = 0.9
	cfg.Funding.WarningRatio = 1.0
	cfg.Schedule.Cron = "0 6 2 * *"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("recalculate"))
}

func TestValidate_BadThresholds(t *testing.T) {
	cfg := validDefaults()
	cfg.Funding.CriticalRatio = 1.1
	cfg.Reserving.TailFactor = 0.9
	cfg.Reserving.Grain = "week"

	err := cfg.Validate("recalculate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "funding ratios")
	assert.Contains(t, err.Error(), "tail_factor must be >= 1.0")
	assert.Contains(t, err.Error(), "reserving.grain")
}

func TestValidate_UnknownCategoryMethod(t *testing.T) {
	cfg := validDefaults()
	cfg.Reserving.Categories = map[string]CategoryConfig{"vision": {Method: "mack"}}

	err := cfg.Validate("recalculate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserving.categories.vision.method")
}

func TestValidate_CategoryMethodAliases(t *testing.T) {
	for _, method := range []string{"", "auto", "AUTO", "chain-ladder", "chain_ladder", "cl", "bornhuetter-ferguson", "bf", "expected-loss", "el"} {
		cfg := validDefaults()
		cfg.Reserving.Categories = map[string]CategoryConfig{"medical": {Method: method}}
		assert.NoError(t, cfg.Validate("recalculate"), "method %q", method)
	}
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateWorker_RequiresTemporal(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporal.host_port")

	cfg.Temporal.HostPort = "localhost:7233"
	assert.NoError(t, cfg.Validate("worker"))
}
