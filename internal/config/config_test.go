package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.ohsome.org/v1", cfg.Ohsome.BaseURL)
	assert.Equal(t, 30, cfg.Ohsome.TimeoutSecs)
	assert.InDelta(t, 2.0, cfg.Ohsome.RateLimit, 0.001)
	assert.Equal(t, "P1D", cfg.Ohsome.Period)
	assert.Equal(t, "Curitiba", cfg.Study.Region)
	assert.Equal(t, []int64{523, 557}, cfg.Study.Cells)
	assert.Equal(t, "2019-11-01", cfg.Study.Start)
	assert.Equal(t, "2021-05-01", cfg.Study.End)
	assert.Equal(t, 90, cfg.Study.MaxSpanDays)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2000, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 5, cfg.Fit.MinPoints)
	assert.Equal(t, 2000, cfg.Fit.MaxIterations)
	assert.Equal(t, 1, cfg.Pipeline.Concurrency)
	assert.Equal(t, 10, cfg.Pipeline.TopN)
	assert.Equal(t, "resultados", cfg.Output.Dir)
	assert.True(t, cfg.Output.Charts)
	assert.True(t, cfg.Output.XLSX)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 168, cfg.Cache.TTLHours)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate("run"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
study:
  region: Porto Alegre
  cells: [1, 2, 3]
  max_span_days: 30
ohsome:
  filter: "building=*"
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Porto Alegre", cfg.Study.Region)
	assert.Equal(t, []int64{1, 2, 3}, cfg.Study.Cells)
	assert.Equal(t, 30, cfg.Study.MaxSpanDays)
	assert.Equal(t, "building=*", cfg.Ohsome.Filter)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, "2019-11-01", cfg.Study.Start)
}

func TestLoadRegionsFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
study:
  id_property: cell
  regions:
    - name: Curitiba
      grid_path: grades/curitiba.geojson
    - name: São Paulo
      grid_path: grades/sao-paulo.shp
      id_property: id
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Study.Regions, 2)

	regions := cfg.StudyRegions()
	assert.Equal(t, RegionConfig{Name: "Curitiba", GridPath: "grades/curitiba.geojson", IDProperty: "cell"}, regions[0])
	assert.Equal(t, RegionConfig{Name: "São Paulo", GridPath: "grades/sao-paulo.shp", IDProperty: "id"}, regions[1])
	assert.NoError(t, cfg.Validate("rank"))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("OHSOME_STORE_DRIVER", "postgres")
	t.Setenv("OHSOME_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("OHSOME_SERVER_PORT", "3000")
	t.Setenv("OHSOME_STUDY_END", "2020-01-01")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "2020-01-01", cfg.Study.End)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("study: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
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
	cfg.Ohsome.BaseURL = "https://api.ohsome.org/v1"
	cfg.Study.Region = "Curitiba"
	cfg.Study.GridPath = "grid.geojson"
	cfg.Study.Start = "2019-11-01"
	cfg.Study.End = "2021-05-01"
	cfg.Study.MaxSpanDays = 90
	cfg.Fit.MinPoints = 5
	cfg.Pipeline.Concurrency = 1
	cfg.Pipeline.TopN = 10
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "ohsome.db"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
	assert.NoError(t, validDefaults().Validate("rank"))
}

func TestValidateRun_BadDates(t *testing.T) {
	cfg := validDefaults()
	cfg.Study.Start = "01/11/2019"
	cfg.Study.End = "2021-13-01"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "study.start must be YYYY-MM-DD")
	assert.Contains(t, err.Error(), "study.end must be YYYY-MM-DD")
}

func TestValidateRun_StartNotBeforeEnd(t *testing.T) {
	cfg := validDefaults()
	cfg.Study.Start = "2021-05-01"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "study.start must be before study.end")
}

func TestValidateRun_Span(t *testing.T) {
	cfg := validDefaults()
	cfg.Study.MaxSpanDays = 0

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "study.max_span_days must be > 0")
}

func TestValidateRun_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Pipeline.Concurrency = 0
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.concurrency must be between 1 and 32")

	cfg.Pipeline.Concurrency = 33
	assert.Error(t, cfg.Validate("run"))

	cfg.Pipeline.Concurrency = 32
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRank_TopN(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.TopN = 0

	err := cfg.Validate("rank")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.top_n must be > 0")
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite, postgres or none")

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "none"
	assert.NoError(t, cfg.Validate("run"))
	assert.Error(t, cfg.Validate("runs"))
}

func TestValidateCacheNeedsStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "none"
	cfg.Cache.Enabled = true

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.enabled requires a store driver")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestStudyWindow(t *testing.T) {
	cfg := validDefaults()

	start, end, err := cfg.StudyWindow()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 11, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, 90*24*time.Hour, cfg.MaxSpan())

	cfg.Study.End = "soon"
	_, _, err = cfg.StudyWindow()
	assert.Error(t, err)
}

func TestValidateServe_MonitoringThresholds(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.FailureRateThreshold = 1.5

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold")

	cfg.Monitoring.FailureRateThreshold = 0.5
	cfg.Monitoring.UnconvergedRateThreshold = -0.1
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.unconverged_rate_threshold")

	cfg.Monitoring.UnconvergedRateThreshold = 0.5
	assert.NoError(t, cfg.Validate("serve"))
}

func TestStudyRegions_FallsBackToStudyRegion(t *testing.T) {
	cfg := validDefaults()
	cfg.Study.IDProperty = "id"

	regions := cfg.StudyRegions()
	require.Len(t, regions, 1)
	assert.Equal(t, RegionConfig{Name: "Curitiba", GridPath: "grid.geojson", IDProperty: "id"}, regions[0])
}

func TestValidateRegions(t *testing.T) {
	cfg := validDefaults()
	cfg.Study.Regions = []RegionConfig{
		{Name: "Curitiba", GridPath: "a.geojson"},
		{Name: "curitiba", GridPath: "b.geojson"},
		{Name: "Vitória"},
		{Name: " ", GridPath: "c.geojson"},
	}

	err := cfg.Validate("rank")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `study region "curitiba" is listed twice`)
	assert.Contains(t, err.Error(), `study region "Vitória" needs a grid_path`)
	assert.Contains(t, err.Error(), "study region 3 needs a name")
}

func TestUseRegion(t *testing.T) {
	withRegions := func() *Config {
		cfg := validDefaults()
		cfg.Study.IDProperty = "id"
		cfg.Study.Regions = []RegionConfig{
			{Name: "Curitiba", GridPath: "curitiba.geojson"},
			{Name: "São Paulo", GridPath: "sp.shp", IDProperty: "cell"},
		}
		return cfg
	}

	t.Run("listed region brings its grid", func(t *testing.T) {
		cfg := withRegions()
		cfg.UseRegion("são paulo", "")
		assert.Equal(t, "São Paulo", cfg.Study.Region)
		assert.Equal(t, "sp.shp", cfg.Study.GridPath)
		assert.Equal(t, "cell", cfg.Study.IDProperty)
		assert.Equal(t, []RegionConfig{{Name: "São Paulo", GridPath: "sp.shp", IDProperty: "cell"}}, cfg.StudyRegions())
	})

	t.Run("grid path wins", func(t *testing.T) {
		cfg := withRegions()
		cfg.UseRegion("Curitiba", "other.geojson")
		assert.Equal(t, "other.geojson", cfg.Study.GridPath)
		assert.Empty(t, cfg.Study.Regions)
	})

	t.Run("unlisted region keeps study grid", func(t *testing.T) {
		cfg := withRegions()
		cfg.UseRegion("Campinas", "")
		assert.Equal(t, "Campinas", cfg.Study.Region)
		assert.Equal(t, "grid.geojson", cfg.Study.GridPath)
	})

	t.Run("empty name keeps study region", func(t *testing.T) {
		cfg := validDefaults()
		cfg.UseRegion("", "x.geojson")
		assert.Equal(t, "Curitiba", cfg.Study.Region)
		assert.Equal(t, "x.geojson", cfg.Study.GridPath)
	})
}
