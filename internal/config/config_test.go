package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlasprep/internal/blob"
	"atlasprep/internal/persistence"
)

func env(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "atlasprep.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{Getenv: env(nil)})
	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.Alignment.MinOverlap)
	assert.Equal(t, "donor", cfg.Cohort.Column)
	assert.Equal(t, "dataset", cfg.Cohort.DatasetAttribute)
	assert.Equal(t, persistence.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, blob.DriverFilesystem, cfg.Blob.Driver)
	assert.Equal(t, SourceDefault, cfg.Source("alignment.min_overlap").Source)
	assert.Empty(t, cfg.Path)
}

func TestLoadLayersFileEnvAndOverrides(t *testing.T) {
	path := writeConfig(t, `
reference:
  panel: hlca_core
alignment:
  min_overlap: 1200
storage:
  driver: postgres
  dsn: postgres://db/atlas
blob:
  driver: s3
  s3:
    bucket: atlas-artifacts
    path_style: true
`)
	cfg, err := Load(Options{
		Path: path,
		Getenv: env(map[string]string{
			"ATLASPREP_ALIGNMENT_MIN_OVERLAP": "1300",
			"ATLASPREP_BLOB_S3_PREFIX":        "runs",
		}),
		Overrides: map[string]string{"alignment.min_overlap": "1400"},
	})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "hlca_core", cfg.Reference.Panel)
	assert.Equal(t, 1400, cfg.Alignment.MinOverlap)
	assert.Equal(t, persistence.DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "atlas-artifacts", cfg.Blob.S3.Bucket)
	assert.True(t, cfg.Blob.S3.PathStyle)
	assert.Equal(t, "runs", cfg.Blob.S3.Prefix)

	assert.Equal(t, ResolvedValue{Value: "hlca_core", Source: SourceConfig, From: path}, cfg.Source("reference.panel"))
	assert.Equal(t, ResolvedValue{Value: "1400", Source: SourceCLI, From: "--alignment.min_overlap"}, cfg.Source("alignment.min_overlap"))
	assert.Equal(t, SourceEnv, cfg.Source("blob.s3.prefix").Source)
	assert.Equal(t, SourceDefault, cfg.Source("cohort.column").Source)
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "cohort:\n  column: patient\n")
	cfg, err := Load(Options{Getenv: env(map[string]string{EnvConfigPath: path})})
	require.NoError(t, err)
	assert.Equal(t, "patient", cfg.Cohort.Column)

	missing := filepath.Join(t.TempDir(), "absent.yaml")
	_, err = Load(Options{Getenv: env(map[string]string{EnvConfigPath: missing})})
	require.NoError(t, err, "an implicit config path may be absent")
	_, err = Load(Options{Path: missing, Getenv: env(nil)})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]Options{
		"unknown key":      {Overrides: map[string]string{"alignment.max": "1"}},
		"bad int":          {Overrides: map[string]string{"alignment.min_overlap": "many"}},
		"negative overlap": {Overrides: map[string]string{"alignment.min_overlap": "-1"}},
		"storage driver":   {Overrides: map[string]string{"storage.driver": "mysql"}},
		"blob driver":      {Overrides: map[string]string{"blob.driver": "gcs"}},
		"s3 bucket":        {Overrides: map[string]string{"blob.driver": "s3"}},
		"bad bool":         {Getenv: env(map[string]string{"ATLASPREP_BLOB_S3_PATH_STYLE": "perhaps"})},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			if opts.Getenv == nil {
				opts.Getenv = env(nil)
			}
			_, err := Load(opts)
			require.Error(t, err)
		})
	}

	bad := writeConfig(t, "alignment: [1, 2\n")
	_, err := Load(Options{Path: bad, Getenv: env(nil)})
	require.ErrorContains(t, err, "parse config")
}

func TestValidateNormalizesDrivers(t *testing.T) {
	cfg := Config{Storage: StorageConfig{Driver: "MEMORY"}, Blob: blob.Config{Driver: "Memory"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, persistence.DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, blob.DriverMemory, cfg.Blob.Driver)
	assert.Equal(t, 1500, cfg.Alignment.MinOverlap)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestKeysMapToEnvNames(t *testing.T) {
	keys := Keys()
	require.Contains(t, keys, "blob.s3.bucket")
	assert.Equal(t, blob.EnvS3Bucket, EnvName("blob.s3.bucket"))
	assert.Equal(t, blob.EnvFSRoot, EnvName("blob.fs_root"))
	assert.Equal(t, persistence.EnvDriver, EnvName("storage.driver"))
	assert.Equal(t, persistence.EnvDSN, EnvName("storage.dsn"))
}
