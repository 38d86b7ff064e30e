package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "fs", cfg.ObjectStore.Backend)
	assert.Empty(t, cfg.Redis.Addr, "cache disabled by default")
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rulegov.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: prod
region: us
database:
  driver: postgres
  dsn: postgres://rulegov@db:5432/rulegov?sslmode=require
object_store:
  backend: s3
  bucket: rulegov-artifacts
  region: us-east-1
server:
  addr: ":9090"
  rate_rps: 200
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, float64(200), cfg.Server.RateRPS)

	oc := cfg.ObjstoreConfig()
	assert.Equal(t, "s3", string(oc.Backend))
	assert.Equal(t, "rulegov-artifacts", oc.Bucket)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rulegov.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: staging\n"), 0o600))

	t.Setenv("RULEGOV_ENVIRONMENT", "prod")
	t.Setenv("RULEGOV_JWT_SECRET", "from-env")
	t.Setenv("RULEGOV_RATE_BURST", "25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 25, cfg.Server.RateBurst)
}

func TestValidateRejectsBadBackends(t *testing.T) {
	t.Setenv("RULEGOV_OBJSTORE_BACKEND", "ftp")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("RULEGOV_OBJSTORE_BACKEND", "fs")
	t.Setenv("RULEGOV_DB_DRIVER", "oracle")
	_, err = Load("")
	require.Error(t, err)
}
