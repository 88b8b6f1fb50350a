package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
catalog:
  uri: http://localhost:8181
s3:
  bucket: warehouse
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, "default", cfg.Ingest.DefaultNamespace)
	require.Equal(t, 30*time.Second, cfg.Ingest.RequestTimeout)
	require.Equal(t, 5, cfg.Ingest.CommitRetries)
	require.Equal(t, 50*time.Millisecond, cfg.Ingest.CommitBackoff)
	require.Equal(t, 2, cfg.Ingest.WriteRetries)
	require.Equal(t, "us-east-1", cfg.S3.Region)
}

func TestLoadConfigExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
catalog:
  uri: http://catalog:8181
  warehouse: s3://warehouse
s3:
  endpoint: http://minio:9000
  region: eu-west-1
  bucket: warehouse
  access_key: minio
  secret_key: minio123
  path_style: true
ingest:
  default_namespace: analytics
  request_timeout: 5s
  commit_retries: 8
  commit_backoff: 100ms
  write_retries: 3
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "http://catalog:8181", cfg.Catalog.URI)
	require.Equal(t, "s3://warehouse", cfg.Catalog.Warehouse)
	require.Equal(t, "http://minio:9000", cfg.S3.Endpoint)
	require.Equal(t, "eu-west-1", cfg.S3.Region)
	require.True(t, cfg.S3.PathStyle)
	require.Equal(t, "analytics", cfg.Ingest.DefaultNamespace)
	require.Equal(t, 5*time.Second, cfg.Ingest.RequestTimeout)
	require.Equal(t, 8, cfg.Ingest.CommitRetries)
	require.Equal(t, 100*time.Millisecond, cfg.Ingest.CommitBackoff)
	require.Equal(t, 3, cfg.Ingest.WriteRetries)
}

func TestLoadConfigMissingCatalogURI(t *testing.T) {
	path := writeConfig(t, `
s3:
  bucket: warehouse
`)
	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "catalog.uri")
}

func TestLoadConfigMissingBucket(t *testing.T) {
	path := writeConfig(t, `
catalog:
  uri: http://localhost:8181
`)
	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "s3.bucket")
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "catalog: [")
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
