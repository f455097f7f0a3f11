package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/imgdup/internal/config"
)

func TestNewAppliesDefaults(t *testing.T) {
	c := config.New()
	require.Equal(t, 64*1024, c.BufSize)
	require.Equal(t, 1024*1024, c.ShakeBufSize)
	require.Equal(t, 0, c.ShakeSecurity)
	require.Equal(t, "", c.BucketFile)
}

func TestNewAppliesOptionsOverDefaults(t *testing.T) {
	c := config.New(
		config.BucketFile("/var/lib/imgdup/pool.bin"),
		config.BufSize(128*1024),
		config.ShakeSecurity(2),
	)
	require.Equal(t, "/var/lib/imgdup/pool.bin", c.BucketFile)
	require.Equal(t, 128*1024, c.BufSize)
	require.Equal(t, 2, c.ShakeSecurity)
	// untouched options keep their defaults
	require.Equal(t, 1024*1024, c.ShakeBufSize)
}

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "imgdup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesNestedYAML(t *testing.T) {
	path := writeTemp(t, `
buckets:
  bucket_file: /data/pool.bin
  buf_size: 131072
  shake_buf_size: 2097152
  shake_security: 1
  slurp_buf_size: 131072
index:
  presort_buffer: 33554432
sorter:
  stream_buffer: 8388608
`)
	c, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/data/pool.bin", c.BucketFile)
	require.Equal(t, 131072, c.BufSize)
	require.Equal(t, 2097152, c.ShakeBufSize)
	require.Equal(t, 1, c.ShakeSecurity)
	require.Equal(t, 131072, c.SlurpBufSize)
	require.Equal(t, 33554432, c.PresortBuffer)
	require.Equal(t, 8388608, c.StreamBuffer)
}

func TestLoadRequiresBucketFile(t *testing.T) {
	path := writeTemp(t, `
buckets:
  buf_size: 131072
`)
	_, err := config.Load(path)
	require.ErrorIs(t, err, config.ErrMissingRequired)
}

func TestLoadRejectsUnknownOption(t *testing.T) {
	path := writeTemp(t, `
buckets:
  bucket_file: /data/pool.bin
  nonexistent_option: 1
`)
	_, err := config.Load(path)
	require.ErrorIs(t, err, config.ErrUnknownOption)
}

func TestLoadAppliesDefaultsForOmittedKeys(t *testing.T) {
	path := writeTemp(t, `
buckets:
  bucket_file: /data/pool.bin
`)
	c, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 64*1024, c.BufSize)
	require.Equal(t, 1024*1024, c.ShakeBufSize)
}
