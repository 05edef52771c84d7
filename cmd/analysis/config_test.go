package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcalabro/sparsebloom"
	"github.com/jcalabro/sparsebloom/snapshot"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, sparsebloom.KeyBytes2, cfg.size)
	assert.Equal(t, sparsebloom.HashXXH3, cfg.hash)
	assert.Equal(t, snapshot.ZSTD, cfg.compression)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
size: KeyBytes3
hash: murmur3
compression: lz4
workers: 4
log_format: json
`)

	cfg, err := loadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, sparsebloom.KeyBytes3, cfg.size)
	assert.Equal(t, sparsebloom.HashMurmur3, cfg.hash)
	assert.Equal(t, snapshot.LZ4, cfg.compression)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, snapshot.Options{Compression: snapshot.LZ4, Hash: sparsebloom.HashMurmur3}, cfg.snapshotOptions())
}

func TestLoadConfigEnvAndFlags(t *testing.T) {
	path := writeConfig(t, "size: 3\nhash: xxhash64\n")
	t.Setenv("SPARSEBLOOM_SIZE", "4")
	t.Setenv("SPARSEBLOOM_LOG_FORMAT", "json")

	cfg, err := loadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, sparsebloom.KeyBytes4, cfg.size, "env overrides the file")
	assert.Equal(t, sparsebloom.HashXXHash64, cfg.hash)
	assert.Equal(t, "json", cfg.LogFormat)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("size", defaultSize, "")
	flags.String("hash", defaultHash, "")
	require.NoError(t, flags.Parse([]string{"--size", "1"}))

	cfg, err = loadConfig(path, flags)
	require.NoError(t, err)
	assert.Equal(t, sparsebloom.KeyBytes1, cfg.size, "flags override env")
	assert.Equal(t, sparsebloom.HashXXHash64, cfg.hash, "unset flags do not override the file")
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want error
	}{
		{"size", "size: 9", sparsebloom.ErrInvalidSize},
		{"hash", "hash: sha1", sparsebloom.ErrUnknownHash},
		{"compression", "compression: gzip", snapshot.ErrUnknownCompression},
		{"workers", "workers: 0", nil},
		{"log format", "log_format: xml", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadConfig(writeConfig(t, tt.body), nil)
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
			}
		})
	}
}
