package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, Validate(&cfg))
}

func TestLoadWithNoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, TransportShmem, cfg.Transport)
	assert.Equal(t, 16, cfg.WCCount)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ni.yaml")
	contents := "rank: 3\ntransport: rdma\nwc_count: 32\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Rank)
	assert.Equal(t, TransportRDMAVerbs, cfg.Transport)
	assert.Equal(t, 32, cfg.WCCount)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched field keeps its default
	assert.Equal(t, 64, cfg.SRQRepostSize)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadTransport(t *testing.T) {
	cfg := Default()
	cfg.Transport = "carrier-pigeon"
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsNonPositiveWCCount(t *testing.T) {
	cfg := Default()
	cfg.WCCount = 0
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsNegativeMaxInline(t *testing.T) {
	cfg := Default()
	cfg.MaxInline = -1
	assert.Error(t, Validate(&cfg))
}
