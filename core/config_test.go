package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileMissing(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestLoadConfigFileEmpty(t *testing.T) {
	cfg, err := LoadConfigFile("")
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestLoadConfigFileParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	contents := "dac: abcdef\nwav: /tmp/show.wav\nsession_log: /tmp/log.csv\ndebug: true\nno_audio: true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", cfg.DacSelector)
	assert.Equal(t, "/tmp/show.wav", cfg.WavPath)
	assert.Equal(t, "/tmp/log.csv", cfg.SessionLog)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.NoAudio)
}

func TestParseFlagsOverridesBase(t *testing.T) {
	base := Config{DacSelector: "base-dac", WavPath: "base.wav"}
	cfg, err := ParseFlags([]string{"--dac", "abcdef", "--no-audio"}, base)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", cfg.DacSelector)
	assert.Equal(t, "base.wav", cfg.WavPath)
	assert.True(t, cfg.NoAudio)
	assert.False(t, cfg.ListOnly)
}

func TestParseFlagsListOnly(t *testing.T) {
	cfg, err := ParseFlags([]string{"--list"}, Config{})
	require.NoError(t, err)
	assert.True(t, cfg.ListOnly)
}

func TestParseFlagsConfigFileThenFlagOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	contents := "dac: fromfile\nwav: fromfile.wav\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := ParseFlags([]string{"--config", path, "--dac", "fromflag"}, Config{})
	require.NoError(t, err)
	assert.Equal(t, "fromflag", cfg.DacSelector)
	assert.Equal(t, "fromfile.wav", cfg.WavPath)
}
