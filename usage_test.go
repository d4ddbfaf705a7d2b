package dieselrhi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/andewx/dieselrhi/hal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUsageDefaults(t *testing.T) {
	u, err := ParseUsage(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultUsage(), u)
	assert.Equal(t, hal.PresentMailbox, u.PreferredPresentMode())
}

func TestParseUsage(t *testing.T) {
	u, err := ParseUsage([]byte(`
name = "triangle"
validation = true
hdr = true
present_mode = "FIFO"
frames_in_flight = 3
memory_block_size = 1048576

[log]
level = "debug"
format = "json"
`))
	require.NoError(t, err)
	assert.Equal(t, "triangle", u.Name)
	assert.True(t, u.Validation)
	assert.True(t, u.HDR)
	assert.Equal(t, hal.PresentFifo, u.PreferredPresentMode())
	assert.Equal(t, 3, u.FramesInFlight)
	assert.Equal(t, uint64(1<<20), u.MemoryBlockSize)
	assert.Equal(t, uint32(DefaultDescriptorPoolSets), u.DescriptorPoolSets)
	assert.Equal(t, "debug", u.Log.Level)
}

func TestParseUsageInvalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"syntax", `name = `},
		{"present mode", `present_mode = "vsync"`},
		{"frames", `frames_in_flight = 9`},
		{"block size", `memory_block_size = 4096`},
		{"log format", "[log]\nformat = \"xml\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUsage([]byte(tt.toml))
			assert.Error(t, err)
		})
	}
}

func TestLoadUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.toml")
	require.NoError(t, os.WriteFile(path, []byte(`name = "file"`), 0o644))
	u, err := LoadUsage(path)
	require.NoError(t, err)
	assert.Equal(t, "file", u.Name)

	_, err = LoadUsage(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rhi.log")
	l, closer, err := NewLogger(LogConfig{Level: "warn", File: path, Format: "json"})
	require.NoError(t, err)
	l.Info("dropped")
	l.Warn("kept", "frame", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"msg":"kept"`)

	_, _, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
