package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRootConfig_ValidConfig(t *testing.T) {
	validConfig := `
active_config: studio

storage:
  root: ~/Audio/Memos

configs:
  default:
    audio:
      backend: auto
  studio:
    audio:
      backend: portaudio
      device: "USB Audio"
      sample_rate: 48000
    capture:
      confirm_save: false
`

	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	rootConfig, err := ReadRootConfig(configFile)
	require.NoError(t, err)
	require.NotNil(t, rootConfig)

	assert.Equal(t, "studio", rootConfig.ActiveConfig)
	require.NotNil(t, rootConfig.Storage)
	assert.Equal(t, "~/Audio/Memos", rootConfig.Storage.Root)

	studio := rootConfig.Configs["studio"]
	require.NotNil(t, studio)
	assert.Equal(t, "portaudio", studio.Audio.Backend)
	assert.Equal(t, "USB Audio", studio.Audio.Device)
	require.NotNil(t, studio.Capture.ConfirmSave)
	assert.False(t, *studio.Capture.ConfirmSave)
	assert.Nil(t, studio.Capture.RequireConsent)
}

func TestReadRootConfig_InvalidBackend(t *testing.T) {
	invalidConfig := `
configs:
  default:
    audio:
      backend: jack
`
	configFile := createTempConfig(t, invalidConfig)
	defer os.Remove(configFile)

	_, err := ReadRootConfig(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config 'default'")
}

func TestReadRootConfig_InvalidSampleRate(t *testing.T) {
	invalidConfig := `
configs:
  default:
    audio:
      sample_rate: -1
`
	configFile := createTempConfig(t, invalidConfig)
	defer os.Remove(configFile)

	_, err := ReadRootConfig(configFile)
	assert.Error(t, err)
}

func TestReadRootConfig_MalformedYAML(t *testing.T) {
	configFile := createTempConfig(t, "configs: [unterminated\n")
	defer os.Remove(configFile)

	_, err := ReadRootConfig(configFile)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "error reading config file"), "unexpected error: %v", err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"empty root", func(c *Config) { c.Storage.Root = "" }, true},
		{"unknown backend", func(c *Config) { c.Audio.Backend = "jack" }, true},
		{"negative channels", func(c *Config) { c.Audio.Channels = -2 }, true},
		{"label without transcriber", func(c *Config) { c.Label.LabelCommand = "labeler" }, true},
		{"label with transcriber", func(c *Config) {
			c.Label.LabelCommand = "labeler"
			c.Label.TranscribeCommand = "whisper"
		}, false},
		{"blank device", func(c *Config) { c.Audio.Device = "   " }, true},
		{"negative tick", func(c *Config) { c.Label.TickInterval = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// Helper function to create temporary config files
func createTempConfig(t *testing.T, content string) string {
	tmpfile, err := os.CreateTemp("", "memocapture-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}
