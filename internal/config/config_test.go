package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/courier/internal/tracing"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultWorkspace, cfg.Workspace)
	require.Equal(t, filepath.Join(cfg.DataDir, DBFileName), cfg.DBPath())
	require.NotEmpty(t, cfg.Tracing.FilePath)
}

func TestValidate_EmptyWorkspace(t *testing.T) {
	cfg := Defaults()
	cfg.Workspace = ""
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "workspace")
}

func TestValidate_DataDirOptionalWhenEphemeral(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = ""
	require.Error(t, Validate(cfg))

	cfg.Ephemeral = true
	require.NoError(t, Validate(cfg))
}

func TestValidate_NegativeDurations(t *testing.T) {
	cfg := Defaults()
	cfg.Autosave.Debounce = -time.Second
	cfg.Cache.TTL = -time.Second

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "autosave.debounce")
	require.Contains(t, err.Error(), "cache.ttl")
}

func TestValidate_NegativeLogSize(t *testing.T) {
	cfg := Defaults()
	cfg.Execution.GlobalLogSize = -1
	require.ErrorContains(t, Validate(cfg), "global_log_size")
}

func TestValidateTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     tracing.Config
		wantErr string
	}{
		{name: "defaults", cfg: tracing.DefaultConfig()},
		{name: "sample rate too high", cfg: tracing.Config{SampleRate: 1.5}, wantErr: "sample_rate"},
		{name: "sample rate negative", cfg: tracing.Config{SampleRate: -0.1}, wantErr: "sample_rate"},
		{name: "unknown exporter", cfg: tracing.Config{Exporter: "zipkin", SampleRate: 1}, wantErr: "exporter"},
		{name: "file without path", cfg: tracing.Config{Enabled: true, Exporter: "file", SampleRate: 1}, wantErr: "file_path"},
		{name: "otlp without endpoint", cfg: tracing.Config{Enabled: true, Exporter: "otlp", SampleRate: 1}, wantErr: "otlp_endpoint"},
		{name: "disabled file without path", cfg: tracing.Config{Exporter: "file", SampleRate: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTracing(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "# Courier Configuration"))
}

func TestDefaultConfigTemplate_LoadsWithViper(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(DefaultConfigTemplate())))

	cfg := Defaults()
	require.NoError(t, v.Unmarshal(&cfg))

	require.Equal(t, "default", cfg.Workspace)
	require.Equal(t, 500*time.Millisecond, cfg.Autosave.Debounce)
	require.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	require.Equal(t, time.Second, cfg.Watcher.Debounce)
	require.True(t, cfg.Watcher.Enabled)
	require.Equal(t, 500, cfg.Execution.GlobalLogSize)
	require.Equal(t, "file", cfg.Tracing.Exporter)
	require.InDelta(t, 1.0, cfg.Tracing.SampleRate, 0.0001)
	require.NoError(t, Validate(cfg))
}
