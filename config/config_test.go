// ffedit/config/config_test.go
package config_test

import (
	"testing"
	"time"

	"ffedit/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		t.Setenv("FFEDIT_PORT", "")
		t.Setenv("FFEDIT_MAX_CONCURRENCY", "")
		t.Setenv("FFEDIT_AUTH_ENABLE", "")
		t.Setenv("FFEDIT_FF_TIMEOUT", "")
		t.Setenv("FFEDIT_THROTTLE_FREEDISK", "")

		cfg, err := config.Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "9080", cfg.Port)
		assert.Equal(t, 2, cfg.MaxConcurrency)
		assert.Equal(t, 100, cfg.QueueSize)
		assert.False(t, cfg.AuthEnable)
		assert.Equal(t, "ffmpeg", cfg.FFBin)
		assert.Equal(t, "ffprobe", cfg.FFProbeBin)
		assert.Equal(t, time.Hour, cfg.FFTimeout)
		assert.Equal(t, 83*time.Minute, cfg.TaskRetention)
		assert.Equal(t, int64(200*1024*1024), cfg.ThrottleFreeDisk)
		assert.Equal(t, int64(0), cfg.ThrottleFreeMem)
		assert.Equal(t, int64(64*1024), cfg.LogTailSize)
		assert.Equal(t, "~/Movies/ffedit", cfg.DefaultDestination)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("FFEDIT_PORT", "9999")
		t.Setenv("FFEDIT_MAX_CONCURRENCY", "4")
		t.Setenv("FFEDIT_AUTH_ENABLE", "true")
		t.Setenv("FFEDIT_AUTH_KEY", "newsecret")
		t.Setenv("FFEDIT_FF_BIN", "/usr/local/bin/ffmpeg")
		t.Setenv("FFEDIT_FF_TIMEOUT", "90s")
		t.Setenv("FFEDIT_THROTTLE_FREEDISK", "1GB")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 4, cfg.MaxConcurrency)
		assert.True(t, cfg.AuthEnable)
		assert.Equal(t, "newsecret", cfg.AuthKey)
		assert.Equal(t, "/usr/local/bin/ffmpeg", cfg.FFBin)
		assert.Equal(t, 90*time.Second, cfg.FFTimeout)
		assert.Equal(t, int64(1024*1024*1024), cfg.ThrottleFreeDisk)
	})
}
