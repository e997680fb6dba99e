package api

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/char5742/smooth-mouse/internal/config"
)

func TestRunFailsWithoutUinput(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Device.UinputPath = filepath.Join(t.TempDir(), "uinput")
	svc := NewSmootherService(cfg, nil)

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "仮想ポインター")
	assert.False(t, svc.IsRunning())
	assert.Equal(t, "stopped", svc.Status().State)
}

func TestStopWhenNotRunning(t *testing.T) {
	svc := NewSmootherService(config.DefaultConfig(), nil)
	assert.Error(t, svc.Stop())
}
