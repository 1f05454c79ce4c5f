package sandboxdriver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigUsesEnvOverrides(t *testing.T) {
	t.Setenv("CONTAINER_IMAGE", "custom:tag")
	cfg := DefaultConfig()
	assert.Equal(t, "custom:tag", cfg.Image)
	assert.Equal(t, "bridge", cfg.NetworkMode)
	assert.Equal(t, 5, cfg.RetryCeiling)
}

func TestIsTransientRejectsPlainErrors(t *testing.T) {
	assert.False(t, isTransient(errors.New("container not found")))
	assert.False(t, isTransient(nil))
}

func TestStreamResizeUnsupportedWithoutTTY(t *testing.T) {
	s := &Stream{done: make(chan struct{})}
	err := s.Resize(24, 80)
	assert.Error(t, err)
}

func TestWithRetryStopsOnNonTransientError(t *testing.T) {
	d := &Driver{cfg: Config{RetryCeiling: 3}}
	calls := 0
	err := d.withRetry(context.Background(), "test", func() error {
		calls++
		return errors.New("permanent failure")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "non-transient errors must not be retried")
}
