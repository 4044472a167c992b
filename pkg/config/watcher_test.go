package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ato.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution:\n  max_polls: 10\n"), 0o600))

	initial, err := Load(path)
	require.NoError(t, err)

	w := NewWatcher(path, initial, zerolog.Nop())
	w.delay = 20 * time.Millisecond

	got := make(chan *Config, 4)
	w.Subscribe(func(c *Config) { got <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("execution:\n  max_polls: 42\n"), 0o600))

	select {
	case cfg := <-got:
		assert.Equal(t, 42, cfg.Execution.MaxPolls)
		assert.Equal(t, 42, w.Current().Execution.MaxPolls)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}

func TestWatcherKeepsPreviousOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ato.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution:\n  max_polls: 10\n"), 0o600))

	initial, err := Load(path)
	require.NoError(t, err)

	w := NewWatcher(path, initial, zerolog.Nop())
	called := false
	w.Subscribe(func(*Config) { called = true })

	require.NoError(t, os.WriteFile(path, []byte("execution:\n  max_polls: 0\n"), 0o600))
	w.reload()

	assert.False(t, called)
	assert.Same(t, initial, w.Current())
}

func TestWatcherNotifiesEverySubscriber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ato.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution:\n  max_polls: 10\n"), 0o600))

	initial, err := Load(path)
	require.NoError(t, err)

	w := NewWatcher(path, initial, zerolog.Nop())
	var seen []int
	w.Subscribe(func(c *Config) { seen = append(seen, c.Execution.MaxPolls) })
	w.Subscribe(func(c *Config) { seen = append(seen, -c.Execution.MaxPolls) })

	require.NoError(t, os.WriteFile(path, []byte("execution:\n  max_polls: 7\n"), 0o600))
	w.reload()

	assert.Equal(t, []int{7, -7}, seen)
}

func TestWatcherStopDropsPendingReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ato.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution:\n  max_polls: 10\n"), 0o600))

	initial, err := Load(path)
	require.NoError(t, err)

	w := NewWatcher(path, initial, zerolog.Nop())
	w.delay = 50 * time.Millisecond

	var mu sync.Mutex
	called := false
	w.Subscribe(func(*Config) {
		mu.Lock()
		called = true
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("execution:\n  max_polls: 42\n"), 0o600))
	w.scheduleReload()
	require.NoError(t, w.Stop())

	time.Sleep(4 * w.delay)
	w.reload()

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, called)
	assert.Same(t, initial, w.Current())
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "ato.yaml"), DefaultConfig(), zerolog.Nop())
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
