package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourname/battle-server/internal/config"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "battle.log")
	log, err := New(config.LoggingConfig{Level: "debug", File: path})
	require.NoError(t, err)

	log.Named("room").Infow("room created", "room", "r1")
	log.Debugw("debug line")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"room created"`)
	assert.Contains(t, string(data), `"room":"r1"`)
	assert.Contains(t, string(data), "debug line")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
