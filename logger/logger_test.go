package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopLoggerBeforeInitialize(t *testing.T) {
	// Package init installs a no-op logger; calls must not panic.
	assert.NotPanics(t, func() {
		Infow("message before initialize", "key", "value")
		Errorw("error before initialize")
	})
}

func TestInitializeConsole(t *testing.T) {
	err := Initialize(false, false)
	require.NoError(t, err)
	assert.False(t, JSONOutput)
	assert.NotNil(t, Logger)
}

func TestInitializeJSON(t *testing.T) {
	err := Initialize(true, false)
	require.NoError(t, err)
	assert.True(t, JSONOutput)
	assert.NotNil(t, Logger)
}

func TestInitializeDebugLevel(t *testing.T) {
	err := Initialize(false, true)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		Debugw("debug entry", "row", 1)
	})
}
