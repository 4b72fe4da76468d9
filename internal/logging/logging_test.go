package logging

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"
)

func TestLevelFromVerbosity(t *testing.T) {
	require.Equal(t, LevelWarn, LevelFromVerbosity(0))
	require.Equal(t, LevelInfo, LevelFromVerbosity(1))
	require.Equal(t, LevelDebug, LevelFromVerbosity(2))
	require.Equal(t, LevelDebug, LevelFromVerbosity(5))
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	level.Debug(logger).Log("msg", "hidden")
	level.Info(logger).Log("msg", "shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "msg=shown")
	require.Contains(t, out, "level=info")
}
