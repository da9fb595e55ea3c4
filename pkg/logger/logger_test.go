package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLevels(t *testing.T) {
	t.Cleanup(func() { Log = zap.NewNop().Sugar() })

	var buf bytes.Buffer
	initTo(&buf, false)

	Debugf("hidden %d", 1)
	Infof("📥 shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "INFO 📥 shown 2")

	require.NoError(t, SetLevel("warn"))
	Info("quiet")
	Warn("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "WARN loud")

	assert.Error(t, SetLevel("chatty"))
}
