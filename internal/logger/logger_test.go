package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	os.Setenv("APP_ENV", "dev")
	defer os.Unsetenv("APP_ENV")
	l := NewZerologLogger("test")
	require.NotNil(t, l)
	l.Debugf("debug %d", 1)
	l.Infof("info %s", "test")
	l.Infow("fields", map[string]any{"k": "v"})
	l.Warnf("warn")
	l.Errorf("error")
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "claims")
	l.Infow("claimed", map[string]any{"booking_id": "b1"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "claims", line["component"])
	assert.Equal(t, "b1", line["booking_id"])
	assert.Equal(t, "claimed", line["message"])
}
