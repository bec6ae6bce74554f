package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "debug", Format: "json", Output: &buf})

	l.WithField("record_id", "abc").Debug("verifying")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "verifying", entry["msg"])
	assert.Equal(t, "abc", entry["record_id"])
	assert.Contains(t, entry, "time")
}

func TestNew_LevelFallback(t *testing.T) {
	t.Setenv("MARKFACE_LOG_LEVEL", "")
	l := New(Options{Level: "nonsense", Output: &bytes.Buffer{}})
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())

	t.Setenv("MARKFACE_LOG_LEVEL", "warn")
	l = New(Options{Output: &bytes.Buffer{}})
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))

	l := New(Options{Output: &bytes.Buffer{}})
	assert.Same(t, l, OrDiscard(l))
}
