package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("verbose"))
}

func TestWithFields_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	orig := Logger.Out
	Logger.SetOutput(&buf)
	defer Logger.SetOutput(orig)

	WithFields(logrus.Fields{"flow_id": "abc", "state": "crop"}).Info("transition")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry["flow_id"])
	assert.Equal(t, "crop", entry["state"])
	assert.Equal(t, "transition", entry["msg"])
}
