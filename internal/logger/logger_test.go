package logger

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrettyFormatter(t *testing.T) {
	log := logrus.New()
	entry := logrus.NewEntry(log).WithFields(logrus.Fields{"peer": 3, "addr": "127.0.0.1:1"})
	entry.Time = time.Date(2024, 1, 1, 12, 30, 45, 0, time.UTC)
	entry.Level = logrus.WarnLevel
	entry.Message = "confirmation timed out"

	out, err := (&PrettyFormatter{NoColor: true}).Format(entry)
	require.NoError(t, err)

	assert.Equal(t, "12:30:45 WARN  confirmation timed out addr=127.0.0.1:1 peer=3\n", string(out))
}

func TestPrettyFormatterColor(t *testing.T) {
	entry := logrus.NewEntry(logrus.New())
	entry.Level = logrus.ErrorLevel
	entry.Message = "boom"

	out, err := (&PrettyFormatter{}).Format(entry)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(out), colorRed+"ERROR"+colorReset))
}

func TestNewLevel(t *testing.T) {
	log, err := New("debug")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	_, err = New("loud")
	assert.Error(t, err)
}
