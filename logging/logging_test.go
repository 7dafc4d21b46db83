package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, New("debug", &bytes.Buffer{}).GetLevel())
	assert.Equal(t, zerolog.WarnLevel, New(" WARN ", &bytes.Buffer{}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("loud", &bytes.Buffer{}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("", &bytes.Buffer{}).GetLevel())
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New("info", &buf), "link")

	logger.Info().Msg("printer connected")
	logger.Debug().Msg("hidden")

	out := buf.String()
	assert.Contains(t, out, "printer connected")
	assert.Contains(t, out, "component=link")
	assert.NotContains(t, out, "hidden")
}
