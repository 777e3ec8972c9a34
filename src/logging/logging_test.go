package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/oops"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPrettyWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(NewPrettyZerologWriterTo(&buf))

	logger.Info().Str("card", "ada.png").Msg("decoded card")
	assert.Contains(t, buf.String(), "decoded card")
	assert.Contains(t, buf.String(), "card: \"ada.png\"")

	buf.Reset()
	logger.Error().Stack().Err(oops.New(errors.New("bad chunk"), "import failed")).Msg("request failed")
	assert.Contains(t, buf.String(), "import failed: bad chunk")
	assert.Contains(t, buf.String(), "Stack trace:")
	assert.Contains(t, buf.String(), "TestPrettyWriter")
}

func TestPrettyWriterPassesThroughNonJson(t *testing.T) {
	var buf bytes.Buffer
	w := NewPrettyZerologWriterTo(&buf)
	n, err := w.Write([]byte("plain text\n"))
	assert.Nil(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "plain text\n", buf.String())
}

func TestContextLogger(t *testing.T) {
	assert.Equal(t, GlobalLogger(), ExtractLogger(context.Background()))

	logger := zerolog.Nop()
	ctx := AttachLoggerToContext(&logger, context.Background())
	assert.Equal(t, &logger, ExtractLogger(ctx))
}

func TestOutputFor(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, &buf, outputFor(config.Live, &buf))
	assert.IsType(t, &PrettyZerologWriter{}, outputFor(config.Dev, &buf))
}

func TestPrettyWriterFieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(NewPrettyZerologWriterTo(&buf))
	logger.Info().Int("width", 400).Int("height", 600).Msg("normalized avatar")

	out := buf.String()
	assert.Less(t, strings.Index(out, "height:"), strings.Index(out, "width:"))
	assert.True(t, strings.HasPrefix(out, "---"))
}

func TestLogPanicValue(t *testing.T) {
	t.Run("plain value gets a stack", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)
		LogPanicValue(&logger, "card on fire", "panicked")
		assert.Contains(t, buf.String(), `"recovered":"card on fire"`)
		assert.Contains(t, buf.String(), `"stack":[`)
	})
	t.Run("oops error keeps its own stack", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)
		LogPanicValue(&logger, oops.New(nil, "bad card"), "panicked")
		assert.Contains(t, buf.String(), `"error":"bad card"`)
		assert.Equal(t, 1, strings.Count(buf.String(), `"stack":`))
	})
	t.Run("nil logger", func(t *testing.T) {
		assert.NotPanics(t, func() { LogPanicValue(nil, "x", "panicked") })
	})
}
