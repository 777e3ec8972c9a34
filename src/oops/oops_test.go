package oops

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoChunk = errors.New("no chara chunk")

type chunkError struct {
	Type string
}

func (e chunkError) Error() string {
	return "bad chunk " + e.Type
}

func TestNew(t *testing.T) {
	t.Run("errors.Is", func(t *testing.T) {
		assert.ErrorIs(t, New(errNoChunk, "decoding card"), errNoChunk)
	})
	t.Run("errors.As", func(t *testing.T) {
		var ce chunkError
		require.True(t, errors.As(New(chunkError{Type: "tEXt"}, "decoding card"), &ce))
		assert.Equal(t, "tEXt", ce.Type)
	})
	t.Run("message", func(t *testing.T) {
		assert.Equal(t, "failed to save card: no chara chunk", New(errNoChunk, "failed to save %s", "card").Error())
		assert.Equal(t, "nothing wrapped", New(nil, "nothing wrapped").Error())
	})
}

func TestTraceStartsAtCaller(t *testing.T) {
	err := New(nil, "here").(*Error)
	require.NotEmpty(t, err.Stack)
	assert.True(t, strings.HasSuffix(err.Stack[0].Function, "TestTraceStartsAtCaller"), err.Stack[0].String())

	st := Trace()
	require.NotEmpty(t, st)
	assert.True(t, strings.HasSuffix(st[0].Function, "TestTraceStartsAtCaller"), st[0].String())
}

func innermost() error {
	return New(errNoChunk, "inner")
}

func TestZerologStackMarshaler(t *testing.T) {
	assert.Nil(t, ZerologStackMarshaler(errNoChunk))

	wrapped := fmt.Errorf("handler: %w", New(innermost(), "outer"))
	st, ok := ZerologStackMarshaler(wrapped).(CallStack)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(st[0].Function, "innermost"), st[0].String())
}

func TestStackIsLogged(t *testing.T) {
	zerolog.ErrorStackMarshaler = ZerologStackMarshaler

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Error().Stack().Err(New(errNoChunk, "with stack")).Msg("boom")

	assert.Contains(t, buf.String(), `"stack":[`)
	assert.Contains(t, buf.String(), "TestStackIsLogged")
}
