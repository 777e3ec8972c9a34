package cmd

import (
	"fmt"
	"strings"
	"testing"

	"github.com/opencompanion/companion/src/ansicolor"
	"github.com/opencompanion/companion/src/charcard"
	"github.com/stretchr/testify/assert"
)

func TestDescribeChunk(t *testing.T) {
	ansicolor.Disable()

	good := charcard.NewChunk(charcard.TypeText, charcard.TextChunkData(charcard.Keyword, "e30="))
	line := describeChunk(good)
	assert.True(t, strings.HasPrefix(line, "tEXt "))
	assert.Contains(t, line, " 10 bytes")
	assert.Contains(t, line, fmt.Sprintf("crc %08x ok", good.CRC))
	assert.Contains(t, line, `keyword="chara", 4 bytes of text`)

	bad := charcard.NewChunk(charcard.TypeIEND, nil)
	bad.CRC++
	assert.Contains(t, describeChunk(bad), "BAD")
	assert.NotContains(t, describeChunk(bad), "keyword")
}
