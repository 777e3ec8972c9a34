package perf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilPerfIsNoop(t *testing.T) {
	p := ExtractPerf(context.Background())
	assert.Nil(t, p)

	p.StartBlock("SQL", "nothing")
	assert.False(t, p.EndBlock())
	assert.Nil(t, p.Measure("S3", "upload", func() error { return nil }))
	p.EndRequest()
	assert.Zero(t, p.Duration())
	assert.False(t, p.Slow(time.Nanosecond))
	assert.Empty(t, p.Blocks())
}

func TestBlocks(t *testing.T) {
	p := MakeNewRequestPerf("Inspect", "POST", "/api/cards/inspect")
	ctx := AttachPerf(context.Background(), p)
	assert.Same(t, p, ExtractPerf(ctx))

	p.StartBlock("CARD", "Decode")
	p.StartBlock("JSON", "Parse")
	assert.True(t, p.EndBlock())

	blocks := p.Blocks()
	require.Len(t, blocks, 2)
	assert.False(t, blocks[1].End.IsZero())
	assert.True(t, blocks[0].End.IsZero())

	p.EndRequest()
	assert.False(t, p.Blocks()[0].End.IsZero())
	assert.False(t, p.End.Before(p.Start))
	assert.False(t, p.EndBlock())
}

func TestMeasure(t *testing.T) {
	p := MakeNewRequestPerf("Import", "POST", "/api/characters/import")
	boom := errors.New("s3 down")

	err := p.Measure("S3", "Upload card", func() error { return boom })
	assert.Equal(t, boom, err)

	blocks := p.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "S3", blocks[0].Category)
	assert.False(t, blocks[0].End.IsZero())
}

func TestConcurrentBlocks(t *testing.T) {
	p := MakeNewRequestPerf("Backfill", "", "")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Measure("CARD", "Encode", func() error { return nil })
		}()
	}
	wg.Wait()
	p.EndRequest()
	assert.Len(t, p.Blocks(), 8)
}

func TestSlow(t *testing.T) {
	p := &RequestPerf{Start: time.Unix(0, 0), End: time.Unix(3, 0)}
	assert.True(t, p.Slow(2*time.Second))
	assert.False(t, p.Slow(5*time.Second))
	assert.False(t, p.Slow(0))
}

func TestMarshalZerolog(t *testing.T) {
	start := time.Unix(100, 0)
	p := &RequestPerf{Start: start, End: start.Add(10 * time.Millisecond)}
	p.blocks = []PerfBlock{
		{Start: start, End: start.Add(4 * time.Millisecond), Category: "SQL", Description: "Insert character"},
		{Start: start.Add(4 * time.Millisecond), End: start.Add(6 * time.Millisecond), Category: "SQL", Description: "Count"},
		{Start: start.Add(6 * time.Millisecond), End: start.Add(9 * time.Millisecond), Category: "CARD", Description: "Decode"},
	}

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Object("perf", p).Msg("done")

	var entry struct {
		Perf struct {
			TotalMs    float64            `json:"total_ms"`
			Categories map[string]float64 `json:"categories_ms"`
			Blocks     []struct {
				Category   string  `json:"category"`
				StartMs    float64 `json:"start_ms"`
				DurationMs float64 `json:"duration_ms"`
			} `json:"blocks"`
		} `json:"perf"`
	}
	require.Nil(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, 10.0, entry.Perf.TotalMs)
	assert.Equal(t, map[string]float64{"SQL": 6, "CARD": 3}, entry.Perf.Categories)
	require.Len(t, entry.Perf.Blocks, 3)
	assert.Equal(t, 6.0, entry.Perf.Blocks[2].StartMs)
	assert.Equal(t, 3.0, entry.Perf.Blocks[2].DurationMs)
}
