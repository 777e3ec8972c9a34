package perf

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

/*
Timing for one unit of work, usually an HTTP request. Code deeper in the call
stack finds it with ExtractPerf and wraps slow steps (SQL, S3, card codec) in
blocks, so the request log line shows where the time went.

A nil *RequestPerf is valid and ignores everything, so library code can time
itself without caring whether anyone is listening.
*/
type RequestPerf struct {
	Route  string
	Path   string
	Method string
	Start  time.Time
	End    time.Time

	mu     sync.Mutex
	blocks []PerfBlock
}

type PerfBlock struct {
	Start       time.Time
	End         time.Time
	Category    string
	Description string
}

func (pb PerfBlock) Duration() time.Duration {
	return pb.End.Sub(pb.Start)
}

func MakeNewRequestPerf(route, method, path string) *RequestPerf {
	return &RequestPerf{
		Start:  time.Now(),
		Route:  route,
		Path:   path,
		Method: method,
	}
}

type perfContextKey struct{}

func AttachPerf(ctx context.Context, perf *RequestPerf) context.Context {
	return context.WithValue(ctx, perfContextKey{}, perf)
}

// Returns nil when nothing is attached.
func ExtractPerf(ctx context.Context) *RequestPerf {
	perf, _ := ctx.Value(perfContextKey{}).(*RequestPerf)
	return perf
}

func (rp *RequestPerf) StartBlock(category, description string) {
	if rp == nil {
		return
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.blocks = append(rp.blocks, PerfBlock{
		Start:       time.Now(),
		Category:    category,
		Description: description,
	})
}

// Ends the innermost open block. Reports false if none was open.
func (rp *RequestPerf) EndBlock() bool {
	if rp == nil {
		return false
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.endBlock(time.Now())
}

func (rp *RequestPerf) endBlock(now time.Time) bool {
	for i := len(rp.blocks) - 1; i >= 0; i-- {
		if rp.blocks[i].End.IsZero() {
			rp.blocks[i].End = now
			return true
		}
	}
	return false
}

// Runs f inside a block.
func (rp *RequestPerf) Measure(category, description string, f func() error) error {
	rp.StartBlock(category, description)
	defer rp.EndBlock()
	return f()
}

// Closes any blocks left open and stops the clock.
func (rp *RequestPerf) EndRequest() {
	if rp == nil {
		return
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	now := time.Now()
	for rp.endBlock(now) {
	}
	rp.End = now
}

func (rp *RequestPerf) Duration() time.Duration {
	if rp == nil {
		return 0
	}
	return rp.End.Sub(rp.Start)
}

func (rp *RequestPerf) Slow(threshold time.Duration) bool {
	return threshold > 0 && rp.Duration() > threshold
}

// A copy of the blocks recorded so far.
func (rp *RequestPerf) Blocks() []PerfBlock {
	if rp == nil {
		return nil
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return append([]PerfBlock(nil), rp.blocks...)
}

// Time spent per category. Nested blocks count toward both categories.
func (rp *RequestPerf) CategoryTotals() map[string]time.Duration {
	totals := map[string]time.Duration{}
	for _, b := range rp.Blocks() {
		totals[b.Category] += b.Duration()
	}
	return totals
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// Lets a finished request be logged with .Object("perf", rp).
func (rp *RequestPerf) MarshalZerologObject(e *zerolog.Event) {
	e.Float64("total_ms", ms(rp.Duration()))

	totals := rp.CategoryTotals()
	categories := make([]string, 0, len(totals))
	for category := range totals {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	byCategory := zerolog.Dict()
	for _, category := range categories {
		byCategory.Float64(category, ms(totals[category]))
	}
	e.Dict("categories_ms", byCategory)

	blocks := zerolog.Arr()
	for _, b := range rp.Blocks() {
		blocks.Dict(zerolog.Dict().
			Str("category", b.Category).
			Str("description", b.Description).
			Float64("start_ms", ms(b.Start.Sub(rp.Start))).
			Float64("duration_ms", ms(b.Duration())),
		)
	}
	e.Array("blocks", blocks)
}
