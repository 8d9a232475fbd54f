// Package metrics computes latency and throughput figures for a streaming answer.
// Everything here is pure: callers pass the clock readings in.
package metrics

import (
	"math"
	"time"
	"unicode/utf8"

	"arena-ai/backend/internal/model"
)

// CharsPerToken is the fixed heuristic used to estimate token counts from text length.
const CharsPerToken = 4

// Snapshot is the unrounded view of a response's metrics at one instant.
type Snapshot struct {
	LatencyMs           int64
	TokenEstimate       float64
	ResponseLength      int
	FirstTokenLatencyMs *int64
	TokensPerSecond     float64
}

// Compute derives the metrics of text accumulated between start and now.
// Length is counted in characters, not bytes.
// firstToken is nil until the first content chunk has arrived.
func Compute(start, now time.Time, text string, firstToken *time.Time) Snapshot {
	elapsed := now.Sub(start)
	length := utf8.RuneCountInString(text)
	s := Snapshot{
		LatencyMs:      elapsed.Milliseconds(),
		ResponseLength: length,
		TokenEstimate:  float64(length) / CharsPerToken,
	}
	if firstToken != nil {
		ft := firstToken.Sub(start).Milliseconds()
		s.FirstTokenLatencyMs = &ft
		s.TokensPerSecond = TokensPerSecond(s.TokenEstimate, elapsed)
	}
	return s
}

// TokensPerSecond divides tokens by elapsed seconds, returning 0 for any degenerate input.
func TokensPerSecond(tokens float64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	tps := tokens / secs
	if math.IsNaN(tps) || math.IsInf(tps, 0) || tps < 0 {
		return 0
	}
	return tps
}

// Report converts the snapshot into the wire shape, flooring the token estimate.
// Throughput stays nil until a first token has been seen.
func (s Snapshot) Report() model.ResponseMetrics {
	latency := s.LatencyMs
	tokens := int(math.Floor(s.TokenEstimate))
	m := model.ResponseMetrics{
		LatencyMs:          &latency,
		TokenCountEstimate: &tokens,
		ResponseLength:     s.ResponseLength,
	}
	if s.FirstTokenLatencyMs != nil {
		ft := *s.FirstTokenLatencyMs
		tps := s.TokensPerSecond
		m.FirstTokenLatencyMs = &ft
		m.TokensPerSecond = &tps
	}
	return m
}

// Progress estimates completion percentage from the text length so far.
// It never goes backwards and never reaches 100; only success pins it there.
func Progress(prev, length, expected int) int {
	if expected <= 0 {
		expected = 1
	}
	p := length * 100 / expected
	if p > 99 {
		p = 99
	}
	if p < prev {
		return prev
	}
	return p
}
