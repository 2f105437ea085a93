package engine

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	TranscriptRequests  atomic.Int64
	TranscriptHits      atomic.Int64
	MirrorPolls         atomic.Int64
	MirrorFailures      atomic.Int64
	MirrorRejected      atomic.Int64
	AudioDownloads      atomic.Int64
	ExtractorRuns       atomic.Int64
	ExtractorFailures   atomic.Int64
	TranscriptionsFast  atomic.Int64
	TranscriptionsLarge atomic.Int64
	GenerationAttempts  atomic.Int64
	GenerationFailures  atomic.Int64
	GenerationRateLimit atomic.Int64
	TasksStarted        atomic.Int64
	TasksCompleted      atomic.Int64
	TasksFailed         atomic.Int64
	TasksRejected       atomic.Int64
}

var metricKeys = []string{
	"transcript_requests", "transcript_hits",
	"mirror_polls", "mirror_failures", "mirror_rejected",
	"audio_downloads", "extractor_runs", "extractor_failures",
	"transcriptions_fast", "transcriptions_large",
	"generation_attempts", "generation_failures", "generation_rate_limited",
	"tasks_started", "tasks_completed", "tasks_failed", "tasks_rejected",
}

// GetMetrics returns a snapshot of all metrics.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"transcript_requests":     metrics.TranscriptRequests.Load(),
		"transcript_hits":         metrics.TranscriptHits.Load(),
		"mirror_polls":            metrics.MirrorPolls.Load(),
		"mirror_failures":         metrics.MirrorFailures.Load(),
		"mirror_rejected":         metrics.MirrorRejected.Load(),
		"audio_downloads":         metrics.AudioDownloads.Load(),
		"extractor_runs":          metrics.ExtractorRuns.Load(),
		"extractor_failures":      metrics.ExtractorFailures.Load(),
		"transcriptions_fast":     metrics.TranscriptionsFast.Load(),
		"transcriptions_large":    metrics.TranscriptionsLarge.Load(),
		"generation_attempts":     metrics.GenerationAttempts.Load(),
		"generation_failures":     metrics.GenerationFailures.Load(),
		"generation_rate_limited": metrics.GenerationRateLimit.Load(),
		"tasks_started":           metrics.TasksStarted.Load(),
		"tasks_completed":         metrics.TasksCompleted.Load(),
		"tasks_failed":            metrics.TasksFailed.Load(),
		"tasks_rejected":          metrics.TasksRejected.Load(),
	}
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for sub-packages.
func IncrTranscriptRequests()  { metrics.TranscriptRequests.Add(1) }
func IncrTranscriptHits()      { metrics.TranscriptHits.Add(1) }
func IncrMirrorPolls()         { metrics.MirrorPolls.Add(1) }
func IncrMirrorFailures()      { metrics.MirrorFailures.Add(1) }
func IncrMirrorRejected()      { metrics.MirrorRejected.Add(1) }
func IncrAudioDownloads()      { metrics.AudioDownloads.Add(1) }
func IncrExtractorRuns()       { metrics.ExtractorRuns.Add(1) }
func IncrExtractorFailures()   { metrics.ExtractorFailures.Add(1) }
func IncrTranscriptionsFast()  { metrics.TranscriptionsFast.Add(1) }
func IncrTranscriptionsLarge() { metrics.TranscriptionsLarge.Add(1) }
func IncrGenerationAttempts()  { metrics.GenerationAttempts.Add(1) }
func IncrGenerationFailures()  { metrics.GenerationFailures.Add(1) }
func IncrGenerationRateLimit() { metrics.GenerationRateLimit.Add(1) }
func IncrTasksStarted()        { metrics.TasksStarted.Add(1) }
func IncrTasksCompleted()      { metrics.TasksCompleted.Add(1) }
func IncrTasksFailed()         { metrics.TasksFailed.Add(1) }
func IncrTasksRejected()       { metrics.TasksRejected.Add(1) }
