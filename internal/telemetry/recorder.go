package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Recorder tracks session-level counters shared by every stream.
type Recorder struct {
	log zerolog.Logger

	modelLoads    atomic.Uint64
	totalStreams  atomic.Uint64
	activeStreams atomic.Int64
	totalFeeds    atomic.Uint64
	totalSamples  atomic.Uint64
	totalDecodes  atomic.Uint64
	totalFinishes atomic.Uint64
	totalClears   atomic.Uint64
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	ModelLoads    uint64 `json:"model_loads"`
	TotalStreams  uint64 `json:"total_streams"`
	ActiveStreams int64  `json:"active_streams"`
	TotalFeeds    uint64 `json:"total_feeds"`
	TotalSamples  uint64 `json:"total_samples"`
	TotalDecodes  uint64 `json:"total_decodes"`
	TotalFinishes uint64 `json:"total_finishes"`
	TotalClears   uint64 `json:"total_clears"`
}

// NewRecorder constructs a Recorder using the provided logger.
func NewRecorder(logger zerolog.Logger) *Recorder {
	return &Recorder{
		log: logger.With().Str("component", "telemetry").Logger(),
	}
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		ModelLoads:    r.modelLoads.Load(),
		TotalStreams:  r.totalStreams.Load(),
		ActiveStreams: r.activeStreams.Load(),
		TotalFeeds:    r.totalFeeds.Load(),
		TotalSamples:  r.totalSamples.Load(),
		TotalDecodes:  r.totalDecodes.Load(),
		TotalFinishes: r.totalFinishes.Load(),
		TotalClears:   r.totalClears.Load(),
	}
}

// RecordModelLoad counts a successful model load.
func (r *Recorder) RecordModelLoad(path string, took time.Duration) {
	if r == nil {
		return
	}
	r.modelLoads.Add(1)
	r.log.Debug().Str("model", path).Dur("took", took).Msg("model loaded")
}

// RecordDecode counts a one-shot decode over n samples.
func (r *Recorder) RecordDecode(n int) {
	if r == nil {
		return
	}
	r.totalDecodes.Add(1)
	r.totalSamples.Add(uint64(n))
}

// StreamMetrics accumulates statistics for one stream object across recycles.
type StreamMetrics struct {
	recorder *Recorder
	log      zerolog.Logger

	started    time.Time
	feeds      int
	samples    int
	decodes    int
	utterances int
	clears     int
	closed     atomic.Bool
}

// StartStream initialises a StreamMetrics instance bound to the recorder.
func (r *Recorder) StartStream(streamID string) *StreamMetrics {
	if r == nil {
		return nil
	}
	r.totalStreams.Add(1)
	r.activeStreams.Add(1)
	return &StreamMetrics{
		recorder: r,
		log:      r.log.With().Str("stream_id", streamID).Logger(),
		started:  time.Now(),
	}
}

// RecordFeed updates counters for fed audio.
func (s *StreamMetrics) RecordFeed(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.feeds++
	s.samples += n
	s.recorder.totalFeeds.Add(1)
	s.recorder.totalSamples.Add(uint64(n))
}

// RecordDecode counts an intermediate decode.
func (s *StreamMetrics) RecordDecode() {
	if s == nil {
		return
	}
	s.decodes++
	s.recorder.totalDecodes.Add(1)
}

// RecordFinish counts a finished utterance.
func (s *StreamMetrics) RecordFinish(text string) {
	if s == nil {
		return
	}
	s.utterances++
	s.recorder.totalFinishes.Add(1)
	s.log.Debug().Int("utterance", s.utterances).Int("chars", len(text)).Msg("utterance finished")
}

// RecordClear counts a discarded utterance.
func (s *StreamMetrics) RecordClear() {
	if s == nil {
		return
	}
	s.clears++
	s.recorder.totalClears.Add(1)
}

// Finish logs a summary and updates active stream counters. Only the first call counts.
func (s *StreamMetrics) Finish(err error) {
	if s == nil {
		return
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	defer s.recorder.activeStreams.Add(-1)

	ev := s.log.Info()
	if err != nil {
		ev = s.log.Error().Err(err)
	}
	ev.Int64("duration_ms", time.Since(s.started).Milliseconds()).
		Int("feeds", s.feeds).
		Int("samples", s.samples).
		Int("decodes", s.decodes).
		Int("utterances", s.utterances).
		Int("clears", s.clears).
		Msg("stream closed")
}
