// Package session manages the lifecycle of a speech model, its scratch sample
// buffer and the streams decoding against it.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/obiente/translate/luaspeech/internal/audio"
	"github.com/obiente/translate/luaspeech/internal/engine"
	"github.com/obiente/translate/luaspeech/internal/telemetry"
)

// State is the lifecycle state of a Session.
type State int

const (
	Uninitialized State = iota
	Ready
	Destroyed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Destroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session owns one model handle, the sample buffer every call converts audio
// through, and the registry of live streams. All engine calls are serialized
// by mu, which is held from the moment the buffer is filled until the engine
// has consumed it.
type Session struct {
	mu      sync.Mutex
	eng     engine.Engine
	log     zerolog.Logger
	metrics *telemetry.Recorder

	state   State
	cfg     Config
	model   engine.Model
	buf     audio.SampleBuffer
	streams map[*Stream]struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(s *Session) { s.metrics = r }
}

// New returns an uninitialized session backed by eng.
func New(eng engine.Engine, opts ...Option) *Session {
	if eng == nil {
		panic("session: engine must not be nil")
	}
	s := &Session{
		eng:     eng,
		log:     zerolog.Nop(),
		streams: map[*Stream]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "session").Str("backend", eng.Name()).Logger()
	return s
}

// Init loads the model described by cfg and returns the engine sample rate.
// A model that is already loaded is released first, together with every stream
// bound to it. If loading fails the previous configuration is loaded again.
func (s *Session) Init(cfg Config) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	cfg.HotWords = cloneHotWords(cfg.HotWords)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.cfg, s.state == Ready
	if hadPrev {
		if err := s.teardownLocked("model reconfigured"); err != nil {
			s.log.Warn().Err(err).Msg("previous model did not close cleanly")
		}
		s.state = Uninitialized
	}

	model, err := s.loadLocked(cfg)
	if err != nil {
		s.log.Error().Err(err).Str("model", cfg.Model).Msg("model load failed")
		if hadPrev {
			if restored, rerr := s.loadLocked(prev); rerr == nil {
				s.model, s.state = restored, Ready
				s.log.Warn().Str("model", prev.Model).Msg("previous model restored")
			} else {
				s.cfg = Config{}
				s.buf.Reset()
				s.log.Error().Err(rerr).Str("model", prev.Model).Msg("previous model could not be restored")
			}
		}
		return 0, err
	}

	s.model, s.cfg, s.state = model, cfg, Ready
	rate := model.SampleRate()
	s.log.Info().
		Str("model", cfg.Model).
		Str("scorer", cfg.Scorer).
		Int("beam_width", model.BeamWidth()).
		Int("sample_rate", rate).
		Int("hot_words", len(cfg.HotWords)).
		Msg("model ready")
	return rate, nil
}

func (s *Session) loadLocked(cfg Config) (engine.Model, error) {
	start := time.Now()
	model, err := s.eng.CreateModel(cfg.Model, cfg.BeamWidth)
	if err != nil {
		return nil, newModelLoadError(cfg.Model, err)
	}
	fail := func(err error) (engine.Model, error) {
		if cerr := model.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("failed to release rejected model")
		}
		return nil, err
	}
	if cfg.Scorer != "" {
		if err := model.EnableExternalScorer(cfg.Scorer); err != nil {
			return fail(newScorerLoadError(cfg.Scorer, err))
		}
	}
	if cfg.BeamWidth > 0 && model.BeamWidth() != cfg.BeamWidth {
		if err := model.SetBeamWidth(cfg.BeamWidth); err != nil {
			return fail(newModelLoadError(cfg.Model, err))
		}
	}
	if cfg.scorerWeights() {
		if err := model.SetScorerAlphaBeta(cfg.Alpha, cfg.Beta); err != nil {
			return fail(newScorerLoadError(cfg.Scorer, err))
		}
	}
	for word, boost := range cfg.HotWords {
		if err := model.AddHotWord(word, boost); err != nil {
			return fail(newModelLoadError(cfg.Model, err))
		}
	}
	s.metrics.RecordModelLoad(cfg.Model, time.Since(start))
	return model, nil
}

// teardownLocked invalidates every live stream and frees the model.
func (s *Session) teardownLocked(reason string) error {
	for st := range s.streams {
		st.releaseLocked(reason)
	}
	if s.model == nil {
		return nil
	}
	err := s.model.Close()
	s.model = nil
	return err
}

func (s *Session) readyLocked() error {
	if s.state != Ready {
		return ErrNotInitialized
	}
	return nil
}

// Decode transcribes a complete utterance. An empty string means no speech.
func (s *Session) Decode(in audio.Input) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return "", err
	}
	samples, err := s.buf.Ensure(in)
	if err != nil {
		return "", err
	}
	text, err := s.model.SpeechToText(samples)
	if err != nil {
		return "", fmt.Errorf("speech: decode: %w", err)
	}
	s.metrics.RecordDecode(len(samples))
	return text, nil
}

// DecodeWithMetadata transcribes a complete utterance and returns at most
// maxCandidates alternatives; 0 selects DefaultMaxCandidates.
func (s *Session) DecodeWithMetadata(in audio.Input, maxCandidates int) (*engine.Metadata, error) {
	limit, err := candidateLimit(maxCandidates)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	samples, err := s.buf.Ensure(in)
	if err != nil {
		return nil, err
	}
	md, err := s.model.SpeechToTextWithMetadata(samples, limit)
	if err != nil {
		return nil, fmt.Errorf("speech: decode: %w", err)
	}
	s.metrics.RecordDecode(len(samples))
	return md.Truncate(limit), nil
}

func candidateLimit(n int) (int, error) {
	switch {
	case n == 0:
		return DefaultMaxCandidates, nil
	case n < 0:
		return 0, &ConfigError{Field: "maxCandidates", Reason: "should be at least 1"}
	}
	return n, nil
}

// Boost adds or updates a hot word on the active model.
func (s *Session) Boost(word string, weight float32) error {
	if strings.TrimSpace(word) == "" {
		return &ConfigError{Field: "word", Reason: "should be a non-empty string"}
	}
	if !finite(weight) {
		return &ConfigError{Field: "weight", Reason: "should be a finite number"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	if err := s.model.AddHotWord(word, weight); err != nil {
		return fmt.Errorf("speech: boost %q: %w", word, err)
	}
	if s.cfg.HotWords == nil {
		s.cfg.HotWords = map[string]float32{}
	}
	s.cfg.HotWords[word] = weight
	return nil
}

// Unboost removes a hot word, or every hot word when word is empty.
func (s *Session) Unboost(word string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	if word == "" {
		if err := s.model.ClearHotWords(); err != nil {
			return fmt.Errorf("speech: clear hot words: %w", err)
		}
		s.cfg.HotWords = nil
		return nil
	}
	if err := s.model.EraseHotWord(word); err != nil {
		return fmt.Errorf("speech: unboost %q: %w", word, err)
	}
	delete(s.cfg.HotWords, word)
	return nil
}

// HotWords returns a copy of the active hot word table.
func (s *Session) HotWords() map[string]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneHotWords(s.cfg.HotWords)
}

// NewStream opens a stream bound to the current model.
func (s *Session) NewStream() (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	handle, err := s.model.NewStream()
	if err != nil {
		return nil, &StreamCreateError{Err: err}
	}
	id := uuid.NewString()
	st := &Stream{
		session: s,
		id:      id,
		handle:  handle,
		log:     s.log.With().Str("stream_id", id).Logger(),
		metrics: s.metrics.StartStream(id),
	}
	s.streams[st] = struct{}{}
	st.log.Debug().Msg("stream opened")
	return st, nil
}

// Close releases every live stream, the model and the sample buffer. Closing a
// session that holds no model only frees the buffer.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		s.buf.Reset()
		return nil
	}
	err := s.teardownLocked("session destroyed")
	s.buf.Reset()
	s.cfg = Config{}
	s.state = Destroyed
	s.log.Info().Msg("session destroyed")
	if err != nil {
		return fmt.Errorf("speech: free model: %w", err)
	}
	return nil
}

// State reports the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SampleRate is the engine sample rate, or 0 while no model is ready.
func (s *Session) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return 0
	}
	return s.model.SampleRate()
}

// BeamWidth is the active beam width, or 0 while no model is ready.
func (s *Session) BeamWidth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return 0
	}
	return s.model.BeamWidth()
}

// Config returns the configuration of the active model.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	cfg.HotWords = cloneHotWords(cfg.HotWords)
	return cfg
}

// Backend names the engine backend.
func (s *Session) Backend() string { return s.eng.Name() }

// LiveStreams counts streams that have not been destroyed.
func (s *Session) LiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// BufferCap is the capacity of the scratch sample buffer.
func (s *Session) BufferCap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Cap()
}

func cloneHotWords(in map[string]float32) map[string]float32 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float32, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
