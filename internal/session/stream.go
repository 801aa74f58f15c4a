package session

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/luaspeech/internal/audio"
	"github.com/obiente/translate/luaspeech/internal/engine"
	"github.com/obiente/translate/luaspeech/internal/telemetry"
)

// Stream decodes audio fed in chunks. Every operation runs under the owning
// session lock, so a stream never outlives the model it was created from.
type Stream struct {
	session *Session
	id      string
	log     zerolog.Logger
	metrics *telemetry.StreamMetrics

	// guarded by session.mu
	handle engine.Stream
	cause  string
}

// ID identifies the stream in logs and telemetry.
func (st *Stream) ID() string { return st.id }

func (st *Stream) liveLocked() error {
	if st.handle == nil {
		if st.cause != "" {
			return fmt.Errorf("%w (%s)", ErrInvalidState, st.cause)
		}
		return ErrInvalidState
	}
	return nil
}

// Feed appends samples to the stream.
func (st *Stream) Feed(in audio.Input) error {
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := st.liveLocked(); err != nil {
		return err
	}
	samples, err := s.buf.Ensure(in)
	if err != nil {
		return err
	}
	st.handle.FeedAudioContent(samples)
	st.metrics.RecordFeed(len(samples))
	return nil
}

// Decode returns the transcript of everything fed so far without ending the
// utterance.
func (st *Stream) Decode() (string, error) {
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := st.liveLocked(); err != nil {
		return "", err
	}
	text, err := st.handle.IntermediateDecode()
	if err != nil {
		return "", fmt.Errorf("speech: intermediate decode: %w", err)
	}
	st.metrics.RecordDecode()
	return text, nil
}

// DecodeWithMetadata is Decode with up to maxCandidates alternatives; 0 selects
// DefaultMaxCandidates.
func (st *Stream) DecodeWithMetadata(maxCandidates int) (*engine.Metadata, error) {
	limit, err := candidateLimit(maxCandidates)
	if err != nil {
		return nil, err
	}
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := st.liveLocked(); err != nil {
		return nil, err
	}
	md, err := st.handle.IntermediateDecodeWithMetadata(limit)
	if err != nil {
		return nil, fmt.Errorf("speech: intermediate decode: %w", err)
	}
	st.metrics.RecordDecode()
	return md.Truncate(limit), nil
}

// Finish ends the utterance and returns its transcript. The stream is then
// bound to a fresh handle and can be fed again.
func (st *Stream) Finish() (string, error) {
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := st.liveLocked(); err != nil {
		return "", err
	}
	text, err := st.handle.FinishStream()
	if err != nil {
		// FinishStream consumes the handle even when it fails.
		st.handle = nil
		if rerr := st.recycleLocked(); rerr != nil {
			return "", errors.Join(fmt.Errorf("speech: finish: %w", err), rerr)
		}
		return "", fmt.Errorf("speech: finish: %w", err)
	}
	st.handle = nil
	st.metrics.RecordFinish(text)
	return text, st.recycleLocked()
}

// Clear drops everything fed so far and rebinds the stream to a fresh handle.
func (st *Stream) Clear() error {
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := st.liveLocked(); err != nil {
		return err
	}
	st.handle.Discard()
	st.handle = nil
	st.metrics.RecordClear()
	return st.recycleLocked()
}

// recycleLocked binds a replacement handle. On failure the stream is destroyed.
func (st *Stream) recycleLocked() error {
	s := st.session
	if s.state != Ready {
		st.forgetLocked("model released", ErrNotInitialized)
		return &StreamCreateError{Err: ErrNotInitialized}
	}
	handle, err := s.model.NewStream()
	if err != nil {
		st.forgetLocked("stream could not be recreated", err)
		return &StreamCreateError{Err: err}
	}
	st.handle = handle
	return nil
}

// Destroy releases the stream. Only the first call has any effect.
func (st *Stream) Destroy() {
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.cause != "" {
		return
	}
	st.releaseLocked("stream destroyed")
}

// releaseLocked discards the engine handle, logging instead of propagating any
// engine failure.
func (st *Stream) releaseLocked(reason string) {
	if st.handle != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					st.log.Error().Interface("panic", r).Msg("stream discard panicked")
				}
			}()
			st.handle.Discard()
		}()
		st.handle = nil
	}
	st.forgetLocked(reason, nil)
}

func (st *Stream) forgetLocked(reason string, err error) {
	st.cause = reason
	delete(st.session.streams, st)
	st.metrics.Finish(err)
	ev := st.log.Debug()
	if err != nil {
		ev = st.log.Warn().Err(err)
	}
	ev.Str("reason", reason).Msg("stream closed")
}
