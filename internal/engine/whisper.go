//go:build whisper_cpp

package engine

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"
)

const (
	whisperSampleRate = whisperpkg.SampleRate
	// Limit a single inference to 30 seconds; longer streams keep their tail.
	whisperMaxSamples = 30 * whisperSampleRate
	// Shorter audio (< 100ms) is skipped as silence.
	whisperMinSamples = whisperSampleRate / 10
)

var errWhisperScorer = errors.New("whisper: external scorers are not supported")

func init() {
	Register("whisper", func(opts Options) (Engine, error) {
		threads := uint(runtime.NumCPU())
		if opts.Threads > 0 {
			threads = uint(opts.Threads)
		}
		lang := strings.TrimSpace(opts.Language)
		if lang == "" {
			lang = "auto"
		}
		return &Whisper{
			threads:  threads,
			language: lang,
			log:      opts.Logger.With().Str("component", "engine.whisper").Logger(),
		}, nil
	})
}

// Whisper runs whisper.cpp through its Go bindings. Whisper has no external
// scorer; hot words are passed to the decoder as an initial prompt.
type Whisper struct {
	threads  uint
	language string
	log      zerolog.Logger
}

func (w *Whisper) Name() string { return "whisper" }

func (w *Whisper) CreateModel(path string, beamWidth int) (Model, error) {
	m, err := whisperpkg.New(path)
	if err != nil {
		return nil, &Error{Code: CodeFailCreateModel, Op: "CreateModel", Err: fmt.Errorf("load model: %w", err)}
	}
	if beamWidth <= 0 {
		beamWidth = 1
	}
	w.log.Info().Str("model", path).Uint("threads", w.threads).Str("language", w.language).Msg("whisper: model loaded successfully")
	return &whisperModel{
		model:     m,
		threads:   w.threads,
		language:  w.language,
		beamWidth: beamWidth,
		hotWords:  map[string]float32{},
		log:       w.log,
	}, nil
}

type whisperModel struct {
	mu        sync.Mutex // whisper.cpp contexts must not run concurrently on one model
	model     whisperpkg.Model
	threads   uint
	language  string
	beamWidth int
	hotWords  map[string]float32
	log       zerolog.Logger
}

func (m *whisperModel) SampleRate() int { return whisperSampleRate }

func (m *whisperModel) BeamWidth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beamWidth
}

// SetBeamWidth is recorded only; the bindings decode greedily.
func (m *whisperModel) SetBeamWidth(n int) error {
	if n < 1 {
		return NewError("SetModelBeamWidth", CodeInvalidShape)
	}
	m.mu.Lock()
	m.beamWidth = n
	m.mu.Unlock()
	return nil
}

func (m *whisperModel) EnableExternalScorer(string) error {
	return &Error{Code: CodeInvalidScorer, Op: "EnableExternalScorer", Err: errWhisperScorer}
}

func (m *whisperModel) SetScorerAlphaBeta(float32, float32) error {
	return &Error{Code: CodeScorerNotEnabled, Op: "SetScorerAlphaBeta", Err: errWhisperScorer}
}

func (m *whisperModel) AddHotWord(word string, boost float32) error {
	if strings.TrimSpace(word) == "" {
		return NewError("AddHotWord", CodeFailInsertHotword)
	}
	m.mu.Lock()
	m.hotWords[word] = boost
	m.mu.Unlock()
	return nil
}

func (m *whisperModel) EraseHotWord(word string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hotWords[word]; !ok {
		return NewError("EraseHotWord", CodeFailEraseHotword)
	}
	delete(m.hotWords, word)
	return nil
}

func (m *whisperModel) ClearHotWords() error {
	m.mu.Lock()
	m.hotWords = map[string]float32{}
	m.mu.Unlock()
	return nil
}

func (m *whisperModel) SpeechToText(samples []int16) (string, error) {
	md, err := m.SpeechToTextWithMetadata(samples, 1)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md.Transcripts[0].Text()), nil
}

func (m *whisperModel) SpeechToTextWithMetadata(samples []int16, limit int) (*Metadata, error) {
	return m.process(pcmToFloat32(samples))
}

func (m *whisperModel) NewStream() (Stream, error) {
	if m.model == nil {
		return nil, NewError("CreateStream", CodeFailCreateStream)
	}
	return &whisperStream{model: m}, nil
}

func (m *whisperModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model != nil {
		err := m.model.Close()
		m.model = nil
		return err
	}
	return nil
}

// prompt orders hot words by descending boost; negative boosts are dropped.
func (m *whisperModel) promptLocked() string {
	words := make([]string, 0, len(m.hotWords))
	for w, boost := range m.hotWords {
		if boost > 0 {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(a, b int) bool {
		if m.hotWords[words[a]] != m.hotWords[words[b]] {
			return m.hotWords[words[a]] > m.hotWords[words[b]]
		}
		return words[a] < words[b]
	})
	return strings.Join(words, ", ")
}

// process runs a full-context transcription, one context per call.
func (m *whisperModel) process(samples []float32) (*Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return nil, NewError("SpeechToText", CodeNoModel)
	}
	empty := &Metadata{Transcripts: []CandidateTranscript{{Tokens: []Token{}}}}
	if len(samples) < whisperMinSamples {
		m.log.Debug().Int("samples", len(samples)).Msg("whisper: skipping too-short audio")
		return empty, nil
	}
	offset := 0
	if len(samples) > whisperMaxSamples {
		m.log.Warn().Int("samples", len(samples)).Int("max", whisperMaxSamples).Msg("whisper: truncating long audio")
		offset = len(samples) - whisperMaxSamples
		samples = samples[offset:]
	}

	ctx, err := m.model.NewContext()
	if err != nil {
		return nil, &Error{Code: CodeFailInitSess, Op: "SpeechToText", Err: fmt.Errorf("create context: %w", err)}
	}
	ctx.SetThreads(m.threads)
	_ = ctx.SetLanguage(m.language)
	ctx.SetTokenTimestamps(true)
	ctx.SetSplitOnWord(true)
	if prompt := m.promptLocked(); prompt != "" {
		ctx.SetInitialPrompt(prompt)
	}

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		m.log.Error().Err(err).Int("samples", len(samples)).Msg("whisper: process failed")
		return nil, &Error{Code: CodeFailRunSess, Op: "SpeechToText", Err: fmt.Errorf("process audio: %w", err)}
	}

	shift := float32(offset) / whisperSampleRate
	var (
		cand    = CandidateTranscript{Tokens: []Token{}}
		sumP    float64
		nTokens int
	)
	for {
		seg, err := ctx.NextSegment()
		if err != nil {
			if err != io.EOF {
				m.log.Warn().Err(err).Msg("whisper: error reading segment")
			}
			break
		}
		for _, tok := range seg.Tokens {
			if strings.HasPrefix(tok.Text, "[_") || strings.HasPrefix(tok.Text, "<|") {
				continue
			}
			start := float32(tok.Start.Seconds()) + shift
			cand.Tokens = append(cand.Tokens, Token{
				Text:      tok.Text,
				Timestep:  int(start * 50),
				StartTime: start,
			})
			sumP += float64(tok.P)
			nTokens++
		}
	}
	if nTokens > 0 {
		cand.Confidence = sumP / float64(nTokens)
	}
	if strings.EqualFold(strings.TrimSpace(cand.Text()), "[BLANK_AUDIO]") {
		return empty, nil
	}
	return &Metadata{Transcripts: []CandidateTranscript{cand}}, nil
}

type whisperStream struct {
	model   *whisperModel
	samples []float32
	done    bool
}

func (s *whisperStream) FeedAudioContent(samples []int16) {
	if s.done {
		return
	}
	s.samples = append(s.samples, pcmToFloat32(samples)...)
}

func (s *whisperStream) IntermediateDecode() (string, error) {
	md, err := s.IntermediateDecodeWithMetadata(1)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md.Transcripts[0].Text()), nil
}

func (s *whisperStream) IntermediateDecodeWithMetadata(int) (*Metadata, error) {
	if s.done {
		return nil, NewError("IntermediateDecode", CodeFailRunSess)
	}
	return s.model.process(s.samples)
}

func (s *whisperStream) FinishStream() (string, error) {
	text, err := s.IntermediateDecode()
	s.Discard()
	return text, err
}

func (s *whisperStream) Discard() {
	s.done = true
	s.samples = nil
}

func pcmToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v) / 32768.0
	}
	return out
}
