package engine

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Reference recognizer constants.
const (
	ReferenceSampleRate = 16000
	DefaultBeamWidth    = 500
	DefaultLMAlpha      = 0.931289039105002
	DefaultLMBeta       = 1.1834137581510284

	frameSamples    = ReferenceSampleRate / 50 // 20ms
	voicedThreshold = 1000                     // mean absolute amplitude of a voiced frame
	frameSeconds    = float32(frameSamples) / ReferenceSampleRate
)

// referenceVocabulary maps peak amplitude buckets to words. A voiced run whose
// peak falls into bucket i decodes as referenceVocabulary[i].
var referenceVocabulary = []string{"zero", "one", "two", "three", "four", "five", "six", "seven"}

const bucketWidth = 32768 / 8

func init() {
	Register(DefaultBackend, func(opts Options) (Engine, error) {
		return NewReference(opts.Logger), nil
	})
}

// Reference is a deterministic pure Go recognizer. It has no acoustic model:
// voiced runs of 20ms frames decode to words picked by their peak amplitude.
// It honours the whole call contract, including scorer weights, hot words and
// stream lifecycles, so everything above the engine can be exercised without
// native libraries.
type Reference struct {
	log zerolog.Logger
}

// NewReference returns the reference engine.
func NewReference(logger zerolog.Logger) *Reference {
	return &Reference{log: logger.With().Str("component", "engine.reference").Logger()}
}

func (r *Reference) Name() string { return DefaultBackend }

// CreateModel requires path to be a readable regular file; its contents are ignored.
func (r *Reference) CreateModel(path string, beamWidth int) (Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, NewError("CreateModel", CodeNoModel)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Code: CodeNoModel, Op: "CreateModel", Err: err}
	}
	if info.IsDir() {
		return nil, &Error{Code: CodeFailReadProtobuf, Op: "CreateModel", Err: fmt.Errorf("%s is a directory", path)}
	}
	if beamWidth < 0 {
		return nil, NewError("CreateModel", CodeInvalidShape)
	}
	if beamWidth == 0 {
		beamWidth = DefaultBeamWidth
	}
	r.log.Debug().Str("model", path).Int("beam_width", beamWidth).Msg("reference model created")
	return &ReferenceModel{
		path:      path,
		beamWidth: beamWidth,
		hotWords:  map[string]float32{},
		streams:   map[*referenceStream]struct{}{},
	}, nil
}

// ReferenceModel is the Model produced by Reference.
type ReferenceModel struct {
	mu        sync.Mutex
	path      string
	beamWidth int
	scorer    string
	alpha     float32
	beta      float32
	hotWords  map[string]float32
	streams   map[*referenceStream]struct{}
	closed    bool
}

func (m *ReferenceModel) SampleRate() int { return ReferenceSampleRate }

func (m *ReferenceModel) BeamWidth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beamWidth
}

func (m *ReferenceModel) SetBeamWidth(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("SetModelBeamWidth"); err != nil {
		return err
	}
	if n < 1 {
		return NewError("SetModelBeamWidth", CodeInvalidShape)
	}
	m.beamWidth = n
	return nil
}

func (m *ReferenceModel) EnableExternalScorer(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("EnableExternalScorer"); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return &Error{Code: CodeScorerUnreadable, Op: "EnableExternalScorer", Err: err}
	}
	if info.IsDir() || info.Size() == 0 {
		return NewError("EnableExternalScorer", CodeInvalidScorer)
	}
	m.scorer = path
	m.alpha, m.beta = DefaultLMAlpha, DefaultLMBeta
	return nil
}

func (m *ReferenceModel) SetScorerAlphaBeta(alpha, beta float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("SetScorerAlphaBeta"); err != nil {
		return err
	}
	if m.scorer == "" {
		return NewError("SetScorerAlphaBeta", CodeScorerNotEnabled)
	}
	m.alpha, m.beta = alpha, beta
	return nil
}

// ScorerWeights returns the active alpha and beta, and whether a scorer is enabled.
func (m *ReferenceModel) ScorerWeights() (alpha, beta float32, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alpha, m.beta, m.scorer != ""
}

func (m *ReferenceModel) AddHotWord(word string, boost float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("AddHotWord"); err != nil {
		return err
	}
	if strings.TrimSpace(word) == "" {
		return NewError("AddHotWord", CodeFailInsertHotword)
	}
	m.hotWords[word] = boost
	return nil
}

func (m *ReferenceModel) EraseHotWord(word string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("EraseHotWord"); err != nil {
		return err
	}
	if _, ok := m.hotWords[word]; !ok {
		return NewError("EraseHotWord", CodeFailEraseHotword)
	}
	delete(m.hotWords, word)
	return nil
}

func (m *ReferenceModel) ClearHotWords() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("ClearHotWords"); err != nil {
		return err
	}
	m.hotWords = map[string]float32{}
	return nil
}

func (m *ReferenceModel) SpeechToText(samples []int16) (string, error) {
	md, err := m.SpeechToTextWithMetadata(samples, 1)
	if err != nil {
		return "", err
	}
	return md.Transcripts[0].Text(), nil
}

func (m *ReferenceModel) SpeechToTextWithMetadata(samples []int16, limit int) (*Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("SpeechToText"); err != nil {
		return nil, err
	}
	return m.recognizeLocked(samples, limit), nil
}

func (m *ReferenceModel) NewStream() (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("CreateStream"); err != nil {
		return nil, &Error{Code: CodeFailCreateStream, Op: "CreateStream", Err: err}
	}
	s := &referenceStream{model: m}
	m.streams[s] = struct{}{}
	return s, nil
}

// LiveStreams reports streams created by the model and not yet finished or discarded.
func (m *ReferenceModel) LiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Close frees the model. Streams still bound to it fail from then on.
func (m *ReferenceModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.hotWords = map[string]float32{}
	return nil
}

func (m *ReferenceModel) checkOpen(op string) error {
	if m.closed {
		return &Error{Code: CodeNoModel, Op: op, Err: errors.New("model freed")}
	}
	return nil
}

type voicedRun struct {
	frame  int
	bucket int
}

func segmentRuns(samples []int16) []voicedRun {
	var (
		runs   []voicedRun
		inRun  bool
		peak   int
		start  int
		frames = (len(samples) + frameSamples - 1) / frameSamples
	)
	closeRun := func() {
		bucket := peak / bucketWidth
		if bucket >= len(referenceVocabulary) {
			bucket = len(referenceVocabulary) - 1
		}
		runs = append(runs, voicedRun{frame: start, bucket: bucket})
		inRun = false
		peak = 0
	}
	for f := 0; f < frames; f++ {
		lo := f * frameSamples
		hi := lo + frameSamples
		if hi > len(samples) {
			hi = len(samples)
		}
		sum, framePeak := 0, 0
		for _, s := range samples[lo:hi] {
			v := int(s)
			if v < 0 {
				v = -v
			}
			sum += v
			if v > framePeak {
				framePeak = v
			}
		}
		voiced := sum/(hi-lo) >= voicedThreshold
		switch {
		case voiced && !inRun:
			inRun, start, peak = true, f, framePeak
		case voiced:
			if framePeak > peak {
				peak = framePeak
			}
		case inRun:
			closeRun()
		}
	}
	if inRun {
		closeRun()
	}
	return runs
}

type wordChoice struct {
	word  string
	score float64
	dist  int
}

// rankWords orders the vocabulary for one run: closer buckets first, shifted by hot word boosts.
func (m *ReferenceModel) rankWords(bucket int) []wordChoice {
	out := make([]wordChoice, len(referenceVocabulary))
	for i, w := range referenceVocabulary {
		dist := i - bucket
		if dist < 0 {
			dist = -dist
		}
		out[i] = wordChoice{word: w, score: -float64(dist) + float64(m.hotWords[w]), dist: dist}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].score != out[b].score {
			return out[a].score > out[b].score
		}
		return out[a].dist < out[b].dist
	})
	return out
}

func (m *ReferenceModel) recognizeLocked(samples []int16, limit int) *Metadata {
	runs := segmentRuns(samples)
	if len(runs) == 0 {
		return &Metadata{Transcripts: []CandidateTranscript{{Confidence: 0, Tokens: []Token{}}}}
	}
	if limit < 1 {
		limit = 1
	}
	n := limit
	if n > m.beamWidth {
		n = m.beamWidth
	}
	if n > len(referenceVocabulary) {
		n = len(referenceVocabulary)
	}

	ranked := make([][]wordChoice, len(runs))
	for i, r := range runs {
		ranked[i] = m.rankWords(r.bucket)
	}

	candidates := make([]CandidateTranscript, 0, n)
	for alt := 0; alt < n; alt++ {
		var (
			tokens []Token
			score  float64
		)
		for i, r := range runs {
			choice := ranked[i][0]
			if i == len(runs)-1 {
				choice = ranked[i][alt]
			}
			score += choice.score
			start := float32(r.frame) * frameSeconds
			if i > 0 {
				tokens = append(tokens, Token{Text: " ", Timestep: r.frame, StartTime: start})
			}
			tokens = append(tokens, Token{Text: choice.word, Timestep: r.frame, StartTime: start})
		}
		if m.scorer != "" {
			score = float64(m.alpha)*score + float64(m.beta)*float64(len(runs))
		}
		candidates = append(candidates, CandidateTranscript{Confidence: score, Tokens: tokens})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Confidence > candidates[b].Confidence
	})
	return &Metadata{Transcripts: candidates}
}

type referenceStream struct {
	model   *ReferenceModel
	samples []int16
	done    bool
}

func (s *referenceStream) FeedAudioContent(samples []int16) {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()
	if s.done {
		return
	}
	s.samples = append(s.samples, samples...)
}

func (s *referenceStream) IntermediateDecode() (string, error) {
	md, err := s.IntermediateDecodeWithMetadata(1)
	if err != nil {
		return "", err
	}
	return md.Transcripts[0].Text(), nil
}

func (s *referenceStream) IntermediateDecodeWithMetadata(limit int) (*Metadata, error) {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()
	if err := s.checkLocked("IntermediateDecode"); err != nil {
		return nil, err
	}
	return s.model.recognizeLocked(s.samples, limit), nil
}

func (s *referenceStream) FinishStream() (string, error) {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()
	if err := s.checkLocked("FinishStream"); err != nil {
		return "", err
	}
	md := s.model.recognizeLocked(s.samples, 1)
	s.releaseLocked()
	return md.Transcripts[0].Text(), nil
}

func (s *referenceStream) Discard() {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()
	s.releaseLocked()
}

func (s *referenceStream) checkLocked(op string) error {
	if s.done {
		return &Error{Code: CodeFailRunSess, Op: op, Err: errors.New("stream already released")}
	}
	return s.model.checkOpen(op)
}

func (s *referenceStream) releaseLocked() {
	s.done = true
	s.samples = nil
	delete(s.model.streams, s)
}
