//go:build deepspeech

package engine

import (
	"errors"

	astideepspeech "github.com/asticode/go-astideepspeech"
	"github.com/rs/zerolog"
)

func init() {
	Register("deepspeech", func(opts Options) (Engine, error) {
		return &DeepSpeech{log: opts.Logger.With().Str("component", "engine.deepspeech").Logger()}, nil
	})
}

// DeepSpeech wraps libdeepspeech through go-astideepspeech.
type DeepSpeech struct {
	log zerolog.Logger
}

func (d *DeepSpeech) Name() string { return "deepspeech" }

func (d *DeepSpeech) CreateModel(path string, beamWidth int) (Model, error) {
	m, err := astideepspeech.New(path)
	if err != nil {
		return nil, &Error{Code: CodeFailCreateModel, Op: "CreateModel", Err: err}
	}
	if beamWidth > 0 {
		if err := m.SetBeamWidth(uint(beamWidth)); err != nil {
			_ = m.Close()
			return nil, &Error{Code: CodeInvalidShape, Op: "SetModelBeamWidth", Err: err}
		}
	}
	d.log.Info().Str("model", path).Uint("beam_width", m.BeamWidth()).Int("sample_rate", m.SampleRate()).Msg("deepspeech: model loaded")
	return &deepSpeechModel{m: m}, nil
}

type deepSpeechModel struct {
	m *astideepspeech.Model
}

func (d *deepSpeechModel) SampleRate() int { return d.m.SampleRate() }
func (d *deepSpeechModel) BeamWidth() int  { return int(d.m.BeamWidth()) }

func (d *deepSpeechModel) SetBeamWidth(n int) error {
	if n < 1 {
		return NewError("SetModelBeamWidth", CodeInvalidShape)
	}
	return wrap("SetModelBeamWidth", CodeInvalidShape, d.m.SetBeamWidth(uint(n)))
}

func (d *deepSpeechModel) EnableExternalScorer(path string) error {
	return wrap("EnableExternalScorer", CodeInvalidScorer, d.m.EnableExternalScorer(path))
}

func (d *deepSpeechModel) SetScorerAlphaBeta(alpha, beta float32) error {
	return wrap("SetScorerAlphaBeta", CodeScorerNotEnabled, d.m.SetScorerAlphaBeta(alpha, beta))
}

func (d *deepSpeechModel) AddHotWord(word string, boost float32) error {
	return wrap("AddHotWord", CodeFailInsertHotword, d.m.AddHotWord(word, boost))
}

func (d *deepSpeechModel) EraseHotWord(word string) error {
	return wrap("EraseHotWord", CodeFailEraseHotword, d.m.EraseHotWord(word))
}

func (d *deepSpeechModel) ClearHotWords() error {
	return wrap("ClearHotWords", CodeFailClearHotword, d.m.ClearHotWords())
}

func (d *deepSpeechModel) SpeechToText(samples []int16) (string, error) {
	text, err := d.m.SpeechToText(samples)
	return text, wrap("SpeechToText", CodeFailRunSess, err)
}

func (d *deepSpeechModel) SpeechToTextWithMetadata(samples []int16, limit int) (*Metadata, error) {
	md, err := d.m.SpeechToTextWithMetadata(samples, uint(limit))
	if err != nil {
		return nil, wrap("SpeechToTextWithMetadata", CodeFailRunSess, err)
	}
	return convertMetadata(md), nil
}

func (d *deepSpeechModel) NewStream() (Stream, error) {
	s, err := d.m.NewStream()
	if err != nil {
		return nil, wrap("CreateStream", CodeFailCreateStream, err)
	}
	return &deepSpeechStream{s: s}, nil
}

func (d *deepSpeechModel) Close() error {
	return d.m.Close()
}

type deepSpeechStream struct {
	s *astideepspeech.Stream
}

func (d *deepSpeechStream) FeedAudioContent(samples []int16) {
	d.s.FeedAudioContent(samples)
}

func (d *deepSpeechStream) IntermediateDecode() (string, error) {
	text, err := d.s.IntermediateDecode()
	return text, wrap("IntermediateDecode", CodeFailRunSess, err)
}

func (d *deepSpeechStream) IntermediateDecodeWithMetadata(limit int) (*Metadata, error) {
	md, err := d.s.IntermediateDecodeWithMetadata(uint(limit))
	if err != nil {
		return nil, wrap("IntermediateDecodeWithMetadata", CodeFailRunSess, err)
	}
	return convertMetadata(md), nil
}

func (d *deepSpeechStream) FinishStream() (string, error) {
	text, err := d.s.FinishStream()
	return text, wrap("FinishStream", CodeFailRunSess, err)
}

func (d *deepSpeechStream) Discard() { d.s.Discard() }

// convertMetadata copies the native metadata and frees it.
func convertMetadata(md *astideepspeech.Metadata) *Metadata {
	defer md.Close()
	out := &Metadata{}
	for _, ct := range md.Transcripts() {
		cand := CandidateTranscript{Confidence: ct.Confidence()}
		for _, tok := range ct.Tokens() {
			cand.Tokens = append(cand.Tokens, Token{
				Text:      tok.Text(),
				Timestep:  int(tok.Timestep()),
				StartTime: tok.StartTime(),
			})
		}
		out.Transcripts = append(out.Transcripts, cand)
	}
	return out
}

func wrap(op string, code int, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: code, Op: op, Err: err}
}
