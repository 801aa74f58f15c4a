package engine

// Engine is the entry point of a speech-to-text backend.
// Implementations are a pure Go reference recognizer (always built), DeepSpeech
// (build tag: deepspeech) or whisper.cpp (build tag: whisper_cpp).
type Engine interface {
	// Name identifies the backend in logs and health output.
	Name() string
	// CreateModel loads the model at path. A beamWidth of 0 keeps the backend default.
	CreateModel(path string, beamWidth int) (Model, error)
}

// Model is a loaded acoustic model plus an optional external scorer.
type Model interface {
	SampleRate() int
	BeamWidth() int
	SetBeamWidth(n int) error
	EnableExternalScorer(path string) error
	SetScorerAlphaBeta(alpha, beta float32) error
	AddHotWord(word string, boost float32) error
	EraseHotWord(word string) error
	ClearHotWords() error
	// SpeechToText runs a one-shot transcription over mono 16-bit samples.
	SpeechToText(samples []int16) (string, error)
	// SpeechToTextWithMetadata returns at most limit candidate transcripts.
	SpeechToTextWithMetadata(samples []int16, limit int) (*Metadata, error)
	NewStream() (Stream, error)
	Close() error
}

// Stream is in-progress streaming decode state bound to the Model that created it.
type Stream interface {
	FeedAudioContent(samples []int16)
	IntermediateDecode() (string, error)
	IntermediateDecodeWithMetadata(limit int) (*Metadata, error)
	// FinishStream returns the final transcript and releases the stream.
	FinishStream() (string, error)
	// Discard releases the stream without decoding.
	Discard()
}

// Metadata is a read-only snapshot of candidate transcripts ordered by
// descending confidence.
type Metadata struct {
	Transcripts []CandidateTranscript `json:"transcripts"`
}

// CandidateTranscript is one alternative decoding.
type CandidateTranscript struct {
	Confidence float64 `json:"confidence"`
	Tokens     []Token `json:"tokens"`
}

// Token is a single decoded unit with its position in the audio.
type Token struct {
	Text      string  `json:"text"`
	Timestep  int     `json:"timestep"`
	StartTime float32 `json:"start_time"`
}

// Text joins the candidate tokens the way the backend emitted them.
func (c CandidateTranscript) Text() string {
	n := 0
	for _, t := range c.Tokens {
		n += len(t.Text)
	}
	buf := make([]byte, 0, n)
	for _, t := range c.Tokens {
		buf = append(buf, t.Text...)
	}
	return string(buf)
}

// Truncate keeps at most limit candidates. A nil receiver stays nil.
func (m *Metadata) Truncate(limit int) *Metadata {
	if m == nil || limit <= 0 || len(m.Transcripts) <= limit {
		return m
	}
	m.Transcripts = m.Transcripts[:limit]
	return m
}
