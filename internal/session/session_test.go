package session

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obiente/translate/luaspeech/internal/audio"
	"github.com/obiente/translate/luaspeech/internal/engine"
	"github.com/obiente/translate/luaspeech/internal/telemetry"
)

func newReadySession(t *testing.T) (*Session, *trackingEngine) {
	t.Helper()
	eng := newTrackingEngine()
	s := New(eng)
	t.Cleanup(func() { _ = s.Close() })
	rate, err := s.Init(Config{Model: writeFile(t, "m.model", "model")})
	require.NoError(t, err)
	require.Equal(t, 16000, rate)
	return s, eng
}

func TestSessionRequiresInit(t *testing.T) {
	s := New(newTrackingEngine())

	assert.Equal(t, Uninitialized, s.State())
	assert.Equal(t, 0, s.SampleRate())
	assert.Equal(t, 0, s.BeamWidth())

	_, err := s.Decode(audio.Ints(silence(1)))
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.DecodeWithMetadata(audio.Ints(silence(1)), 0)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.NewStream()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, s.Boost("one", 1), ErrNotInitialized)
	assert.ErrorIs(t, s.Unboost(""), ErrNotInitialized)

	require.NoError(t, s.Close())
	assert.Equal(t, Uninitialized, s.State())
}

func TestSessionConfigErrorsTouchNothing(t *testing.T) {
	eng := newTrackingEngine()
	s := New(eng)

	cases := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"missing model", Config{}, "model"},
		{"blank model", Config{Model: "  "}, "model"},
		{"negative beam", Config{Model: "m.model", BeamWidth: -1}, "beamWidth"},
		{"nan alpha", Config{Model: "m.model", Alpha: float32(math.NaN())}, "alpha"},
		{"inf beta", Config{Model: "m.model", Beta: float32(math.Inf(1))}, "beta"},
		{"blank hot word", Config{Model: "m.model", HotWords: map[string]float32{" ": 1}}, "hotWords"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Init(tc.cfg)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
	assert.Empty(t, eng.journal())
	assert.Equal(t, Uninitialized, s.State())
}

func TestSessionConfigErrorMessage(t *testing.T) {
	err := Config{}.Validate()
	assert.EqualError(t, err, "config.model should be a non-empty path")
}

func TestSessionInitAppliesOptions(t *testing.T) {
	s := New(newTrackingEngine())
	defer s.Close()

	_, err := s.Init(Config{
		Model:     writeFile(t, "m.model", "model"),
		Scorer:    writeFile(t, "lm.scorer", "lm"),
		BeamWidth: 12,
		Alpha:     0.5,
		Beta:      2,
		HotWords:  map[string]float32{"two": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, Ready, s.State())
	assert.Equal(t, 12, s.BeamWidth())
	assert.Equal(t, map[string]float32{"two": 2}, s.HotWords())

	md, err := s.DecodeWithMetadata(audio.Ints(tone(5000, 5)), 1)
	require.NoError(t, err)
	require.Len(t, md.Transcripts, 1)
	// "one" is pushed below "two" by the hot word
	assert.Equal(t, "two", md.Transcripts[0].Text())
}

func TestSessionReplacesModel(t *testing.T) {
	eng := newTrackingEngine()
	s := New(eng)
	defer s.Close()

	first := writeFile(t, "a.model", "a")
	second := writeFile(t, "b.model", "b")

	_, err := s.Init(Config{Model: first})
	require.NoError(t, err)
	_, err = s.Init(Config{Model: second})
	require.NoError(t, err)

	assert.Equal(t, []string{"create a.model", "close a.model", "create b.model"}, eng.journal())
	assert.Equal(t, 1, eng.liveModels())
	assert.Equal(t, second, s.Config().Model)
}

func TestSessionInitFailureRestoresPreviousModel(t *testing.T) {
	s, eng := newReadySession(t)
	prev := s.Config().Model
	missing := filepath.Join(t.TempDir(), "missing.model")

	_, err := s.Init(Config{Model: missing})
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, missing, loadErr.Path)
	assert.Equal(t, engine.CodeNoModel, loadErr.Code)
	assert.Equal(t, engine.ErrorCodeToErrorMessage(engine.CodeNoModel), loadErr.Message)
	assert.Contains(t, err.Error(), "0x1000")

	assert.Equal(t, Ready, s.State())
	assert.Equal(t, prev, s.Config().Model)
	assert.Equal(t, []string{"create m.model", "close m.model", "create missing.model", "create m.model"}, eng.journal())
	assert.Equal(t, 1, eng.liveModels())
}

func TestSessionInitFailureWithoutPreviousModel(t *testing.T) {
	eng := newTrackingEngine()
	s := New(eng)

	_, err := s.Init(Config{Model: filepath.Join(t.TempDir(), "missing.model")})
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, Uninitialized, s.State())

	_, err = s.Init(Config{Model: writeFile(t, "m.model", "x"), Scorer: filepath.Join(t.TempDir(), "nope.scorer")})
	var scorerErr *ScorerLoadError
	require.ErrorAs(t, err, &scorerErr)
	assert.Equal(t, engine.CodeScorerUnreadable, scorerErr.Code)
	assert.Equal(t, 0, eng.liveModels(), "rejected model must be freed")
	assert.Equal(t, Uninitialized, s.State())

	// weights without a scorer are rejected by the engine
	_, err = s.Init(Config{Model: writeFile(t, "m.model", "x"), Alpha: 1})
	require.ErrorAs(t, err, &scorerErr)
	assert.Equal(t, engine.CodeScorerNotEnabled, scorerErr.Code)
	assert.True(t, errors.Is(err, engine.NewError("", engine.CodeScorerNotEnabled)))
}

func TestSessionDecode(t *testing.T) {
	s, _ := newReadySession(t)

	text, err := s.Decode(audio.Ints(concat(silence(5), tone(5000, 10), silence(5), tone(13000, 10))))
	require.NoError(t, err)
	assert.Equal(t, "one three", text)

	text, err = s.Decode(audio.Ints(silence(10)))
	require.NoError(t, err)
	assert.Equal(t, "", text)

	text, err = s.Decode(audio.Ints(nil))
	require.NoError(t, err)
	assert.Equal(t, "", text)

	pcm := make([]int16, 320*10)
	for i := range pcm {
		pcm[i] = 13000
	}
	text, err = s.Decode(audio.PCM(pcm, len(pcm)))
	require.NoError(t, err)
	assert.Equal(t, "three", text)

	_, err = s.Decode(audio.PCM(pcm, len(pcm)+1))
	assert.ErrorIs(t, err, audio.ErrInvalidInput)
	_, err = s.Decode(audio.Input{})
	assert.ErrorIs(t, err, audio.ErrInvalidInput)
}

func TestSessionDecodeRejectsOutOfRangeSamples(t *testing.T) {
	s, _ := newReadySession(t)

	_, err := s.Decode(audio.Ints([]int64{0, 1, -32769}))
	var rangeErr *audio.SampleRangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, 3, rangeErr.Index)
	assert.Equal(t, int64(-32769), rangeErr.Value)
}

func TestSessionBufferGrowsAndResets(t *testing.T) {
	s, _ := newReadySession(t)

	sizes := []int{3, 1000, 10, 5000, 2}
	largest := 0
	for _, n := range sizes {
		_, err := s.Decode(audio.Ints(make([]int64, n)))
		require.NoError(t, err)
		if n > largest {
			largest = n
		}
		assert.GreaterOrEqual(t, s.BufferCap(), largest)
	}
	assert.Equal(t, 8192, s.BufferCap())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.BufferCap())
}

func TestSessionDecodeWithMetadata(t *testing.T) {
	s, _ := newReadySession(t)
	in := audio.Ints(concat(tone(9000, 5), silence(3), tone(9000, 5)))

	md, err := s.DecodeWithMetadata(in, 0)
	require.NoError(t, err)
	assert.Len(t, md.Transcripts, DefaultMaxCandidates)
	for i := 1; i < len(md.Transcripts); i++ {
		assert.GreaterOrEqual(t, md.Transcripts[i-1].Confidence, md.Transcripts[i].Confidence)
	}
	assert.Equal(t, "two two", md.Transcripts[0].Text())

	md, err = s.DecodeWithMetadata(in, 1)
	require.NoError(t, err)
	assert.Len(t, md.Transcripts, 1)

	_, err = s.DecodeWithMetadata(in, -1)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "maxCandidates", cfgErr.Field)

	md, err = s.DecodeWithMetadata(audio.Ints(silence(4)), 2)
	require.NoError(t, err)
	require.Len(t, md.Transcripts, 1)
	assert.Equal(t, "", md.Transcripts[0].Text())
}

func TestSessionHotWords(t *testing.T) {
	s, _ := newReadySession(t)
	in := audio.Ints(tone(5000, 10))

	decode := func() string {
		text, err := s.Decode(in)
		require.NoError(t, err)
		return text
	}

	assert.Equal(t, "one", decode())
	require.NoError(t, s.Boost("two", 2))
	assert.Equal(t, "two", decode())
	assert.Equal(t, map[string]float32{"two": 2}, s.HotWords())

	require.NoError(t, s.Unboost("two"))
	assert.Equal(t, "one", decode())
	assert.Equal(t, engine.CodeFailEraseHotword, engine.CodeOf(errors.Unwrap(s.Unboost("two"))))

	require.NoError(t, s.Boost("zero", 3))
	require.NoError(t, s.Boost("two", 3))
	require.NoError(t, s.Unboost(""))
	assert.Empty(t, s.HotWords())
	assert.Equal(t, "one", decode())

	var cfgErr *ConfigError
	require.ErrorAs(t, s.Boost(" ", 1), &cfgErr)
	require.ErrorAs(t, s.Boost("one", float32(math.NaN())), &cfgErr)
}

func TestSessionCloseIsIdempotentAndReinitializable(t *testing.T) {
	s, eng := newReadySession(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, Destroyed, s.State())
	assert.Equal(t, 0, eng.liveModels())

	_, err := s.Decode(audio.Ints(silence(1)))
	assert.ErrorIs(t, err, ErrNotInitialized)

	rate, err := s.Init(Config{Model: writeFile(t, "m.model", "x")})
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, Ready, s.State())
}

func TestSessionRecordsTelemetry(t *testing.T) {
	rec := telemetry.NewRecorder(zerolog.Nop())
	s := New(engine.NewReference(zerolog.Nop()), WithRecorder(rec), WithLogger(zerolog.Nop()))
	defer s.Close()

	_, err := s.Init(Config{Model: writeFile(t, "m.model", "x")})
	require.NoError(t, err)
	_, err = s.Decode(audio.Ints(silence(2)))
	require.NoError(t, err)

	st, err := s.NewStream()
	require.NoError(t, err)
	require.NoError(t, st.Feed(audio.Ints(silence(1))))
	_, err = st.Finish()
	require.NoError(t, err)
	st.Destroy()

	snap := rec.Snapshot()
	assert.Equal(t, uint64(1), snap.ModelLoads)
	assert.Equal(t, uint64(1), snap.TotalStreams)
	assert.Equal(t, int64(0), snap.ActiveStreams)
	assert.Equal(t, uint64(1), snap.TotalFinishes)
	assert.Equal(t, uint64(640+320), snap.TotalSamples)
	assert.Equal(t, "reference", s.Backend())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestSessionFailedRestoreFreesBuffer(t *testing.T) {
	eng := newTrackingEngine()
	s := New(eng)
	model := writeFile(t, "a.model", "a")
	_, err := s.Init(Config{Model: model})
	require.NoError(t, err)

	_, err = s.Decode(audio.Ints(make([]int64, 3000)))
	require.NoError(t, err)
	require.Equal(t, 4096, s.BufferCap())

	// the previous model disappears, so it cannot be reloaded either
	require.NoError(t, os.Remove(model))
	_, err = s.Init(Config{Model: filepath.Join(t.TempDir(), "missing.model")})
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)

	assert.Equal(t, Uninitialized, s.State())
	assert.Equal(t, 0, s.BufferCap())
	assert.Equal(t, 0, eng.liveModels())
	require.NoError(t, s.Close())
}
