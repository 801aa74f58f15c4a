package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/obiente/translate/luaspeech/internal/audio"
	"github.com/obiente/translate/luaspeech/internal/engine"
)

type StreamSuite struct {
	suite.Suite
	eng     *trackingEngine
	session *Session
}

func TestStreamSuite(t *testing.T) {
	suite.Run(t, new(StreamSuite))
}

func (s *StreamSuite) SetupTest() {
	s.eng = newTrackingEngine()
	s.session = New(s.eng)
	_, err := s.session.Init(Config{Model: writeFile(s.T(), "m.model", "model")})
	s.Require().NoError(err)
}

func (s *StreamSuite) TearDownTest() {
	s.Require().NoError(s.session.Close())
}

func (s *StreamSuite) newStream() *Stream {
	st, err := s.session.NewStream()
	s.Require().NoError(err)
	return st
}

func (s *StreamSuite) TestEndToEnd() {
	st := s.newStream()
	s.NotEmpty(st.ID())

	s.Require().NoError(st.Feed(audio.Ints(make([]int64, 1000))))
	text, err := st.Decode()
	s.Require().NoError(err)
	s.Equal("", text)

	text, err = st.Finish()
	s.Require().NoError(err)
	s.Equal("", text)

	err = st.Feed(audio.Ints([]int64{40000}))
	var rangeErr *audio.SampleRangeError
	s.Require().ErrorAs(err, &rangeErr)
	s.Equal(1, rangeErr.Index)
	s.EqualError(err, "Sample #1 (40000) is out of range [-32768,32767]")
}

func (s *StreamSuite) TestFinishRecyclesHandle() {
	st := s.newStream()

	s.Require().NoError(st.Feed(audio.Ints(tone(5000, 5))))
	partial, err := st.Decode()
	s.Require().NoError(err)
	s.Equal("one", partial)

	s.Require().NoError(st.Feed(audio.Ints(concat(silence(2), tone(21000, 5)))))
	text, err := st.Finish()
	s.Require().NoError(err)
	s.Equal("one five", text)

	// the fresh handle starts from nothing
	s.Require().NoError(st.Feed(audio.Ints(tone(13000, 5))))
	text, err = st.Finish()
	s.Require().NoError(err)
	s.Equal("three", text)
	s.Equal(1, s.session.LiveStreams())
}

func (s *StreamSuite) TestClearDropsAudio() {
	st := s.newStream()

	s.Require().NoError(st.Feed(audio.Ints(tone(5000, 5))))
	s.Require().NoError(st.Clear())
	text, err := st.Decode()
	s.Require().NoError(err)
	s.Equal("", text)

	s.Require().NoError(st.Feed(audio.Ints(tone(9000, 5))))
	md, err := st.DecodeWithMetadata(0)
	s.Require().NoError(err)
	s.Len(md.Transcripts, DefaultMaxCandidates)
	s.Equal("two", md.Transcripts[0].Text())

	_, err = st.DecodeWithMetadata(-2)
	var cfgErr *ConfigError
	s.ErrorAs(err, &cfgErr)
}

func (s *StreamSuite) TestDestroyIsTerminal() {
	st := s.newStream()
	other := s.newStream()
	s.Equal(2, s.session.LiveStreams())

	st.Destroy()
	st.Destroy()
	s.Equal(1, s.session.LiveStreams())

	s.ErrorIs(st.Feed(audio.Ints(silence(1))), ErrInvalidState)
	_, err := st.Decode()
	s.ErrorIs(err, ErrInvalidState)
	_, err = st.DecodeWithMetadata(1)
	s.ErrorIs(err, ErrInvalidState)
	_, err = st.Finish()
	s.ErrorIs(err, ErrInvalidState)
	s.ErrorIs(st.Clear(), ErrInvalidState)

	s.Require().NoError(other.Feed(audio.Ints(tone(5000, 5))))
	text, err := other.Finish()
	s.Require().NoError(err)
	s.Equal("one", text)
}

func (s *StreamSuite) TestReinitInvalidatesStreams() {
	st := s.newStream()
	s.Require().NoError(st.Feed(audio.Ints(tone(5000, 5))))

	_, err := s.session.Init(Config{Model: writeFile(s.T(), "b.model", "b")})
	s.Require().NoError(err)

	s.Equal(0, s.session.LiveStreams())
	err = st.Feed(audio.Ints(silence(1)))
	s.ErrorIs(err, ErrInvalidState)
	s.Contains(err.Error(), "model reconfigured")
	st.Destroy()

	s.Equal([]string{"create m.model", "close m.model", "create b.model"}, s.eng.journal())
}

func (s *StreamSuite) TestSessionCloseInvalidatesStreams() {
	st := s.newStream()
	s.Require().NoError(s.session.Close())

	_, err := st.Decode()
	s.ErrorIs(err, ErrInvalidState)
	st.Destroy()
	s.Equal(0, s.eng.liveModels())
}

func (s *StreamSuite) TestRecycleFailureDestroysStream() {
	st := s.newStream()
	s.Require().NoError(st.Feed(audio.Ints(tone(5000, 5))))

	s.eng.setFailStreams(true)
	text, err := st.Finish()
	s.Equal("one", text)
	var createErr *StreamCreateError
	s.Require().ErrorAs(err, &createErr)
	s.Equal(engine.CodeFailCreateStream, engine.CodeOf(createErr.Err))

	s.ErrorIs(st.Feed(audio.Ints(silence(1))), ErrInvalidState)
	s.Equal(0, s.session.LiveStreams())

	_, err = s.session.NewStream()
	s.ErrorAs(err, &createErr)
}

func (s *StreamSuite) TestClearRecycleFailure() {
	st := s.newStream()
	s.eng.setFailStreams(true)

	var createErr *StreamCreateError
	s.ErrorAs(st.Clear(), &createErr)
	_, err := st.Decode()
	s.ErrorIs(err, ErrInvalidState)
}

func TestStreamsShareSessionBuffer(t *testing.T) {
	s, _ := newReadySession(t)
	a, err := s.NewStream()
	require.NoError(t, err)
	b, err := s.NewStream()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	require.NoError(t, a.Feed(audio.Ints(make([]int64, 3000))))
	require.NoError(t, b.Feed(audio.Ints(make([]int64, 10))))
	assert.Equal(t, 4096, s.BufferCap())
}
