package ws

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obiente/translate/luaspeech/internal/engine"
	"github.com/obiente/translate/luaspeech/internal/session"
	"github.com/obiente/translate/luaspeech/internal/translation"
)

func newSession(t *testing.T) *session.Session {
	t.Helper()
	path := filepath.Join(t.TempDir(), "m.model")
	require.NoError(t, os.WriteFile(path, []byte("model"), 0o644))
	s := session.New(engine.NewReference(zerolog.Nop()))
	_, err := s.Init(session.Config{Model: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// pcmTone encodes frames*20ms at 16kHz of alternating samples as PCM16LE.
func pcmTone(amplitude int16, frames int) string {
	buf := make([]byte, frames*320*2)
	for i := 0; i < frames*320; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *Server) *client {
	t.Helper()
	hs := httptest.NewServer(http.HandlerFunc(srv.Handle))
	t.Cleanup(hs.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msg map[string]any) {
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

func (c *client) recv() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(c.t, c.conn.ReadJSON(&msg))
	return msg
}

func TestStreamingSession(t *testing.T) {
	sess := newSession(t)
	c := dial(t, NewServer(sess, nil, Options{}, zerolog.Nop()))

	c.send(map[string]any{"type": "start", "language": "en"})
	started := c.recv()
	assert.Equal(t, "started", started["type"])
	assert.NotEmpty(t, started["stream_id"])
	assert.EqualValues(t, 16000, started["sample_rate"])

	c.send(map[string]any{"type": "chunk", "mime_type": "audio/pcm", "sample_rate": 16000, "data": pcmTone(5000, 5), "sequence": 1})
	c.send(map[string]any{"type": "decode"})
	msg := c.recv()
	assert.Equal(t, "transcript", msg["type"])
	assert.Equal(t, "one", msg["text"])
	assert.Equal(t, false, msg["isFinal"])
	assert.EqualValues(t, 1, msg["sequence"])

	c.send(map[string]any{"type": "decode_metadata", "max_candidates": 2})
	msg = c.recv()
	assert.Equal(t, "metadata", msg["type"])
	transcripts, ok := msg["transcripts"].([]any)
	require.True(t, ok)
	assert.Len(t, transcripts, 2)

	c.send(map[string]any{"type": "finish"})
	msg = c.recv()
	assert.Equal(t, "one", msg["text"])
	assert.Equal(t, true, msg["isFinal"])
	assert.Empty(t, msg["translations"])

	c.send(map[string]any{"type": "chunk", "mime_type": "audio/pcm", "sample_rate": 16000, "data": pcmTone(5000, 5)})
	c.send(map[string]any{"type": "clear"})
	assert.Equal(t, "cleared", c.recv()["type"])
	c.send(map[string]any{"type": "finish"})
	assert.Equal(t, "", c.recv()["text"])

	c.send(map[string]any{"type": "ping", "ts": 42})
	pong := c.recv()
	assert.Equal(t, "pong", pong["type"])
	assert.EqualValues(t, 42, pong["ts"])

	assert.Equal(t, 1, sess.LiveStreams())
	c.send(map[string]any{"type": "stop"})
	assert.Equal(t, "stopped", c.recv()["type"])
	assert.Eventually(t, func() bool { return sess.LiveStreams() == 0 }, time.Second, 10*time.Millisecond)
}

func TestChunkWithoutStartAndResampling(t *testing.T) {
	sess := newSession(t)
	c := dial(t, NewServer(sess, nil, Options{}, zerolog.Nop()))

	// 8kHz input is resampled to the engine rate
	c.send(map[string]any{"type": "chunk", "mime_type": "audio/pcm", "sample_rate": "8000", "data": pcmTone(13000, 5)})
	c.send(map[string]any{"type": "finish"})
	msg := c.recv()
	assert.Equal(t, "transcript", msg["type"])
	assert.Equal(t, "three", msg["text"])
}

func TestBoost(t *testing.T) {
	sess := newSession(t)
	c := dial(t, NewServer(sess, nil, Options{}, zerolog.Nop()))

	c.send(map[string]any{"type": "boost", "word": "two", "weight": 2})
	assert.Equal(t, "boosted", c.recv()["type"])
	assert.Equal(t, map[string]float32{"two": 2}, sess.HotWords())

	c.send(map[string]any{"type": "boost", "word": ""})
	msg := c.recv()
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["detail"], "config.word")
}

func TestProtocolErrors(t *testing.T) {
	c := dial(t, NewServer(newSession(t), nil, Options{}, zerolog.Nop()))

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, map[string]any{"type": "error", "detail": "invalid json"}, c.recv())

	c.send(map[string]any{"type": "dance"})
	assert.Equal(t, "unknown message type", c.recv()["detail"])

	c.send(map[string]any{"type": "chunk", "data": "***"})
	assert.Equal(t, "invalid base64 audio", c.recv()["detail"])

	c.send(map[string]any{"type": "chunk", "data": base64.StdEncoding.EncodeToString([]byte("not a wav"))})
	assert.Equal(t, "decode audio failed", c.recv()["detail"])
}

func TestUninitializedSession(t *testing.T) {
	sess := session.New(engine.NewReference(zerolog.Nop()))
	c := dial(t, NewServer(sess, nil, Options{}, zerolog.Nop()))

	c.send(map[string]any{"type": "start"})
	msg := c.recv()
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, session.ErrNotInitialized.Error(), msg["detail"])
}

func TestFinishTranslates(t *testing.T) {
	lt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"translatedText": "uno"})
	}))
	defer lt.Close()

	sess := newSession(t)
	tr := translation.New(lt.URL, 2, zerolog.Nop())
	c := dial(t, NewServer(sess, tr, Options{TranslationEnabled: true}, zerolog.Nop()))

	c.send(map[string]any{"type": "start", "language": "en", "target_languages": []string{"es"}})
	require.Equal(t, "started", c.recv()["type"])
	c.send(map[string]any{"type": "chunk", "mime_type": "audio/pcm", "sample_rate": 16000, "data": pcmTone(5000, 5)})
	c.send(map[string]any{"type": "finish"})

	msg := c.recv()
	assert.Equal(t, "one", msg["text"])
	translations, ok := msg["translations"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"primary": "uno"}, translations["es"])
}
