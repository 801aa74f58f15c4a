// Package ws serves streaming recognition over websocket connections. Each
// connection owns one stream on the shared session.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/obiente/translate/luaspeech/internal/audio"
	"github.com/obiente/translate/luaspeech/internal/session"
	"github.com/obiente/translate/luaspeech/internal/translation"
)

const readTimeout = 60 * time.Second

// Options tune a Server.
type Options struct {
	TranslationEnabled bool
	MaxCandidates      int
}

type Server struct {
	sess       *session.Session
	translator *translation.Client
	opts       Options
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

func NewServer(sess *session.Session, translator *translation.Client, opts Options, logger zerolog.Logger) *Server {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = session.DefaultMaxCandidates
	}
	return &Server{
		sess:       sess,
		translator: translator,
		opts:       opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024 * 16,
			WriteBufferSize: 1024 * 16,
		},
		log: logger.With().Str("component", "ws").Logger(),
	}
}

// conn is the per-connection state.
type conn struct {
	ws     *websocket.Conn
	log    zerolog.Logger
	stream *session.Stream

	sourceLanguage          string
	targetLanguages         []string
	translationAlternatives int
	sequence                int
}

func (c *conn) send(payload map[string]any) {
	if err := c.ws.WriteJSON(payload); err != nil {
		c.log.Warn().Err(err).Interface("type", payload["type"]).Msg("ws write failed")
	}
}

func (c *conn) fail(detail string) {
	c.send(map[string]any{"type": "error", "detail": detail})
}

func (c *conn) release() {
	if c.stream != nil {
		c.stream.Destroy()
		c.stream = nil
	}
}

func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer ws.Close()

	c := &conn{ws: ws, log: s.log.With().Str("remote", r.RemoteAddr).Logger()}
	defer c.release()

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(readTimeout)) })

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("ws read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		if mt != websocket.TextMessage {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			c.fail("invalid json")
			continue
		}
		if stop := s.dispatch(r.Context(), c, msg); stop {
			return
		}
	}
}

// dispatch handles one client message and reports whether the connection
// should end.
func (s *Server) dispatch(ctx context.Context, c *conn, msg map[string]any) bool {
	switch msg["type"] {
	case "ping":
		c.send(map[string]any{"type": "pong", "ts": msg["ts"]})
	case "start":
		s.handleStart(c, msg)
	case "chunk":
		s.handleChunk(c, msg)
	case "decode":
		if !s.ensureStream(c) {
			break
		}
		text, err := c.stream.Decode()
		if err != nil {
			s.streamFailed(c, err)
			break
		}
		c.send(map[string]any{"type": "transcript", "text": text, "isFinal": false, "sequence": c.sequence})
	case "decode_metadata":
		if !s.ensureStream(c) {
			break
		}
		limit := int(asFloat(msg["max_candidates"]))
		if limit <= 0 {
			limit = s.opts.MaxCandidates
		}
		md, err := c.stream.DecodeWithMetadata(limit)
		if err != nil {
			s.streamFailed(c, err)
			break
		}
		c.send(map[string]any{"type": "metadata", "transcripts": md.Transcripts, "sequence": c.sequence})
	case "finish":
		s.handleFinish(ctx, c)
	case "clear":
		if !s.ensureStream(c) {
			break
		}
		if err := c.stream.Clear(); err != nil {
			s.streamFailed(c, err)
			break
		}
		c.send(map[string]any{"type": "cleared"})
	case "boost":
		word, _ := msg["word"].(string)
		if err := s.sess.Boost(word, float32(asFloat(msg["weight"]))); err != nil {
			c.fail(err.Error())
			break
		}
		c.send(map[string]any{"type": "boosted", "word": word})
	case "stop":
		c.release()
		c.send(map[string]any{"type": "stopped"})
		return true
	default:
		c.fail("unknown message type")
	}
	return false
}

func (s *Server) handleStart(c *conn, msg map[string]any) {
	if v, ok := msg["language"].(string); ok {
		c.sourceLanguage = v
	}
	if v, ok := msg["target_languages"].([]any); ok {
		c.targetLanguages = c.targetLanguages[:0]
		for _, lang := range v {
			if l, ok := lang.(string); ok && l != "" {
				c.targetLanguages = append(c.targetLanguages, l)
			}
		}
	}
	if v, ok := msg["translation_alternatives"].(float64); ok {
		c.translationAlternatives = int(v)
	}
	c.release()
	if !s.ensureStream(c) {
		return
	}
	c.log.Info().
		Str("stream_id", c.stream.ID()).
		Str("source_lang", c.sourceLanguage).
		Strs("target_langs", c.targetLanguages).
		Int("alternatives", c.translationAlternatives).
		Msg("stream started")
	c.send(map[string]any{
		"type":        "started",
		"stream_id":   c.stream.ID(),
		"sample_rate": s.sess.SampleRate(),
	})
}

// ensureStream opens a stream lazily, so clients may send chunks without start.
func (s *Server) ensureStream(c *conn) bool {
	if c.stream != nil {
		return true
	}
	st, err := s.sess.NewStream()
	if err != nil {
		c.log.Error().Err(err).Msg("stream create failed")
		c.fail(err.Error())
		return false
	}
	c.stream = st
	c.log = c.log.With().Str("stream_id", st.ID()).Logger()
	return true
}

// streamFailed reports err and drops a stream that can no longer be used.
func (s *Server) streamFailed(c *conn, err error) {
	var createErr *session.StreamCreateError
	if errors.Is(err, session.ErrInvalidState) || errors.As(err, &createErr) {
		c.release()
	}
	c.log.Warn().Err(err).Msg("stream operation failed")
	c.fail(err.Error())
}

func (s *Server) handleChunk(c *conn, msg map[string]any) {
	b64, _ := msg["data"].(string)
	if b64 == "" {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		c.fail("invalid base64 audio")
		return
	}
	samples, sr, err := decodeChunk(raw, msg)
	if err != nil {
		c.log.Warn().Err(err).Msg("audio decode failed")
		c.fail("decode audio failed")
		return
	}
	if !s.ensureStream(c) {
		return
	}
	if rate := s.sess.SampleRate(); len(samples) > 0 && sr > 0 && sr != rate {
		before := len(samples)
		samples = audio.Resample(samples, sr, rate)
		c.log.Debug().Int("before", before).Int("after", len(samples)).Int("sr", sr).Msg("resampled audio")
	}
	if err := c.stream.Feed(audio.PCM(samples, len(samples))); err != nil {
		s.streamFailed(c, err)
		return
	}
	if v, ok := msg["sequence"].(float64); ok {
		c.sequence = int(v)
	}
	c.log.Debug().Int("chunk_samples", len(samples)).Msg("audio chunk received")
}

// decodeChunk accepts PCM16LE (mime types audio/pcm, audio/L16, audio/pcm16)
// or WAV.
func decodeChunk(raw []byte, msg map[string]any) ([]int16, int, error) {
	switch mt, _ := msg["mime_type"].(string); mt {
	case "audio/pcm", "audio/L16", "audio/pcm16":
		samples, err := audio.DecodePCM16LE(raw)
		return samples, int(asFloat(msg["sample_rate"])), err
	default:
		return audio.DecodeWAV(raw)
	}
}

func (s *Server) handleFinish(ctx context.Context, c *conn) {
	if !s.ensureStream(c) {
		return
	}
	text, err := c.stream.Finish()
	if err != nil && text == "" {
		s.streamFailed(c, err)
		return
	}
	payload := map[string]any{
		"type":         "transcript",
		"text":         text,
		"isFinal":      true,
		"sequence":     c.sequence,
		"translations": s.translate(ctx, c, text),
	}
	c.send(payload)
	if err != nil {
		s.streamFailed(c, err)
	}
}

func (s *Server) translate(ctx context.Context, c *conn, text string) map[string]translation.Result {
	if !s.opts.TranslationEnabled || !s.translator.Enabled() || len(c.targetLanguages) == 0 || strings.TrimSpace(text) == "" {
		return map[string]translation.Result{}
	}
	ctx, cancel := context.WithTimeout(ctx, s.translator.Timeout())
	defer cancel()
	alts := c.translationAlternatives
	if alts < 0 {
		alts = 0
	}
	out, err := s.translator.Translate(ctx, text, c.sourceLanguage, c.targetLanguages, alts)
	if err != nil {
		c.log.Warn().Err(err).Str("text", text).Msg("translation request failed")
		return map[string]translation.Result{}
	}
	return out
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	default:
		return 0
	}
}
