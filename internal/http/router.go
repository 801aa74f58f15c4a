package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/luaspeech/internal/audio"
	"github.com/obiente/translate/luaspeech/internal/session"
	"github.com/obiente/translate/luaspeech/internal/telemetry"
	"github.com/obiente/translate/luaspeech/internal/ws"
)

// maxUploadBytes bounds one-shot decode bodies.
const maxUploadBytes = 32 << 20

// Deps are the components the router serves.
type Deps struct {
	Session   *session.Session
	Recorder  *telemetry.Recorder
	Streaming *ws.Server
	Logger    zerolog.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Logger.With().Str("component", "http").Logger()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":           true,
			"ready":        d.Session.State() == session.Ready,
			"sample_rate":  d.Session.SampleRate(),
			"backend":      d.Session.Backend(),
			"live_streams": d.Session.LiveStreams(),
			"telemetry":    d.Recorder.Snapshot(),
		})
	})
	mux.HandleFunc("/v1/decode", func(w http.ResponseWriter, r *http.Request) {
		handleDecode(w, r, d.Session, log)
	})
	if d.Streaming != nil {
		mux.HandleFunc("/ws/stream", d.Streaming.Handle)
	}
	return mux
}

func handleDecode(w http.ResponseWriter, r *http.Request, sess *session.Session, log zerolog.Logger) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	maxCandidates := 0
	if v := q.Get("max_candidates"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "max_candidates must be a positive integer")
			return
		}
		maxCandidates = n
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	var (
		samples []int16
		rate    int
	)
	if ct := r.Header.Get("Content-Type"); strings.HasPrefix(ct, "audio/pcm") || strings.HasPrefix(ct, "audio/L16") {
		samples, err = audio.DecodePCM16LE(body)
		rate, _ = strconv.Atoi(q.Get("sample_rate"))
	} else {
		samples, rate, err = audio.DecodeWAV(body)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "decode audio failed: "+err.Error())
		return
	}
	if target := sess.SampleRate(); rate > 0 && target > 0 && rate != target {
		samples = audio.Resample(samples, rate, target)
	}
	in := audio.PCM(samples, len(samples))

	if maxCandidates == 0 {
		text, err := sess.Decode(in)
		if err != nil {
			writeSessionError(w, err, log)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"text": text})
		return
	}
	md, err := sess.DecodeWithMetadata(in, maxCandidates)
	if err != nil {
		writeSessionError(w, err, log)
		return
	}
	text := ""
	if len(md.Transcripts) > 0 {
		text = md.Transcripts[0].Text()
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text, "transcripts": md.Transcripts})
}

func writeSessionError(w http.ResponseWriter, err error, log zerolog.Logger) {
	var cfgErr *session.ConfigError
	switch {
	case errors.Is(err, session.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, audio.ErrInvalidInput), errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("decode failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"error": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
