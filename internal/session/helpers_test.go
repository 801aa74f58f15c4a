package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/obiente/translate/luaspeech/internal/engine"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// tone returns frames*20ms of alternating samples at amplitude.
func tone(amplitude int16, frames int) []int64 {
	out := make([]int64, frames*320)
	for i := range out {
		if i%2 == 0 {
			out[i] = int64(amplitude)
		} else {
			out[i] = -int64(amplitude)
		}
	}
	return out
}

func silence(frames int) []int64 { return make([]int64, frames*320) }

func concat(parts ...[]int64) []int64 {
	var out []int64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// trackingEngine wraps the reference engine and journals model lifetimes.
type trackingEngine struct {
	inner engine.Engine

	mu          sync.Mutex
	events      []string
	live        int
	failStreams bool
}

func newTrackingEngine() *trackingEngine {
	return &trackingEngine{inner: engine.NewReference(zerolog.Nop())}
}

func (e *trackingEngine) Name() string { return "tracking" }

func (e *trackingEngine) CreateModel(path string, beamWidth int) (engine.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "create "+filepath.Base(path))
	m, err := e.inner.CreateModel(path, beamWidth)
	if err != nil {
		return nil, err
	}
	e.live++
	return &trackingModel{Model: m, engine: e, name: filepath.Base(path)}, nil
}

func (e *trackingEngine) setFailStreams(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failStreams = v
}

func (e *trackingEngine) journal() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *trackingEngine) liveModels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

type trackingModel struct {
	engine.Model
	engine *trackingEngine
	name   string
}

func (m *trackingModel) NewStream() (engine.Stream, error) {
	m.engine.mu.Lock()
	fail := m.engine.failStreams
	m.engine.mu.Unlock()
	if fail {
		return nil, engine.NewError("CreateStream", engine.CodeFailCreateStream)
	}
	return m.Model.NewStream()
}

func (m *trackingModel) Close() error {
	m.engine.mu.Lock()
	m.engine.events = append(m.engine.events, "close "+m.name)
	m.engine.live--
	m.engine.mu.Unlock()
	return m.Model.Close()
}
