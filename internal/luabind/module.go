// Package luabind exposes a speech session to Lua scripts as the "speech"
// module.
package luabind

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/obiente/translate/luaspeech/internal/session"
)

const (
	// ModuleName is the name scripts pass to require.
	ModuleName = "speech"

	streamTypeName = "speech.stream"
	bufferTypeName = "speech.buffer"
)

// Module binds one session to any number of Lua states.
type Module struct {
	session *session.Session
	log     zerolog.Logger
}

// New returns a module driving s.
func New(s *session.Session, logger zerolog.Logger) *Module {
	return &Module{
		session: s,
		log:     logger.With().Str("component", "luabind").Logger(),
	}
}

// Session returns the bound session.
func (m *Module) Session() *session.Session { return m.session }

// Preload makes require("speech") available in L.
func (m *Module) Preload(L *lua.LState) {
	L.PreloadModule(ModuleName, m.loader)
}

// Close releases the session and every stream still alive. Lua states have no
// finalizers, so hosts call Close when they are done with the scripts.
func (m *Module) Close() {
	if err := m.session.Close(); err != nil {
		m.log.Warn().Err(err).Msg("session close failed")
	}
}

// Run executes the script at path with args exposed as the global table arg.
func (m *Module) Run(ctx context.Context, path string, args []string) error {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	m.Preload(L)

	argv := L.NewTable()
	argv.RawSetInt(0, lua.LString(path))
	for _, a := range args {
		argv.Append(lua.LString(a))
	}
	L.SetGlobal("arg", argv)

	m.log.Debug().Str("script", path).Int("args", len(args)).Msg("running script")
	return L.DoFile(path)
}

func (m *Module) loader(L *lua.LState) int {
	m.registerStreamType(L)
	registerBufferType(L)

	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"init":               m.luaInit,
		"decode":             m.luaDecode,
		"decodeWithMetadata": m.luaDecodeWithMetadata,
		"boost":              m.luaBoost,
		"unboost":            m.luaUnboost,
		"newStream":          m.luaNewStream,
		"sampleRate":         m.luaSampleRate,
		"destroy":            m.luaDestroy,
		"load":               m.luaLoad,
		"pack":               luaPack,
	})
	L.Push(mod)
	return 1
}

// raise turns err into a Lua error. It does not return.
func raise(L *lua.LState, err error) int {
	L.RaiseError("%s", err.Error())
	return 0
}

func (m *Module) luaInit(L *lua.LState) int {
	tbl, ok := L.Get(1).(*lua.LTable)
	if !ok {
		L.ArgError(1, "Expected config to be a table")
		return 0
	}
	cfg, err := configFromTable(tbl)
	if err != nil {
		return raise(L, err)
	}
	rate, err := m.session.Init(cfg)
	if err != nil {
		var cfgErr *session.ConfigError
		if errors.As(err, &cfgErr) {
			return raise(L, err)
		}
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	L.Push(lua.LNumber(rate))
	return 2
}

func configFromTable(tbl *lua.LTable) (session.Config, error) {
	var cfg session.Config
	var err error
	if cfg.Model, err = stringField(tbl, "model"); err != nil {
		return cfg, err
	}
	if cfg.Scorer, err = stringField(tbl, "scorer"); err != nil {
		return cfg, err
	}
	// an absent beamWidth keeps the engine default; a given one must be >= 1
	if tbl.RawGetString("beamWidth") != lua.LNil {
		beam, err := numberField(tbl, "beamWidth")
		if err != nil {
			return cfg, err
		}
		if beam < 1 || beam != math.Trunc(beam) || beam > math.MaxInt32 {
			return cfg, &session.ConfigError{Field: "beamWidth", Reason: "should be a positive integer"}
		}
		cfg.BeamWidth = int(beam)
	}
	alpha, err := numberField(tbl, "alpha")
	if err != nil {
		return cfg, err
	}
	beta, err := numberField(tbl, "beta")
	if err != nil {
		return cfg, err
	}
	cfg.Alpha, cfg.Beta = float32(alpha), float32(beta)

	switch hw := tbl.RawGetString("hotWords").(type) {
	case *lua.LNilType:
	case *lua.LTable:
		cfg.HotWords = map[string]float32{}
		var bad error
		hw.ForEach(func(k, v lua.LValue) {
			if bad != nil {
				return
			}
			word, ok := k.(lua.LString)
			boost, isNum := v.(lua.LNumber)
			if !ok || !isNum {
				bad = &session.ConfigError{Field: "hotWords", Reason: "should map words to numbers"}
				return
			}
			cfg.HotWords[string(word)] = float32(boost)
		})
		if bad != nil {
			return cfg, bad
		}
	default:
		return cfg, &session.ConfigError{Field: "hotWords", Reason: "should be a table"}
	}
	return cfg, nil
}

func stringField(tbl *lua.LTable, name string) (string, error) {
	switch v := tbl.RawGetString(name).(type) {
	case *lua.LNilType:
		return "", nil
	case lua.LString:
		return string(v), nil
	default:
		return "", &session.ConfigError{Field: name, Reason: "should be a string"}
	}
}

func numberField(tbl *lua.LTable, name string) (float64, error) {
	switch v := tbl.RawGetString(name).(type) {
	case *lua.LNilType:
		return 0, nil
	case lua.LNumber:
		return float64(v), nil
	default:
		return 0, &session.ConfigError{Field: name, Reason: "should be a number"}
	}
}

func (m *Module) luaDecode(L *lua.LState) int {
	in, _ := checkSamples(L, 1)
	text, err := m.session.Decode(in)
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LString(text))
	return 1
}

func (m *Module) luaDecodeWithMetadata(L *lua.LState) int {
	in, next := checkSamples(L, 1)
	md, err := m.session.DecodeWithMetadata(in, optMaxCandidates(L, next))
	if err != nil {
		return raise(L, err)
	}
	L.Push(projectMetadata(L, md))
	return 1
}

// optMaxCandidates reads an optional candidate limit. Absent selects the
// default; a given limit must be at least 1.
func optMaxCandidates(L *lua.LState, idx int) int {
	if L.Get(idx) == lua.LNil {
		return 0
	}
	n := L.CheckNumber(idx)
	if n < 1 || float64(n) != math.Trunc(float64(n)) || n > math.MaxInt32 {
		raise(L, &session.ConfigError{Field: "maxCandidates", Reason: "should be at least 1"})
	}
	return int(n)
}

func (m *Module) luaBoost(L *lua.LState) int {
	word := L.CheckString(1)
	weight := L.CheckNumber(2)
	if err := m.session.Boost(word, float32(weight)); err != nil {
		return raise(L, err)
	}
	return 0
}

func (m *Module) luaUnboost(L *lua.LState) int {
	if err := m.session.Unboost(L.OptString(1, "")); err != nil {
		return raise(L, err)
	}
	return 0
}

func (m *Module) luaSampleRate(L *lua.LState) int {
	L.Push(lua.LNumber(m.session.SampleRate()))
	return 1
}

func (m *Module) luaDestroy(L *lua.LState) int {
	if err := m.session.Close(); err != nil {
		m.log.Warn().Err(err).Msg("session close failed")
	}
	return 0
}

func (m *Module) luaLoad(L *lua.LState) int {
	path := L.CheckString(1)
	buf, err := loadWAV(path, m.session.SampleRate())
	if err != nil {
		return raise(L, fmt.Errorf("speech.load: %w", err))
	}
	L.Push(newBufferUserData(L, buf))
	L.Push(lua.LNumber(len(buf.samples)))
	return 2
}
