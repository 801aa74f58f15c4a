package luabind

import (
	"errors"
	"runtime"

	lua "github.com/yuin/gopher-lua"

	"github.com/obiente/translate/luaspeech/internal/session"
)

func (m *Module) registerStreamType(L *lua.LState) {
	mt := L.NewTypeMetatable(streamTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"feed":               streamFeed,
		"decode":             streamDecode,
		"decodeWithMetadata": streamDecodeWithMetadata,
		"finish":             streamFinish,
		"clear":              streamClear,
		"destroy":            streamDestroy,
		"id":                 streamID,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(streamID))
}

// luaStream is the userdata payload. Session keeps *session.Stream reachable
// through its registry, so the finalizer sits on this wrapper, which only Lua
// references.
type luaStream struct {
	st *session.Stream
}

func (m *Module) luaNewStream(L *lua.LState) int {
	st, err := m.session.NewStream()
	if err != nil {
		return raise(L, err)
	}
	ls := &luaStream{st: st}
	runtime.SetFinalizer(ls, func(ls *luaStream) { ls.st.Destroy() })
	ud := L.NewUserData()
	ud.Value = ls
	L.SetMetatable(ud, L.GetTypeMetatable(streamTypeName))
	L.Push(ud)
	return 1
}

func checkStream(L *lua.LState) *session.Stream {
	ud := L.CheckUserData(1)
	if ls, ok := ud.Value.(*luaStream); ok {
		return ls.st
	}
	L.ArgError(1, "stream expected")
	return nil
}

func streamFeed(L *lua.LState) int {
	st := checkStream(L)
	in, _ := checkSamples(L, 2)
	if err := st.Feed(in); err != nil {
		return raise(L, err)
	}
	return 0
}

func streamDecode(L *lua.LState) int {
	text, err := checkStream(L).Decode()
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LString(text))
	return 1
}

func streamDecodeWithMetadata(L *lua.LState) int {
	st := checkStream(L)
	md, err := st.DecodeWithMetadata(optMaxCandidates(L, 2))
	if err != nil {
		return raise(L, err)
	}
	L.Push(projectMetadata(L, md))
	return 1
}

// streamFinish returns the final text. When the stream could not be rebound
// afterwards the text is followed by the error message and the stream is dead.
func streamFinish(L *lua.LState) int {
	text, err := checkStream(L).Finish()
	var createErr *session.StreamCreateError
	switch {
	case err == nil:
		L.Push(lua.LString(text))
		return 1
	case errors.As(err, &createErr):
		L.Push(lua.LString(text))
		L.Push(lua.LString(err.Error()))
		return 2
	}
	return raise(L, err)
}

func streamClear(L *lua.LState) int {
	if err := checkStream(L).Clear(); err != nil {
		return raise(L, err)
	}
	return 0
}

func streamDestroy(L *lua.LState) int {
	checkStream(L).Destroy()
	return 0
}

func streamID(L *lua.LState) int {
	L.Push(lua.LString(checkStream(L).ID()))
	return 1
}
