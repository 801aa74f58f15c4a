package luabind

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/obiente/translate/luaspeech/internal/engine"
)

// projectMetadata converts md into an array of candidate tables:
//
//	{ confidence = n, text = s, tokens = { { text = s, time = n, timestep = n }, ... } }
//
// Candidates and tokens keep the engine order.
func projectMetadata(L *lua.LState, md *engine.Metadata) *lua.LTable {
	out := L.NewTable()
	if md == nil {
		return out
	}
	for _, cand := range md.Transcripts {
		tokens := L.CreateTable(len(cand.Tokens), 0)
		for _, tok := range cand.Tokens {
			t := L.CreateTable(0, 3)
			t.RawSetString("text", lua.LString(tok.Text))
			t.RawSetString("time", lua.LNumber(tok.StartTime))
			t.RawSetString("timestep", lua.LNumber(tok.Timestep))
			tokens.Append(t)
		}
		c := L.CreateTable(0, 3)
		c.RawSetString("confidence", lua.LNumber(cand.Confidence))
		c.RawSetString("text", lua.LString(cand.Text()))
		c.RawSetString("tokens", tokens)
		out.Append(c)
	}
	return out
}
