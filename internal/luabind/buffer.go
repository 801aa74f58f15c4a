package luabind

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/obiente/translate/luaspeech/internal/audio"
)

// Buffer is native 16-bit audio owned by Lua. Passing it with a count skips
// per-sample validation.
type Buffer struct {
	samples []int16
	rate    int
}

// Samples returns the buffer contents.
func (b *Buffer) Samples() []int16 { return b.samples }

func registerBufferType(L *lua.LState) {
	mt := L.NewTypeMetatable(bufferTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"len":        bufferLen,
		"get":        bufferGet,
		"sampleRate": bufferSampleRate,
	}))
	L.SetField(mt, "__len", L.NewFunction(bufferLen))
	L.SetField(mt, "__tostring", L.NewFunction(bufferToString))
}

func newBufferUserData(L *lua.LState, b *Buffer) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = b
	L.SetMetatable(ud, L.GetTypeMetatable(bufferTypeName))
	return ud
}

func checkBuffer(L *lua.LState, idx int) *Buffer {
	ud := L.CheckUserData(idx)
	if b, ok := ud.Value.(*Buffer); ok {
		return b
	}
	L.ArgError(idx, "sample buffer expected")
	return nil
}

func bufferLen(L *lua.LState) int {
	L.Push(lua.LNumber(len(checkBuffer(L, 1).samples)))
	return 1
}

func bufferGet(L *lua.LState) int {
	b := checkBuffer(L, 1)
	i := L.CheckInt(2)
	if i < 1 || i > len(b.samples) {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(b.samples[i-1]))
	return 1
}

func bufferSampleRate(L *lua.LState) int {
	L.Push(lua.LNumber(checkBuffer(L, 1).rate))
	return 1
}

func bufferToString(L *lua.LState) int {
	b := checkBuffer(L, 1)
	L.Push(lua.LString(fmt.Sprintf("speech.buffer(%d samples)", len(b.samples))))
	return 1
}

// luaPack copies an integer array into a sample buffer.
func luaPack(L *lua.LState) int {
	values, err := tableSamples(L.CheckTable(1))
	if err != nil {
		return raise(L, err)
	}
	samples := make([]int16, len(values))
	for i, v := range values {
		samples[i] = int16(v)
	}
	L.Push(newBufferUserData(L, &Buffer{samples: samples}))
	L.Push(lua.LNumber(len(samples)))
	return 2
}

// loadWAV reads a WAV file, resampling it to rate when rate is known.
func loadWAV(path string, rate int) (*Buffer, error) {
	samples, fileRate, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	if rate > 0 && fileRate != rate {
		samples = audio.Resample(samples, fileRate, rate)
		fileRate = rate
	}
	return &Buffer{samples: samples, rate: fileRate}, nil
}
