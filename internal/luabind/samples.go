package luabind

import (
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/obiente/translate/luaspeech/internal/audio"
)

// checkSamples reads audio starting at argument idx: either an array of
// integers, or a sample buffer followed by a sample count. It returns the
// index of the first argument after the audio.
func checkSamples(L *lua.LState, idx int) (audio.Input, int) {
	switch v := L.Get(idx).(type) {
	case *lua.LTable:
		values, err := tableSamples(v)
		if err != nil {
			raise(L, err)
		}
		return audio.Ints(values), idx + 1
	case *lua.LUserData:
		if buf, ok := v.Value.(*Buffer); ok {
			return audio.PCM(buf.samples, L.CheckInt(idx+1)), idx + 2
		}
	}
	L.ArgError(idx, "Expected a table or sample buffer for audio sample data")
	return audio.Input{}, idx
}

// tableSamples reads the array part of t. Values that are not numbers read as
// zero and fractions are truncated toward zero. A value outside the 16-bit
// range, NaN included, is reported as written.
func tableSamples(t *lua.LTable) ([]int64, error) {
	n := t.Len()
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		raw := float64(lua.LVAsNumber(t.RawGetInt(i + 1)))
		f := math.Trunc(raw)
		if math.IsNaN(f) || f < math.MinInt16 || f > math.MaxInt16 {
			err := &audio.SampleRangeError{Index: i + 1, Text: strconv.FormatFloat(raw, 'g', -1, 64)}
			if f > math.MinInt64 && f < math.MaxInt64 {
				err.Value = int64(f)
			}
			return nil, err
		}
		out[i] = int64(f)
	}
	return out, nil
}
