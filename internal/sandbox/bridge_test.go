package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestToGoScalars(t *testing.T) {
	tests := []struct {
		name string
		in   lua.LValue
		want any
	}{
		{"nil", lua.LNil, nil},
		{"true", lua.LTrue, true},
		{"integer", lua.LNumber(5), int64(5)},
		{"float", lua.LNumber(2.5), 2.5},
		{"string", lua.LString("abc"), "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toGo(tt.in))
		})
	}
}

func TestToGoSequenceTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.Append(lua.LNumber(1))
	tbl.Append(lua.LString("two"))
	tbl.Append(lua.LTrue)

	assert.Equal(t, []any{int64(1), "two", true}, toGo(tbl))
}

func TestToGoMapTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("name", lua.LString("lantern"))
	tbl.RawSetString("lit", lua.LTrue)

	assert.Equal(t, map[string]any{"name": "lantern", "lit": true}, toGo(tbl))
}

func TestToGoNestedTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	inner := L.NewTable()
	inner.Append(lua.LNumber(1))
	inner.Append(lua.LNumber(2))

	outer := L.NewTable()
	outer.RawSetString("items", inner)

	assert.Equal(t, map[string]any{"items": []any{int64(1), int64(2)}}, toGo(outer))
}

func TestToGoCircularTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("self", tbl)

	got, ok := toGo(tbl).(map[string]any)
	require.True(t, ok)
	assert.Nil(t, got["self"])
}

func TestToLuaRoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		in   any
	}{
		{"bool", true},
		{"int64", int64(7)},
		{"float", 1.25},
		{"string", "hello"},
		{"slice", []any{int64(1), "a"}},
		{"map", map[string]any{"k": int64(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.in, toGo(toLua(L, tt.in)))
		})
	}
}

func TestToLuaNil(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	assert.Equal(t, lua.LNil, toLua(L, nil))
}

func TestToLuaStringSlice(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	assert.Equal(t, []any{"a", "b"}, toGo(toLua(L, []string{"a", "b"})))
}

func TestToLuaUnsupportedTypeNeverUserdata(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	type opaque struct{ n int }
	v := toLua(L, opaque{n: 3})
	_, isString := v.(lua.LString)
	assert.True(t, isString)
}
