package plugin

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// LoadLua runs the Lua file at path and registers every descriptor it
// passes to register{...}. It returns the descriptors registered. When a
// call fails, descriptors registered by earlier calls are kept.
func (r *Registry) LoadLua(path string) ([]Descriptor, error) {
	L := newState()
	defer L.Close()

	var added []Descriptor
	L.SetGlobal("register", L.NewFunction(func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		d := Descriptor{
			Name:         fieldString(tbl, "name"),
			Command:      fieldString(tbl, "command"),
			Args:         fieldStrings(tbl, "args"),
			Env:          fieldMap(tbl, "env"),
			Languages:    fieldStrings(tbl, "languages"),
			FilePatterns: fieldStrings(tbl, "file_patterns"),
			Source:       path,
		}
		if err := r.Register(d); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		added = append(added, d)
		return 0
	}))

	if err := L.DoFile(path); err != nil {
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) && apiErr.Type == lua.ApiErrorFile {
			return added, fmt.Errorf("load plugin %s: %w", path, err)
		}
		return added, fmt.Errorf("run plugin %s: %w", path, err)
	}
	return added, nil
}

// LoadLua loads a plugin file into the default registry.
func LoadLua(path string) ([]Descriptor, error) {
	return defaultRegistry.LoadLua(path)
}

// newState creates a Lua state with only the safe standard libraries.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func fieldString(tbl *lua.LTable, key string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func fieldStrings(tbl *lua.LTable, key string) []string {
	list, ok := tbl.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	for i := 1; i <= list.Len(); i++ {
		if s, ok := list.RawGetInt(i).(lua.LString); ok {
			out = append(out, string(s))
		}
	}
	return out
}

func fieldMap(tbl *lua.LTable, key string) map[string]string {
	m, ok := tbl.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	m.ForEach(func(k, v lua.LValue) {
		ks, kok := k.(lua.LString)
		vs, vok := v.(lua.LString)
		if kok && vok {
			out[string(ks)] = string(vs)
		}
	})
	return out
}
