package script

import (
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/keylightctl/internal/actions"
)

// keylightModule exposes the controller to Lua:
//
//	local keylight = require("keylight")
//	keylight.macro("dim", function()
//	  for _ = 1, 10 do keylight.enqueue("brightness_down") end
//	end)
type keylightModule struct {
	runtime *Runtime
}

// Loader is the module loader for Lua
func (m *keylightModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "macro", L.NewFunction(m.macro))
	L.SetField(mod, "enqueue", L.NewFunction(m.enqueue))
	L.SetField(mod, "actions", L.NewFunction(m.actions))

	L.Push(mod)
	return 1
}

// macro(name, fn) defines a macro that hotkeys and D-Bus can run
func (m *keylightModule) macro(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	if name == "" {
		L.ArgError(1, "macro name must not be empty")
		return 0
	}

	m.runtime.defineMacro(name, fn)
	log.Debug().Str("macro", name).Msg("Lua macro defined")
	return 0
}

// enqueue(action) queues an action; returns false if the controller stopped
func (m *keylightModule) enqueue(L *lua.LState) int {
	action, err := actions.Parse(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	L.Push(lua.LBool(m.runtime.enqueuer.Enqueue(action, actions.SourceScript)))
	return 1
}

// actions() returns the list of action names
func (m *keylightModule) actions(L *lua.LState) int {
	tbl := L.NewTable()
	for _, name := range m.runtime.enqueuer.Actions() {
		tbl.Append(lua.LString(name))
	}
	L.Push(tbl)
	return 1
}
