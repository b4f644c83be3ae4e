package emulator

import (
	"strings"

	"github.com/arturoeanton/wshbox/literals"

	"github.com/dop251/goja"
)

func (s *Scope) installWScript() {
	s.wscript = s.newWScript()
	s.rt.Set("WScript", s.wscript.Value())
	s.rt.Set("WSH", s.wscript.Value())
}

// WScript returns the emulated host object.
func (s *Scope) WScript() *Object { return s.wscript }

func (s *Scope) newWScript() *Object {
	o := s.newObject("WScript")
	engine := s.opts.ScriptEngine

	o.Prop("Name", engine)
	o.Prop("FullName", literals.SYSTEM_DIR+engine)
	o.Prop("Path", literals.SCRIPT_DIR)
	o.Prop("ScriptName", s.opts.ScriptName)
	o.Prop("ScriptFullName", s.opts.ScriptFullName)
	o.Prop("Version", literals.HOST_VERSION)
	o.Prop("BuildVersion", literals.HOST_BUILDVERSION)
	o.Prop("Interactive", true)
	o.Prop("Timeout", 0)

	o.Method("toString", func(goja.FunctionCall) goja.Value {
		return s.rt.ToValue(literals.HOST_NAME)
	})
	o.Method("Echo", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		s.log.Info("Script output: " + strings.Join(parts, " "))
		return goja.Undefined()
	})
	o.Method("Sleep", func(call goja.FunctionCall) goja.Value {
		s.sleep(argInt(call, 0, 0))
		return goja.Undefined()
	})
	o.Method("Quit", func(call goja.FunctionCall) goja.Value {
		s.quit(int(argInt(call, 0, 0)))
		return goja.Undefined()
	})
	o.Method("CreateObject", func(call goja.FunctionCall) goja.Value {
		return s.createOrAbort(argString(call, 0))
	})
	o.Method("GetObject", func(call goja.FunctionCall) goja.Value {
		return s.getObject(argString(call, 0), argString(call, 1))
	})
	o.Method("ConnectObject", func(goja.FunctionCall) goja.Value {
		s.log.Error("WScript.ConnectObject not implemented")
		return goja.Undefined()
	})
	o.Method("DisconnectObject", func(goja.FunctionCall) goja.Value {
		s.log.Error("WScript.DisconnectObject not implemented")
		return goja.Undefined()
	})

	args := s.newArguments()
	o.Accessor("Arguments", func() goja.Value { return args }, nil)

	stdout := s.newConsoleStream("StdOut", s.log.Info)
	stderr := s.newConsoleStream("StdErr", s.log.Warn)
	stdin := s.newInputStream()
	o.Accessor("StdOut", func() goja.Value { return stdout.Value() }, nil)
	o.Accessor("StdErr", func() goja.Value { return stderr.Value() }, nil)
	o.Accessor("StdIn", func() goja.Value { return stdin.Value() }, nil)
	return o
}

// newArguments builds WScript.Arguments. It is callable, as the host lets
// scripts write WScript.Arguments(0).
func (s *Scope) newArguments() *goja.Object {
	argv := s.opts.Arguments
	item := func(call goja.FunctionCall) goja.Value {
		i := argInt(call, 0, 0)
		if i < 0 || i >= int64(len(argv)) {
			return goja.Undefined()
		}
		return s.rt.ToValue(argv[i])
	}
	fn := s.rt.ToValue(item).(*goja.Object)
	_ = fn.DefineDataProperty("length", s.rt.ToValue(len(argv)), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	_ = fn.Set("Item", item)
	_ = fn.Set("Count", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(len(argv)) })

	values := make([]interface{}, len(argv))
	for i, a := range argv {
		values[i] = a
	}
	_ = fn.Set("Unnamed", s.rt.NewArray(values...))

	named := s.newObject("WshNamed")
	named.Prop("length", 0)
	named.Method("Count", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(0) })
	named.Method("Exists", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(false) })
	named.Method("Item", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = fn.Set("Named", named.Value())

	usage := s.rt.ToValue(func(goja.FunctionCall) goja.Value { return goja.Undefined() }).(*goja.Object)
	s.tag(usage, "unknown")
	_ = fn.Set("ShowUsage", usage)
	return fn
}

func (s *Scope) newConsoleStream(name string, sink func(args ...interface{})) *Object {
	o := s.newObject(name)
	o.Method("Write", func(call goja.FunctionCall) goja.Value {
		sink("Script output: " + argString(call, 0))
		return goja.Undefined()
	})
	o.Method("WriteLine", func(call goja.FunctionCall) goja.Value {
		sink("Script output: " + argString(call, 0))
		return goja.Undefined()
	})
	o.Method("WriteBlankLines", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("Close", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return o
}

func (s *Scope) newInputStream() *Object {
	o := s.newObject("StdIn")
	empty := func(goja.FunctionCall) goja.Value { return s.rt.ToValue("") }
	o.Method("Read", empty)
	o.Method("ReadLine", empty)
	o.Method("ReadAll", empty)
	o.Prop("AtEndOfStream", true)
	o.Prop("AtEndOfLine", true)
	o.Method("Close", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return o
}
