package emulator

import (
	"strings"

	"github.com/arturoeanton/wshbox/ioc"

	"github.com/dop251/goja"
)

// newScriptControl emulates MSScriptControl.ScriptControl. JScript code
// added to it runs in the sandbox itself; other languages are only
// reported.
func newScriptControl(s *Scope) *Object {
	o := s.newObject("ScriptControl")
	o.Prop("Language", "JScript")
	o.Prop("AllowUI", false)
	o.Prop("Timeout", -1)

	jscript := func() bool {
		lang := strings.ToLower(o.Text("Language"))
		return lang == "" || strings.Contains(lang, "jscript") || strings.Contains(lang, "javascript")
	}
	run := func(method, code string) goja.Value {
		s.rec.Record(ioc.CategoryScriptControl, map[string]interface{}{
			"method":   method,
			"language": o.Text("Language"),
			"code":     code,
		}, "The script ran code through a script control.")
		if !jscript() {
			s.rec.RecordGeneratedSource("ScriptControl."+method, code)
			s.log.Warnf("ScriptControl language %s is not emulated", o.Text("Language"))
			return goja.Undefined()
		}
		return s.runNested("ScriptControl."+method, code)
	}

	o.Method("AddCode", func(call goja.FunctionCall) goja.Value {
		run("AddCode", argString(call, 0))
		return goja.Undefined()
	})
	o.Method("ExecuteStatement", func(call goja.FunctionCall) goja.Value {
		run("ExecuteStatement", argString(call, 0))
		return goja.Undefined()
	})
	o.Method("Eval", func(call goja.FunctionCall) goja.Value {
		return run("Eval", argString(call, 0))
	})
	o.Method("Run", func(call goja.FunctionCall) goja.Value {
		name := argString(call, 0)
		fn := s.rt.GlobalObject().Get(name)
		var args []goja.Value
		if len(call.Arguments) > 1 {
			args = call.Arguments[1:]
		}
		return s.callback("ScriptControl.Run", fn, goja.Undefined(), args...)
	})
	o.Method("Reset", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return o
}
