package emulator

import (
	"github.com/dop251/goja"
)

func argString(call goja.FunctionCall, i int) string {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func argInt(call goja.FunctionCall, i int, def int64) int64 {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return def
	}
	return v.ToInteger()
}

func argBool(call goja.FunctionCall, i int) bool {
	return call.Argument(i).ToBoolean()
}

func argIsFunction(call goja.FunctionCall, i int) bool {
	_, ok := goja.AssertFunction(call.Argument(i))
	return ok
}

// exportArgs converts the arguments to JSON friendly values for event
// payloads. Objects are reduced to their string form.
func exportArgs(args []goja.Value) []interface{} {
	out := make([]interface{}, 0, len(args))
	for _, a := range args {
		if a == nil || goja.IsUndefined(a) {
			out = append(out, nil)
			continue
		}
		if _, ok := a.(*goja.Object); ok {
			out = append(out, a.String())
			continue
		}
		out = append(out, a.Export())
	}
	return out
}
