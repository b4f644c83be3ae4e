package emulator

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/literals"

	"github.com/dop251/goja"
)

func (s *Scope) installGlobals() {
	rt := s.rt

	rt.Set("ActiveXObject", func(call goja.ConstructorCall) *goja.Object {
		return s.createOrAbort(call.Argument(0).String())
	})
	rt.Set("GetObject", s.guard("GetObject", func(call goja.FunctionCall) goja.Value {
		return s.getObject(argString(call, 0), argString(call, 1))
	}))
	rt.Set("Enumerator", func(call goja.ConstructorCall) *goja.Object {
		return s.newEnumerator(call.Argument(0)).Value()
	})
	rt.Set("VBArray", func(call goja.ConstructorCall) *goja.Object {
		return s.newVBArray(call.Argument(0)).Value()
	})
	rt.Set("Blob", func(call goja.ConstructorCall) *goja.Object {
		return s.newBlob(call.Argument(0), call.Argument(1)).Value()
	})
	rt.Set("XMLHttpRequest", func(call goja.ConstructorCall) *goja.Object {
		return newHTTPRequest(s).Value()
	})

	rt.Set("ScriptEngine", func(goja.FunctionCall) goja.Value {
		return rt.ToValue(literals.SCRIPT_ENGINE)
	})
	rt.Set("ScriptEngineMajorVersion", func(goja.FunctionCall) goja.Value {
		return rt.ToValue(literals.SCRIPT_ENGINE_MAJOR)
	})
	rt.Set("ScriptEngineMinorVersion", func(goja.FunctionCall) goja.Value {
		return rt.ToValue(literals.SCRIPT_ENGINE_MINOR)
	})
	rt.Set("ScriptEngineBuildVersion", func(goja.FunctionCall) goja.Value {
		return rt.ToValue(literals.SCRIPT_ENGINE_BUILD)
	})

	rt.Set("alert", func(call goja.FunctionCall) goja.Value {
		s.log.Verbosef("Script alert: %s", argString(call, 0))
		return goja.Undefined()
	})
	rt.Set("InstallProduct", s.guard("InstallProduct", func(call goja.FunctionCall) goja.Value {
		s.installProduct(argString(call, 0), argString(call, 1))
		return goja.Undefined()
	}))
	rt.Set("saveAs", s.guard("saveAs", func(call goja.FunctionCall) goja.Value {
		s.dropFile("saveAs", argString(call, 1), s.bytesOf(call.Argument(0)))
		return goja.Undefined()
	}))

	rt.Set("setTimeout", s.setTimeout)
	rt.Set("setInterval", func(goja.FunctionCall) goja.Value {
		s.timerID++
		return rt.ToValue(s.timerID)
	})
	rt.Set("clearTimeout", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	rt.Set("clearInterval", func(goja.FunctionCall) goja.Value { return goja.Undefined() })

	rt.Set("atob", s.atob)
	rt.Set("btoa", s.btoa)
}

// setTimeout runs the callback at once; the sandbox does not model the
// passage of time for scheduled callbacks.
func (s *Scope) setTimeout(call goja.FunctionCall) goja.Value {
	if !isNumber(call.Argument(1)) {
		panic(s.rt.NewTypeError("time is not a number."))
	}
	s.timerID++
	cb := call.Argument(0)
	if fn, ok := goja.AssertFunction(cb); ok {
		var extra []goja.Value
		if len(call.Arguments) > 2 {
			extra = call.Arguments[2:]
		}
		if _, err := fn(goja.Undefined(), extra...); err != nil {
			s.rethrow(err)
		}
		return s.rt.ToValue(s.timerID)
	}
	if code, ok := primitiveString(cb); ok {
		s.runNested("setTimeout", code)
		return s.rt.ToValue(s.timerID)
	}
	panic(s.rt.NewTypeError("Callback must be a function"))
}

func isNumber(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	if _, ok := v.(*goja.Object); ok {
		return false
	}
	switch v.ExportType().Kind() {
	case reflect.Int, reflect.Int64, reflect.Float64:
		return true
	}
	return false
}

func (s *Scope) atob(call goja.FunctionCall) goja.Value {
	out, ok := atob(call.Argument(0).String())
	if !ok {
		return goja.Null()
	}
	return s.rt.ToValue(out)
}

func (s *Scope) btoa(call goja.FunctionCall) goja.Value {
	out, ok := btoa(call.Argument(0).String())
	if !ok {
		panic(s.rt.NewTypeError("InvalidCharacterError: the string contains characters outside of the Latin1 range"))
	}
	return s.rt.ToValue(out)
}

// dropFile stores a file the script wrote and reports it.
func (s *Scope) dropFile(origin, path string, data []byte) {
	s.fs.Write(path, data)
	res := s.rec.RecordFile(path, data)
	s.rec.Record(ioc.CategoryFileWrite, map[string]interface{}{
		"path":   path,
		"size":   len(data),
		"sha256": res.SHA256,
		"type":   res.MIMEType,
		"origin": origin,
	}, "The script wrote a file.")
}

func (s *Scope) installProduct(url, properties string) {
	s.rec.Record(ioc.CategoryInstaller, map[string]interface{}{
		"url":        url,
		"properties": properties,
	}, "The script installed an MSI package.")
	s.rec.RecordURL("InstallProduct", url)
}

// getObject emulates GetObject monikers.
func (s *Scope) getObject(path, progID string) goja.Value {
	lower := strings.ToLower(path)
	switch {
	case strings.HasPrefix(lower, "winmgmts:"):
		return s.wmiMoniker(path)
	case strings.HasPrefix(lower, "script:"), strings.HasPrefix(lower, "scriptlet:"):
		url := path[strings.IndexByte(path, ':')+1:]
		s.rec.Record(ioc.CategoryNetworkRequest, map[string]interface{}{
			"method": "GetObject",
			"url":    url,
		}, "The script loaded a remote scriptlet.")
		s.rec.RecordURL("GetObject", url)
		return s.newObject("Scriptlet").Value()
	case strings.HasPrefix(lower, "new:"):
		return s.createOrAbort(path[4:])
	}
	if progID != "" {
		return s.createOrAbort(progID)
	}
	s.log.Warnf("GetObject(%q) is not emulated", path)
	return s.newObject("Moniker").Value()
}

// collection is implemented by emulated objects that can be enumerated.
type collection interface {
	items() []goja.Value
}

const maxCollection = 1 << 20

// collectionItems reads the members of anything an Enumerator accepts:
// arrays, emulated collections and objects with length or Count.
func (s *Scope) collectionItems(v goja.Value) []goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	if o, ok := unwrap(v); ok {
		if c, ok := o.Data.(collection); ok {
			return c.items()
		}
	}
	n := obj.Get("length")
	if n == nil || goja.IsUndefined(n) {
		n = obj.Get("Count")
		if fn, ok := goja.AssertFunction(n); ok {
			ret, err := fn(obj)
			if err != nil {
				s.propagate(err)
				return nil
			}
			n = ret
		}
	}
	if n == nil || goja.IsUndefined(n) {
		return nil
	}
	count := n.ToInteger()
	if count > maxCollection {
		count = maxCollection
	}
	itemFn, hasItem := goja.AssertFunction(obj.Get("Item"))
	out := make([]goja.Value, 0, count)
	for i := int64(0); i < count; i++ {
		var item goja.Value
		if hasItem && obj.ClassName() != "Array" {
			ret, err := itemFn(obj, s.rt.ToValue(i))
			if err != nil {
				s.propagate(err)
				ret = goja.Undefined()
			}
			item = ret
		} else {
			item = obj.Get(strconv.FormatInt(i, 10))
		}
		if item == nil {
			item = goja.Undefined()
		}
		out = append(out, item)
	}
	return out
}

func (s *Scope) newEnumerator(col goja.Value) *Object {
	items := s.collectionItems(col)
	idx := 0
	o := s.newObject("Enumerator")
	o.Method("atEnd", func(goja.FunctionCall) goja.Value {
		return s.rt.ToValue(idx >= len(items))
	})
	o.Method("moveNext", func(goja.FunctionCall) goja.Value {
		idx++
		return goja.Undefined()
	})
	o.Method("moveFirst", func(goja.FunctionCall) goja.Value {
		idx = 0
		return goja.Undefined()
	})
	o.Method("item", func(goja.FunctionCall) goja.Value {
		if idx >= len(items) {
			return goja.Undefined()
		}
		return items[idx]
	})
	return o
}

func (s *Scope) newVBArray(v goja.Value) *Object {
	items := s.collectionItems(v)
	o := s.newObject("VBArray")
	o.Method("toArray", func(goja.FunctionCall) goja.Value {
		return s.array(items)
	})
	o.Method("getItem", func(call goja.FunctionCall) goja.Value {
		i := argInt(call, 0, 0)
		if i < 0 || i >= int64(len(items)) {
			return goja.Undefined()
		}
		return items[i]
	})
	o.Method("lbound", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(0) })
	o.Method("ubound", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(len(items) - 1) })
	o.Method("dimensions", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(1) })
	return o
}

func (s *Scope) array(items []goja.Value) *goja.Object {
	vals := make([]interface{}, len(items))
	for i, it := range items {
		vals[i] = it
	}
	return s.rt.NewArray(vals...)
}

type blob struct {
	data []byte
	mime string
}

func (s *Scope) newBlob(parts goja.Value, options goja.Value) *Object {
	b := &blob{}
	for _, part := range s.collectionItems(parts) {
		b.data = append(b.data, s.bytesOf(part)...)
	}
	if obj, ok := options.(*goja.Object); ok {
		if t := obj.Get("type"); t != nil && !goja.IsUndefined(t) {
			b.mime = t.String()
		}
	}
	o := s.newObject("Blob")
	o.Data = b
	o.Accessor("size", func() goja.Value { return s.rt.ToValue(len(b.data)) }, nil)
	o.Accessor("type", func() goja.Value { return s.rt.ToValue(b.mime) }, nil)
	o.Method("text", func(goja.FunctionCall) goja.Value {
		return s.rt.ToValue(latin1String(b.data))
	})
	return o
}
