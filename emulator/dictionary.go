package emulator

import (
	"strings"

	"github.com/dop251/goja"
)

type dictionary struct {
	keys        []goja.Value
	values      map[string]goja.Value
	compareMode int64
}

func (d *dictionary) key(k goja.Value) string {
	str := k.String()
	if d.compareMode == 1 {
		return strings.ToLower(str)
	}
	return str
}

func (d *dictionary) items() []goja.Value { return d.keys }

func (d *dictionary) remove(k string) {
	for i, existing := range d.keys {
		if d.key(existing) == k {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	delete(d.values, k)
}

// newDictionary emulates Scripting.Dictionary. Enumerating it yields the
// keys in insertion order.
func newDictionary(s *Scope) *Object {
	o := s.newObject("Scripting.Dictionary")
	d := &dictionary{values: map[string]goja.Value{}}
	o.Data = d

	o.Method("Add", func(call goja.FunctionCall) goja.Value {
		k := d.key(call.Argument(0))
		if _, ok := d.values[k]; ok {
			panic(s.rt.NewGoError(&duplicateKeyError{key: call.Argument(0).String()}))
		}
		d.keys = append(d.keys, call.Argument(0))
		d.values[k] = call.Argument(1)
		return goja.Undefined()
	})
	o.Method("Exists", func(call goja.FunctionCall) goja.Value {
		_, ok := d.values[d.key(call.Argument(0))]
		return s.rt.ToValue(ok)
	})
	o.Method("Item", func(call goja.FunctionCall) goja.Value {
		k := d.key(call.Argument(0))
		if len(call.Arguments) > 1 {
			if _, ok := d.values[k]; !ok {
				d.keys = append(d.keys, call.Argument(0))
			}
			d.values[k] = call.Argument(1)
			return goja.Undefined()
		}
		if v, ok := d.values[k]; ok {
			return v
		}
		// Reading a missing key adds it, as the host does.
		d.keys = append(d.keys, call.Argument(0))
		d.values[k] = goja.Undefined()
		return goja.Undefined()
	})
	o.Method("Items", func(goja.FunctionCall) goja.Value {
		out := make([]goja.Value, len(d.keys))
		for i, k := range d.keys {
			out[i] = d.values[d.key(k)]
		}
		return s.array(out)
	})
	o.Method("Keys", func(goja.FunctionCall) goja.Value {
		return s.array(append([]goja.Value(nil), d.keys...))
	})
	o.Method("Key", func(call goja.FunctionCall) goja.Value {
		old, renamed := d.key(call.Argument(0)), call.Argument(1)
		v, ok := d.values[old]
		if !ok {
			return goja.Undefined()
		}
		d.remove(old)
		d.keys = append(d.keys, renamed)
		d.values[d.key(renamed)] = v
		return goja.Undefined()
	})
	o.Method("Remove", func(call goja.FunctionCall) goja.Value {
		d.remove(d.key(call.Argument(0)))
		return goja.Undefined()
	})
	o.Method("RemoveAll", func(goja.FunctionCall) goja.Value {
		d.keys = nil
		d.values = map[string]goja.Value{}
		return goja.Undefined()
	})
	o.Accessor("Count", func() goja.Value { return s.rt.ToValue(len(d.keys)) }, nil)
	o.Accessor("CompareMode", func() goja.Value { return s.rt.ToValue(d.compareMode) }, func(v goja.Value) {
		d.compareMode = v.ToInteger()
	})
	return o
}

type duplicateKeyError struct {
	key string
}

func (e *duplicateKeyError) Error() string {
	return "This key is already associated with an element of this collection: " + e.key
}
