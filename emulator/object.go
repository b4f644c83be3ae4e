package emulator

import (
	"strings"

	"github.com/dop251/goja"
)

// Object is an emulated automation object. Property names are folded to
// lower case on every access since the host resolves member names without
// regard to case.
type Object struct {
	scope   *Scope
	class   string
	names   []string
	known   map[string]bool
	props   map[string]goja.Value
	getters map[string]func() goja.Value
	setters map[string]func(goja.Value)
	value   *goja.Object

	// Data is the Go-side state of the object, if any.
	Data interface{}
}

func (s *Scope) newObject(class string) *Object {
	return &Object{
		scope:   s,
		class:   class,
		known:   make(map[string]bool),
		props:   make(map[string]goja.Value),
		getters: make(map[string]func() goja.Value),
		setters: make(map[string]func(goja.Value)),
	}
}

// Class is the automation class name used in logs.
func (o *Object) Class() string { return o.class }

// Value returns the script-visible handle of o.
func (o *Object) Value() *goja.Object {
	if o.value == nil {
		o.value = o.scope.rt.NewDynamicObject(o)
	}
	return o.value
}

// Method installs a native method guarded against Go failures.
func (o *Object) Method(name string, fn func(call goja.FunctionCall) goja.Value) *Object {
	label := o.class + "." + name
	o.define(name)
	o.props[strings.ToLower(name)] = o.scope.rt.ToValue(o.scope.guard(label, fn))
	return o
}

// Prop sets a plain data property.
func (o *Object) Prop(name string, v interface{}) *Object {
	o.define(name)
	o.props[strings.ToLower(name)] = o.scope.rt.ToValue(v)
	return o
}

// Accessor installs a computed property. set may be nil for read-only
// properties; assignments to those are ignored.
func (o *Object) Accessor(name string, get func() goja.Value, set func(goja.Value)) *Object {
	key := strings.ToLower(name)
	o.define(name)
	o.getters[key] = get
	if set != nil {
		o.setters[key] = set
	} else {
		o.setters[key] = func(goja.Value) {}
	}
	return o
}

// Tag makes the typeof helper report t for this object.
func (o *Object) Tag(t string) *Object {
	o.scope.tag(o.Value(), t)
	return o
}

// Lookup returns the value of a property as seen by the script.
func (o *Object) Lookup(name string) goja.Value {
	v := o.Get(name)
	if v == nil {
		return goja.Undefined()
	}
	return v
}

// Text returns a property converted to a string, empty when unset.
func (o *Object) Text(name string) string {
	v := o.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func (o *Object) define(name string) {
	key := strings.ToLower(name)
	if o.known[key] {
		return
	}
	o.known[key] = true
	o.names = append(o.names, name)
}

// Get implements goja.DynamicObject.
func (o *Object) Get(key string) goja.Value {
	key = strings.ToLower(key)
	if get, ok := o.getters[key]; ok {
		return get()
	}
	if v, ok := o.props[key]; ok {
		return v
	}
	return nil
}

// Set implements goja.DynamicObject.
func (o *Object) Set(key string, val goja.Value) bool {
	lower := strings.ToLower(key)
	if set, ok := o.setters[lower]; ok {
		set(val)
		return true
	}
	o.define(key)
	o.props[lower] = val
	return true
}

// Has implements goja.DynamicObject.
func (o *Object) Has(key string) bool {
	key = strings.ToLower(key)
	if _, ok := o.getters[key]; ok {
		return true
	}
	_, ok := o.props[key]
	return ok
}

// Delete implements goja.DynamicObject.
func (o *Object) Delete(key string) bool {
	key = strings.ToLower(key)
	delete(o.props, key)
	delete(o.getters, key)
	delete(o.setters, key)
	return true
}

// Keys implements goja.DynamicObject.
func (o *Object) Keys() []string {
	keys := make([]string, 0, len(o.names))
	for _, name := range o.names {
		if o.Has(name) {
			keys = append(keys, name)
		}
	}
	return keys
}

// unwrap returns the emulated object behind a script value.
func unwrap(v goja.Value) (*Object, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	o, ok := obj.Export().(*Object)
	return o, ok
}
