// Package emulator builds the execution scope a sample runs against: the
// WScript host object, the ActiveXObject factory with every emulated
// automation object, browser stand-ins and the dispatch helpers the rewrite
// pipeline inserts. Side effects are reported to an ioc.Recorder instead of
// being performed.
package emulator

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/arturoeanton/wshbox/cache"
	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/literals"
	"github.com/arturoeanton/wshbox/logger"
	"github.com/arturoeanton/wshbox/rewrite"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/dop251/goja_nodejs/util"
)

// Options configures the emulated host.
type Options struct {
	ScriptEngine   string // Host executable reported by WScript.Name
	ScriptName     string
	ScriptFullName string
	Arguments      []string
	LocationURL    string
	UserAgent      string

	// Rewrite is applied to dynamically generated code before it runs.
	// When nil generated code runs unchanged.
	Rewrite func(code string) (string, error)

	Cache  *cache.Cache
	Logger *logger.Logger
}

// DefaultOptions returns the identity of a stock wscript.exe host.
func DefaultOptions() Options {
	return Options{
		ScriptEngine:   literals.DEFAULT_ENGINE,
		ScriptName:     literals.SCRIPT_NAME,
		ScriptFullName: literals.SCRIPT_FULLNAME,
		LocationURL:    literals.LOCATION_URL,
		UserAgent:      literals.USER_AGENT,
	}
}

// Scope is the per-run execution scope. It is bound to a single goja
// runtime and must only be used from the goroutine running it.
type Scope struct {
	rt       *goja.Runtime
	rec      ioc.Recorder
	opts     Options
	log      *logger.Logger
	registry *Registry
	fs       *VirtualFS
	env      map[string]string
	hive     map[string]string
	tags     map[*goja.Object]string
	streams  map[*textStream]struct{}
	cache    *cache.Cache
	ownCache bool
	offset   time.Duration
	timerID  int64

	wscript  *Object
	document *Object
	window   *Object
	location *Object
}

const prelude = `
ReferenceError.prototype.toString = function() { return "[object Error]"; };
Object.defineProperty(Array.prototype, "Count", {
	value: function() { return this.length; },
	writable: true, configurable: true, enumerable: false
});
Array.prototype.reduce = function() { throw "CScript JScript has no Array.reduce() method."; };
`

// NewScope installs the emulated host into rt.
func NewScope(rt *goja.Runtime, rec ioc.Recorder, opts Options) (*Scope, error) {
	def := DefaultOptions()
	if opts.ScriptEngine == "" {
		opts.ScriptEngine = def.ScriptEngine
	}
	if opts.ScriptName == "" {
		opts.ScriptName = def.ScriptName
	}
	if opts.ScriptFullName == "" {
		opts.ScriptFullName = def.ScriptFullName
	}
	if opts.LocationURL == "" {
		opts.LocationURL = def.LocationURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	s := &Scope{
		rt:       rt,
		rec:      rec,
		opts:     opts,
		log:      opts.Logger,
		registry: DefaultRegistry(),
		fs:       NewVirtualFS(),
		env:      defaultEnvironment(),
		hive:     make(map[string]string),
		tags:     make(map[*goja.Object]string),
		streams:  make(map[*textStream]struct{}),
		cache:    opts.Cache,
	}
	if s.log == nil {
		s.log = logger.Std()
	}
	if s.cache == nil {
		s.cache = cache.NewCache(10*time.Minute, 256)
		s.ownCache = true
	}

	rt.SetTimeSource(s.now)

	if err := s.installConsole(); err != nil {
		return nil, err
	}
	s.installHelpers()
	s.installGlobals()
	s.installWScript()
	s.installBrowser()

	if _, err := rt.RunString(prelude); err != nil {
		return nil, fmt.Errorf("installing prelude: %w", err)
	}
	return s, nil
}

// Runtime returns the interpreter the scope is installed in.
func (s *Scope) Runtime() *goja.Runtime { return s.rt }

// Registry returns the automation object registry.
func (s *Scope) Registry() *Registry { return s.registry }

// FS returns the virtual filesystem shared by the emulated objects.
func (s *Scope) FS() *VirtualFS { return s.fs }

// Logger returns the logger used by the emulated objects.
func (s *Scope) Logger() *logger.Logger { return s.log }

// Close flushes text streams the script left open and releases the
// rewrite cache when the scope owns it.
func (s *Scope) Close() {
	for ts := range s.streams {
		ts.close()
	}
	if s.ownCache {
		s.cache.Close()
	}
}

func (s *Scope) now() time.Time {
	return time.Now().Add(s.offset)
}

// scriptPrinter routes the console module to the logger.
type scriptPrinter struct {
	log *logger.Logger
}

func (p scriptPrinter) Log(msg string)   { p.log.Info("Script output: " + msg) }
func (p scriptPrinter) Warn(msg string)  { p.log.Warn("Script output: " + msg) }
func (p scriptPrinter) Error(msg string) { p.log.Error("Script output: " + msg) }

func (s *Scope) installConsole() error {
	registry := new(require.Registry)
	registry.RegisterNativeModule("console", console.RequireWithPrinter(scriptPrinter{log: s.log}))
	registry.RegisterNativeModule("util", util.Require)
	registry.Enable(s.rt)
	console.Enable(s.rt)

	// Samples get no module loader.
	if err := s.rt.GlobalObject().Delete("require"); err != nil {
		return fmt.Errorf("removing require from the sandbox: %w", err)
	}
	return nil
}

func (s *Scope) installHelpers() {
	s.rt.Set(rewrite.HelperCall, s.dispatch)
	s.rt.Set(rewrite.HelperCallThis, s.dispatchThis)
	s.rt.Set(rewrite.HelperTypeof, s.typeOf)
	s.rt.Set(rewrite.HelperEval, s.evalHook)
}

// dispatch backs rewritten plain calls.
func (s *Scope) dispatch(call goja.FunctionCall) goja.Value {
	target := call.Argument(0)
	fn, ok := goja.AssertFunction(target)
	if !ok {
		return target
	}
	name := functionName(target)
	return s.rt.ToValue(func(inner goja.FunctionCall) goja.Value {
		s.log.Debugf("Calling %s", name)
		ret, err := fn(goja.Undefined(), inner.Arguments...)
		if err != nil {
			s.rethrow(err)
		}
		return ret
	})
}

// dispatchThis backs rewritten method calls, keeping the receiver.
func (s *Scope) dispatchThis(call goja.FunctionCall) goja.Value {
	recv := call.Argument(0)
	key := call.Argument(1)
	if goja.IsUndefined(recv) || goja.IsNull(recv) {
		panic(s.rt.NewTypeError("Cannot read property '%s' of %s", key.String(), recv.String()))
	}
	obj := recv.ToObject(s.rt)
	var member goja.Value
	if sym, ok := key.(*goja.Symbol); ok {
		member = obj.GetSymbol(sym)
	} else {
		member = obj.Get(key.String())
	}
	if member == nil {
		return goja.Undefined()
	}
	fn, ok := goja.AssertFunction(member)
	if !ok {
		return member
	}
	name := key.String()
	return s.rt.ToValue(func(inner goja.FunctionCall) goja.Value {
		s.log.Debugf("Calling method %s", name)
		ret, err := fn(recv, inner.Arguments...)
		if err != nil {
			s.rethrow(err)
		}
		return ret
	})
}

func functionName(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if name := obj.Get("name"); name != nil && name.String() != "" {
			return name.String()
		}
	}
	return "<anonymous>"
}

// typeOf reports the type tag an emulated value claims, falling back to
// the native typeof.
func (s *Scope) typeOf(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	if obj, ok := v.(*goja.Object); ok {
		if t, ok := s.tags[obj]; ok {
			return s.rt.ToValue(t)
		}
	}
	return s.rt.ToValue(nativeTypeof(v))
}

func (s *Scope) tag(obj *goja.Object, t string) {
	s.tags[obj] = t
}

func nativeTypeof(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "object"
	}
	switch v.(type) {
	case *goja.Object:
		if _, ok := goja.AssertFunction(v); ok {
			return "function"
		}
		return "object"
	case *goja.Symbol:
		return "symbol"
	}
	switch v.ExportType().Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Float32, reflect.Float64:
		return "number"
	}
	if _, ok := v.Export().(*big.Int); ok {
		return "bigint"
	}
	return "object"
}

// evalHook receives the argument of every eval call. The text is recorded
// before anything else happens to it, then rewritten.
func (s *Scope) evalHook(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	code, ok := primitiveString(arg)
	if !ok {
		return arg
	}
	s.rec.RecordGeneratedSource("eval", code)
	return s.rt.ToValue(s.rewrite(code))
}

func primitiveString(v goja.Value) (string, bool) {
	if v == nil {
		return "", false
	}
	if _, isObj := v.(*goja.Object); isObj {
		return "", false
	}
	if v.ExportType() == nil || v.ExportType().Kind() != reflect.String {
		return "", false
	}
	return v.String(), true
}

func (s *Scope) rewrite(code string) string {
	if s.opts.Rewrite == nil {
		return code
	}
	out, err := s.cache.GetOrCompute(cache.KeyFor("rewrite", code), func() (interface{}, error) {
		return s.opts.Rewrite(code)
	})
	if err != nil {
		s.log.Warnf("Could not rewrite generated code, running it unchanged: %v", err)
		return code
	}
	return out.(string)
}

// RunGenerated records code produced at run time, passes it through the
// rewrite hook and runs it in the global scope.
func (s *Scope) RunGenerated(origin, code string) (goja.Value, error) {
	s.rec.RecordGeneratedSource(origin, code)
	return s.rt.RunString(s.rewrite(code))
}

// runNested runs generated code from inside a native call. Script errors
// are logged and swallowed; interruptions keep unwinding the outer run.
func (s *Scope) runNested(origin, code string) goja.Value {
	v, err := s.RunGenerated(origin, code)
	if err != nil {
		s.propagate(err)
		s.log.Warnf("Error in code generated by %s: %v", origin, err)
		return goja.Undefined()
	}
	return v
}

// callback invokes a script function from native code.
func (s *Scope) callback(origin string, fn goja.Value, this goja.Value, args ...goja.Value) goja.Value {
	f, ok := goja.AssertFunction(fn)
	if !ok {
		return goja.Undefined()
	}
	ret, err := f(this, args...)
	if err != nil {
		s.propagate(err)
		s.log.Warnf("Error in %s callback: %v", origin, err)
		return goja.Undefined()
	}
	return ret
}

// propagate re-raises uncatchable errors so they reach the outermost run.
func (s *Scope) propagate(err error) {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		panic(ie)
	}
	var so *goja.StackOverflowError
	if errors.As(err, &so) {
		panic(so)
	}
}

// rethrow re-raises err as if the failing call had thrown it directly.
func (s *Scope) rethrow(err error) {
	s.propagate(err)
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(s.rt.NewGoError(err))
}

// guard turns Go failures inside an emulated method into a neutral
// result. Script exceptions and interruptions pass through.
func (s *Scope) guard(name string, fn func(goja.FunctionCall) goja.Value) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) (ret goja.Value) {
		defer func() {
			if r := recover(); r != nil {
				if passThrough(r) {
					panic(r)
				}
				s.log.Warnf("%s failed: %v", name, r)
				ret = goja.Undefined()
			}
		}()
		s.log.Debugf("%s called", name)
		ret = fn(call)
		if ret == nil {
			ret = goja.Undefined()
		}
		return ret
	}
}

func passThrough(r interface{}) bool {
	switch r.(type) {
	case goja.Value, *goja.Exception, *goja.InterruptedError, *goja.StackOverflowError:
		return true
	}
	return false
}

// CreateAutomationObject instantiates an emulated automation object by
// ProgID. Unknown names yield an *UnknownObjectError.
func (s *Scope) CreateAutomationObject(name string) (*goja.Object, error) {
	s.log.Verbosef("New ActiveXObject: %s", name)
	factory, ok := s.registry.Lookup(name)
	if !ok {
		return nil, &UnknownObjectError{Name: name}
	}
	return factory(s).Value(), nil
}

// createOrAbort backs ActiveXObject and WScript.CreateObject. An unknown
// object stops the whole run; the script cannot catch it.
func (s *Scope) createOrAbort(name string) *goja.Object {
	obj, err := s.CreateAutomationObject(name)
	if err != nil {
		s.log.Error(err.Error())
		s.rt.Interrupt(err)
		return s.rt.NewObject()
	}
	return obj
}

func (s *Scope) quit(code int) {
	s.log.Info("The sample called WScript.Quit(). Exiting.")
	s.rec.Record(ioc.CategoryQuit, map[string]interface{}{"code": code}, "The script called WScript.Quit().")
	s.rt.Interrupt(&QuitSignal{Code: code})
}

func (s *Scope) sleep(ms int64) {
	if ms < 0 {
		ms = 0
	}
	s.offset += time.Duration(ms) * time.Millisecond
	s.rec.Record(ioc.CategorySleep, map[string]interface{}{"milliseconds": ms}, "The script slept.")
}

func (s *Scope) expandEnvironment(text string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(text, '%')
		if start < 0 {
			break
		}
		end := strings.IndexByte(text[start+1:], '%')
		if end < 0 {
			break
		}
		name := text[start+1 : start+1+end]
		if v, ok := s.env[strings.ToUpper(name)]; ok {
			b.WriteString(text[:start])
			b.WriteString(v)
		} else {
			b.WriteString(text[:start+end+2])
		}
		text = text[start+end+2:]
	}
	b.WriteString(text)
	return b.String()
}

func defaultEnvironment() map[string]string {
	return map[string]string{
		"ALLUSERSPROFILE":        `C:\ProgramData`,
		"APPDATA":                literals.APPDATA,
		"COMPUTERNAME":           literals.COMPUTER_NAME,
		"COMSPEC":                literals.SYSTEM_DIR + "cmd.exe",
		"HOMEDRIVE":              "C:",
		"HOMEPATH":               strings.TrimPrefix(literals.USER_PROFILE, "C:"),
		"LOCALAPPDATA":           literals.LOCALAPPDATA,
		"NUMBER_OF_PROCESSORS":   "4",
		"OS":                     "Windows_NT",
		"PATH":                   literals.SYSTEM_DIR + ";" + literals.WINDOWS_DIR,
		"PROCESSOR_ARCHITECTURE": "AMD64",
		"PROGRAMDATA":            `C:\ProgramData`,
		"PROGRAMFILES":           literals.PROGRAM_FILES,
		"PUBLIC":                 literals.PUBLIC_DIR,
		"SYSTEMDRIVE":            "C:",
		"SYSTEMROOT":             literals.WINDOWS_DIR,
		"TEMP":                   literals.TEMP_DIR,
		"TMP":                    literals.TEMP_DIR,
		"USERDOMAIN":             literals.USER_DOMAIN,
		"USERNAME":               literals.USER_NAME,
		"USERPROFILE":            literals.USER_PROFILE,
		"WINDIR":                 literals.WINDOWS_DIR,
	}
}
