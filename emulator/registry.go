package emulator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a fresh emulated object inside a scope.
type Factory func(s *Scope) *Object

// UnknownObjectError is returned when a script asks for an automation
// object the registry does not model.
type UnknownObjectError struct {
	Name string
}

func (e *UnknownObjectError) Error() string {
	return fmt.Sprintf("Unknown ActiveXObject %s", e.Name)
}

// QuitSignal interrupts the run when the script calls WScript.Quit.
type QuitSignal struct {
	Code int
}

func (q *QuitSignal) Error() string {
	return fmt.Sprintf("script called WScript.Quit(%d)", q.Code)
}

type pattern struct {
	substr  string
	factory Factory
}

// Registry maps ProgIDs to factories. Names are matched case-insensitively:
// patterns by substring in registration order, everything else exactly.
type Registry struct {
	mu       sync.RWMutex
	patterns []pattern
	exact    map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]Factory)}
}

// Register binds an exact ProgID.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[strings.ToLower(name)] = f
}

// RegisterPattern binds every ProgID containing substr.
func (r *Registry) RegisterPattern(substr string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern{substr: strings.ToLower(substr), factory: f})
}

// Lookup resolves name to a factory.
func (r *Registry) Lookup(name string) (Factory, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if strings.Contains(name, p.substr) {
			return p.factory, true
		}
	}
	f, ok := r.exact[name]
	return f, ok
}

// Names lists the registered ProgIDs and patterns.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.exact)+len(r.patterns))
	for _, p := range r.patterns {
		names = append(names, "*"+p.substr+"*")
	}
	for name := range r.exact {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns the registry of every emulated object.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterPattern("xmlhttp", newHTTPRequest)
	r.RegisterPattern("winhttprequest", newHTTPRequest)
	r.RegisterPattern("dom", newXMLDocument)

	r.Register("windowsinstaller.installer", newInstaller)
	r.Register("adodb.stream", newADODBStream)
	r.Register("adodb.recordset", newADODBRecordset)
	r.Register("adodb.connection", newADODBConnection)
	r.Register("scriptcontrol", newScriptControl)
	r.Register("msscriptcontrol.scriptcontrol", newScriptControl)
	r.Register("scripting.filesystemobject", newFileSystemObject)
	r.Register("scripting.dictionary", newDictionary)
	r.Register("shell.application", newShellApplication)
	r.Register("internetexplorer.application", newInternetExplorer)
	r.Register("wscript.network", newNetwork)
	r.Register("wscript.shell", newShell)
	r.Register("wbemscripting.swbemlocator", newWbemLocator)
	r.Register("schedule.service", newScheduleService)
	return r
}
