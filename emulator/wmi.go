package emulator

import (
	"regexp"
	"strings"

	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/literals"

	"github.com/dop251/goja"
)

var wqlClass = regexp.MustCompile(`(?i)\bfrom\s+(\w+)`)

// Instances WMI queries answer with, keyed by lower-cased class name.
// Properties look like an ordinary workstation so environment checks pass.
var wmiInstances = map[string][]map[string]interface{}{
	"win32_operatingsystem": {{
		"Caption":        "Microsoft Windows 7 Professional",
		"Version":        "6.1.7601",
		"OSArchitecture": "64-bit",
		"CSName":         literals.COMPUTER_NAME,
		"OSLanguage":     1033,
	}},
	"win32_computersystem": {{
		"Name":                literals.COMPUTER_NAME,
		"Manufacturer":        "Dell Inc.",
		"Model":               "OptiPlex 7010",
		"TotalPhysicalMemory": "8589934592",
		"UserName":            literals.USER_DOMAIN + `\` + literals.USER_NAME,
		"Domain":              "WORKGROUP",
	}},
	"win32_processor": {{
		"Name":          "Intel(R) Core(TM) i5-3470 CPU @ 3.20GHz",
		"NumberOfCores": 4,
	}},
	"win32_process": {
		{"Name": "explorer.exe", "ProcessId": 1840, "CommandLine": literals.WINDOWS_DIR + `\explorer.exe`},
		{"Name": literals.DEFAULT_ENGINE, "ProcessId": literals.FAKE_PID, "CommandLine": literals.SYSTEM_DIR + literals.DEFAULT_ENGINE},
	},
}

// newWbemLocator emulates WbemScripting.SWbemLocator.
func newWbemLocator(s *Scope) *Object {
	o := s.newObject("WbemScripting.SWbemLocator")
	o.Method("ConnectServer", func(call goja.FunctionCall) goja.Value {
		return s.newWbemServices(argString(call, 0), argString(call, 1)).Value()
	})
	return o
}

// wmiMoniker resolves GetObject("winmgmts:...").
func (s *Scope) wmiMoniker(path string) goja.Value {
	rest := path[len("winmgmts:"):]
	if i := strings.IndexByte(rest, '!'); i >= 0 {
		rest = rest[i+1:]
	}
	rest = strings.TrimLeft(rest, `\/`)
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		return s.wmiGet(".", rest[:i], rest[i+1:])
	}
	if strings.HasPrefix(strings.ToLower(rest), "win32_") {
		return s.wmiGet(".", `root\cimv2`, rest)
	}
	return s.newWbemServices(".", rest).Value()
}

func (s *Scope) newWbemServices(server, namespace string) *Object {
	o := s.newObject("SWbemServices")
	query := func(wql string) goja.Value {
		s.rec.Record(ioc.CategoryWMIQuery, map[string]interface{}{
			"server":    server,
			"namespace": namespace,
			"query":     wql,
		}, "The script ran a WMI query.")
		var items []goja.Value
		if m := wqlClass.FindStringSubmatch(wql); m != nil {
			for _, props := range wmiInstances[strings.ToLower(m[1])] {
				items = append(items, s.newWbemObject(m[1], props).Value())
			}
		}
		return s.newCollection("SWbemObjectSet", items).Value()
	}
	o.Method("ExecQuery", func(call goja.FunctionCall) goja.Value {
		return query(argString(call, 0))
	})
	o.Method("InstancesOf", func(call goja.FunctionCall) goja.Value {
		return query("SELECT * FROM " + argString(call, 0))
	})
	o.Method("Get", func(call goja.FunctionCall) goja.Value {
		return s.wmiGet(server, namespace, argString(call, 0))
	})
	return o
}

func (s *Scope) wmiGet(server, namespace, path string) goja.Value {
	class := path
	if i := strings.IndexAny(class, ".="); i >= 0 {
		class = class[:i]
	}
	s.rec.Record(ioc.CategoryWMIQuery, map[string]interface{}{
		"server":    server,
		"namespace": namespace,
		"query":     "Get " + path,
	}, "The script fetched a WMI class.")
	if strings.EqualFold(class, "Win32_Process") {
		return s.newWin32Process().Value()
	}
	return s.newWbemObject(class, nil).Value()
}

func (s *Scope) newWbemObject(class string, props map[string]interface{}) *Object {
	o := s.newObject(class)
	for k, v := range props {
		o.Prop(k, v)
	}
	o.Method("SpawnInstance_", func(goja.FunctionCall) goja.Value {
		return s.newWbemObject(class, nil).Value()
	})
	return o
}

func (s *Scope) newWin32Process() *Object {
	o := s.newWbemObject("Win32_Process", nil)
	o.Method("Create", func(call goja.FunctionCall) goja.Value {
		command := argString(call, 0)
		s.rec.Record(ioc.CategoryProcessCreate, map[string]interface{}{
			"command":   command,
			"directory": argString(call, 1),
		}, "The script created a process through WMI.")
		s.runCommand("Win32_Process.Create", command, nil)
		return s.rt.ToValue(0)
	})
	return o
}
