package emulator

import (
	"strings"

	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/literals"

	"github.com/dop251/goja"
)

// Registry values a fresh install answers with.
var defaultHive = map[string]string{
	`hklm\software\microsoft\windows nt\currentversion\productname`:                            "Windows 7 Professional",
	`hklm\software\microsoft\windows nt\currentversion\currentversion`:                         "6.1",
	`hklm\software\microsoft\windows nt\currentversion\currentbuild`:                           "7601",
	`hklm\software\microsoft\windows nt\currentversion\registeredowner`:                        literals.USER_NAME,
	`hklm\system\currentcontrolset\control\session manager\environment\processor_architecture`: "AMD64",
	`hkcu\control panel\international\locale`:                                                  "00000409",
	`hkcu\control panel\international\scountry`:                                                "United States",
	`hkcu\software\microsoft\windows\currentversion\explorer\shell folders\desktop`:            literals.USER_PROFILE + `\Desktop`,
	`hkcu\software\microsoft\windows\currentversion\explorer\shell folders\appdata`:            literals.APPDATA,
	`hklm\software\microsoft\windows\currentversion\programfilesdir`:                           literals.PROGRAM_FILES,
}

var hiveRoots = map[string]string{
	"hkey_local_machine":  "hklm",
	"hkey_current_user":   "hkcu",
	"hkey_classes_root":   "hkcr",
	"hkey_users":          "hku",
	"hkey_current_config": "hkcc",
}

func normKey(key string) string {
	key = strings.ToLower(strings.ReplaceAll(key, "/", `\`))
	if i := strings.IndexByte(key, '\\'); i > 0 {
		if short, ok := hiveRoots[key[:i]]; ok {
			key = short + key[i:]
		}
	}
	return key
}

var specialFolders = map[string]string{
	"allusersdesktop":   literals.PUBLIC_DIR + `\Desktop`,
	"allusersstartmenu": `C:\ProgramData\Microsoft\Windows\Start Menu`,
	"allusersprograms":  `C:\ProgramData\Microsoft\Windows\Start Menu\Programs`,
	"allusersstartup":   `C:\ProgramData\Microsoft\Windows\Start Menu\Programs\Startup`,
	"appdata":           literals.APPDATA,
	"desktop":           literals.USER_PROFILE + `\Desktop`,
	"favorites":         literals.USER_PROFILE + `\Favorites`,
	"fonts":             literals.WINDOWS_DIR + `\Fonts`,
	"mydocuments":       literals.USER_PROFILE + `\Documents`,
	"nethood":           literals.APPDATA + `\Microsoft\Windows\Network Shortcuts`,
	"printhood":         literals.APPDATA + `\Microsoft\Windows\Printer Shortcuts`,
	"programs":          literals.APPDATA + `\Microsoft\Windows\Start Menu\Programs`,
	"recent":            literals.APPDATA + `\Microsoft\Windows\Recent`,
	"sendto":            literals.APPDATA + `\Microsoft\Windows\SendTo`,
	"startmenu":         literals.APPDATA + `\Microsoft\Windows\Start Menu`,
	"startup":           literals.APPDATA + `\Microsoft\Windows\Start Menu\Programs\Startup`,
	"templates":         literals.APPDATA + `\Microsoft\Windows\Templates`,
}

// callable builds a function object that also answers to .Item(), the
// shape of host collections scripts index with parentheses.
func (s *Scope) callable(name string, fn func(call goja.FunctionCall) goja.Value) *goja.Object {
	guarded := s.guard(name, fn)
	obj := s.rt.ToValue(guarded).(*goja.Object)
	_ = obj.Set("Item", guarded)
	return obj
}

// runCommand reports a command line the script tried to start.
func (s *Scope) runCommand(origin, command string, extra map[string]interface{}) {
	payload := map[string]interface{}{
		"command": command,
		"origin":  origin,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.log.Infof("Executing %s", command)
	s.rec.Record(ioc.CategoryCommandRun, payload, "The script ran a command.")
}

// newShell emulates WScript.Shell.
func newShell(s *Scope) *Object {
	o := s.newObject("WScript.Shell")
	cwd := strings.TrimSuffix(literals.SCRIPT_DIR, `\`)

	o.Method("Run", func(call goja.FunctionCall) goja.Value {
		s.runCommand("WScript.Shell.Run", argString(call, 0), map[string]interface{}{
			"style": argInt(call, 1, 1),
			"wait":  argBool(call, 2),
		})
		return s.rt.ToValue(0)
	})
	o.Method("Exec", func(call goja.FunctionCall) goja.Value {
		command := argString(call, 0)
		s.runCommand("WScript.Shell.Exec", command, nil)
		return s.newExec(command).Value()
	})
	o.Method("ShellExecute", func(call goja.FunctionCall) goja.Value {
		s.runCommand("WScript.Shell.ShellExecute", strings.TrimSpace(argString(call, 0)+" "+argString(call, 1)), nil)
		return goja.Undefined()
	})

	o.Method("RegRead", func(call goja.FunctionCall) goja.Value {
		key := argString(call, 0)
		value, ok := s.hive[normKey(key)]
		if !ok {
			value, ok = defaultHive[normKey(key)]
		}
		s.rec.Record(ioc.CategoryRegistryRead, map[string]interface{}{
			"key":   key,
			"found": ok,
		}, "The script read a registry key.")
		if !ok {
			s.log.Warnf("Unknown registry key %s", key)
			return s.rt.ToValue("")
		}
		return s.rt.ToValue(value)
	})
	o.Method("RegWrite", func(call goja.FunctionCall) goja.Value {
		key, value := argString(call, 0), argString(call, 1)
		s.hive[normKey(key)] = value
		s.rec.Record(ioc.CategoryRegistryWrite, map[string]interface{}{
			"key":   key,
			"value": value,
			"type":  argString(call, 2),
		}, "The script wrote a registry key.")
		return goja.Undefined()
	})
	o.Method("RegDelete", func(call goja.FunctionCall) goja.Value {
		key := argString(call, 0)
		delete(s.hive, normKey(key))
		s.rec.Record(ioc.CategoryRegistryDelete, map[string]interface{}{"key": key}, "The script deleted a registry key.")
		return goja.Undefined()
	})

	o.Method("ExpandEnvironmentStrings", func(call goja.FunctionCall) goja.Value {
		return s.rt.ToValue(s.expandEnvironment(argString(call, 0)))
	})
	o.Method("Environment", func(call goja.FunctionCall) goja.Value {
		return s.newEnvironment(argString(call, 0))
	})
	o.Prop("SpecialFolders", s.callable("WScript.Shell.SpecialFolders", func(call goja.FunctionCall) goja.Value {
		name := strings.ToLower(argString(call, 0))
		if dir, ok := specialFolders[name]; ok {
			return s.rt.ToValue(dir)
		}
		return s.rt.ToValue("")
	}))
	o.Method("CreateShortcut", func(call goja.FunctionCall) goja.Value {
		return s.newShortcut(argString(call, 0)).Value()
	})

	o.Method("Popup", func(call goja.FunctionCall) goja.Value {
		s.log.Verbosef("Script popup: %s", argString(call, 0))
		return s.rt.ToValue(1)
	})
	o.Method("SendKeys", func(call goja.FunctionCall) goja.Value {
		s.log.Verbosef("Script sent keys: %s", argString(call, 0))
		return goja.Undefined()
	})
	o.Method("AppActivate", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(true) })
	o.Method("LogEvent", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(true) })
	o.Accessor("CurrentDirectory", func() goja.Value { return s.rt.ToValue(cwd) }, func(v goja.Value) {
		cwd = v.String()
	})
	return o
}

// newEnvironment builds the callable WshEnvironment collection.
func (s *Scope) newEnvironment(kind string) *goja.Object {
	env := s.callable("WshEnvironment", func(call goja.FunctionCall) goja.Value {
		name := argString(call, 0)
		value := s.env[strings.ToUpper(name)]
		s.rec.Record(ioc.CategoryEnvironment, map[string]interface{}{
			"variable": name,
			"scope":    kind,
		}, "The script read an environment variable.")
		return s.rt.ToValue(value)
	})
	_ = env.Set("Remove", s.guard("WshEnvironment.Remove", func(call goja.FunctionCall) goja.Value {
		delete(s.env, strings.ToUpper(argString(call, 0)))
		return goja.Undefined()
	}))
	_ = env.Set("Count", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(len(s.env)) })
	return env
}

func (s *Scope) newExec(command string) *Object {
	o := s.newObject("WshExec")
	o.Prop("Status", 1)
	o.Prop("ExitCode", 0)
	o.Prop("ProcessID", literals.FAKE_PID)
	o.Prop("StdOut", s.newInputStream().Value())
	o.Prop("StdErr", s.newInputStream().Value())
	o.Prop("StdIn", s.newConsoleStream("StdIn", s.log.Verbose).Value())
	o.Method("Terminate", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return o
}

func (s *Scope) newShortcut(path string) *Object {
	o := s.newObject("WshShortcut")
	for _, name := range []string{"TargetPath", "Arguments", "WorkingDirectory", "IconLocation", "Description", "Hotkey"} {
		o.Prop(name, "")
	}
	o.Prop("WindowStyle", 1)
	o.Prop("FullName", path)
	o.Method("Save", func(goja.FunctionCall) goja.Value {
		s.fs.Write(path, nil)
		s.rec.Record(ioc.CategoryShortcut, map[string]interface{}{
			"path":             path,
			"target":           o.Text("TargetPath"),
			"arguments":        o.Text("Arguments"),
			"workingDirectory": o.Text("WorkingDirectory"),
			"icon":             o.Text("IconLocation"),
		}, "The script saved a shortcut.")
		return goja.Undefined()
	})
	return o
}
