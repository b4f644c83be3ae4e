package emulator

import (
	"github.com/arturoeanton/wshbox/ioc"

	"github.com/dop251/goja"
)

// Task action types of the scheduler API.
const taskActionExec = 0

type taskDefinition struct {
	obj      *Object
	actions  []*Object
	triggers []*Object
}

// newScheduleService emulates Schedule.Service.
func newScheduleService(s *Scope) *Object {
	o := s.newObject("Schedule.Service")
	connected := false
	o.Accessor("Connected", func() goja.Value { return s.rt.ToValue(connected) }, nil)
	o.Method("Connect", func(goja.FunctionCall) goja.Value {
		connected = true
		return goja.Undefined()
	})
	o.Method("GetFolder", func(call goja.FunctionCall) goja.Value {
		return s.newTaskFolder(argString(call, 0)).Value()
	})
	o.Method("NewTask", func(goja.FunctionCall) goja.Value {
		return s.newTaskDefinition().obj.Value()
	})
	return o
}

func (s *Scope) newTaskFolder(path string) *Object {
	o := s.newObject("TaskFolder")
	o.Prop("Path", path)
	o.Prop("Name", baseName(path))
	o.Method("RegisterTaskDefinition", func(call goja.FunctionCall) goja.Value {
		name := argString(call, 0)
		var def *taskDefinition
		if obj, ok := unwrap(call.Argument(1)); ok {
			def, _ = obj.Data.(*taskDefinition)
		}
		s.registerTask(path, name, def)
		return s.newObject("RegisteredTask").Prop("Name", name).Prop("Path", joinPath(path, name)).Value()
	})
	o.Method("DeleteTask", func(call goja.FunctionCall) goja.Value {
		s.log.Infof("Deleting scheduled task %s", argString(call, 0))
		return goja.Undefined()
	})
	o.Method("GetTasks", func(goja.FunctionCall) goja.Value {
		return s.newCollection("RegisteredTaskCollection", nil).Value()
	})
	o.Method("GetFolder", func(call goja.FunctionCall) goja.Value {
		return s.newTaskFolder(joinPath(path, argString(call, 0))).Value()
	})
	o.Method("CreateFolder", func(call goja.FunctionCall) goja.Value {
		return s.newTaskFolder(joinPath(path, argString(call, 0))).Value()
	})
	return o
}

func (s *Scope) registerTask(folder, name string, def *taskDefinition) {
	var actions, triggers []map[string]interface{}
	if def != nil {
		for _, a := range def.actions {
			actions = append(actions, map[string]interface{}{
				"path":             a.Text("Path"),
				"arguments":        a.Text("Arguments"),
				"workingDirectory": a.Text("WorkingDirectory"),
			})
			if path := a.Text("Path"); path != "" {
				s.runCommand("Schedule.Service", path+" "+a.Text("Arguments"), map[string]interface{}{"task": name})
			}
		}
		for _, t := range def.triggers {
			triggers = append(triggers, map[string]interface{}{
				"type":          t.Lookup("Type").Export(),
				"startBoundary": t.Text("StartBoundary"),
			})
		}
	}
	s.rec.Record(ioc.CategoryScheduledTask, map[string]interface{}{
		"folder":   folder,
		"name":     name,
		"actions":  actions,
		"triggers": triggers,
	}, "The script registered a scheduled task.")
}

func (s *Scope) newTaskDefinition() *taskDefinition {
	def := &taskDefinition{obj: s.newObject("TaskDefinition")}
	def.obj.Data = def

	info := s.newObject("RegistrationInfo")
	info.Prop("Author", "")
	info.Prop("Description", "")
	def.obj.Prop("RegistrationInfo", info.Value())

	settings := s.newObject("TaskSettings")
	settings.Prop("Enabled", true)
	settings.Prop("Hidden", false)
	settings.Prop("StartWhenAvailable", false)
	settings.Prop("DisallowStartIfOnBatteries", true)
	def.obj.Prop("Settings", settings.Value())

	principal := s.newObject("Principal")
	principal.Prop("LogonType", 3)
	principal.Prop("RunLevel", 0)
	def.obj.Prop("Principal", principal.Value())

	triggers := s.newObject("TriggerCollection")
	triggers.Method("Create", func(call goja.FunctionCall) goja.Value {
		t := s.newObject("Trigger")
		t.Prop("Type", argInt(call, 0, 0))
		t.Prop("StartBoundary", "")
		t.Prop("Enabled", true)
		t.Prop("Id", "")
		def.triggers = append(def.triggers, t)
		return t.Value()
	})
	triggers.Accessor("Count", func() goja.Value { return s.rt.ToValue(len(def.triggers)) }, nil)
	def.obj.Prop("Triggers", triggers.Value())

	actions := s.newObject("ActionCollection")
	actions.Method("Create", func(call goja.FunctionCall) goja.Value {
		a := s.newObject("ExecAction")
		a.Prop("Type", argInt(call, 0, taskActionExec))
		a.Prop("Path", "")
		a.Prop("Arguments", "")
		a.Prop("WorkingDirectory", "")
		def.actions = append(def.actions, a)
		return a.Value()
	})
	actions.Accessor("Count", func() goja.Value { return s.rt.ToValue(len(def.actions)) }, nil)
	def.obj.Prop("Actions", actions.Value())
	return def
}
