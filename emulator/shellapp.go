package emulator

import (
	"github.com/arturoeanton/wshbox/ioc"

	"github.com/dop251/goja"
)

// newShellApplication emulates Shell.Application.
func newShellApplication(s *Scope) *Object {
	o := s.newObject("Shell.Application")
	o.Method("ShellExecute", func(call goja.FunctionCall) goja.Value {
		file, args, dir := argString(call, 0), argString(call, 1), argString(call, 2)
		s.runCommand("Shell.Application.ShellExecute", dir+file+" "+args, map[string]interface{}{
			"verb": argString(call, 3),
		})
		return goja.Undefined()
	})
	o.Method("Namespace", func(call goja.FunctionCall) goja.Value {
		folder := call.Argument(0).String()
		s.log.Infof("Getting namespace: %s", folder)
		return s.newShellFolder(folder).Value()
	})
	o.Method("Open", func(call goja.FunctionCall) goja.Value {
		s.runCommand("Shell.Application.Open", argString(call, 0), nil)
		return goja.Undefined()
	})
	o.Method("Windows", func(goja.FunctionCall) goja.Value {
		return s.newCollection("ShellWindows", nil).Value()
	})
	return o
}

func (s *Scope) newShellFolder(folder string) *Object {
	o := s.newObject("Folder")
	o.Prop("Title", baseName(folder))
	o.Method("Items", func(goja.FunctionCall) goja.Value {
		items := s.newObject("FolderItems")
		items.Method("Item", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(folder) })
		items.Prop("Count", 1)
		return items.Value()
	})
	o.Method("CopyHere", func(call goja.FunctionCall) goja.Value {
		item := call.Argument(0).String()
		s.log.Infof("Copying Item: %s", item)
		if s.fs.Exists(item) {
			s.copyFile(item, joinPath(folder, baseName(item)), false)
			return goja.Undefined()
		}
		s.rec.Record(ioc.CategoryFileCopy, map[string]interface{}{
			"source":      item,
			"destination": folder,
			"existed":     false,
		}, "The script copied an item into a shell folder.")
		return goja.Undefined()
	})
	o.Method("MoveHere", func(call goja.FunctionCall) goja.Value {
		item := call.Argument(0).String()
		if s.fs.Exists(item) {
			s.copyFile(item, joinPath(folder, baseName(item)), true)
		}
		return goja.Undefined()
	})
	return o
}
