package emulator

import (
	"github.com/dop251/goja"
)

// newInstaller emulates WindowsInstaller.Installer.
func newInstaller(s *Scope) *Object {
	o := s.newObject("WindowsInstaller.Installer")
	o.Prop("UILevel", 5)
	o.Method("InstallProduct", func(call goja.FunctionCall) goja.Value {
		s.installProduct(argString(call, 0), argString(call, 1))
		return goja.Undefined()
	})
	o.Method("ProductState", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(-1) })
	return o
}
