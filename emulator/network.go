package emulator

import (
	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/literals"

	"github.com/dop251/goja"
)

// newNetwork emulates WScript.Network.
func newNetwork(s *Scope) *Object {
	o := s.newObject("WScript.Network")
	o.Prop("UserName", literals.USER_NAME)
	o.Prop("ComputerName", literals.COMPUTER_NAME)
	o.Prop("UserDomain", literals.USER_DOMAIN)
	o.Method("EnumNetworkDrives", func(goja.FunctionCall) goja.Value {
		return s.newCollection("WshCollection", nil).Value()
	})
	o.Method("EnumPrinterConnections", func(goja.FunctionCall) goja.Value {
		return s.newCollection("WshCollection", nil).Value()
	})
	o.Method("MapNetworkDrive", func(call goja.FunctionCall) goja.Value {
		drive, share := argString(call, 0), argString(call, 1)
		s.rec.Record(ioc.CategoryNetworkRequest, map[string]interface{}{
			"method": "MapNetworkDrive",
			"url":    share,
			"drive":  drive,
		}, "The script mapped a network drive.")
		s.rec.RecordURL(o.class, share)
		return goja.Undefined()
	})
	o.Method("RemoveNetworkDrive", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return o
}
