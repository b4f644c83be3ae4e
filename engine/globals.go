package engine

import (
	"github.com/arturoeanton/wshbox/logger"

	"github.com/dop251/goja"
)

// DefaultHiddenGlobals are interpreter globals a JScript 5.8 host does not
// provide. Samples check for them to detect analysis environments.
var DefaultHiddenGlobals = []string{
	"Proxy",
	"Reflect",
	"Promise",
	"WeakMap",
	"WeakSet",
	"WeakRef",
	"FinalizationRegistry",
	"AggregateError",
}

// hideGlobals removes names from the global object of vm.
func hideGlobals(vm *goja.Runtime, names []string, log *logger.Logger) {
	global := vm.GlobalObject()
	for _, name := range names {
		if global.Get(name) == nil {
			continue
		}
		if err := global.Delete(name); err != nil {
			log.Warnf("Could not hide global %s: %v", name, err)
			continue
		}
		log.Debugf("Hid interpreter global %s", name)
	}
}
