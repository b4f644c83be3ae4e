package emulator

import (
	"github.com/arturoeanton/wshbox/ioc"

	"github.com/dop251/goja"
)

// newInternetExplorer emulates InternetExplorer.Application. Navigation
// is reported and completes at once.
func newInternetExplorer(s *Scope) *Object {
	o := s.newObject("InternetExplorer.Application")
	var url string
	o.Prop("Visible", false)
	o.Prop("Silent", true)
	o.Prop("Busy", false)
	o.Prop("ReadyState", 4)
	o.Accessor("LocationURL", func() goja.Value { return s.rt.ToValue(url) }, nil)
	doc := s.newDocument()
	o.Accessor("Document", func() goja.Value { return doc.Value() }, nil)
	navigate := func(call goja.FunctionCall) goja.Value {
		url = argString(call, 0)
		payload := map[string]interface{}{
			"method": "GET",
			"url":    url,
		}
		if body := call.Argument(3); !goja.IsUndefined(body) && !goja.IsNull(body) {
			payload["method"] = "POST"
			payload["body"] = latin1String(s.bytesOf(body))
		}
		s.rec.Record(ioc.CategoryNetworkRequest, payload, "The script navigated Internet Explorer.")
		s.rec.RecordURL(o.class, url)
		return goja.Undefined()
	}
	o.Method("Navigate", navigate)
	o.Method("Navigate2", navigate)
	o.Method("Quit", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("Stop", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return o
}
