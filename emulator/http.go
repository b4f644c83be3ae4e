package emulator

import (
	"strings"

	"github.com/arturoeanton/wshbox/ioc"

	"github.com/dop251/goja"
)

// newHTTPRequest emulates MSXML2.XMLHTTP, ServerXMLHTTP and
// WinHttp.WinHttpRequest. Nothing leaves the sandbox: every request
// completes at once with an empty 200 response.
func newHTTPRequest(s *Scope) *Object {
	o := s.newObject("XMLHTTP")
	var (
		method, url string
		headers     = map[string]string{}
		readyState  = 0
		status      = 0
	)

	o.Method("open", func(call goja.FunctionCall) goja.Value {
		method = strings.ToUpper(argString(call, 0))
		url = argString(call, 1)
		readyState = 1
		s.rec.Record(ioc.CategoryNetworkRequest, map[string]interface{}{
			"method": method,
			"url":    url,
		}, "The script opened a HTTP request.")
		s.rec.RecordURL(o.class, url)
		return goja.Undefined()
	})
	o.Method("setRequestHeader", func(call goja.FunctionCall) goja.Value {
		name, value := argString(call, 0), argString(call, 1)
		headers[name] = value
		s.rec.Record(ioc.CategoryRequestHeader, map[string]interface{}{
			"url":    url,
			"header": name,
			"value":  value,
		}, "The script set a HTTP request header.")
		return goja.Undefined()
	})
	o.Method("send", func(call goja.FunctionCall) goja.Value {
		body := call.Argument(0)
		sent := make(map[string]string, len(headers))
		for k, v := range headers {
			sent[k] = v
		}
		payload := map[string]interface{}{
			"method":  method,
			"url":     url,
			"headers": sent,
		}
		if !goja.IsUndefined(body) && !goja.IsNull(body) {
			payload["body"] = latin1String(s.bytesOf(body))
		}
		s.rec.Record(ioc.CategoryNetworkSend, payload, "The script sent a HTTP request.")
		readyState = 4
		status = 200
		this := o.Value()
		s.callback("onreadystatechange", o.Lookup("onreadystatechange"), this)
		s.callback("onload", o.Lookup("onload"), this)
		return goja.Undefined()
	})
	o.Method("abort", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("addEventListener", func(call goja.FunctionCall) goja.Value {
		o.Set("on"+strings.ToLower(argString(call, 0)), call.Argument(1))
		return goja.Undefined()
	})
	o.Method("getResponseHeader", func(goja.FunctionCall) goja.Value { return s.rt.ToValue("") })
	o.Method("getAllResponseHeaders", func(goja.FunctionCall) goja.Value { return s.rt.ToValue("") })
	o.Method("setOption", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("setProxy", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("setCredentials", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("setTimeouts", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("waitForResponse", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(true) })

	o.Accessor("readyState", func() goja.Value { return s.rt.ToValue(readyState) }, nil)
	o.Accessor("status", func() goja.Value { return s.rt.ToValue(status) }, nil)
	o.Accessor("statusText", func() goja.Value {
		if status == 200 {
			return s.rt.ToValue("OK")
		}
		return s.rt.ToValue("")
	}, nil)
	o.Accessor("responseText", func() goja.Value { return s.rt.ToValue("") }, nil)
	o.Accessor("responseBody", func() goja.Value { return s.newBinary(nil) }, nil)
	o.Accessor("responseStream", func() goja.Value { return s.newBinary(nil) }, nil)
	o.Accessor("responseXML", func() goja.Value { return newXMLDocument(s).Value() }, nil)
	o.Prop("option", s.newObject("WinHttpRequestOption").Value())
	return o
}
