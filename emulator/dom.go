package emulator

import (
	"net/url"
	"strings"

	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/literals"
	"github.com/arturoeanton/wshbox/preprocess"

	"github.com/dop251/goja"
)

// installBrowser provides the browser globals scripts lifted from web
// pages expect: window, document, location, navigator and friends.
func (s *Scope) installBrowser() {
	rt := s.rt
	s.location = s.newLocation(s.opts.LocationURL)
	s.document = s.newDocument()
	s.window = s.newWindow()

	rt.Set("window", s.window.Value())
	rt.Set("self", s.window.Value())
	rt.Set("document", s.document.Value())
	rt.Set("navigator", s.window.Lookup("navigator"))
	rt.Set("screen", s.window.Lookup("screen"))
	rt.Set("localStorage", s.window.Lookup("localStorage"))

	getter := rt.ToValue(func(goja.FunctionCall) goja.Value { return s.location.Value() })
	setter := rt.ToValue(s.guard("location", func(call goja.FunctionCall) goja.Value {
		s.navigate("location", argString(call, 0))
		return goja.Undefined()
	}))
	_ = rt.GlobalObject().DefineAccessorProperty("location", getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

// Document is the emulated browser document.
func (s *Scope) Document() *Object { return s.document }

// navigate reports an attempt to send the browser somewhere else.
func (s *Scope) navigate(origin, target string) {
	s.log.Infof("Script navigated to %s", target)
	s.rec.Record(ioc.CategoryWindowLocation, map[string]interface{}{
		"url":    target,
		"origin": origin,
	}, "The script changed the window location.")
	s.rec.RecordURL("window location", target)
}

// domWrite reports markup the script injected into the page and runs the
// inline scripts it carries. Remote scripts are reported, never fetched.
func (s *Scope) domWrite(origin, markup string) {
	s.rec.Record(ioc.CategoryDOMWrite, map[string]interface{}{
		"origin":  origin,
		"content": markup,
	}, "The script wrote to the document.")
	inline, remote := preprocess.ExtractScripts(markup)
	for _, src := range remote {
		s.remoteScript(src)
	}
	for _, code := range inline {
		s.runNested(origin, code)
	}
}

func (s *Scope) remoteScript(src string) {
	s.rec.Record(ioc.CategoryRemoteScript, map[string]interface{}{"url": src}, "The script loaded a remote script.")
	s.rec.RecordURL("Remote Script", src)
}

func (s *Scope) newLocation(raw string) *Object {
	o := s.newObject("Location")
	u, err := url.Parse(raw)
	if err != nil {
		s.log.Warnf("Invalid location %q: %v", raw, err)
		u = &url.URL{Scheme: "http", Host: "localhost", Path: "/"}
	}
	origin := u.Scheme + "://" + u.Host
	href := func() goja.Value { return s.rt.ToValue(u.String()) }

	o.Accessor("href", href, func(v goja.Value) { s.navigate("location.href", v.String()) })
	o.Prop("protocol", u.Scheme+":")
	o.Prop("host", u.Host)
	o.Prop("hostname", u.Hostname())
	o.Prop("port", u.Port())
	o.Prop("pathname", u.EscapedPath())
	o.Prop("origin", origin)
	o.Prop("search", func() string {
		if u.RawQuery == "" {
			return ""
		}
		return "?" + u.RawQuery
	}())
	o.Prop("hash", func() string {
		if u.Fragment == "" {
			return ""
		}
		return "#" + u.Fragment
	}())
	o.Method("toString", func(goja.FunctionCall) goja.Value { return href() })
	o.Method("replace", func(call goja.FunctionCall) goja.Value {
		s.navigate("location.replace", argString(call, 0))
		return goja.Undefined()
	})
	o.Method("assign", func(call goja.FunctionCall) goja.Value {
		s.navigate("location.assign", argString(call, 0))
		return goja.Undefined()
	})
	o.Method("reload", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return o
}

func (s *Scope) newWindow() *Object {
	o := s.newObject("Window")
	rt := s.rt

	o.Accessor("document", func() goja.Value { return s.document.Value() }, nil)
	o.Accessor("location", func() goja.Value { return s.location.Value() }, func(v goja.Value) {
		s.navigate("window.location", v.String())
	})

	nav := s.newObject("Navigator")
	nav.Prop("userAgent", s.opts.UserAgent)
	nav.Prop("appName", "Microsoft Internet Explorer")
	nav.Prop("appCodeName", "Mozilla")
	nav.Prop("appVersion", strings.TrimPrefix(s.opts.UserAgent, "Mozilla/"))
	nav.Prop("platform", "Win32")
	nav.Prop("language", "en-US")
	nav.Prop("userLanguage", "en-US")
	nav.Prop("cookieEnabled", true)
	nav.Method("javaEnabled", func(goja.FunctionCall) goja.Value { return rt.ToValue(false) })
	o.Prop("navigator", nav.Value())

	screen := s.newObject("Screen")
	screen.Prop("width", 1920)
	screen.Prop("height", 1080)
	screen.Prop("availWidth", 1920)
	screen.Prop("availHeight", 1040)
	screen.Prop("colorDepth", 24)
	o.Prop("screen", screen.Value())
	o.Prop("localStorage", s.newStorage().Value())

	o.Method("eval", func(call goja.FunctionCall) goja.Value {
		code, ok := primitiveString(call.Argument(0))
		if !ok {
			return call.Argument(0)
		}
		v, err := s.RunGenerated("window.eval", code)
		if err != nil {
			s.rethrow(err)
		}
		return v
	})
	o.Method("open", func(call goja.FunctionCall) goja.Value {
		s.navigate("window.open", argString(call, 0))
		return s.newWindow().Value()
	})
	o.Method("close", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("focus", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("addEventListener", func(call goja.FunctionCall) goja.Value {
		switch strings.ToLower(argString(call, 0)) {
		case "load", "domcontentloaded":
			s.callback("window."+argString(call, 0), call.Argument(1), o.Value())
		}
		return goja.Undefined()
	})
	o.Method("attachEvent", func(call goja.FunctionCall) goja.Value {
		if strings.EqualFold(argString(call, 0), "onload") {
			s.callback("window.onload", call.Argument(1), o.Value())
		}
		return rt.ToValue(true)
	})
	for _, name := range []string{"ActiveXObject", "XMLHttpRequest", "atob", "btoa", "setTimeout", "setInterval", "clearTimeout", "clearInterval", "alert", "Blob"} {
		o.Prop(name, rt.Get(name))
	}
	return o
}

func (s *Scope) newStorage() *Object {
	o := s.newObject("Storage")
	items := map[string]string{}
	o.Method("getItem", func(call goja.FunctionCall) goja.Value {
		if v, ok := items[argString(call, 0)]; ok {
			return s.rt.ToValue(v)
		}
		return goja.Null()
	})
	o.Method("setItem", func(call goja.FunctionCall) goja.Value {
		items[argString(call, 0)] = argString(call, 1)
		return goja.Undefined()
	})
	o.Method("removeItem", func(call goja.FunctionCall) goja.Value {
		delete(items, argString(call, 0))
		return goja.Undefined()
	})
	o.Method("clear", func(goja.FunctionCall) goja.Value {
		items = map[string]string{}
		return goja.Undefined()
	})
	o.Accessor("length", func() goja.Value { return s.rt.ToValue(len(items)) }, nil)
	return o
}

// newDocument builds an HTML document bound to the scope's location.
func (s *Scope) newDocument() *Object {
	o := s.newObject("HTMLDocument")
	cookie := ""
	title := ""
	body := s.newElement("body")
	head := s.newElement("head")
	root := s.newElement("html")

	o.Prop("documentMode", 8)
	o.Prop("nodeType", 9)
	o.Prop("readyState", "complete")
	o.Prop("referrer", literals.REFERRER)
	o.Prop("characterSet", "windows-1252")
	o.Accessor("URL", func() goja.Value { return s.location.Lookup("href") }, nil)
	o.Accessor("location", func() goja.Value { return s.location.Value() }, func(v goja.Value) {
		s.navigate("document.location", v.String())
	})
	o.Accessor("cookie", func() goja.Value { return s.rt.ToValue(cookie) }, func(v goja.Value) {
		if cookie != "" {
			cookie += "; "
		}
		cookie += strings.SplitN(v.String(), ";", 2)[0]
	})
	o.Accessor("title", func() goja.Value { return s.rt.ToValue(title) }, func(v goja.Value) { title = v.String() })
	o.Prop("body", body.Value())
	o.Prop("head", head.Value())
	o.Prop("documentElement", root.Value())

	o.Method("write", func(call goja.FunctionCall) goja.Value {
		s.domWrite("document.write", joinArgs(call))
		return goja.Undefined()
	})
	o.Method("writeln", func(call goja.FunctionCall) goja.Value {
		s.domWrite("document.writeln", joinArgs(call)+"\n")
		return goja.Undefined()
	})
	o.Method("open", func(goja.FunctionCall) goja.Value { return o.Value() })
	o.Method("close", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("createElement", func(call goja.FunctionCall) goja.Value {
		return s.newElement(argString(call, 0)).Value()
	})
	o.Method("createTextNode", func(call goja.FunctionCall) goja.Value {
		t := s.newElement("#text")
		t.Set("textContent", call.Argument(0))
		return t.Value()
	})
	o.Method("getElementById", func(call goja.FunctionCall) goja.Value {
		el := s.newElement("div")
		el.Prop("id", argString(call, 0))
		return el.Value()
	})
	o.Method("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		switch strings.ToLower(argString(call, 0)) {
		case "body":
			return s.array([]goja.Value{body.Value()})
		case "head":
			return s.array([]goja.Value{head.Value()})
		case "html":
			return s.array([]goja.Value{root.Value()})
		}
		return s.array(nil)
	})
	o.Method("querySelector", func(call goja.FunctionCall) goja.Value {
		switch strings.ToLower(argString(call, 0)) {
		case "body":
			return body.Value()
		case "head":
			return head.Value()
		}
		return goja.Null()
	})
	o.Method("querySelectorAll", func(goja.FunctionCall) goja.Value { return s.array(nil) })
	o.Method("appendChild", func(call goja.FunctionCall) goja.Value {
		s.appendNode("document.appendChild", call.Argument(0))
		return call.Argument(0)
	})
	o.Method("addEventListener", func(call goja.FunctionCall) goja.Value {
		if strings.EqualFold(argString(call, 0), "DOMContentLoaded") {
			s.callback("document.DOMContentLoaded", call.Argument(1), o.Value())
		}
		return goja.Undefined()
	})
	return o
}

func joinArgs(call goja.FunctionCall) string {
	var b strings.Builder
	for _, a := range call.Arguments {
		b.WriteString(a.String())
	}
	return b.String()
}

// domElement is the Go-side state of an element. XML nodes with a binary
// dataType keep their value as bytes.
type domElement struct {
	tag      string
	attrs    map[string]string
	text     string
	data     []byte
	typed    bool
	dataType string
	children []goja.Value
}

func (s *Scope) newElement(tag string) *Object {
	o := s.newObject("HTMLElement")
	el := &domElement{tag: strings.ToLower(tag), attrs: map[string]string{}}
	o.Data = el

	o.Prop("tagName", strings.ToUpper(tag))
	o.Prop("nodeName", strings.ToUpper(tag))
	o.Prop("nodeType", 1)
	o.Prop("id", "")
	o.Prop("className", "")
	o.Prop("style", s.newObject("CSSStyleDeclaration").Value())
	o.Accessor("parentNode", func() goja.Value {
		if s.document == nil {
			return goja.Null()
		}
		return s.document.Lookup("body")
	}, nil)
	o.Accessor("childNodes", func() goja.Value { return s.array(el.children) }, nil)

	o.Accessor("src", func() goja.Value { return s.rt.ToValue(el.attrs["src"]) }, func(v goja.Value) {
		s.setAttribute(el, "src", v.String())
	})
	o.Accessor("href", func() goja.Value { return s.rt.ToValue(el.attrs["href"]) }, func(v goja.Value) {
		el.attrs["href"] = v.String()
	})

	textGet := func() goja.Value {
		if el.typed {
			return s.rt.ToValue(encodeTyped(el.dataType, el.data))
		}
		return s.rt.ToValue(el.text)
	}
	textSet := func(v goja.Value) {
		el.text = v.String()
		el.typed = false
	}
	for _, name := range []string{"text", "textContent", "innerText"} {
		o.Accessor(name, textGet, textSet)
	}
	o.Accessor("innerHTML", func() goja.Value { return s.rt.ToValue(el.text) }, func(v goja.Value) {
		el.text = v.String()
		el.typed = false
		s.rec.Record(ioc.CategoryDOMWrite, map[string]interface{}{
			"origin":  "innerHTML",
			"content": el.text,
		}, "The script wrote to the document.")
	})
	o.Accessor("dataType", func() goja.Value {
		if el.dataType == "" {
			return goja.Null()
		}
		return s.rt.ToValue(el.dataType)
	}, func(v goja.Value) {
		el.dataType = v.String()
	})
	o.Accessor("nodeTypedValue", func() goja.Value {
		if el.dataType == "" {
			return s.rt.ToValue(el.text)
		}
		if el.typed {
			return s.newBinary(el.data)
		}
		data, ok := decodeTyped(el.dataType, el.text)
		if !ok {
			s.log.Warnf("Could not decode %s node value", el.dataType)
		}
		return s.newBinary(data)
	}, func(v goja.Value) {
		if el.dataType == "" {
			el.text = v.String()
			return
		}
		el.data = s.bytesOf(v)
		el.typed = true
	})

	o.Method("setAttribute", func(call goja.FunctionCall) goja.Value {
		s.setAttribute(el, strings.ToLower(argString(call, 0)), argString(call, 1))
		return goja.Undefined()
	})
	o.Method("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := el.attrs[strings.ToLower(argString(call, 0))]; ok {
			return s.rt.ToValue(v)
		}
		return goja.Null()
	})
	o.Method("removeAttribute", func(call goja.FunctionCall) goja.Value {
		delete(el.attrs, strings.ToLower(argString(call, 0)))
		return goja.Undefined()
	})
	o.Method("appendChild", func(call goja.FunctionCall) goja.Value {
		el.children = append(el.children, call.Argument(0))
		s.appendNode("appendChild", call.Argument(0))
		return call.Argument(0)
	})
	o.Method("insertBefore", func(call goja.FunctionCall) goja.Value {
		el.children = append([]goja.Value{call.Argument(0)}, el.children...)
		s.appendNode("insertBefore", call.Argument(0))
		return call.Argument(0)
	})
	o.Method("removeChild", func(call goja.FunctionCall) goja.Value { return call.Argument(0) })
	o.Method("click", func(goja.FunctionCall) goja.Value {
		if href := el.attrs["href"]; href != "" {
			s.navigate("click", href)
		}
		return goja.Undefined()
	})
	o.Method("submit", func(goja.FunctionCall) goja.Value {
		if action := el.attrs["action"]; action != "" {
			s.navigate("submit", action)
		}
		return goja.Undefined()
	})
	o.Method("focus", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("addEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return o
}

func (s *Scope) setAttribute(el *domElement, name, value string) {
	el.attrs[name] = value
	if name == "src" && value != "" {
		if el.tag == "script" {
			s.remoteScript(value)
			return
		}
		s.rec.RecordURL("Remote Resource", value)
	}
}

// appendNode handles insertion of a node into the page. Script elements
// carrying inline code run at once.
func (s *Scope) appendNode(origin string, node goja.Value) {
	o, ok := unwrap(node)
	if !ok {
		return
	}
	el, ok := o.Data.(*domElement)
	if !ok {
		return
	}
	s.rec.Record(ioc.CategoryDOMAppend, map[string]interface{}{
		"origin": origin,
		"tag":    el.tag,
		"src":    el.attrs["src"],
	}, "The script added an element to the document.")
	if el.tag == "script" && el.attrs["src"] == "" && el.text != "" {
		s.runNested(origin, el.text)
	}
}

// newXMLDocument emulates the MSXML DOM document.
func newXMLDocument(s *Scope) *Object {
	o := s.newObject("DOMDocument")
	xml := ""
	root := s.newElement("root")
	o.Prop("async", false)
	o.Prop("validateOnParse", false)
	o.Prop("resolveExternals", false)
	o.Prop("preserveWhiteSpace", false)
	parseError := s.newObject("IXMLDOMParseError")
	parseError.Prop("errorCode", 0)
	parseError.Prop("reason", "")
	o.Prop("parseError", parseError.Value())
	o.Accessor("xml", func() goja.Value { return s.rt.ToValue(xml) }, nil)
	o.Accessor("documentElement", func() goja.Value { return root.Value() }, nil)

	o.Method("createElement", func(call goja.FunctionCall) goja.Value {
		return s.newElement(argString(call, 0)).Value()
	})
	o.Method("createNode", func(call goja.FunctionCall) goja.Value {
		return s.newElement(argString(call, 1)).Value()
	})
	o.Method("loadXML", func(call goja.FunctionCall) goja.Value {
		xml = argString(call, 0)
		root.Set("text", s.rt.ToValue(xml))
		return s.rt.ToValue(true)
	})
	o.Method("load", func(call goja.FunctionCall) goja.Value {
		target := argString(call, 0)
		if strings.Contains(target, "://") {
			s.rec.Record(ioc.CategoryNetworkRequest, map[string]interface{}{
				"method": "GET",
				"url":    target,
			}, "The script loaded a remote XML document.")
			s.rec.RecordURL(o.class, target)
			return s.rt.ToValue(true)
		}
		data, ok := s.fs.Read(target)
		xml = latin1String(data)
		return s.rt.ToValue(ok)
	})
	o.Method("selectSingleNode", func(goja.FunctionCall) goja.Value { return root.Value() })
	o.Method("selectNodes", func(goja.FunctionCall) goja.Value {
		return s.newCollection("IXMLDOMNodeList", []goja.Value{root.Value()}).Value()
	})
	o.Method("appendChild", func(call goja.FunctionCall) goja.Value { return call.Argument(0) })
	o.Method("save", func(call goja.FunctionCall) goja.Value {
		s.dropFile("DOMDocument.save", argString(call, 0), stringBytes(xml))
		return goja.Undefined()
	})
	return o
}
