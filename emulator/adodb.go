package emulator

import (
	"strings"

	"github.com/arturoeanton/wshbox/ioc"

	"github.com/dop251/goja"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// ADODB stream types.
const (
	adTypeBinary = 1
	adTypeText   = 2
)

// ADODB field types that hold bytes rather than text.
var adBinaryTypes = map[int64]bool{128: true, 204: true, 205: true}

func charsetEncoding(name string) (enc encoding.Encoding, bom bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "unicode", "utf-16", "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), true
	case "unicodefffe", "utf-16be", "bigendianunicode":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), false
	case "utf-8":
		return unicode.UTF8, false
	case "iso-8859-1", "latin1", "l1":
		return charmap.ISO8859_1, false
	case "437", "cp437", "ibm437":
		return charmap.CodePage437, false
	}
	if e, err := htmlindex.Get(name); err == nil {
		return e, false
	}
	return charmap.Windows1252, false
}

type adoStream struct {
	data    []byte
	pos     int
	typ     int64
	charset string
	open    bool
}

func (st *adoStream) write(b []byte) {
	end := st.pos + len(b)
	if end > len(st.data) {
		grown := make([]byte, end)
		copy(grown, st.data)
		st.data = grown
	}
	copy(st.data[st.pos:], b)
	st.pos = end
}

func (st *adoStream) read(n int) []byte {
	if n < 0 || st.pos+n > len(st.data) {
		n = len(st.data) - st.pos
	}
	if n < 0 {
		n = 0
	}
	out := append([]byte(nil), st.data[st.pos:st.pos+n]...)
	st.pos += n
	return out
}

func (st *adoStream) encode(text string) []byte {
	enc, bom := charsetEncoding(st.charset)
	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(text))
	if err != nil {
		out = stringBytes(text)
	}
	if bom && st.pos == 0 && len(st.data) == 0 {
		out = append([]byte{0xFF, 0xFE}, out...)
	}
	return out
}

func (st *adoStream) decode(data []byte) string {
	enc, _ := charsetEncoding(st.charset)
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return latin1String(data)
	}
	return strings.TrimPrefix(string(out), "\ufeff")
}

func newADODBStream(s *Scope) *Object {
	o := s.newObject("ADODB.Stream")
	st := &adoStream{typ: adTypeBinary, charset: "Unicode"}
	o.Data = st

	o.Accessor("Type", func() goja.Value { return s.rt.ToValue(st.typ) }, func(v goja.Value) {
		st.typ = v.ToInteger()
	})
	o.Accessor("Charset", func() goja.Value { return s.rt.ToValue(st.charset) }, func(v goja.Value) {
		st.charset = v.String()
	})
	o.Accessor("Position", func() goja.Value { return s.rt.ToValue(st.pos) }, func(v goja.Value) {
		p := int(v.ToInteger())
		if p < 0 {
			p = 0
		}
		if p > len(st.data) {
			p = len(st.data)
		}
		st.pos = p
	})
	o.Accessor("Size", func() goja.Value { return s.rt.ToValue(len(st.data)) }, nil)
	o.Accessor("EOS", func() goja.Value { return s.rt.ToValue(st.pos >= len(st.data)) }, nil)
	o.Accessor("State", func() goja.Value {
		if st.open {
			return s.rt.ToValue(1)
		}
		return s.rt.ToValue(0)
	}, nil)
	o.Prop("Mode", 3)
	o.Prop("LineSeparator", -1)

	o.Method("Open", func(goja.FunctionCall) goja.Value {
		st.open = true
		return goja.Undefined()
	})
	o.Method("Close", func(goja.FunctionCall) goja.Value {
		st.open = false
		return goja.Undefined()
	})
	o.Method("Flush", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	o.Method("Write", func(call goja.FunctionCall) goja.Value {
		st.write(s.bytesOf(call.Argument(0)))
		return goja.Undefined()
	})
	o.Method("WriteText", func(call goja.FunctionCall) goja.Value {
		text := argString(call, 0)
		if argInt(call, 1, 0) == 1 {
			text += "\r\n"
		}
		st.write(st.encode(text))
		return goja.Undefined()
	})
	o.Method("Read", func(call goja.FunctionCall) goja.Value {
		return s.newBinary(st.read(int(argInt(call, 0, -1))))
	})
	o.Method("ReadText", func(call goja.FunctionCall) goja.Value {
		n := int(argInt(call, 0, -1))
		if _, wide := charsetEncoding(st.charset); wide && n > 0 {
			n *= 2
		}
		return s.rt.ToValue(st.decode(st.read(n)))
	})
	o.Method("SaveToFile", func(call goja.FunctionCall) goja.Value {
		s.dropFile("ADODB.Stream", argString(call, 0), st.data)
		return goja.Undefined()
	})
	o.Method("LoadFromFile", func(call goja.FunctionCall) goja.Value {
		path := argString(call, 0)
		data, ok := s.fs.Read(path)
		s.rec.Record(ioc.CategoryFileRead, map[string]interface{}{
			"path":    path,
			"existed": ok,
		}, "The script loaded a file into a stream.")
		st.data = data
		st.pos = 0
		return goja.Undefined()
	})
	o.Method("CopyTo", func(call goja.FunctionCall) goja.Value {
		dst, ok := unwrap(call.Argument(0))
		if !ok {
			return goja.Undefined()
		}
		if other, ok := dst.Data.(*adoStream); ok {
			other.write(st.read(int(argInt(call, 1, -1))))
		}
		return goja.Undefined()
	})
	o.Method("SetEOS", func(goja.FunctionCall) goja.Value {
		st.data = st.data[:st.pos]
		return goja.Undefined()
	})
	o.Method("SkipLine", func(goja.FunctionCall) goja.Value {
		rest := st.data[st.pos:]
		if i := strings.IndexByte(string(rest), '\n'); i >= 0 {
			st.pos += i + 1
		} else {
			st.pos = len(st.data)
		}
		return goja.Undefined()
	})
	return o
}

type adoField struct {
	name  string
	typ   int64
	data  []byte
	value goja.Value
}

func (s *Scope) newField(f *adoField) *Object {
	o := s.newObject("ADODB.Field")
	o.Data = f
	o.Prop("Name", f.name)
	o.Prop("Type", f.typ)
	o.Accessor("Value", func() goja.Value {
		if f.value != nil {
			return f.value
		}
		if adBinaryTypes[f.typ] {
			return s.newBinary(f.data)
		}
		return s.rt.ToValue(latin1String(f.data))
	}, func(v goja.Value) {
		f.value = v
		f.data = s.bytesOf(v)
	})
	o.Accessor("ActualSize", func() goja.Value { return s.rt.ToValue(len(f.data)) }, nil)
	o.Method("AppendChunk", func(call goja.FunctionCall) goja.Value {
		f.value = nil
		f.data = append(f.data, s.bytesOf(call.Argument(0))...)
		return goja.Undefined()
	})
	o.Method("GetChunk", func(call goja.FunctionCall) goja.Value {
		n := int(argInt(call, 0, int64(len(f.data))))
		if n > len(f.data) {
			n = len(f.data)
		}
		if adBinaryTypes[f.typ] {
			return s.newBinary(f.data[:n])
		}
		return s.rt.ToValue(latin1String(f.data[:n]))
	})
	return o
}

func newADODBRecordset(s *Scope) *Object {
	o := s.newObject("ADODB.Recordset")
	var (
		fields []*adoField
		views  = map[*adoField]*Object{}
		open   bool
	)
	field := func(key goja.Value) goja.Value {
		var f *adoField
		if n, ok := key.Export().(int64); ok {
			if n >= 0 && n < int64(len(fields)) {
				f = fields[n]
			}
		} else {
			name := strings.ToLower(key.String())
			for _, candidate := range fields {
				if strings.ToLower(candidate.name) == name {
					f = candidate
				}
			}
		}
		if f == nil {
			return goja.Undefined()
		}
		if views[f] == nil {
			views[f] = s.newField(f)
		}
		return views[f].Value()
	}

	item := s.guard("ADODB.Fields.Item", func(call goja.FunctionCall) goja.Value {
		return field(call.Argument(0))
	})
	coll := s.rt.ToValue(item).(*goja.Object)
	_ = coll.Set("Item", item)
	_ = coll.Set("Append", s.guard("ADODB.Fields.Append", func(call goja.FunctionCall) goja.Value {
		fields = append(fields, &adoField{name: argString(call, 0), typ: argInt(call, 1, 200)})
		return goja.Undefined()
	}))
	_ = coll.Set("Count", func(goja.FunctionCall) goja.Value { return s.rt.ToValue(len(fields)) })

	o.Prop("Fields", coll)
	o.Method("Open", func(call goja.FunctionCall) goja.Value {
		open = true
		if source := argString(call, 0); source != "" {
			s.rec.Record(ioc.CategoryDatabase, map[string]interface{}{"query": source}, "The script opened a recordset.")
		}
		return goja.Undefined()
	})
	o.Method("Close", func(goja.FunctionCall) goja.Value {
		open = false
		return goja.Undefined()
	})
	o.Accessor("State", func() goja.Value {
		if open {
			return s.rt.ToValue(1)
		}
		return s.rt.ToValue(0)
	}, nil)
	for _, name := range []string{"AddNew", "Update", "MoveFirst", "MoveNext", "MoveLast", "Delete"} {
		o.Method(name, func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	}
	o.Prop("EOF", true)
	o.Prop("BOF", true)
	o.Prop("RecordCount", 0)
	return o
}

func newADODBConnection(s *Scope) *Object {
	o := s.newObject("ADODB.Connection")
	var conn string
	open := false
	o.Accessor("ConnectionString", func() goja.Value { return s.rt.ToValue(conn) }, func(v goja.Value) {
		conn = v.String()
	})
	o.Accessor("State", func() goja.Value {
		if open {
			return s.rt.ToValue(1)
		}
		return s.rt.ToValue(0)
	}, nil)
	o.Method("Open", func(call goja.FunctionCall) goja.Value {
		if c := argString(call, 0); c != "" {
			conn = c
		}
		open = true
		s.rec.Record(ioc.CategoryDatabase, map[string]interface{}{"connection": conn}, "The script opened a database connection.")
		return goja.Undefined()
	})
	o.Method("Execute", func(call goja.FunctionCall) goja.Value {
		s.rec.Record(ioc.CategoryDatabase, map[string]interface{}{
			"connection": conn,
			"query":      argString(call, 0),
		}, "The script ran a database query.")
		return newADODBRecordset(s).Value()
	})
	o.Method("Close", func(goja.FunctionCall) goja.Value {
		open = false
		return goja.Undefined()
	})
	return o
}
