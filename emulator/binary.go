package emulator

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
)

// newBinary wraps raw bytes the way the host hands out byte arrays: an
// opaque value whose typeof is "unknown".
func (s *Scope) newBinary(data []byte) *goja.Object {
	o := s.newObject("Binary")
	o.Data = append([]byte(nil), data...)
	o.Method("toString", func(goja.FunctionCall) goja.Value {
		return s.rt.ToValue(latin1String(o.Data.([]byte)))
	})
	o.Accessor("length", func() goja.Value {
		return s.rt.ToValue(len(o.Data.([]byte)))
	}, nil)
	return o.Tag("unknown").Value()
}

// bytesOf extracts bytes from a binary value, a string or an array of
// byte values.
func (s *Scope) bytesOf(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if o, ok := unwrap(v); ok {
		if b, ok := o.Data.([]byte); ok {
			return append([]byte(nil), b...)
		}
		if b, ok := o.Data.(*blob); ok {
			return append([]byte(nil), b.data...)
		}
	}
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Array" {
		var out []byte
		items, _ := obj.Export().([]interface{})
		for _, item := range items {
			switch n := item.(type) {
			case int64:
				out = append(out, byte(n))
			case float64:
				out = append(out, byte(int64(n)))
			case string:
				out = append(out, stringBytes(n)...)
			}
		}
		return out
	}
	return stringBytes(v.String())
}

// stringBytes maps a script string to bytes. Strings made only of code
// units below 256 are treated as binary strings; anything else is UTF-8.
func stringBytes(str string) []byte {
	out := make([]byte, 0, len(str))
	for _, r := range str {
		if r > 0xFF {
			return []byte(str)
		}
		out = append(out, byte(r))
	}
	return out
}

// latin1String maps every byte to the code point of the same value.
func latin1String(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		b.WriteRune(rune(c))
	}
	return b.String()
}

// atob follows the HTML algorithm but returns ok=false instead of throwing.
func atob(data string) (string, bool) {
	data = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, data)
	if len(data)%4 == 0 {
		data = strings.TrimSuffix(data, "=")
		data = strings.TrimSuffix(data, "=")
	}
	if len(data)%4 == 1 || !utf8.ValidString(data) {
		return "", false
	}
	out, err := base64.RawStdEncoding.DecodeString(data)
	if err != nil {
		return "", false
	}
	return latin1String(out), true
}

func btoa(data string) (string, bool) {
	out := make([]byte, 0, len(data))
	for _, r := range data {
		if r > 0xFF {
			return "", false
		}
		out = append(out, byte(r))
	}
	return base64.StdEncoding.EncodeToString(out), true
}

// decodeTyped converts element text of an XML DOM node to bytes according
// to its dataType.
func decodeTyped(dataType, text string) ([]byte, bool) {
	switch strings.ToLower(dataType) {
	case "bin.base64":
		clean := strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\t', '\n', '\r':
				return -1
			}
			return r
		}, text)
		out, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			out, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
		}
		return out, err == nil
	case "bin.hex":
		out, err := hex.DecodeString(strings.TrimSpace(text))
		return out, err == nil
	}
	return nil, false
}

func encodeTyped(dataType string, data []byte) string {
	switch strings.ToLower(dataType) {
	case "bin.base64":
		return base64.StdEncoding.EncodeToString(data)
	case "bin.hex":
		return hex.EncodeToString(data)
	}
	return latin1String(data)
}
