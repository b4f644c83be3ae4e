package preprocess

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode converts the raw sample into text. encoding may name a charset
// explicitly; when empty the charset is taken from the byte order mark or
// detected. It returns the text and the charset used.
func Decode(data []byte, encoding string) (string, string, error) {
	if encoding == "" {
		encoding = DetectEncoding(data)
	}
	switch strings.ToLower(encoding) {
	case "utf-8", "utf8", "ascii", "us-ascii":
		data = bytes.TrimPrefix(data, bomUTF8)
		if !utf8.Valid(data) {
			// fall back to the host code page
			return decodeWith(data, "windows-1252")
		}
		return string(data), "utf-8", nil
	}
	return decodeWith(data, encoding)
}

func decodeWith(data []byte, name string) (string, string, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", "", fmt.Errorf("unsupported encoding %q: %w", name, err)
	}
	canonical, _ := htmlindex.Name(enc)
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", fmt.Errorf("decoding as %s: %w", canonical, err)
	}
	return strings.TrimPrefix(string(out), "\ufeff"), canonical, nil
}

// DetectEncoding guesses the charset of data, defaulting to utf-8.
func DetectEncoding(data []byte) string {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return "utf-8"
	case bytes.HasPrefix(data, bomUTF16LE):
		return "utf-16le"
	case bytes.HasPrefix(data, bomUTF16BE):
		return "utf-16be"
	}
	if utf8.Valid(data) {
		return "utf-8"
	}
	res, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || res == nil || res.Charset == "" {
		return "utf-8"
	}
	if _, err := htmlindex.Get(res.Charset); err != nil {
		return "utf-8"
	}
	return res.Charset
}
