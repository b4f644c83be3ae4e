package preprocess

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	wsfMarker  = regexp.MustCompile(`(?i)<\s*(job|package|script)\b`)
	cdataOpen  = regexp.MustCompile(`<!\[CDATA\[`)
	cdataClose = regexp.MustCompile(`\]\]>`)
	useStrict  = regexp.MustCompile(`("|')use strict("|')`)
)

// IsWSF reports whether src looks like a Windows Script File container.
func IsWSF(src string) bool {
	trimmed := strings.TrimSpace(src)
	return strings.HasPrefix(trimmed, "<") && wsfMarker.MatchString(trimmed)
}

// ExtractWSF returns the concatenated JScript bodies of a .wsf container.
// VBScript blocks are skipped. Scripts referenced by src= are returned as
// references since the files are not available.
func ExtractWSF(src string) (code string, refs []string) {
	z := html.NewTokenizer(strings.NewReader(src))
	var parts []string
	inScript := false
	skip := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a malformed tail; keep what was read
			return strings.Join(parts, "\n"), refs
		case html.StartTagToken:
			tn, hasAttr := z.TagName()
			if string(tn) != "script" {
				continue
			}
			inScript = true
			skip = false
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				switch strings.ToLower(string(k)) {
				case "language", "type":
					if isVBScript(string(v)) {
						skip = true
					}
				case "src":
					refs = append(refs, string(v))
				}
			}
		case html.EndTagToken:
			if tn, _ := z.TagName(); string(tn) == "script" {
				inScript = false
			}
		case html.TextToken:
			if inScript && !skip {
				text := cdataOpen.ReplaceAllString(string(z.Text()), "")
				text = cdataClose.ReplaceAllString(text, "")
				parts = append(parts, text)
			}
		}
	}
}

func isVBScript(lang string) bool {
	lang = strings.ToLower(lang)
	return strings.Contains(lang, "vbscript") || strings.Contains(lang, "vbs")
}

// ExtractScripts returns the inline JavaScript bodies and the external
// script urls found in an HTML fragment written into the emulated document.
func ExtractScripts(markup string) (inline []string, remote []string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, nil
	}
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		lang := s.AttrOr("language", "") + " " + s.AttrOr("type", "")
		if isVBScript(lang) {
			return
		}
		if src, ok := s.Attr("src"); ok && src != "" {
			remote = append(remote, src)
		}
		if body := strings.TrimSpace(s.Text()); body != "" {
			inline = append(inline, body)
		}
	})
	return inline, remote
}

// NeutralizeStrictMode replaces "use strict" directives; the Windows script
// host has no strict mode.
func NeutralizeStrictMode(src string) string {
	return useStrict.ReplaceAllString(src, `"STRICT MODE NOT SUPPORTED"`)
}
