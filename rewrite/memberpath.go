package rewrite

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	memberFnPrefix = "__wshbox_mfn__"
	memberFnSep    = "__dot__"
)

// LiftMemberFunctions rewrites the headers of member-path function
// declarations (function A.B.C(...)) into plain function names the parser
// accepts. The member-function pass restores the path. Strings and
// comments are left untouched. It returns the new text and the number of
// lifted headers.
func LiftMemberFunctions(src string) (string, int) {
	var b strings.Builder
	b.Grow(len(src))
	lifted := 0

	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src) - i
			}
			b.WriteString(src[i : i+end])
			i += end
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				b.WriteString(src[i:])
				return b.String(), lifted
			}
			b.WriteString(src[i : i+2+end+2])
			i += 2 + end + 2
		case c == '\'' || c == '"' || c == '`':
			end := skipString(src, i)
			b.WriteString(src[i:end])
			i = end
		case isIdentStart(c):
			start := i
			i = scanIdent(src, i)
			if i == start {
				b.WriteByte(c)
				i++
				continue
			}
			word := src[start:i]
			if word != "function" {
				b.WriteString(word)
				continue
			}
			b.WriteString(word)
			if path, next, ok := scanMemberHeader(src, i); ok {
				b.WriteString(src[i:next.nameStart])
				b.WriteString(mangleMemberPath(path))
				i = next.nameEnd
				lifted++
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), lifted
}

type headerSpan struct {
	nameStart, nameEnd int
}

// scanMemberHeader matches `<ws> Ident(.Ident)+ <ws> (` starting at i.
func scanMemberHeader(src string, i int) ([]string, headerSpan, bool) {
	j := i
	for j < len(src) && isSpace(src[j]) {
		j++
	}
	if j == i || j >= len(src) || !isIdentStart(src[j]) {
		return nil, headerSpan{}, false
	}
	span := headerSpan{nameStart: j}
	var parts []string
	for {
		k := scanIdent(src, j)
		parts = append(parts, src[j:k])
		j = k
		for j < len(src) && isSpace(src[j]) {
			j++
		}
		if j >= len(src) || src[j] != '.' {
			break
		}
		j++
		for j < len(src) && isSpace(src[j]) {
			j++
		}
		if j >= len(src) || !isIdentStart(src[j]) {
			return nil, headerSpan{}, false
		}
	}
	if len(parts) < 2 || j >= len(src) || src[j] != '(' {
		return nil, headerSpan{}, false
	}
	// keep whitespace between the name and the parameter list
	end := j
	for end > span.nameStart && isSpace(src[end-1]) {
		end--
	}
	span.nameEnd = end
	return parts, span, true
}

func mangleMemberPath(parts []string) string {
	return memberFnPrefix + strings.Join(parts, memberFnSep)
}

// memberPathOf decodes a lifted function name.
func memberPathOf(name string) ([]string, bool) {
	if !strings.HasPrefix(name, memberFnPrefix) {
		return nil, false
	}
	parts := strings.Split(strings.TrimPrefix(name, memberFnPrefix), memberFnSep)
	if len(parts) < 2 {
		return nil, false
	}
	return parts, true
}

func skipString(src string, i int) int {
	quote := src[i]
	j := i + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
			continue
		case quote:
			return j + 1
		case '\n':
			if quote != '`' {
				return j
			}
		}
		j++
	}
	return len(src)
}

func scanIdent(src string, i int) int {
	for i < len(src) {
		if src[i] < utf8.RuneSelf {
			if !isIdentPart(src[i]) {
				return i
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(src[i:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return i
		}
		i += size
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= utf8.RuneSelf
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
