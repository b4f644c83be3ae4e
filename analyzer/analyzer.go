// Package analyzer scans a decoded sample for static indicators before it
// is executed: automation objects it names, URLs, shell command keywords,
// autorun registry keys, large encoded blobs and dynamic code generation.
// Findings complement the IOC events recorded at run time.
package analyzer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Severity levels
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// maxPerPattern bounds the findings a single pattern may produce.
const maxPerPattern = 100

// Finding is a static indicator found in the sample
type Finding struct {
	Type        string `json:"type"`            // Pattern name (e.g. "activex_object")
	Severity    string `json:"severity"`        // high, medium or low
	Description string `json:"description"`     // Human-readable description
	Value       string `json:"value,omitempty"` // Captured indicator (object name, URL, command)
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	Snippet     string `json:"snippet"`
}

// Pattern is a regular expression the scanner looks for. When the
// expression has a capture group its first group becomes Finding.Value.
type Pattern struct {
	Name        string
	Pattern     *regexp.Regexp
	Severity    string
	Description string
}

// Scanner performs the static scan. It is safe for concurrent use.
type Scanner struct {
	patterns []Pattern
	mu       sync.RWMutex
}

// NewScanner creates a scanner with the default malware indicators.
func NewScanner() *Scanner {
	return &Scanner{patterns: []Pattern{
		{
			Name:        "activex_object",
			Pattern:     regexp.MustCompile(`(?i)\b(?:new\s+ActiveXObject|CreateObject|GetObject)\s*\(\s*["']([^"']+)["']`),
			Severity:    SeverityMedium,
			Description: "Instantiates an automation object",
		},
		{
			Name:        "url",
			Pattern:     regexp.MustCompile(`(?i)\b((?:https?|ftp)://[^\s"'<>\\)]+)`),
			Severity:    SeverityMedium,
			Description: "Embedded URL",
		},
		{
			Name:        "shell_command",
			Pattern:     regexp.MustCompile(`(?i)\b(powershell(?:\.exe)?|cmd(?:\.exe)?\s+/[ck]|mshta(?:\.exe)?|regsvr32(?:\.exe)?|rundll32(?:\.exe)?|certutil(?:\.exe)?|bitsadmin(?:\.exe)?|schtasks(?:\.exe)?)\b`),
			Severity:    SeverityHigh,
			Description: "Shell command keyword",
		},
		{
			Name:        "registry_run_key",
			Pattern:     regexp.MustCompile(`(?i)(currentversion\\+run(?:once)?)\b`),
			Severity:    SeverityHigh,
			Description: "Autorun registry key",
		},
		{
			Name:        "wmi_moniker",
			Pattern:     regexp.MustCompile(`(?i)\b(winmgmts:[^"']*)`),
			Severity:    SeverityMedium,
			Description: "WMI moniker",
		},
		{
			Name:        "base64_blob",
			Pattern:     regexp.MustCompile(`[A-Za-z0-9+/]{200,}={0,2}`),
			Severity:    SeverityLow,
			Description: "Long base64 encoded blob",
		},
		{
			Name:        "eval_usage",
			Pattern:     regexp.MustCompile(`(?m)(?:^|[^.\w$])(eval)\s*\(`),
			Severity:    SeverityMedium,
			Description: "Evaluates dynamically generated code",
		},
		{
			Name:        "function_constructor",
			Pattern:     regexp.MustCompile(`\bnew\s+Function\s*\(`),
			Severity:    SeverityMedium,
			Description: "Function constructor creates code at run time",
		},
		{
			Name:        "char_code_decoding",
			Pattern:     regexp.MustCompile(`\bString\.fromCharCode\s*\(`),
			Severity:    SeverityLow,
			Description: "Builds strings from character codes",
		},
		{
			Name:        "conditional_compilation",
			Pattern:     regexp.MustCompile(`@cc_on`),
			Severity:    SeverityLow,
			Description: "JScript conditional compilation",
		},
		{
			Name:        "encoded_script",
			Pattern:     regexp.MustCompile(`#@~\^`),
			Severity:    SeverityHigh,
			Description: "JScript.Encode container",
		},
	}}
}

// Scan returns the findings of every pattern, ordered by position.
func (sc *Scanner) Scan(script string) []Finding {
	if script == "" {
		return nil
	}

	sc.mu.RLock()
	patterns := sc.patterns
	sc.mu.RUnlock()

	var findings []Finding
	lines := strings.Split(script, "\n")

	for _, pattern := range patterns {
		for _, match := range pattern.Pattern.FindAllStringSubmatchIndex(script, maxPerPattern) {
			start := match[0]
			value := script[match[0]:match[1]]
			if len(match) >= 4 && match[2] >= 0 {
				start, value = match[2], script[match[2]:match[3]]
			}
			line, column := getLineAndColumn(script, start)

			findings = append(findings, Finding{
				Type:        pattern.Name,
				Severity:    pattern.Severity,
				Description: pattern.Description,
				Value:       truncate(strings.TrimSpace(value), 200),
				Line:        line,
				Column:      column,
				Snippet:     extractSnippet(lines, line-1, column),
			})
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].Column < findings[j].Column
	})
	return findings
}

// AddPattern registers an extra indicator.
func (sc *Scanner) AddPattern(name, pattern, severity, description string) error {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.patterns = append(sc.patterns, Pattern{
		Name:        name,
		Pattern:     compiled,
		Severity:    severity,
		Description: description,
	})
	return nil
}

// RemovePattern removes a pattern by name
func (sc *Scanner) RemovePattern(name string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for i, p := range sc.patterns {
		if p.Name == name {
			sc.patterns = append(sc.patterns[:i:i], sc.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// Patterns returns a copy of the current patterns
func (sc *Scanner) Patterns() []Pattern {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	patterns := make([]Pattern, len(sc.patterns))
	copy(patterns, sc.patterns)
	return patterns
}

// FilterBySeverity returns only findings matching the given severities.
func FilterBySeverity(findings []Finding, severities ...string) []Finding {
	if len(severities) == 0 {
		return findings
	}

	wanted := make(map[string]bool)
	for _, s := range severities {
		wanted[s] = true
	}

	var filtered []Finding
	for _, f := range findings {
		if wanted[f.Severity] {
			filtered = append(filtered, f)
		}
	}
	return filtered
}

// HasHighSeverity reports whether any high severity finding exists.
func HasHighSeverity(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Values returns the distinct captured values of one finding type, in
// first-seen order. Object names are compared case-insensitively.
func Values(findings []Finding, kind string) []string {
	seen := make(map[string]bool)
	var values []string
	for _, f := range findings {
		if f.Type != kind || f.Value == "" {
			continue
		}
		key := strings.ToLower(f.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, f.Value)
	}
	return values
}

// getLineAndColumn calculates line and column number from byte position
func getLineAndColumn(text string, position int) (line, column int) {
	line = 1
	column = 1

	for i := 0; i < position && i < len(text); i++ {
		if text[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}

// extractSnippet returns up to 40 bytes either side of the finding.
func extractSnippet(lines []string, lineIndex, column int) string {
	if lineIndex < 0 || lineIndex >= len(lines) {
		return ""
	}

	line := lines[lineIndex]
	start := column - 40
	if start < 0 {
		start = 0
	}
	end := column + 40
	if end > len(line) {
		end = len(line)
	}
	if start > end {
		start = end
	}

	snippet := line[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(line) {
		snippet = snippet + "..."
	}
	return strings.ToValidUTF8(strings.TrimSpace(snippet), "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
