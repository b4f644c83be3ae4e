package report

import (
	"fmt"
	"strings"

	"github.com/arturoeanton/wshbox/analyzer"
	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/ioc"

	"github.com/cbroglie/mustache"
)

const summaryTemplate = `Analysis {{{id}}}
Sample:    {{{sample}}}
SHA-256:   {{{sha256}}}
Encoding:  {{{encoding}}}
Passes:    {{{passes}}}
State:     {{{state}}}{{#error}} ({{{error}}}){{/error}}
Duration:  {{{duration}}}
{{#quit}}Quit code: {{{quit}}}
{{/quit}}
{{#has_categories}}
Events:
{{#categories}}
  {{{count}}}  {{{category}}}
{{/categories}}
{{/has_categories}}
{{#has_urls}}
URLs:
{{#urls}}
  - {{{.}}}
{{/urls}}
{{/has_urls}}
{{#has_commands}}
Commands:
{{#commands}}
  - {{{.}}}
{{/commands}}
{{/has_commands}}
{{#has_resources}}
Dropped files:
{{#resources}}
  - {{{path}}} ({{{mime}}}, {{{size}}} bytes, sha256 {{{sha256}}})
{{/resources}}
{{/has_resources}}
{{#has_snippets}}
Generated code: {{{snippets}}} snippet(s)
{{/has_snippets}}
{{#has_findings}}
High severity indicators:
{{#findings}}
  - {{{line}}}:{{{column}}} {{{description}}}: {{{value}}}
{{/findings}}
{{/has_findings}}
`

// commandCategories are the events whose payload carries a command line.
var commandCategories = map[string]bool{
	ioc.CategoryCommandRun:    true,
	ioc.CategoryProcessCreate: true,
}

// RenderSummary renders the human-readable summary of res.
func RenderSummary(res *engine.Result) (string, error) {
	var commands []string
	seen := make(map[string]bool)
	for _, e := range res.Events {
		if !commandCategories[e.Category] {
			continue
		}
		command, _ := e.Payload["command"].(string)
		if command == "" || seen[command] {
			continue
		}
		seen[command] = true
		commands = append(commands, command)
	}

	resources := make([]map[string]interface{}, len(res.Resources))
	for i, r := range res.Resources {
		resources[i] = map[string]interface{}{
			"path":   r.Path,
			"mime":   r.MIMEType,
			"size":   r.Size,
			"sha256": r.SHA256,
		}
	}

	high := analyzer.FilterBySeverity(res.Findings, analyzer.SeverityHigh)
	findings := make([]map[string]interface{}, len(high))
	for i, f := range high {
		findings[i] = map[string]interface{}{
			"line":        f.Line,
			"column":      f.Column,
			"description": f.Description,
			"value":       f.Value,
		}
	}

	var quit interface{}
	if res.QuitCode != nil {
		quit = fmt.Sprint(*res.QuitCode)
	}
	categories := categoryCounts(res)

	data := map[string]interface{}{
		"id":             res.ID,
		"sample":         res.Sample,
		"sha256":         res.SHA256,
		"encoding":       res.Encoding,
		"passes":         strings.Join(res.Passes, ", "),
		"state":          res.State.String(),
		"error":          res.Error,
		"duration":       res.Duration.String(),
		"quit":           quit,
		"has_categories": len(categories) > 0,
		"categories":     categories,
		"has_urls":       len(res.URLs) > 0,
		"urls":           res.URLs,
		"has_commands":   len(commands) > 0,
		"commands":       commands,
		"has_resources":  len(resources) > 0,
		"resources":      resources,
		"has_snippets":   len(res.Snippets) > 0,
		"snippets":       len(res.Snippets),
		"has_findings":   len(findings) > 0,
		"findings":       findings,
	}

	out, err := mustache.Render(summaryTemplate, data)
	if err != nil {
		return "", fmt.Errorf("rendering summary: %w", err)
	}
	return out, nil
}
