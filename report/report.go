// Package report persists analysis results: a results directory with JSON
// files, dropped resources and generated snippets, a rendered text summary,
// an SQL event store and a redis event publisher.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/logger"
)

// Options configures WriteDirectory.
type Options struct {
	Summary   bool // Render summary.txt
	Overwrite bool // Allow writing into a non-empty directory
}

// Summary is the compact description of a run written to analysis.json.
type Summary struct {
	ID                     string         `json:"id"`
	Sample                 string         `json:"sample"`
	SHA256                 string         `json:"sha256"`
	Size                   int            `json:"size"`
	Encoding               string         `json:"encoding"`
	WSF                    bool           `json:"wsf"`
	ConditionalCompilation bool           `json:"conditional_compilation"`
	Passes                 []string       `json:"passes"`
	State                  string         `json:"state"`
	StartedAt              time.Time      `json:"started_at"`
	DurationMS             int64          `json:"duration_ms"`
	Error                  string         `json:"error,omitempty"`
	ExitCode               int            `json:"exit_code"`
	QuitCode               *int           `json:"quit_code,omitempty"`
	Events                 int            `json:"events"`
	URLs                   int            `json:"urls"`
	Resources              int            `json:"resources"`
	Snippets               int            `json:"snippets"`
	Findings               int            `json:"findings"`
	Categories             map[string]int `json:"categories"`
}

// Summarize builds the Summary of res.
func Summarize(res *engine.Result) Summary {
	categories := make(map[string]int)
	for _, e := range res.Events {
		categories[e.Category]++
	}
	return Summary{
		ID:                     res.ID,
		Sample:                 res.Sample,
		SHA256:                 res.SHA256,
		Size:                   res.Size,
		Encoding:               res.Encoding,
		WSF:                    res.WSF,
		ConditionalCompilation: res.ConditionalCompilation,
		Passes:                 res.Passes,
		State:                  res.State.String(),
		StartedAt:              res.StartedAt,
		DurationMS:             res.Duration.Milliseconds(),
		Error:                  res.Error,
		ExitCode:               res.ExitCode,
		QuitCode:               res.QuitCode,
		Events:                 len(res.Events),
		URLs:                   len(res.URLs),
		Resources:              len(res.Resources),
		Snippets:               len(res.Snippets),
		Findings:               len(res.Findings),
		Categories:             categories,
	}
}

type snippetEntry struct {
	Origin string    `json:"as"`
	Time   time.Time `json:"time"`
}

type resourceEntry struct {
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// WriteDirectory writes every artifact of res below dir:
//
//	analysis.json        run summary
//	IOC.json             recorded events, in order
//	urls.json            contacted URLs
//	static.json          static indicators
//	snippets.json        index of snippets/<id>.js
//	resources.json       index of resources/<id>
//	source.js            prepared sample
//	rewritten.js         code handed to the interpreter
//	summary.txt          rendered text summary
func WriteDirectory(dir string, res *engine.Result, opts Options) error {
	if err := prepareDirectory(dir, opts.Overwrite); err != nil {
		return err
	}

	files := []struct {
		name string
		v    interface{}
	}{
		{"analysis.json", Summarize(res)},
		{"IOC.json", nonNil(res.Events)},
		{"urls.json", nonNil(res.URLs)},
		{"static.json", nonNil(res.Findings)},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(dir, f.name), f.v); err != nil {
			return err
		}
	}

	snippets := make(map[string]snippetEntry, len(res.Snippets))
	if len(res.Snippets) > 0 {
		if err := os.MkdirAll(filepath.Join(dir, "snippets"), 0o755); err != nil {
			return fmt.Errorf("creating snippets directory: %w", err)
		}
	}
	for _, s := range res.Snippets {
		name := s.ID + ".js"
		snippets[name] = snippetEntry{Origin: s.Origin, Time: s.Time}
		if err := os.WriteFile(filepath.Join(dir, "snippets", name), []byte(s.Source), 0o644); err != nil {
			return fmt.Errorf("writing snippet %s: %w", name, err)
		}
	}
	if err := writeJSON(filepath.Join(dir, "snippets.json"), snippets); err != nil {
		return err
	}

	resources := make(map[string]resourceEntry, len(res.Resources))
	if len(res.Resources) > 0 {
		if err := os.MkdirAll(filepath.Join(dir, "resources"), 0o755); err != nil {
			return fmt.Errorf("creating resources directory: %w", err)
		}
	}
	for _, r := range res.Resources {
		resources[r.ID] = resourceEntry{Path: r.Path, SHA256: r.SHA256, MIMEType: r.MIMEType, Size: r.Size}
		if err := os.WriteFile(filepath.Join(dir, "resources", r.ID), r.Data, 0o644); err != nil {
			return fmt.Errorf("writing resource %s: %w", r.ID, err)
		}
	}
	if err := writeJSON(filepath.Join(dir, "resources.json"), resources); err != nil {
		return err
	}

	if res.Source != "" {
		if err := os.WriteFile(filepath.Join(dir, "source.js"), []byte(res.Source), 0o644); err != nil {
			return fmt.Errorf("writing source: %w", err)
		}
	}
	if res.Rewritten != "" {
		if err := os.WriteFile(filepath.Join(dir, "rewritten.js"), []byte(res.Rewritten), 0o644); err != nil {
			return fmt.Errorf("writing rewritten code: %w", err)
		}
	}

	if opts.Summary {
		text, err := RenderSummary(res)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "summary.txt"), []byte(text), 0o644); err != nil {
			return fmt.Errorf("writing summary: %w", err)
		}
	}

	logger.Infof("Results written to %s", dir)
	return nil
}

func prepareDirectory(dir string, overwrite bool) error {
	entries, err := os.ReadDir(dir)
	switch {
	case os.IsNotExist(err):
		return os.MkdirAll(dir, 0o755)
	case err != nil:
		return fmt.Errorf("reading results directory: %w", err)
	case len(entries) > 0 && !overwrite:
		return fmt.Errorf("results directory %s is not empty", dir)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// nonNil keeps empty lists as [] instead of null in the JSON files.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

// categoryCounts returns the event categories ordered by count, then name.
func categoryCounts(res *engine.Result) []map[string]interface{} {
	counts := Summarize(res).Categories
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	out := make([]map[string]interface{}, len(names))
	for i, name := range names {
		out[i] = map[string]interface{}{"category": name, "count": counts[name]}
	}
	return out
}
