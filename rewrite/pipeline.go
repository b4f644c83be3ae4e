// Package rewrite normalizes obfuscated JScript before it is executed. The
// source is parsed into a syntax tree, run through an ordered list of
// independent passes and generated back to text.
package rewrite

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arturoeanton/wshbox/logger"
	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/generator"
	"github.com/t14raptor/go-fast/parser"
)

// Options selects the optional passes.
type Options struct {
	Loops           bool `toml:"loops"`            // Collapse wait and counted loops (default: false)
	MemberFunctions bool `toml:"member_functions"` // Rewrite and hoist `function A.B()` (default: true)
	Calls           bool `toml:"calls"`            // Route calls through dispatch helpers (default: false)
	Typeof          bool `toml:"typeof"`           // Honour emulated type tags (default: true)
	Eval            bool `toml:"eval"`             // Capture and rewrite eval'd code (default: true)
	Catch           bool `toml:"catch"`            // Function-scoped catch bindings (default: true)
	DumbConcat      bool `toml:"dumb_concat"`      // Join 'a' + 'b' literals textually (default: false)
}

// DefaultOptions mirrors the host defaults: opt-in passes are disabled.
func DefaultOptions() Options {
	return Options{
		MemberFunctions: true,
		Typeof:          true,
		Eval:            true,
		Catch:           true,
	}
}

// Pass is one tree rewrite.
type Pass struct {
	Name  string
	Apply func(p *ast.Program, prov *Provenance) error
}

// ParseError reports source the parser rejected.
type ParseError struct {
	Err  error
	Hint string
}

func (e *ParseError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("parse error: %v (%s)", e.Err, e.Hint)
	}
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EncodedScriptHint is attached to parse errors of JScript.Encode containers.
const EncodedScriptHint = "the input looks like an encoded script (JScript.Encode); decode it first, for example with a JSE decoder, and analyze the decoded file"

// RewriteError reports a failed pass. No output is produced.
type RewriteError struct {
	Pass string
	Err  error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("rewrite pass %q failed: %v", e.Pass, e.Err)
}

func (e *RewriteError) Unwrap() error { return e.Err }

// Pipeline applies the enabled passes in their fixed order.
type Pipeline struct {
	opts   Options
	passes []Pass
	log    *logger.Logger
}

// NewPipeline builds a pipeline for opts. log may be nil.
func NewPipeline(opts Options, log *logger.Logger) *Pipeline {
	pl := &Pipeline{opts: opts, log: log}
	if opts.Loops {
		pl.passes = append(pl.passes, Pass{"loops", normalizeLoops})
	}
	if opts.MemberFunctions {
		pl.passes = append(pl.passes,
			Pass{"member-functions", rewriteMemberFunctions},
			Pass{"hoist", hoist})
	}
	if opts.Calls {
		pl.passes = append(pl.passes, Pass{"calls", rewriteCalls})
	}
	if opts.Typeof {
		pl.passes = append(pl.passes, Pass{"typeof", rewriteTypeof})
	}
	if opts.Eval {
		pl.passes = append(pl.passes, Pass{"eval", rewriteEval})
	}
	if opts.Catch {
		pl.passes = append(pl.passes, Pass{"catch", rewriteCatch})
	}
	return pl
}

// Options returns the pipeline configuration.
func (pl *Pipeline) Options() Options { return pl.opts }

// PassNames lists the enabled passes in execution order.
func (pl *Pipeline) PassNames() []string {
	names := make([]string, len(pl.passes))
	for i, p := range pl.passes {
		names[i] = p.Name
	}
	return names
}

// Rewrite parses src, applies every enabled pass and generates the result.
func (pl *Pipeline) Rewrite(src string) (string, error) {
	if pl.opts.DumbConcat {
		src = SimplifyConcat(src)
	}
	if pl.opts.MemberFunctions {
		var lifted int
		src, lifted = LiftMemberFunctions(src)
		if lifted > 0 {
			pl.verbosef("Lifted %d member-path function header(s)", lifted)
		}
	}

	prog, err := parser.ParseFile(src)
	if err != nil {
		perr := &ParseError{Err: err}
		if LooksEncoded(src) {
			perr.Hint = EncodedScriptHint
		}
		return "", perr
	}

	prov := NewProvenance()
	for _, pass := range pl.passes {
		pl.verbosef("    Applying %s pass...", pass.Name)
		if err := runPass(pass, prog, prov); err != nil {
			return "", err
		}
	}

	out := generator.Generate(prog)
	// rewriting may have produced new adjacent literals
	if pl.opts.DumbConcat {
		out = SimplifyConcat(out)
	}
	return out, nil
}

func runPass(pass Pass, prog *ast.Program, prov *Provenance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RewriteError{Pass: pass.Name, Err: fmt.Errorf("%v", r)}
		}
	}()
	if err := pass.Apply(prog, prov); err != nil {
		return &RewriteError{Pass: pass.Name, Err: err}
	}
	return nil
}

func (pl *Pipeline) verbosef(format string, args ...interface{}) {
	if pl.log != nil {
		pl.log.Verbosef(format, args...)
		return
	}
	logger.Verbosef(format, args...)
}

var (
	singleConcat = regexp.MustCompile(`'[ \r\n]*\+[ \r\n]*'`)
	doubleConcat = regexp.MustCompile(`"[ \r\n]*\+[ \r\n]*"`)
)

// SimplifyConcat removes the `' + '` seams between adjacent string literals
// of the same quote style. It works on text and can damage string contents
// that contain the seam itself, so it is opt-in.
func SimplifyConcat(src string) string {
	src = singleConcat.ReplaceAllString(src, "")
	return doubleConcat.ReplaceAllString(src, "")
}

// LooksEncoded reports whether src carries the JScript.Encode marker.
func LooksEncoded(src string) bool {
	return strings.HasPrefix(strings.TrimLeft(src, "\ufeff \t\r\n"), "#@~^")
}
