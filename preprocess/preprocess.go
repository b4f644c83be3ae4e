// Package preprocess turns a raw sample into JScript text the rewrite
// pipeline can parse: charset decoding, .wsf container extraction,
// strict-mode neutralisation and conditional compilation expansion.
package preprocess

import (
	"context"
	"strings"

	"github.com/arturoeanton/wshbox/logger"
)

// Options configures the source-level steps.
type Options struct {
	Encoding               string // Explicit charset, empty to detect
	ConditionalCompilation bool   // Expand @cc_on blocks (default: true)
	Runner                 ToolRunner
}

// Result is the prepared source and what was done to it.
type Result struct {
	Source     string
	Encoding   string
	WSF        bool
	ScriptRefs []string
	CCOn       bool
}

// Prepare runs every source-level step on data.
func Prepare(ctx context.Context, data []byte, opts Options) (*Result, error) {
	text, enc, err := Decode(data, opts.Encoding)
	if err != nil {
		return nil, err
	}
	res := &Result{Encoding: enc}
	logger.Verbosef("Sample decoded as %s (%d bytes)", enc, len(data))

	if IsWSF(text) {
		res.WSF = true
		text, res.ScriptRefs = ExtractWSF(text)
		logger.Verbosef("Extracted JScript from WSF container (%d external script(s))", len(res.ScriptRefs))
	}

	text = NeutralizeStrictMode(text)

	if HasConditionalCompilation(text) {
		res.CCOn = true
		logger.Debug("Code uses conditional compilation")
		if opts.ConditionalCompilation {
			runner := opts.Runner
			if runner == nil {
				runner = ExecRunner{}
			}
			logger.Info("    Replacing @cc_on statements (use -no-cc-on-rewrite to skip)...")
			text, err = ExpandConditionalCompilation(ctx, runner, text)
			if err != nil {
				return nil, err
			}
		} else {
			logger.Warn(strings.TrimSpace(`
The code appears to contain conditional compilation statements.
If you run into unexpected results, try uncommenting lines that look like

    /*@cc_on
    <JavaScript code>
    @*/`))
		}
	}

	res.Source = text
	return res, nil
}
