package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// MissingToolError reports an external program needed for conditional
// compilation that is not installed.
type MissingToolError struct {
	Tool string
	Hint string
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("required external tool %q not found: %s", e.Tool, e.Hint)
}

// ToolRunner executes an external filter program. It exists so tests can
// run without m4 or a C compiler installed.
type ToolRunner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args []string, stdin string) (string, error)
}

// ExecRunner runs real programs with os/exec.
type ExecRunner struct{}

// LookPath resolves name on PATH.
func (ExecRunner) LookPath(name string) (string, error) { return exec.LookPath(name) }

// Run pipes stdin through the program and returns its stdout.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Preprocessor flags emulating 32-bit Windows JScript.
var ccDefines = []string{
	"-D_boxjs_at_x86=1",
	"-D_boxjs_at_win16=0",
	"-D_boxjs_at_win32=1",
	"-D_boxjs_at_win64=1",
	"-D_boxjs_at_jscript=1",
}

const m4Prelude = "\ndefine(`_boxjs_if', #if ($1)\n)\ndefine(`_boxjs_elif', #elif ($1)\n)\n"

var (
	ccOnOpen  = regexp.MustCompile(`(?i)/\*@cc_on`)
	ccOn      = regexp.MustCompile(`(?i)@cc_on`)
	ccIf      = regexp.MustCompile(`(?i)@if\s*`)
	ccElif    = regexp.MustCompile(`(?i)@elif\s*`)
	ccElse    = regexp.MustCompile(`(?i)@else`)
	ccEnd     = regexp.MustCompile(`(?i)@end`)
	ccHasCond = regexp.MustCompile(`@if`)
)

// HasConditionalCompilation reports whether src uses @cc_on.
func HasConditionalCompilation(src string) bool {
	return strings.Contains(src, "@cc_on")
}

// ExpandConditionalCompilation strips the conditional compilation comment
// markers so the guarded code becomes live. When @if blocks are present the
// text is evaluated with m4 and the C preprocessor, with the conditions
// set as on 32-bit Windows.
func ExpandConditionalCompilation(ctx context.Context, runner ToolRunner, src string) (string, error) {
	code := ccOnOpen.ReplaceAllString(src, "")
	code = ccOn.ReplaceAllString(code, "")
	code = strings.ReplaceAll(code, "/*@", "\n")
	code = strings.ReplaceAll(code, "@*/", "\n")

	if ccHasCond.MatchString(code) {
		if _, err := runner.LookPath("cc"); err != nil {
			return "", &MissingToolError{Tool: "cc", Hint: "install a C compiler"}
		}
		if _, err := runner.LookPath("m4"); err != nil {
			return "", &MissingToolError{Tool: "m4", Hint: "install m4"}
		}

		code = ccIf.ReplaceAllString(code, "\n_boxjs_if")
		code = ccElif.ReplaceAllString(code, "\n_boxjs_elif")
		code = ccElse.ReplaceAllString(code, "\n#else\n")
		code = ccEnd.ReplaceAllString(code, "\n#endif\n")
		code = strings.ReplaceAll(code, "@", "_boxjs_at")

		expanded, err := runner.Run(ctx, "m4", nil, m4Prelude+code)
		if err != nil {
			return "", fmt.Errorf("conditional compilation: %w", err)
		}
		args := append([]string{"-E", "-P", "-xc"}, ccDefines...)
		args = append(args, "-o-", "-")
		code, err = runner.Run(ctx, "cc", args, expanded)
		if err != nil {
			return "", fmt.Errorf("conditional compilation: %w", err)
		}
	}
	return strings.ReplaceAll(code, "_boxjs_at", "@"), nil
}
