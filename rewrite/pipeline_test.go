package rewrite

import (
	"errors"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"
)

// helpers mirrors the dispatch helpers the sandbox installs.
const helpers = `
var __captured = [];
function __wshbox_call(f) { return f; }
function __wshbox_callThis(o, k) {
	var f = o[k];
	return function () { return f.apply(o, arguments); };
}
function __wshbox_typeof(v) {
	if (v !== null && (typeof v === "object" || typeof v === "function") && typeof v.typeof === "string") {
		return v.typeof;
	}
	return typeof v;
}
function __wshbox_eval(s) { __captured.push(s); return s; }
`

func rewriteWith(t *testing.T, opts Options, src string) string {
	t.Helper()
	out, err := NewPipeline(opts, nil).Rewrite(src)
	require.NoError(t, err)
	return out
}

func run(t *testing.T, code string) (goja.Value, *goja.Runtime) {
	t.Helper()
	vm := goja.New()
	_, err := vm.RunString(helpers)
	require.NoError(t, err)
	v, err := vm.RunString(code)
	require.NoError(t, err, code)
	return v, vm
}

func TestPassOrder(t *testing.T) {
	all := Options{Loops: true, MemberFunctions: true, Calls: true, Typeof: true, Eval: true, Catch: true}
	assert.Equal(t,
		[]string{"loops", "member-functions", "hoist", "calls", "typeof", "eval", "catch"},
		NewPipeline(all, nil).PassNames())

	assert.Equal(t,
		[]string{"member-functions", "hoist", "typeof", "eval", "catch"},
		NewPipeline(DefaultOptions(), nil).PassNames())
}

func TestMemberFunctionHoisting(t *testing.T) {
	src := `
var order = [];
var obj = {};
function setup() {
	obj.first();
	obj.second();
	function obj.first() { order.push("first"); }
	var filler = 1;
	function obj.second() { order.push("second"); }
}
setup();
order.join(",");
`
	out := rewriteWith(t, Options{MemberFunctions: true}, src)

	prog, err := parser.ParseFile(out)
	require.NoError(t, err)

	var body ast.Statements
	for _, st := range prog.Body {
		if decl, ok := st.Stmt.(*ast.FunctionDeclaration); ok && decl.Function.Name != nil && decl.Function.Name.Name == "setup" {
			body = decl.Function.Body.List
		}
	}
	require.NotEmpty(t, body)
	assert.Equal(t, []string{"obj.first", "obj.second"}, []string{assignTarget(body[0]), assignTarget(body[1])})

	v, _ := run(t, out)
	assert.Equal(t, "first,second", v.String())
}

func assignTarget(st ast.Statement) string {
	es, ok := st.Stmt.(*ast.ExpressionStatement)
	if !ok {
		return ""
	}
	assign, ok := es.Expression.Expr.(*ast.AssignExpression)
	if !ok {
		return ""
	}
	member, ok := assign.Left.Expr.(*ast.MemberExpression)
	if !ok {
		return ""
	}
	obj, _ := member.Object.Expr.(*ast.Identifier)
	prop, _ := member.Property.Prop.(*ast.Identifier)
	if obj == nil || prop == nil {
		return ""
	}
	return obj.Name + "." + prop.Name
}

func TestMemberFunctionExpression(t *testing.T) {
	src := `
var ns = {};
function check() {
	var direct = ns.early();
	var alias = function ns.early() { return 42; };
	return direct + alias();
}
check();
`
	out := rewriteWith(t, Options{MemberFunctions: true}, src)
	v, _ := run(t, out)
	assert.EqualValues(t, 84, v.ToInteger())
}

func TestMemberFunctionsRequireLifting(t *testing.T) {
	_, err := NewPipeline(Options{}, nil).Rewrite("function A.B() {}")
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestCallRewriteIsNotReapplied(t *testing.T) {
	src := `
function g(x) { return x + 1; }
function f(x) { return x * 2; }
var o = { v: 3, m: function (k) { return this.v + k; } };
var key = "m";
[f(g(1)), o.m(1), o[key](2)].join(",");
`
	out := rewriteWith(t, Options{Calls: true}, src)
	assert.Contains(t, out, HelperCall)
	assert.Contains(t, out, HelperCallThis)
	assert.NotContains(t, strings.ReplaceAll(out, " ", ""), HelperCall+"("+HelperCall)
	assert.NotContains(t, strings.ReplaceAll(out, " ", ""), HelperCall+"("+HelperCallThis)

	v, _ := run(t, out)
	assert.Equal(t, "4,4,5", v.String())
}

func TestCallRewriteKeepsDirectEval(t *testing.T) {
	src := `function f() { var local = 7; return eval("local"); } f();`
	out := rewriteWith(t, Options{Calls: true}, src)
	v, _ := run(t, out)
	assert.EqualValues(t, 7, v.ToInteger())
}

func TestTypeofHonoursTag(t *testing.T) {
	src := `
var lying = { typeof: "unknown" };
[typeof lying, typeof missingName, typeof 1, typeof "s", typeof lying.typeof].join(",");
`
	out := rewriteWith(t, Options{Typeof: true}, src)
	assert.Contains(t, out, HelperTypeof)
	v, _ := run(t, out)
	assert.Equal(t, "unknown,undefined,number,string,string", v.String())
}

func TestOperandsInsideTemplatesAreRewritten(t *testing.T) {
	out := rewriteWith(t, Options{Calls: true}, `function g(x) { return x + 1; } function f(x) { return x * 2; } f(g(1));`)
	assert.Equal(t, 2, strings.Count(out, HelperCall+"("), out)
	v, _ := run(t, out)
	assert.EqualValues(t, 4, v.ToInteger())

	out = rewriteWith(t, Options{Typeof: true}, `typeof (typeof missingName);`)
	assert.Equal(t, 2, strings.Count(out, HelperTypeof+"("), out)
	v, _ = run(t, out)
	assert.Equal(t, "string", v.String())
}

func TestEvalRoutesSourceToHelper(t *testing.T) {
	out := rewriteWith(t, DefaultOptions(), `eval("1+1");`)
	v, vm := run(t, out)
	assert.EqualValues(t, 2, v.ToInteger())
	assert.Equal(t, []interface{}{"1+1"}, vm.Get("__captured").Export())
}

func TestCatchBindingIsFunctionScoped(t *testing.T) {
	src := `
function f() {
	try { throw 5; } catch (e) { }
	return e;
}
f();
`
	out := rewriteWith(t, Options{Catch: true}, src)
	assert.Contains(t, out, catchPrefix+"e")
	v, _ := run(t, out)
	assert.EqualValues(t, 5, v.ToInteger())
}

func TestNestedCatch(t *testing.T) {
	src := `
function f() {
	try { throw 1; } catch (e) {
		try { throw 2; } catch (e) { }
	}
	return e;
}
f();
`
	out := rewriteWith(t, Options{Catch: true}, src)
	v, _ := run(t, out)
	assert.EqualValues(t, 2, v.ToInteger())
}

func TestWaitLoopTerminates(t *testing.T) {
	src := `
var ready = false;
var after = 0;
while (!ready) {}
after = 1;
do {} while (!ready);
after = after + 1;
after;
`
	out := rewriteWith(t, Options{Loops: true}, src)
	assert.NotContains(t, out, "while")
	v, _ := run(t, out)
	assert.EqualValues(t, 2, v.ToInteger())
}

func TestCountedLoops(t *testing.T) {
	src := `
var i = 0;
while (i < 1000000000) { i++; }
var k = 2;
while (k <= 7) { k += 1; }
for (var j = 0; j < 5; j++) {}
for (var n = 10; n < 3; n++) {}
[i, k, j, n].join(",");
`
	out := rewriteWith(t, Options{Loops: true}, src)
	v, _ := run(t, out)
	assert.Equal(t, "1000000000,8,5,10", v.String())
}

func TestUnrecognizedLoopsUntouched(t *testing.T) {
	for _, src := range []string{
		`while (true) {}`,
		`while (i < 10) { i++; work(); }`,
		`while (check()) {}`,
		`for (;;) {}`,
	} {
		out := rewriteWith(t, Options{Loops: true}, src)
		assert.True(t, strings.Contains(out, "while") || strings.Contains(out, "for"), src)
	}
}

func TestParseErrorHint(t *testing.T) {
	_, err := NewPipeline(DefaultOptions(), nil).Rewrite("#@~^XAAAAA==W!x^DkKxPr@#@&AAAA==^#~@")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, EncodedScriptHint, perr.Hint)

	_, err = NewPipeline(DefaultOptions(), nil).Rewrite("var = ;")
	require.True(t, errors.As(err, &perr))
	assert.Empty(t, perr.Hint)
}

func TestPassPanicBecomesRewriteError(t *testing.T) {
	prog, err := parser.ParseFile("1;")
	require.NoError(t, err)
	err = runPass(Pass{Name: "boom", Apply: func(*ast.Program, *Provenance) error {
		panic("bad tree")
	}}, prog, NewProvenance())

	var rerr *RewriteError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "boom", rerr.Pass)
}

func TestLiftMemberFunctions(t *testing.T) {
	src := "function A.prototype.run (x) {}\nvar s = 'function X.Y()'; // function C.D()\n/* function E.F() */ function plain() {}"
	out, n := LiftMemberFunctions(src)
	assert.Equal(t, 1, n)
	assert.Contains(t, out, "function "+memberFnPrefix+"A"+memberFnSep+"prototype"+memberFnSep+"run (x)")
	assert.Contains(t, out, "'function X.Y()'")
	assert.Contains(t, out, "// function C.D()")
	assert.Contains(t, out, "/* function E.F() */")
	assert.Contains(t, out, "function plain()")

	path, ok := memberPathOf(memberFnPrefix + "A" + memberFnSep + "B")
	assert.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, path)
	_, ok = memberPathOf("plain")
	assert.False(t, ok)
}

func TestSimplifyConcat(t *testing.T) {
	assert.Equal(t, `var a = 'abc';`, SimplifyConcat("var a = 'a' +\n 'b'+'c';"))
	assert.Equal(t, `var b = "xy";`, SimplifyConcat(`var b = "x" + "y";`))
	assert.Equal(t, `'a' + x`, SimplifyConcat(`'a' + x`))
}

func TestDumbConcatInPipeline(t *testing.T) {
	out := rewriteWith(t, Options{DumbConcat: true}, "var u = 'ht' + 'tp'; u;")
	v, _ := run(t, out)
	assert.Equal(t, "http", v.String())
}

func TestProvenance(t *testing.T) {
	prov := NewProvenance()
	a := &ast.Identifier{Name: "a"}
	b := &ast.Identifier{Name: "a"}
	prov.MarkSynthesized(a)
	assert.True(t, prov.IsSynthesized(a))
	assert.False(t, prov.IsSynthesized(b))
	assert.False(t, prov.IsSynthesized(nil))
	prov.RequestHoist(b)
	assert.True(t, prov.HoistRequested(b))
	assert.Equal(t, 1, prov.SynthesizedCount())
}
