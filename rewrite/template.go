package rewrite

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"
)

// Synthesized code is written as JavaScript text and parsed, instead of
// being assembled node by node. Identifiers of the form $0, $1... are
// placeholders replaced by caller supplied expressions.

// templateStatements parses text and returns its top level statements with
// every node marked as synthesized and placeholders substituted.
func templateStatements(prov *Provenance, text string, args ...*ast.Expression) ast.Statements {
	prog, err := parser.ParseFile(text)
	if err != nil {
		panic(fmt.Errorf("invalid template %q: %w", text, err))
	}

	m := &marker{prov: prov}
	m.V = m
	prog.VisitWith(m)

	if len(args) > 0 {
		s := &substituter{args: args, used: make([]bool, len(args))}
		s.V = s
		prog.VisitWith(s)
	}
	return prog.Body
}

// templateStatement is templateStatements for a single statement.
func templateStatement(prov *Provenance, text string, args ...*ast.Expression) ast.Stmt {
	body := templateStatements(prov, text, args...)
	if len(body) != 1 {
		panic(fmt.Errorf("template %q produced %d statements", text, len(body)))
	}
	return body[0].Stmt
}

// templateExpression parses text as a single expression statement and
// returns the expression.
func templateExpression(prov *Provenance, text string, args ...*ast.Expression) ast.Expr {
	stmt, ok := templateStatement(prov, text, args...).(*ast.ExpressionStatement)
	if !ok || stmt.Expression == nil {
		panic(fmt.Errorf("template %q is not an expression", text))
	}
	return stmt.Expression.Expr
}

type marker struct {
	ast.NoopVisitor
	prov *Provenance
}

func (m *marker) VisitStatement(n *ast.Statement) {
	m.prov.MarkSynthesized(n.Stmt)
	n.VisitChildrenWith(m)
}

func (m *marker) VisitExpression(n *ast.Expression) {
	m.prov.MarkSynthesized(n.Expr)
	n.VisitChildrenWith(m)
}

type substituter struct {
	ast.NoopVisitor
	args []*ast.Expression
	used []bool
}

func (s *substituter) VisitExpression(n *ast.Expression) {
	if id, ok := n.Expr.(*ast.Identifier); ok && strings.HasPrefix(id.Name, "$") {
		if i, err := strconv.Atoi(id.Name[1:]); err == nil && i < len(s.args) {
			// a placeholder used twice gets a copy the second time
			if s.used[i] {
				n.Expr = s.args[i].Clone().Expr
			} else {
				n.Expr = s.args[i].Expr
				s.used[i] = true
			}
			return
		}
	}
	n.VisitChildrenWith(s)
}

// quote renders s as a JavaScript string literal.
func quote(s string) string {
	return strconv.Quote(s)
}
