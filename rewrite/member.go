package rewrite

import (
	"strings"

	"github.com/t14raptor/go-fast/ast"
)

// rewriteMemberFunctions turns lifted member-path functions back into
// assignments flagged for hoisting:
//
//	function A.B(x) {...}      ->  A.B = function (x) {...};
//	y = function A.B(x) {...}  ->  y = (A.B = function (x) {...})
func rewriteMemberFunctions(p *ast.Program, prov *Provenance) error {
	Traverse(p, prov, Rule{
		Statement: func(n *ast.Statement) ast.Stmt {
			decl, ok := n.Stmt.(*ast.FunctionDeclaration)
			if !ok || decl.Function == nil || decl.Function.Name == nil {
				return nil
			}
			path, ok := memberPathOf(decl.Function.Name.Name)
			if !ok {
				return nil
			}
			decl.Function.Name = nil
			stmt := templateStatement(prov, strings.Join(path, ".")+" = $0;",
				&ast.Expression{Expr: decl.Function})
			prov.RequestHoist(stmt)
			return stmt
		},
		Expression: func(n *ast.Expression) ast.Expr {
			fn, ok := n.Expr.(*ast.FunctionLiteral)
			if !ok || fn.Name == nil {
				return nil
			}
			path, ok := memberPathOf(fn.Name.Name)
			if !ok {
				return nil
			}
			fn.Name = nil
			assign := templateExpression(prov, strings.Join(path, ".")+" = $0;",
				&ast.Expression{Expr: fn})
			prov.RequestHoist(assign)
			return assign
		},
	})
	return nil
}
