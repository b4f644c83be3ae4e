package rewrite

import "github.com/t14raptor/go-fast/ast"

// rewriteTypeof replaces typeof with the scope helper, which honours the
// type tag emulated objects report for themselves:
//
//	typeof x    ->  __wshbox_typeof(typeof x === "undefined" ? undefined : x)
//	typeof o.p  ->  __wshbox_typeof(o.p)
//
// The identifier form keeps undeclared names from throwing.
func rewriteTypeof(p *ast.Program, prov *Provenance) error {
	Traverse(p, prov, Rule{
		Expression: func(n *ast.Expression) ast.Expr {
			unary, ok := n.Expr.(*ast.UnaryExpression)
			if !ok || unary.Operator.String() != "typeof" || unary.Operand == nil {
				return nil
			}
			if _, ok := unary.Operand.Expr.(*ast.Identifier); ok {
				return templateExpression(prov,
					HelperTypeof+`(typeof $0 === "undefined" ? undefined : $0)`, unary.Operand)
			}
			return templateExpression(prov, HelperTypeof+"($0)", unary.Operand)
		},
	})
	return nil
}
