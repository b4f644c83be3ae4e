package rewrite

import "github.com/t14raptor/go-fast/ast"

// rewriteEval sends the first argument of every direct eval through the
// scope helper, which records it and runs it through this pipeline again:
//
//	eval(s)  ->  eval(__wshbox_eval(s))
func rewriteEval(p *ast.Program, prov *Provenance) error {
	Traverse(p, prov, Rule{
		Expression: func(n *ast.Expression) ast.Expr {
			call, ok := n.Expr.(*ast.CallExpression)
			if !ok || call.Callee == nil || len(call.ArgumentList) == 0 {
				return nil
			}
			id, ok := call.Callee.Expr.(*ast.Identifier)
			if !ok || id.Name != "eval" {
				return nil
			}
			arg := &call.ArgumentList[0]
			if prov.IsSynthesized(arg.Expr) {
				return nil
			}
			arg.Expr = templateExpression(prov, HelperEval+"($0)", &ast.Expression{Expr: arg.Expr})
			return nil
		},
	})
	return nil
}
