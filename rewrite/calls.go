package rewrite

import "github.com/t14raptor/go-fast/ast"

// Names of the dispatch helpers installed in the execution scope.
const (
	HelperCall     = "__wshbox_call"
	HelperCallThis = "__wshbox_callThis"
	HelperTypeof   = "__wshbox_typeof"
	HelperEval     = "__wshbox_eval"
)

// rewriteCalls routes every call through a dispatch helper:
//
//	o.m(a)  ->  __wshbox_callThis(o, "m")(a)
//	o[k](a) ->  __wshbox_callThis(o, k)(a)
//	f(a)    ->  __wshbox_call(f)(a)
//
// Direct eval calls keep their callee so eval still sees the local scope.
func rewriteCalls(p *ast.Program, prov *Provenance) error {
	Traverse(p, prov, Rule{
		Expression: func(n *ast.Expression) ast.Expr {
			call, ok := n.Expr.(*ast.CallExpression)
			if !ok || call.Callee == nil || call.Callee.Expr == nil {
				return nil
			}
			if prov.IsSynthesized(call.Callee.Expr) {
				return nil
			}
			switch callee := call.Callee.Expr.(type) {
			case *ast.Identifier:
				if callee.Name == "eval" {
					return nil
				}
				call.Callee.Expr = templateExpression(prov, HelperCall+"($0)", call.Callee)
			case *ast.MemberExpression:
				if callee.Property == nil || callee.Object == nil {
					return nil
				}
				switch prop := callee.Property.Prop.(type) {
				case *ast.Identifier:
					call.Callee.Expr = templateExpression(prov,
						HelperCallThis+"($0, "+quote(prop.Name)+")", callee.Object)
				case *ast.ComputedProperty:
					if prop.Expr == nil {
						return nil
					}
					call.Callee.Expr = templateExpression(prov,
						HelperCallThis+"($0, $1)", callee.Object, prop.Expr)
				default:
					return nil
				}
			default:
				call.Callee.Expr = templateExpression(prov, HelperCall+"($0)",
					&ast.Expression{Expr: call.Callee.Expr})
			}
			return nil
		},
	})
	return nil
}
