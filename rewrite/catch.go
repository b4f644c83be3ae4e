package rewrite

import (
	"strings"

	"github.com/t14raptor/go-fast/ast"
)

const catchPrefix = "__wshbox_catch_"

// rewriteCatch gives catch bindings function scope, as the Windows script
// host does:
//
//	catch (e) { B }  ->  catch (__wshbox_catch_e) { var e = __wshbox_catch_e; B }
func rewriteCatch(p *ast.Program, prov *Provenance) error {
	Traverse(p, prov, Rule{
		Statement: func(n *ast.Statement) ast.Stmt {
			try, ok := n.Stmt.(*ast.TryStatement)
			if !ok || try.Catch == nil || try.Catch.Parameter == nil || try.Catch.Body == nil {
				return nil
			}
			param, ok := try.Catch.Parameter.Target.(*ast.Identifier)
			if !ok || strings.HasPrefix(param.Name, catchPrefix) {
				return nil
			}
			name := param.Name
			renamed := catchPrefix + name
			try.Catch.Parameter.Target = &ast.Identifier{Name: renamed}

			decl := templateStatement(prov, "var "+name+" = "+renamed+";")
			try.Catch.Body.List = append(ast.Statements{{Stmt: decl}}, try.Catch.Body.List...)
			return nil
		},
	})
	return nil
}
