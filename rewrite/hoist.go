package rewrite

import "github.com/t14raptor/go-fast/ast"

// hoist moves every node flagged for hoisting to the front of its nearest
// enclosing function body (or the program). Within one scope the hoisted
// statements keep their source order. A flagged expression leaves a
// reference to its assignment target behind.
func hoist(p *ast.Program, prov *Provenance) error {
	h := &hoister{prov: prov}
	h.V = h
	h.push(&p.Body)
	p.VisitWith(h)
	h.pop()
	return nil
}

type hoistScope struct {
	list    *ast.Statements
	hoisted ast.Statements
}

type hoister struct {
	ast.NoopVisitor
	prov   *Provenance
	scopes []*hoistScope
}

func (h *hoister) push(list *ast.Statements) {
	h.scopes = append(h.scopes, &hoistScope{list: list})
}

func (h *hoister) pop() {
	s := h.scopes[len(h.scopes)-1]
	h.scopes = h.scopes[:len(h.scopes)-1]
	if len(s.hoisted) == 0 {
		return
	}
	*s.list = append(s.hoisted, *s.list...)
}

func (h *hoister) current() *hoistScope {
	return h.scopes[len(h.scopes)-1]
}

func (h *hoister) VisitStatement(n *ast.Statement) {
	switch s := n.Stmt.(type) {
	case *ast.FunctionDeclaration:
		if s.Function != nil && s.Function.Body != nil {
			h.push(&s.Function.Body.List)
			n.VisitChildrenWith(h)
			h.pop()
			return
		}
	case *ast.ExpressionStatement:
		if h.prov.HoistRequested(s) {
			n.VisitChildrenWith(h)
			scope := h.current()
			scope.hoisted = append(scope.hoisted, ast.Statement{Stmt: s})
			n.Stmt = &ast.EmptyStatement{}
			h.prov.MarkSynthesized(n.Stmt)
			return
		}
	}
	n.VisitChildrenWith(h)
}

func (h *hoister) VisitExpression(n *ast.Expression) {
	switch e := n.Expr.(type) {
	case *ast.FunctionLiteral:
		if e.Body != nil {
			h.push(&e.Body.List)
			n.VisitChildrenWith(h)
			h.pop()
			return
		}
	case *ast.AssignExpression:
		if h.prov.HoistRequested(e) {
			n.VisitChildrenWith(h)
			stmt := &ast.ExpressionStatement{Expression: &ast.Expression{Expr: e}}
			h.prov.MarkSynthesized(stmt)
			scope := h.current()
			scope.hoisted = append(scope.hoisted, ast.Statement{Stmt: stmt})
			ref := e.Left.Clone()
			h.prov.MarkSynthesized(ref.Expr)
			n.Expr = ref.Expr
			return
		}
	}
	n.VisitChildrenWith(h)
}
