package rewrite

import "github.com/t14raptor/go-fast/ast"

// Rule inspects one node and returns its replacement, or nil to leave the
// node as it is. A rule may also mutate the node in place and return nil.
type Rule struct {
	Expression func(n *ast.Expression) ast.Expr
	Statement  func(n *ast.Statement) ast.Stmt
}

// Traverse walks the program in pre-order applying rule to every node that
// was not synthesized by a pass. Replacements are not offered to the rule
// again; the walk continues into their children, where only nodes of the
// original program can match.
func Traverse(p *ast.Program, prov *Provenance, rule Rule) {
	t := &traverser{prov: prov, rule: rule}
	t.V = t
	p.VisitWith(t)
}

type traverser struct {
	ast.NoopVisitor
	prov *Provenance
	rule Rule
}

func (t *traverser) VisitStatement(n *ast.Statement) {
	if n.Stmt == nil {
		return
	}
	if t.rule.Statement != nil && !t.prov.IsSynthesized(n.Stmt) {
		if r := t.rule.Statement(n); r != nil {
			n.Stmt = r
		}
	}
	n.VisitChildrenWith(t)
}

func (t *traverser) VisitExpression(n *ast.Expression) {
	if n.Expr == nil {
		return
	}
	if t.rule.Expression != nil && !t.prov.IsSynthesized(n.Expr) {
		if r := t.rule.Expression(n); r != nil {
			n.Expr = r
		}
	}
	n.VisitChildrenWith(t)
}
