package rewrite

import (
	"strconv"

	"github.com/t14raptor/go-fast/ast"
)

// normalizeLoops collapses the two loop shapes samples use to stall:
//
// Wait loop, an empty body spinning on a side-effect free condition:
//
//	while (!ready) {}      ->  !ready;
//	do {} while (x < y);   ->  x < y;
//
// Counted loop, an empty body that only steps a counter:
//
//	while (i < N) { i++; }       ->  if (i < N) i = i + Math.ceil(N - i);
//	for (init; i < N; i++) {}    ->  { for (init; false; i++) ; if (i < N) ... }
//
// Anything else is left alone.
func normalizeLoops(p *ast.Program, prov *Provenance) error {
	Traverse(p, prov, Rule{
		Statement: func(n *ast.Statement) ast.Stmt {
			switch s := n.Stmt.(type) {
			case *ast.WhileStatement:
				if s.Test == nil || s.Test.Expr == nil {
					return nil
				}
				if isEmptyBody(s.Body) && isWaitCondition(s.Test.Expr) {
					return waitReplacement(prov, s.Test)
				}
				if counter, ok := counterStep(s.Body); ok {
					if repl := countedReplacement(prov, s.Test.Expr, counter); repl != nil {
						return repl
					}
				}
			case *ast.DoWhileStatement:
				if s.Test != nil && s.Test.Expr != nil && isEmptyBody(s.Body) && isWaitCondition(s.Test.Expr) {
					return waitReplacement(prov, s.Test)
				}
			case *ast.ForStatement:
				if s.Test == nil || s.Test.Expr == nil || s.Update == nil || s.Update.Expr == nil {
					return nil
				}
				if !isEmptyBody(s.Body) {
					return nil
				}
				counter, ok := stepTarget(s.Update.Expr)
				if !ok {
					return nil
				}
				repl := countedReplacement(prov, s.Test.Expr, counter)
				if repl == nil {
					return nil
				}
				// the initializer still runs once
				s.Test = &ast.Expression{Expr: &ast.BooleanLiteral{Value: false}}
				prov.MarkSynthesized(s.Test.Expr)
				prov.MarkSynthesized(s)
				block := &ast.BlockStatement{List: ast.Statements{{Stmt: s}, {Stmt: repl}}}
				prov.MarkSynthesized(block)
				return block
			}
			return nil
		},
	})
	return nil
}

func waitReplacement(prov *Provenance, test *ast.Expression) ast.Stmt {
	stmt := &ast.ExpressionStatement{Expression: &ast.Expression{Expr: test.Expr}}
	prov.MarkSynthesized(stmt)
	return stmt
}

// countedReplacement returns the jump-to-end statement for `counter < N`
// or `counter <= N`, or nil when test has another shape.
func countedReplacement(prov *Provenance, test ast.Expr, counter string) ast.Stmt {
	bin, ok := test.(*ast.BinaryExpression)
	if !ok || bin.Left == nil || bin.Right == nil {
		return nil
	}
	left, ok := bin.Left.Expr.(*ast.Identifier)
	if !ok || left.Name != counter {
		return nil
	}
	var limit string
	switch r := bin.Right.Expr.(type) {
	case *ast.Identifier:
		if r.Name == counter {
			return nil
		}
		limit = r.Name
	case *ast.NumberLiteral:
		limit = strconv.FormatFloat(r.Value, 'g', -1, 64)
	default:
		return nil
	}

	switch bin.Operator.String() {
	case "<":
		return templateStatement(prov,
			"if ("+counter+" < "+limit+") "+counter+" = "+counter+" + Math.ceil("+limit+" - "+counter+");")
	case "<=":
		return templateStatement(prov,
			"if ("+counter+" <= "+limit+") "+counter+" = "+counter+" + Math.floor("+limit+" - "+counter+") + 1;")
	}
	return nil
}

// counterStep matches a loop body consisting of exactly one counter step.
func counterStep(body *ast.Statement) (string, bool) {
	if body == nil {
		return "", false
	}
	stmt := body.Stmt
	if block, ok := stmt.(*ast.BlockStatement); ok {
		if len(block.List) != 1 {
			return "", false
		}
		stmt = block.List[0].Stmt
	}
	es, ok := stmt.(*ast.ExpressionStatement)
	if !ok || es.Expression == nil {
		return "", false
	}
	return stepTarget(es.Expression.Expr)
}

// stepTarget matches i++, ++i, i += 1 and i = i + 1.
func stepTarget(e ast.Expr) (string, bool) {
	switch x := e.(type) {
	case *ast.UpdateExpression:
		if x.Operator.String() != "++" || x.Operand == nil {
			return "", false
		}
		id, ok := x.Operand.Expr.(*ast.Identifier)
		if !ok {
			return "", false
		}
		return id.Name, true
	case *ast.AssignExpression:
		id, ok := x.Left.Expr.(*ast.Identifier)
		if !ok {
			return "", false
		}
		switch x.Operator.String() {
		case "+=":
			if isNumber(x.Right.Expr, 1) {
				return id.Name, true
			}
		case "=":
			bin, ok := x.Right.Expr.(*ast.BinaryExpression)
			if !ok || bin.Operator.String() != "+" {
				return "", false
			}
			if l, ok := bin.Left.Expr.(*ast.Identifier); ok && l.Name == id.Name && isNumber(bin.Right.Expr, 1) {
				return id.Name, true
			}
		}
	}
	return "", false
}

func isNumber(e ast.Expr, v float64) bool {
	n, ok := e.(*ast.NumberLiteral)
	return ok && n.Value == v
}

func isEmptyBody(body *ast.Statement) bool {
	if body == nil || body.Stmt == nil {
		return true
	}
	switch s := body.Stmt.(type) {
	case *ast.EmptyStatement:
		return true
	case *ast.BlockStatement:
		for _, st := range s.List {
			if _, ok := st.Stmt.(*ast.EmptyStatement); !ok {
				return false
			}
		}
		return true
	}
	return false
}

// isWaitCondition reports whether e has no side effects and reads at least
// one name. Constant conditions such as while(true) are real infinite loops
// and are left to the watchdog.
func isWaitCondition(e ast.Expr) bool {
	refs := 0
	if !isPure(e, &refs) {
		return false
	}
	return refs > 0
}

func isPure(e ast.Expr, refs *int) bool {
	switch x := e.(type) {
	case *ast.Identifier:
		*refs++
		return true
	case *ast.NumberLiteral, *ast.StringLiteral, *ast.BooleanLiteral, *ast.NullLiteral:
		return true
	case *ast.MemberExpression:
		if x.Object == nil || !isPure(x.Object.Expr, refs) {
			return false
		}
		if cp, ok := x.Property.Prop.(*ast.ComputedProperty); ok {
			return cp.Expr != nil && isPure(cp.Expr.Expr, refs)
		}
		return true
	case *ast.UnaryExpression:
		if x.Operator.String() == "delete" || x.Operand == nil {
			return false
		}
		return isPure(x.Operand.Expr, refs)
	case *ast.BinaryExpression:
		return x.Left != nil && x.Right != nil && isPure(x.Left.Expr, refs) && isPure(x.Right.Expr, refs)
	case *ast.ConditionalExpression:
		return isPure(x.Test.Expr, refs) && isPure(x.Consequent.Expr, refs) && isPure(x.Alternate.Expr, refs)
	}
	return false
}
