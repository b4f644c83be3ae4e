package rewrite

// Provenance records, per syntax node, whether a pass synthesized it and
// whether it must be moved to the top of its scope. Nodes are keyed by
// identity (the concrete node pointer held by an ast.Expression or
// ast.Statement wrapper), so the tree itself carries no bookkeeping.
type Provenance struct {
	synthesized map[interface{}]struct{}
	hoist       map[interface{}]struct{}
}

// NewProvenance returns an empty side table.
func NewProvenance() *Provenance {
	return &Provenance{
		synthesized: make(map[interface{}]struct{}),
		hoist:       make(map[interface{}]struct{}),
	}
}

// MarkSynthesized flags node as produced by a pass. Rewrite rules never fire
// on synthesized nodes.
func (p *Provenance) MarkSynthesized(node interface{}) {
	if node == nil {
		return
	}
	p.synthesized[node] = struct{}{}
}

// IsSynthesized reports whether node was produced by a pass.
func (p *Provenance) IsSynthesized(node interface{}) bool {
	if node == nil {
		return false
	}
	_, ok := p.synthesized[node]
	return ok
}

// RequestHoist flags node for relocation to the front of its scope.
func (p *Provenance) RequestHoist(node interface{}) {
	p.hoist[node] = struct{}{}
}

// HoistRequested reports whether node was flagged for hoisting.
func (p *Provenance) HoistRequested(node interface{}) bool {
	if node == nil {
		return false
	}
	_, ok := p.hoist[node]
	return ok
}

// SynthesizedCount returns the number of synthesized nodes.
func (p *Provenance) SynthesizedCount() int {
	return len(p.synthesized)
}
