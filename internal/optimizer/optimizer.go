// Package optimizer rewrites a logical plan into an optimized logical
// plan by applying a fixed-order, fixed-point rule set. It never
// consults statistics and never changes observable results, only which
// nodes compute them.
package optimizer

import (
	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/predicate"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

// SchemaLookup resolves a table name to its schema, used to decide which
// columns are indexed.
type SchemaLookup func(table string) *schema.TableDef

// Optimize rewrites n bottom-up, applying rules 1-7 at each Filter/Sort
// node as its subtree is reassembled. A single bottom-up pass reaches a
// fixed point for this rule set: every rule only fires once per node on
// the way up, and none of them re-introduces a pattern another rule in
// the list would still act on.
func Optimize(n planner.Node, lookup SchemaLookup) planner.Node {
	return rewrite(n, lookup)
}

func rewrite(n planner.Node, lookup SchemaLookup) planner.Node {
	switch v := n.(type) {
	case planner.Scan:
		return v

	case planner.Filter:
		input := rewrite(v.Input, lookup)
		if scan, ok := input.(planner.Scan); ok {
			def := lookup(scan.Table)
			if def != nil {
				if node, residual, matched := tryIndexRewrite(scan.Table, v.Pred, def); matched {
					if residual == nil {
						return node
					}
					return planner.ResidualFilter{Input: node, Pred: residual}
				}
			}
		}
		return planner.Filter{Input: input, Pred: v.Pred}

	case planner.Join:
		return planner.Join{Input: rewrite(v.Input, lookup), Kind: v.Kind, Right: v.Right, Cond: v.Cond}

	case planner.GroupBy:
		return planner.GroupBy{Input: rewrite(v.Input, lookup), Cols: v.Cols}

	case planner.Aggregate:
		input := rewrite(v.Input, lookup)
		var group *planner.GroupBy
		if g, ok := input.(planner.GroupBy); ok {
			group = &g
		}
		return planner.Aggregate{Input: input, Group: group, Aggs: v.Aggs}

	case planner.Project:
		return planner.Project{Input: rewrite(v.Input, lookup), Cols: v.Cols}

	case planner.Sort:
		input := rewrite(v.Input, lookup)
		return pushProjectPastSort(planner.Sort{Input: input, Keys: v.Keys})

	case planner.Limit:
		input := rewrite(v.Input, lookup)
		if sort, ok := input.(planner.Sort); ok {
			return planner.TopK{Input: sort.Input, Keys: sort.Keys, N: v.N}
		}
		return planner.Limit{Input: input, N: v.N}

	case planner.Offset:
		input := rewrite(v.Input, lookup)
		if topk, ok := input.(planner.TopK); ok {
			return planner.Offset{Input: planner.TopK{Input: topk.Input, Keys: topk.Keys, N: topk.N + v.K}, K: v.K}
		}
		return planner.Offset{Input: input, K: v.K}

	default:
		return n
	}
}

// pushProjectPastSort implements rule 6: when a Project sits directly
// beneath a Sort, the sort keys must be preserved. If they already are
// (every sort column survives the projection), the tree is left as-is:
// the projection already ran as early as it safely can. Otherwise the
// projection is moved above the sort so the sort still sees every column
// it needs.
func pushProjectPastSort(s planner.Sort) planner.Node {
	proj, ok := s.Input.(planner.Project)
	if !ok || proj.Cols == nil {
		return s
	}
	if sortKeysSubsetOf(s.Keys, proj.Cols) {
		return s
	}
	return planner.Project{
		Input: planner.Sort{Input: proj.Input, Keys: s.Keys},
		Cols:  proj.Cols,
	}
}

func sortKeysSubsetOf(keys []planner.SortKey, cols []string) bool {
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c] = true
	}
	for _, k := range keys {
		if !set[k.Column] {
			return false
		}
	}
	return true
}

// tryIndexRewrite attempts rules 1-4 against a single predicate evaluated
// directly over table. It returns the replacement node, any predicate
// left over that the index node could not absorb, and whether any rule
// matched at all.
func tryIndexRewrite(table string, pred predicate.Predicate, def *schema.TableDef) (planner.Node, predicate.Predicate, bool) {
	if and, ok := pred.(predicate.And); ok {
		if node, ok := tryGinCombine(table, and, def); ok {
			return node, nil, true
		}
		var matched planner.Node
		var residual []predicate.Predicate
		for _, p := range and {
			if matched == nil {
				if node, leftover, ok := trySingle(table, p, def); ok && leftover == nil {
					matched = node
					continue
				}
			}
			residual = append(residual, p)
		}
		if matched != nil {
			return matched, combineAnd(residual), true
		}
		return nil, nil, false
	}
	return trySingle(table, pred, def)
}

// tryGinCombine implements rule 4: an And of JsonbEq predicates all
// against the same GIN-indexed column becomes a single multi-scan.
func tryGinCombine(table string, and predicate.And, def *schema.TableDef) (planner.Node, bool) {
	if len(and) < 2 {
		return nil, false
	}
	var column string
	var idx *schema.IndexDef
	pairs := make([]planner.GinPathValue, 0, len(and))
	for _, p := range and {
		jq, ok := p.(predicate.JsonbEq)
		if !ok {
			return nil, false
		}
		col, ok := jq.Expr.(predicate.Column)
		if !ok {
			return nil, false
		}
		if column == "" {
			column = string(col)
			idx = ginIndexFor(def, column)
			if idx == nil {
				return nil, false
			}
		} else if string(col) != column {
			return nil, false
		}
		pairs = append(pairs, planner.GinPathValue{Path: jq.Path, Value: jq.Target})
	}
	return planner.GinIndexScanMulti{Table: table, Index: idx.Name, Pairs: pairs}, true
}

// trySingle implements rules 1-3 against one predicate leaf (never an
// And), returning ok=false when nothing indexes it.
func trySingle(table string, pred predicate.Predicate, def *schema.TableDef) (planner.Node, predicate.Predicate, bool) {
	switch p := pred.(type) {
	case predicate.Compare:
		col, lit, flipped, ok := columnAndLiteral(p.Left, p.Right)
		if !ok {
			return nil, nil, false
		}
		op := p.Op
		if flipped {
			op = flipOp(op)
		}
		idx := btreeIndexFor(def, col)
		if idx == nil {
			return nil, nil, false
		}
		switch op {
		case predicate.OpEq:
			return planner.IndexGet{Table: table, Index: idx.Name, Key: []value.Value{lit}}, nil, true
		case predicate.OpLt:
			return planner.IndexRangeScan{Table: table, Index: idx.Name, High: []value.Value{lit}, HighIncl: false}, nil, true
		case predicate.OpLte:
			return planner.IndexRangeScan{Table: table, Index: idx.Name, High: []value.Value{lit}, HighIncl: true}, nil, true
		case predicate.OpGt:
			return planner.IndexRangeScan{Table: table, Index: idx.Name, Low: []value.Value{lit}, LowIncl: false}, nil, true
		case predicate.OpGte:
			return planner.IndexRangeScan{Table: table, Index: idx.Name, Low: []value.Value{lit}, LowIncl: true}, nil, true
		default:
			return nil, nil, false
		}

	case predicate.Between:
		col, ok := p.Expr.(predicate.Column)
		if !ok {
			return nil, nil, false
		}
		idx := btreeIndexFor(def, string(col))
		if idx == nil {
			return nil, nil, false
		}
		low := p.Low.Eval(nil)
		high := p.High.Eval(nil)
		return planner.IndexRangeScan{Table: table, Index: idx.Name, Low: []value.Value{low}, High: []value.Value{high}, LowIncl: true, HighIncl: true}, nil, true

	case predicate.In:
		col, ok := p.Expr.(predicate.Column)
		if !ok {
			return nil, nil, false
		}
		idx := btreeIndexFor(def, string(col))
		if idx == nil {
			return nil, nil, false
		}
		keys := make([][]value.Value, 0, len(p.Values))
		for _, e := range p.Values {
			keys = append(keys, []value.Value{e.Eval(nil)})
		}
		return planner.IndexInGet{Table: table, Index: idx.Name, Keys: keys}, nil, true

	case predicate.JsonbEq:
		col, ok := p.Expr.(predicate.Column)
		if !ok {
			return nil, nil, false
		}
		idx := ginIndexFor(def, string(col))
		if idx == nil {
			return nil, nil, false
		}
		return planner.GinIndexScan{Table: table, Index: idx.Name, Path: p.Path, Value: p.Target}, nil, true

	default:
		return nil, nil, false
	}
}

func flipOp(op predicate.CmpOp) predicate.CmpOp {
	switch op {
	case predicate.OpLt:
		return predicate.OpGt
	case predicate.OpLte:
		return predicate.OpGte
	case predicate.OpGt:
		return predicate.OpLt
	case predicate.OpGte:
		return predicate.OpLte
	default:
		return op
	}
}

// columnAndLiteral recognizes a Column/Literal pair in either operand
// order and reports whether the operands were flipped (Literal first).
func columnAndLiteral(left, right predicate.Expression) (col string, lit value.Value, flipped bool, ok bool) {
	if c, isCol := left.(predicate.Column); isCol {
		if l, isLit := right.(predicate.Literal); isLit {
			return string(c), l.Value, false, true
		}
	}
	if c, isCol := right.(predicate.Column); isCol {
		if l, isLit := left.(predicate.Literal); isLit {
			return string(c), l.Value, true, true
		}
	}
	return "", value.Value{}, false, false
}

func btreeIndexFor(def *schema.TableDef, column string) *schema.IndexDef {
	for _, idx := range def.IndexesOn(column) {
		kind := schema.NormalizeIndexKind(def, idx)
		if kind == schema.BTree || kind == schema.UniqueBTree {
			return idx
		}
	}
	if pk := def.PrimaryKeyIndex(); pk != nil && pk.Columns[0] == column {
		return pk
	}
	return nil
}

func ginIndexFor(def *schema.TableDef, column string) *schema.IndexDef {
	for _, idx := range def.IndexesOn(column) {
		if schema.NormalizeIndexKind(def, idx) == schema.GIN {
			return idx
		}
	}
	return nil
}

func combineAnd(preds []predicate.Predicate) predicate.Predicate {
	if len(preds) == 0 {
		return nil
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return predicate.And(preds)
}
