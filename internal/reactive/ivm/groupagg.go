package ivm

import (
	"math"

	"github.com/reactivedb/reactivedb/internal/executor"
	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/value"
)

// groupState is the running, incrementally-maintained aggregate state for
// one group. Min/Max and Distinct keep a full multiset/value-count rather
// than just the current extreme, since a deletion can remove the current
// extreme and the new one can only be recovered from the multiset.
type groupState struct {
	groupRow rowstore.Row
	count    int64

	sum         map[string]float64
	sumSq       map[string]float64
	sumLog      map[string]float64
	nonPositive map[string]int64
	nonNull     map[string]int64
	multiset    map[string]map[float64]int
	distinct    map[string]map[string]int

	lastOutput rowstore.Row
}

func newGroupState(row rowstore.Row, cols []string) *groupState {
	return &groupState{
		groupRow:    projectRow(row, cols),
		sum:         map[string]float64{},
		sumSq:       map[string]float64{},
		sumLog:      map[string]float64{},
		nonPositive: map[string]int64{},
		nonNull:     map[string]int64{},
		multiset:    map[string]map[float64]int{},
		distinct:    map[string]map[string]int{},
	}
}

func (g *groupState) apply(row rowstore.Row, mult int, aggs []planner.AggSpec) {
	g.count += int64(mult)
	for _, spec := range aggs {
		col := spec.Column
		v, has := row[col]
		switch spec.Kind {
		case planner.AggCount:
			// tracked via g.count directly

		case planner.AggCountCol:
			if has && !v.IsNull() {
				g.nonNull[col] += int64(mult)
			}

		case planner.AggSum, planner.AggAvg:
			if has {
				if f, ok := v.AsNumeric(); ok {
					g.sum[col] += f * float64(mult)
					g.nonNull[col] += int64(mult)
				}
			}

		case planner.AggStddev:
			if has {
				if f, ok := v.AsNumeric(); ok {
					g.sum[col] += f * float64(mult)
					g.sumSq[col] += f * f * float64(mult)
					g.nonNull[col] += int64(mult)
				}
			}

		case planner.AggGeomean:
			if has {
				if f, ok := v.AsNumeric(); ok {
					g.nonNull[col] += int64(mult)
					if f <= 0 {
						g.nonPositive[col] += int64(mult)
					} else {
						g.sumLog[col] += math.Log(f) * float64(mult)
					}
				}
			}

		case planner.AggMin, planner.AggMax:
			if has {
				if f, ok := v.AsNumeric(); ok {
					if g.multiset[col] == nil {
						g.multiset[col] = map[float64]int{}
					}
					g.multiset[col][f] += mult
					if g.multiset[col][f] == 0 {
						delete(g.multiset[col], f)
					}
				}
			}

		case planner.AggDistinct:
			if has && !v.IsNull() {
				key := v.Kind().String() + "\x00" + v.String()
				if g.distinct[col] == nil {
					g.distinct[col] = map[string]int{}
				}
				g.distinct[col][key] += mult
				if g.distinct[col][key] == 0 {
					delete(g.distinct[col], key)
				}
			}
		}
	}
}

func (g *groupState) compute(aggs []planner.AggSpec) rowstore.Row {
	out := make(rowstore.Row, len(g.groupRow)+len(aggs))
	for c, v := range g.groupRow {
		out[c] = v
	}
	for _, spec := range aggs {
		col := spec.Column
		switch spec.Kind {
		case planner.AggCount:
			out[spec.Alias] = value.Int64(g.count)

		case planner.AggCountCol:
			out[spec.Alias] = value.Int64(g.nonNull[col])

		case planner.AggSum:
			if g.nonNull[col] == 0 {
				out[spec.Alias] = value.Null()
			} else {
				out[spec.Alias] = value.Float64(g.sum[col])
			}

		case planner.AggAvg:
			n := g.nonNull[col]
			if n == 0 {
				out[spec.Alias] = value.Null()
			} else {
				out[spec.Alias] = value.Float64(g.sum[col] / float64(n))
			}

		case planner.AggMin:
			out[spec.Alias] = extremeFromMultiset(g.multiset[col], true)

		case planner.AggMax:
			out[spec.Alias] = extremeFromMultiset(g.multiset[col], false)

		case planner.AggStddev:
			n := g.nonNull[col]
			if n == 0 {
				out[spec.Alias] = value.Null()
			} else {
				mean := g.sum[col] / float64(n)
				variance := g.sumSq[col]/float64(n) - mean*mean
				if variance < 0 {
					variance = 0
				}
				out[spec.Alias] = value.Float64(math.Sqrt(variance))
			}

		case planner.AggGeomean:
			n := g.nonNull[col]
			if n == 0 || g.nonPositive[col] > 0 {
				out[spec.Alias] = value.Null()
			} else {
				out[spec.Alias] = value.Float64(math.Exp(g.sumLog[col] / float64(n)))
			}

		case planner.AggDistinct:
			out[spec.Alias] = value.Int64(int64(len(g.distinct[col])))
		}
	}
	return out
}

func extremeFromMultiset(m map[float64]int, min bool) value.Value {
	first := true
	var best float64
	for f, cnt := range m {
		if cnt <= 0 {
			continue
		}
		if first || (min && f < best) || (!min && f > best) {
			best = f
			first = false
		}
	}
	if first {
		return value.Null()
	}
	return value.Float64(best)
}

// groupAggNode maintains one running groupState per distinct group key
// and, on each touched group, retracts its previously-emitted row and
// asserts the freshly computed one. When the retraction and new assertion
// are content-identical (no actual change to the aggregate values), the
// Dataflow's cycle-level net-by-fingerprint accounting cancels them to a
// true no-op rather than this node needing to detect that itself.
type groupAggNode struct {
	input  node
	cols   []string
	aggs   []planner.AggSpec
	groups map[string]*groupState
}

func (n *groupAggNode) tablesRead() []string { return n.input.tablesRead() }

func (n *groupAggNode) initial(cat executor.Catalog) ([]Delta, error) {
	rows, err := n.input.initial(cat)
	if err != nil {
		return nil, err
	}
	touched := map[string]bool{}
	for _, d := range rows {
		key := groupKeyOf(d.Row, n.cols)
		g, ok := n.groups[key]
		if !ok {
			g = newGroupState(d.Row, n.cols)
			n.groups[key] = g
		}
		g.apply(d.Row, d.Mult, n.aggs)
		touched[key] = true
	}
	var out []Delta
	for key := range touched {
		g := n.groups[key]
		if g.count <= 0 {
			delete(n.groups, key)
			continue
		}
		row := g.compute(n.aggs)
		g.lastOutput = row
		out = append(out, Delta{Row: row, Mult: 1})
	}
	return out, nil
}

func (n *groupAggNode) onTableDelta(table string, rd rowstore.Delta, cat executor.Catalog) []Delta {
	in := n.input.onTableDelta(table, rd, cat)
	if len(in) == 0 {
		return nil
	}
	var out []Delta
	touched := map[string]bool{}
	for _, d := range in {
		key := groupKeyOf(d.Row, n.cols)
		g, ok := n.groups[key]
		if !ok {
			g = newGroupState(d.Row, n.cols)
			n.groups[key] = g
		} else if g.lastOutput != nil && !touched[key] {
			out = append(out, Delta{Row: g.lastOutput, Mult: -1})
		}
		g.apply(d.Row, d.Mult, n.aggs)
		touched[key] = true
	}
	for key := range touched {
		g := n.groups[key]
		if g.count <= 0 {
			delete(n.groups, key)
			continue
		}
		row := g.compute(n.aggs)
		g.lastOutput = row
		out = append(out, Delta{Row: row, Mult: 1})
	}
	return out
}
