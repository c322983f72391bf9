package executor

import (
	"math"

	"github.com/reactivedb/reactivedb/internal/planner"
	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/value"
)

// groupKey renders a row's grouping columns to a comparable string.
// Kind is folded into each component so Null is a distinct group per
// column (and never collides with, say, the string "NULL").
func groupKey(row rowstore.Row, cols []string) string {
	key := ""
	for _, c := range cols {
		v := row[c]
		key += v.Kind().String() + "\x00" + v.String() + "\x1f"
	}
	return key
}

// newDistinctByIter de-duplicates rows by their grouping columns,
// keeping the first occurrence: the behavior of a bare GroupBy with no
// Aggregate stage layered on top.
func newDistinctByIter(input Iterator, cols []string) Iterator {
	rows := drain(input)
	seen := make(map[string]bool, len(rows))
	var out []rowstore.Row
	for _, row := range rows {
		k := groupKey(row, cols)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, row)
	}
	return newSliceIterator(out)
}

func compileAggregate(v planner.Aggregate, cat Catalog) (Iterator, error) {
	input, err := Compile(v.Input, cat)
	if err != nil {
		return nil, err
	}
	rows := drain(input)

	var cols []string
	if v.Group != nil {
		cols = v.Group.Cols
	}

	type bucket struct {
		groupRow rowstore.Row
		rows     []rowstore.Row
	}
	order := make([]string, 0)
	buckets := make(map[string]*bucket)
	for _, row := range rows {
		k := groupKey(row, cols)
		b, ok := buckets[k]
		if !ok {
			gr := make(rowstore.Row, len(cols))
			for _, c := range cols {
				gr[c] = row[c]
			}
			b = &bucket{groupRow: gr}
			buckets[k] = b
			order = append(order, k)
		}
		b.rows = append(b.rows, row)
	}
	if len(buckets) == 0 && len(cols) == 0 {
		// Aggregating over zero rows with no GROUP BY still produces one
		// row (e.g. COUNT(*) = 0), matching standard aggregate semantics.
		order = append(order, "")
		buckets[""] = &bucket{groupRow: rowstore.Row{}}
	}

	out := make([]rowstore.Row, 0, len(order))
	for _, k := range order {
		b := buckets[k]
		result := make(rowstore.Row, len(cols)+len(v.Aggs))
		for c, val := range b.groupRow {
			result[c] = val
		}
		for _, spec := range v.Aggs {
			result[spec.Alias] = computeAgg(spec, b.rows)
		}
		out = append(out, result)
	}
	return newSliceIterator(out), nil
}

func computeAgg(spec planner.AggSpec, rows []rowstore.Row) value.Value {
	switch spec.Kind {
	case planner.AggCount:
		return value.Int64(int64(len(rows)))

	case planner.AggCountCol:
		var n int64
		for _, r := range rows {
			if v, ok := r[spec.Column]; ok && !v.IsNull() {
				n++
			}
		}
		return value.Int64(n)

	case planner.AggDistinct:
		seen := make(map[string]bool)
		var n int64
		for _, r := range rows {
			v, ok := r[spec.Column]
			if !ok || v.IsNull() {
				continue
			}
			k := v.Kind().String() + "\x00" + v.String()
			if !seen[k] {
				seen[k] = true
				n++
			}
		}
		return value.Int64(n)

	case planner.AggSum:
		sum, ok := numericSum(rows, spec.Column)
		if !ok {
			return value.Null()
		}
		return value.Float64(sum)

	case planner.AggAvg:
		sum, count := numericSumCount(rows, spec.Column)
		if count == 0 {
			return value.Null()
		}
		return value.Float64(sum / float64(count))

	case planner.AggMin:
		return numericExtreme(rows, spec.Column, true)

	case planner.AggMax:
		return numericExtreme(rows, spec.Column, false)

	case planner.AggStddev:
		return populationStddev(rows, spec.Column)

	case planner.AggGeomean:
		return geomean(rows, spec.Column)

	default:
		return value.Null()
	}
}

func numericValues(rows []rowstore.Row, col string) []float64 {
	var out []float64
	for _, r := range rows {
		v, ok := r[col]
		if !ok || v.IsNull() {
			continue
		}
		if f, ok := v.AsNumeric(); ok {
			out = append(out, f)
		}
	}
	return out
}

func numericSum(rows []rowstore.Row, col string) (float64, bool) {
	vals := numericValues(rows, col)
	if len(vals) == 0 {
		return 0, false
	}
	var sum float64
	for _, f := range vals {
		sum += f
	}
	return sum, true
}

func numericSumCount(rows []rowstore.Row, col string) (float64, int) {
	vals := numericValues(rows, col)
	var sum float64
	for _, f := range vals {
		sum += f
	}
	return sum, len(vals)
}

func numericExtreme(rows []rowstore.Row, col string, min bool) value.Value {
	vals := numericValues(rows, col)
	if len(vals) == 0 {
		return value.Null()
	}
	best := vals[0]
	for _, f := range vals[1:] {
		if (min && f < best) || (!min && f > best) {
			best = f
		}
	}
	return value.Float64(best)
}

func populationStddev(rows []rowstore.Row, col string) value.Value {
	vals := numericValues(rows, col)
	if len(vals) == 0 {
		return value.Null()
	}
	var mean float64
	for _, f := range vals {
		mean += f
	}
	mean /= float64(len(vals))
	var variance float64
	for _, f := range vals {
		d := f - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return value.Float64(math.Sqrt(variance))
}

func geomean(rows []rowstore.Row, col string) value.Value {
	vals := numericValues(rows, col)
	if len(vals) == 0 {
		return value.Null()
	}
	var sumLog float64
	for _, f := range vals {
		if f <= 0 {
			return value.Null()
		}
		sumLog += math.Log(f)
	}
	return value.Float64(math.Exp(sumLog / float64(len(vals))))
}
