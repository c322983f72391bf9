// Package codec implements the binary result encoder/decoder: a single
// contiguous buffer carrying a fixed 16-byte header, a fixed-stride row
// region (null bitmap + per-column fixed payloads), and a variable-length
// pool for String/Bytes/Jsonb columns. No dependency in the corpus models
// this exact host-owned-memory row format, so it is built directly on
// encoding/binary the way internal/value already reaches for
// encoding/json for Jsonb's own text representation.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/reactivedb/reactivedb/internal/rowstore"
	"github.com/reactivedb/reactivedb/internal/schema"
	"github.com/reactivedb/reactivedb/internal/value"
)

const headerSize = 16

const flagHasNulls = 1 << 0

// ColumnLayout is one column's fixed position within a row slot, whose
// payload region follows the null bitmap.
type ColumnLayout struct {
	Name      string
	Type      value.Kind
	Offset    int // byte offset from the start of the row slot, null bitmap included
	FixedSize int
	Nullable  bool
}

// SchemaLayout is the per-query-shape companion the caller produces once
// and reuses across every Encode/Decode call for that shape.
type SchemaLayout struct {
	Columns      []ColumnLayout
	RowStride    int
	NullMaskSize int
}

// fixedSize returns the row-payload footprint of one column of kind k:
// 8 bytes (an offset+length pair into the variable pool) for the three
// variable-length kinds, and the kind's natural width otherwise.
func fixedSize(k value.Kind) int {
	switch k {
	case value.KindBoolean:
		return 1
	case value.KindInt32:
		return 4
	case value.KindInt64, value.KindFloat64, value.KindDateTime:
		return 8
	case value.KindString, value.KindBytes, value.KindJsonb:
		return 8
	default:
		return 0
	}
}

// NewSchemaLayout computes the deterministic row layout for cols, in the
// order given: the caller (internal/engine) passes the query's output
// column order, not a table's declared column order.
func NewSchemaLayout(cols []*schema.ColumnDef) *SchemaLayout {
	maskSize := (len(cols) + 7) / 8
	layout := &SchemaLayout{NullMaskSize: maskSize}
	offset := 0
	for _, c := range cols {
		size := fixedSize(c.Type)
		layout.Columns = append(layout.Columns, ColumnLayout{
			Name: c.Name, Type: c.Type, Offset: maskSize + offset,
			FixedSize: size, Nullable: c.Nullable,
		})
		offset += size
	}
	layout.RowStride = maskSize + offset
	return layout
}

// Encode serializes rows (already shaped to layout's column order) into
// one contiguous buffer following the header/row-region/variable-pool
// layout. Encoding is deterministic for a given (layout, row order).
func Encode(rows []rowstore.Row, layout *SchemaLayout) []byte {
	rowRegion := make([]byte, len(rows)*layout.RowStride)
	var varPool []byte
	hasNulls := false

	for i, row := range rows {
		base := i * layout.RowStride
		for ci, col := range layout.Columns {
			v, ok := row[col.Name]
			if !ok {
				v = value.Null()
			}
			if v.IsNull() {
				hasNulls = true
				setNullBit(rowRegion[base:base+layout.NullMaskSize], ci)
				continue
			}
			payload := rowRegion[base+col.Offset : base+col.Offset+col.FixedSize]
			encodeFixed(v, col.Type, payload, &varPool)
		}
	}

	varOffset := headerSize + len(rowRegion)
	buf := make([]byte, varOffset+len(varPool))

	var flags uint32
	if hasNulls {
		flags |= flagHasNulls
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(rows)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(layout.RowStride))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(varOffset))
	binary.LittleEndian.PutUint32(buf[12:16], flags)
	copy(buf[headerSize:varOffset], rowRegion)
	copy(buf[varOffset:], varPool)
	return buf
}

func setNullBit(mask []byte, col int) {
	mask[col/8] |= 1 << uint(col%8)
}

func isNullBit(mask []byte, col int) bool {
	return mask[col/8]&(1<<uint(col%8)) != 0
}

func encodeFixed(v value.Value, k value.Kind, dst []byte, varPool *[]byte) {
	switch k {
	case value.KindBoolean:
		b, _ := v.AsBool()
		if b {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	case value.KindInt32:
		i, _ := v.AsInt32()
		binary.LittleEndian.PutUint32(dst, uint32(i))
	case value.KindInt64:
		i, _ := v.AsInt64()
		binary.LittleEndian.PutUint64(dst, uint64(i))
	case value.KindFloat64:
		f, _ := v.AsFloat64()
		binary.LittleEndian.PutUint64(dst, math.Float64bits(f))
	case value.KindDateTime:
		ms, _ := v.AsDateTime()
		binary.LittleEndian.PutUint64(dst, math.Float64bits(float64(ms)))
	case value.KindString:
		s, _ := v.AsString()
		appendVar(dst, []byte(s), varPool)
	case value.KindBytes:
		b, _ := v.AsBytes()
		appendVar(dst, b, varPool)
	case value.KindJsonb:
		appendVar(dst, []byte(v.String()), varPool)
	}
}

func appendVar(dst []byte, data []byte, varPool *[]byte) {
	off := uint32(len(*varPool))
	*varPool = append(*varPool, data...)
	binary.LittleEndian.PutUint32(dst[0:4], off)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(len(data)))
}

// Decode reconstructs rows from a buffer Encode produced under layout.
// It reads fixed payloads directly from buf without copying; only
// variable-length values (String/Bytes/Jsonb) are materialized.
func Decode(buf []byte, layout *SchemaLayout) ([]rowstore.Row, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("codec: buffer shorter than header (%d bytes)", len(buf))
	}
	rowCount := binary.LittleEndian.Uint32(buf[0:4])
	rowStride := binary.LittleEndian.Uint32(buf[4:8])
	varOffset := binary.LittleEndian.Uint32(buf[8:12])
	if int(rowStride) != layout.RowStride {
		return nil, fmt.Errorf("codec: buffer row_stride %d does not match layout %d", rowStride, layout.RowStride)
	}
	rowRegionEnd := headerSize + int(rowCount)*int(rowStride)
	if rowRegionEnd > int(varOffset) || int(varOffset) > len(buf) {
		return nil, fmt.Errorf("codec: buffer truncated or corrupt")
	}
	varPool := buf[varOffset:]

	rows := make([]rowstore.Row, rowCount)
	for i := 0; i < int(rowCount); i++ {
		base := headerSize + i*int(rowStride)
		rowBuf := buf[base : base+int(rowStride)]
		mask := rowBuf[:layout.NullMaskSize]
		row := make(rowstore.Row, len(layout.Columns))
		for ci, col := range layout.Columns {
			if isNullBit(mask, ci) {
				row[col.Name] = value.Null()
				continue
			}
			payload := rowBuf[col.Offset : col.Offset+col.FixedSize]
			v, err := decodeFixed(col.Type, payload, varPool)
			if err != nil {
				return nil, fmt.Errorf("codec: column %q: %w", col.Name, err)
			}
			row[col.Name] = v
		}
		rows[i] = row
	}
	return rows, nil
}

func decodeFixed(k value.Kind, payload []byte, varPool []byte) (value.Value, error) {
	switch k {
	case value.KindBoolean:
		return value.Bool(payload[0] != 0), nil
	case value.KindInt32:
		return value.Int32(int32(binary.LittleEndian.Uint32(payload))), nil
	case value.KindInt64:
		return value.Int64(int64(binary.LittleEndian.Uint64(payload))), nil
	case value.KindFloat64:
		return value.Float64(math.Float64frombits(binary.LittleEndian.Uint64(payload))), nil
	case value.KindDateTime:
		return value.DateTime(int64(math.Float64frombits(binary.LittleEndian.Uint64(payload)))), nil
	case value.KindString:
		data, err := readVar(payload, varPool)
		if err != nil {
			return value.Value{}, err
		}
		return value.String(string(data)), nil
	case value.KindBytes:
		data, err := readVar(payload, varPool)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bytes(data), nil
	case value.KindJsonb:
		data, err := readVar(payload, varPool)
		if err != nil {
			return value.Value{}, err
		}
		j, err := parseJsonb(data)
		if err != nil {
			return value.Value{}, err
		}
		return value.JsonbValue(j), nil
	default:
		return value.Null(), nil
	}
}

func readVar(payload []byte, varPool []byte) ([]byte, error) {
	off := binary.LittleEndian.Uint32(payload[0:4])
	length := binary.LittleEndian.Uint32(payload[4:8])
	if int(off)+int(length) > len(varPool) {
		return nil, fmt.Errorf("variable-pool slot out of range")
	}
	return varPool[off : off+length], nil
}

func parseJsonb(data []byte) (*value.Jsonb, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing jsonb text: %w", err)
	}
	return anyToJsonb(v), nil
}

func anyToJsonb(v any) *value.Jsonb {
	switch t := v.(type) {
	case nil:
		return &value.Jsonb{JKind: value.JsonNull}
	case bool:
		return &value.Jsonb{JKind: value.JsonBool, B: t}
	case float64:
		return &value.Jsonb{JKind: value.JsonNumber, N: t}
	case string:
		return &value.Jsonb{JKind: value.JsonString, S: t}
	case []any:
		arr := make([]value.Value, len(t))
		for i, e := range t {
			arr[i] = value.JsonbValue(anyToJsonb(e))
		}
		return &value.Jsonb{JKind: value.JsonArray, Arr: arr}
	case map[string]any:
		obj := value.NewJsonObject()
		for k, e := range t {
			obj.Set(k, value.JsonbValue(anyToJsonb(e)))
		}
		return &value.Jsonb{JKind: value.JsonObjectKind, Obj: obj}
	default:
		return &value.Jsonb{JKind: value.JsonNull}
	}
}
