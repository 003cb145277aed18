package xlsx

import "math"

// CellType identifies how a Cell's payload is to be interpreted.
type CellType uint8

const (
	// CellNone marks an absent or discarded cell. It is the zero value.
	CellNone CellType = iota

	// CellNumeric is an IEEE-754 double.
	CellNumeric

	// CellStringRef is an index into the workbook's shared-string table.
	CellStringRef

	// CellString is a dynamically interned string (a formula result or a
	// shared/inline string captured at parse time). The payload encodes the
	// producing worker in its top 8 bits and the arena index below.
	CellString

	// CellStringInline is an inline string from <is><t>...</t></is>,
	// interned the same way as CellString.
	CellStringInline

	// CellBoolean is 0 or 1.
	CellBoolean

	// CellError is an Excel error literal (#DIV/0! and friends), interned
	// like CellString.
	CellError

	// CellDate is a datetime as seconds since the Unix epoch.
	CellDate

	// CellSkip is only meaningful as a coercion target: cells coerced to
	// CellSkip are dropped. It never appears in parser output.
	CellSkip
)

var cellTypeNames = map[CellType]string{
	CellNone:         "none",
	CellNumeric:      "numeric",
	CellStringRef:    "stringref",
	CellString:       "string",
	CellStringInline: "inlinestring",
	CellBoolean:      "boolean",
	CellError:        "error",
	CellDate:         "date",
	CellSkip:         "skip",
}

func (t CellType) String() string {
	if s, ok := cellTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// IsString reports whether the payload is a dynamic-string arena index.
func (t CellType) IsString() bool {
	return t == CellString || t == CellStringInline || t == CellError
}

// Cell is a tagged value: a type plus a 64-bit payload whose interpretation
// depends on the type. The zero Cell is a CellNone.
type Cell struct {
	Type CellType
	data uint64
}

func numberCell(t CellType, v float64) Cell {
	return Cell{Type: t, data: math.Float64bits(v)}
}

func indexCell(t CellType, idx uint64) Cell {
	return Cell{Type: t, data: idx}
}

func boolCell(v bool) Cell {
	var d uint64
	if v {
		d = 1
	}
	return Cell{Type: CellBoolean, data: d}
}

// Number returns the payload as a float64. Meaningful for CellNumeric and
// CellDate (seconds since the Unix epoch).
func (c Cell) Number() float64 {
	return math.Float64frombits(c.data)
}

// Index returns the payload as an index. Meaningful for CellStringRef
// (shared-string index) and the dynamic-string types (encoded arena index).
func (c Cell) Index() uint64 {
	return c.data
}

// Bool returns the payload as a boolean. Meaningful for CellBoolean.
func (c Cell) Bool() bool {
	return c.data != 0
}
