package xlsx

import "unicode/utf8"

// The worksheet and metadata parts are scanned with purpose-built element
// recognizers rather than a general XML parser: only a handful of elements
// and attributes matter, elements may span buffer boundaries, and the
// recognizers must be restartable from any byte. A recognizer is configured
// with an element local-name and a fixed set of attribute names, each with a
// parser kind, and is driven one byte at a time through feed.

// attrKind selects the value parser for an attribute.
type attrKind uint8

const (
	attrIndex attrKind = iota
	attrString
	attrLocation
	attrRange
	attrType
)

// attrStringSize bounds inline attribute string storage. Overflow
// truncates; attribute values here are filenames, ids and format codes.
const attrStringSize = 256

// attrValue accumulates one attribute's value byte by byte.
type attrValue struct {
	kind attrKind

	num uint64

	str [attrStringSize]byte
	n   int

	col, row       uint64
	endCol, endRow uint64
	inEnd          bool

	typ CellType
}

func (a *attrValue) process(ch byte) {
	switch a.kind {
	case attrIndex:
		a.num = a.num*10 + uint64(ch-'0')
	case attrString:
		if a.n < attrStringSize {
			a.str[a.n] = ch
			a.n++
		}
	case attrLocation:
		a.col, a.row = locationByte(a.col, a.row, ch)
	case attrRange:
		if ch == ':' {
			a.inEnd = true
		} else if a.inEnd {
			a.endCol, a.endRow = locationByte(a.endCol, a.endRow, ch)
		} else {
			a.col, a.row = locationByte(a.col, a.row, ch)
		}
	case attrType:
		if a.typ == CellNone {
			switch ch {
			case 'b':
				a.typ = CellBoolean
			case 'd':
				a.typ = CellDate
			case 'e':
				a.typ = CellError
			case 'n':
				a.typ = CellNumeric
			case 's':
				a.typ = CellStringRef
			case 'i':
				a.typ = CellStringInline
			}
		} else if a.typ == CellStringRef && ch == 't' {
			// "str": a dynamically interned formula string
			a.typ = CellString
		}
	}
}

// locationByte advances an A1 location accumulator: alphabetic characters
// build a base-26 column (A=1), digits build the row.
func locationByte(col, row uint64, ch byte) (uint64, uint64) {
	if ch >= 'A' && ch <= 'Z' {
		return col*26 + uint64(ch-'A'+1), row
	}
	if ch >= '0' && ch <= '9' {
		return col, row*10 + uint64(ch-'0')
	}
	return col, row
}

func (a *attrValue) reset() {
	a.num = 0
	a.n = 0
	a.col, a.row = 0, 0
	a.endCol, a.endRow = 0, 0
	a.inEnd = false
	a.typ = CellNone
}

// Uint returns the accumulated decimal value of an attrIndex attribute.
func (a *attrValue) Uint() uint64 { return a.num }

// Bytes returns the accumulated bytes of an attrString attribute.
func (a *attrValue) Bytes() []byte { return a.str[:a.n] }

// String returns the accumulated value of an attrString attribute.
func (a *attrValue) String() string { return string(a.str[:a.n]) }

// Location returns the (column, row) of an attrLocation attribute, 1-based.
func (a *attrValue) Location() (uint64, uint64) { return a.col, a.row }

// Range returns start and end locations of an attrRange attribute.
func (a *attrValue) Range() (uint64, uint64, uint64, uint64) {
	return a.col, a.row, a.endCol, a.endRow
}

// Type returns the cell type letter decoded by an attrType attribute.
func (a *attrValue) Type() CellType { return a.typ }

type scanState uint8

const (
	scanOutside scanState = iota
	scanStart
	scanStartName
	scanAttrName
	scanAttrValue
	scanInside
	scanEnd
	scanEndName
)

// elemScanner recognizes one element by local-name and captures a fixed set
// of its attributes. Namespace prefixes on element and attribute names are
// stripped by resetting the match cursor on ':'. Self-closing tags raise
// both the start and the completion latch.
type elemScanner struct {
	name string
	scan int

	attrNames []string
	attrVals  []attrValue
	attrScan  []int
	attrFlags []bool
	current   int

	prevCloseSlash bool
	closeLength    int

	state     scanState
	completed int // 0 none, 1 start seen, 2 element complete
}

// attrSpec declares one attribute to capture: its local-name and parser kind.
type attrSpec struct {
	name string
	kind attrKind
}

func newScanner(name string, attrs ...attrSpec) *elemScanner {
	s := &elemScanner{
		name:    name,
		scan:    -1,
		current: -1,
	}
	for _, a := range attrs {
		s.attrNames = append(s.attrNames, a.name)
		s.attrVals = append(s.attrVals, attrValue{kind: a.kind})
		s.attrScan = append(s.attrScan, 0)
		s.attrFlags = append(s.attrFlags, false)
	}
	return s
}

func isXMLSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

// feed advances the recognizer by one byte.
func (s *elemScanner) feed(ch byte) {
	if s.state == scanOutside {
		if ch == '<' {
			s.state = scanStart
		}
		return
	}
	ws := isXMLSpace(ch)
	if s.state == scanStart {
		// skip potential whitespace before the name (not legal XML, but
		// tolerated)
		if ws {
			return
		}
		s.prevCloseSlash = false
		s.state = scanStartName
		s.scan = 0
		// fall through to name matching with this byte
	}
	switch s.state {
	case scanStartName:
		if ch == '>' || ch == '/' || ws {
			if s.scan == len(s.name) {
				s.completed = 0
				switch {
				case ch == '>':
					if s.prevCloseSlash {
						s.completed = 2
						s.closeLength = 0
						s.state = scanOutside
					} else {
						s.completed = 1
						s.state = scanInside
					}
				case ch == '/':
					s.prevCloseSlash = true
				default:
					s.state = scanAttrName
				}
				for i := range s.attrFlags {
					s.attrFlags[i] = false
					s.attrScan[i] = 0
					s.attrVals[i].reset()
				}
			} else {
				s.state = scanOutside
			}
			return
		}
		if ch == ':' {
			// namespace prefix: restart the local-name match
			s.scan = 0
			return
		}
		if s.scan < 0 {
			return
		}
		if s.scan < len(s.name) {
			if ch == s.name[s.scan] {
				s.scan++
			} else {
				s.scan = -1
			}
			return
		}
		// a non-delimiter byte after the full name: different element
		s.scan = -1
		return

	case scanAttrName:
		if ch == '>' {
			if s.prevCloseSlash {
				s.completed = 2
				s.closeLength = 0
				s.state = scanOutside
			} else {
				s.completed = 1
				s.state = scanInside
			}
		}
		s.prevCloseSlash = ch == '/'
		if len(s.attrNames) == 0 {
			return
		}
		if ws {
			none := true
			for i := range s.attrScan {
				if s.attrScan[i] > 0 {
					none = false
				}
				if !s.attrFlags[i] {
					s.attrScan[i] = 0
				}
			}
			if none {
				return
			}
		}
		if ch == ':' {
			// namespaced attribute: restart all scans past the prefix
			for i := range s.attrScan {
				s.attrScan[i] = 0
			}
			return
		}
		for i := range s.attrNames {
			if s.attrScan[i] < 0 || s.attrFlags[i] {
				continue
			}
			if s.attrScan[i] == len(s.attrNames[i]) {
				if ch == '=' || ws {
					s.current = i
					for j := range s.attrScan {
						s.attrScan[j] = 0
					}
					s.state = scanAttrValue
					return
				}
				s.attrScan[i] = -1
				continue
			}
			if ch == s.attrNames[i][s.attrScan[i]] {
				s.attrScan[i]++
			} else {
				s.attrScan[i] = -1
			}
		}
		return

	case scanAttrValue:
		switch s.attrScan[s.current] {
		case 0:
			if ch == '"' {
				s.attrScan[s.current] = 1
			}
		case 1:
			if ch == '"' {
				s.attrFlags[s.current] = true
				s.attrScan[s.current] = 0
				s.current = -1
				s.state = scanAttrName
				return
			}
			s.attrVals[s.current].process(ch)
		}
		return

	case scanInside:
		if ch == '<' {
			s.state = scanEnd
			s.closeLength = 1
		}
		return

	case scanEnd:
		if ch == '/' {
			s.state = scanEndName
			s.scan = 0
			s.closeLength++
		} else {
			s.state = scanInside
		}
		return

	case scanEndName:
		s.closeLength++
		if s.scan == 0 && ws {
			return
		}
		if ch == '>' || ws {
			if s.scan == len(s.name) {
				s.completed = 2
				s.state = scanOutside
			} else {
				s.state = scanInside
			}
			return
		}
		if ch == ':' {
			s.scan = 0
			return
		}
		if s.scan < 0 {
			return
		}
		if s.scan < len(s.name) {
			if ch == s.name[s.scan] {
				s.scan++
			} else {
				s.scan = -1
			}
			return
		}
		s.scan = -1
		return
	}
}

// outside reports that the recognizer is not engaged with its element.
func (s *elemScanner) outside() bool {
	return s.state == scanOutside
}

// inside reports that the cursor is within the element's content.
func (s *elemScanner) inside() bool {
	return s.state == scanInside || s.state == scanEnd || s.state == scanEndName
}

// atStart reports that the cursor is within the element's opening tag.
func (s *elemScanner) atStart() bool {
	return s.state == scanStart || s.state == scanStartName ||
		s.state == scanAttrName || s.state == scanAttrValue
}

// completedStart is a one-shot latch for the opening tag having completed.
func (s *elemScanner) completedStart() bool {
	ret := s.completed > 0
	s.completed = 0
	return ret
}

// completedElem is a one-shot latch for the full element having completed.
func (s *elemScanner) completedElem() bool {
	ret := s.completed == 2
	if ret {
		s.completed = 0
	}
	return ret
}

// hasValue reports whether attribute i was present with a quoted value.
func (s *elemScanner) hasValue(i int) bool { return s.attrFlags[i] }

// attr returns the value accumulator for attribute i.
func (s *elemScanner) attr(i int) *attrValue { return &s.attrVals[i] }

// closeLen is the number of bytes consumed while recognizing the closing
// tag; callers trim captured value buffers by closeLen-1 to excise the
// close-tag bytes that were appended mid-stream.
func (s *elemScanner) closeLen() int { return s.closeLength }

func (s *elemScanner) reset() {
	s.scan = -1
	s.current = -1
	s.prevCloseSlash = false
	s.closeLength = 0
	s.state = scanOutside
	s.completed = 0
}

// unescape rewrites the five named XML entities and numeric character
// references in place and returns the shortened slice. Unrecognized or
// out-of-range references are left untouched. Decoding is left-to-right;
// replacements never exceed the reference's byte length, so the rewrite is
// safe in place.
func unescape(b []byte) []byte {
	w := 0
	i := 0
	n := len(b)
	for i < n {
		if b[i] != '&' {
			b[w] = b[i]
			w++
			i++
			continue
		}
		rest := b[i+1:]
		switch {
		case hasPrefix(rest, "amp;"):
			b[w] = '&'
			w++
			i += 5
		case hasPrefix(rest, "apos;"):
			b[w] = '\''
			w++
			i += 6
		case hasPrefix(rest, "quot;"):
			b[w] = '"'
			w++
			i += 6
		case hasPrefix(rest, "gt;"):
			b[w] = '>'
			w++
			i += 4
		case hasPrefix(rest, "lt;"):
			b[w] = '<'
			w++
			i += 4
		case len(rest) > 1 && rest[0] == '#':
			r, length, ok := decodeCharRef(rest[1:])
			if !ok {
				b[w] = b[i]
				w++
				i++
				continue
			}
			w += utf8.EncodeRune(b[w:], r)
			i += 2 + length
		default:
			b[w] = b[i]
			w++
			i++
		}
	}
	return b[:w]
}

func hasPrefix(b []byte, s string) bool {
	if len(b) < len(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if b[i] != s[i] {
			return false
		}
	}
	return true
}

// decodeCharRef decodes the "N;" or "xH;" tail of a numeric character
// reference, returning the rune and the number of bytes consumed including
// the terminating semicolon.
func decodeCharRef(b []byte) (rune, int, bool) {
	var cp uint32
	i := 0
	hex := false
	if i < len(b) && (b[i] == 'x' || b[i] == 'X') {
		hex = true
		i++
	}
	digits := 0
	for i < len(b) && b[i] != ';' {
		ch := b[i]
		var d uint32
		switch {
		case ch >= '0' && ch <= '9':
			d = uint32(ch - '0')
		case hex && ch >= 'a' && ch <= 'f':
			d = uint32(ch-'a') + 10
		case hex && ch >= 'A' && ch <= 'F':
			d = uint32(ch-'A') + 10
		default:
			return 0, 0, false
		}
		if hex {
			cp = cp*16 + d
		} else {
			cp = cp*10 + d
		}
		if cp > utf8.MaxRune {
			return 0, 0, false
		}
		digits++
		i++
	}
	if digits == 0 || i >= len(b) {
		return 0, 0, false
	}
	if cp >= 0xD800 && cp <= 0xDFFF {
		return 0, 0, false
	}
	return rune(cp), i + 1, true
}
