package xlsx

import (
	"time"

	"github.com/pkg/errors"
)

// headerWaitPolls bounds the header-coercion barrier wait; exceeding it is
// fatal for the worker.
const headerWaitPolls = 30000

// workerCtx is the per-worker parse state: the recognizer set, the value
// scratch buffer, the XML-position cursor and the merger-cursor mirror that
// decides when a LocationInfo record must be emitted.
type workerCtx struct {
	s   *Sheet
	env *parseEnv
	w   *workerState

	dimension *elemScanner
	sheetData *elemScanner
	rowEl     *elemScanner
	c         *elemScanner
	v         *elemScanner
	t         *elemScanner
	metaDone  bool

	cellBuf []byte
	cellLen int

	// XML-space position, 1-based. curRow 0 with rowValid false means the
	// worker landed mid-stream and has not synchronized yet.
	curRow   uint64
	curCol   uint64
	rowValid bool

	// mirror of the merger's cursor: the output position the merger would
	// assign to the next emitted cell if no LocationInfo intervened
	mirrorCol      uint64
	mirrorRow      uint64
	mirrorColKnown bool
	mirrorRowKnown bool

	headerReleased bool
}

func (s *Sheet) workerLoop(w *workerState, env *parseEnv) {
	ctx := &workerCtx{
		s:         s,
		env:       env,
		w:         w,
		dimension: newScanner("dimension", attrSpec{"ref", attrRange}),
		sheetData: newScanner("sheetData"),
		rowEl:     newScanner("row", attrSpec{"r", attrIndex}),
		c: newScanner("c",
			attrSpec{"r", attrLocation},
			attrSpec{"t", attrType},
			attrSpec{"s", attrIndex},
		),
		v:       newScanner("v"),
		t:       newScanner("t"),
		cellBuf: make([]byte, s.bufferSize),
	}
	defer ctx.releaseHeader()

	readIndex := &env.readIndexes[w.id]
	cur := readIndex.Load()
	offset := 0

	T := uint64(env.numThreads)
	bufSize := env.bufferSize
	numBuffers := uint64(env.numBuffers)

	loadNext := false
	continueCell := false
	continueRow := false
	var extended uint64

	for env.dataRemaining(readIndex.Load()) {
		if s.terminate.Load() {
			ctx.discardPartial()
			return
		}
		buf := env.ring[cur%numBuffers]
		if offset >= bufSize || buf[offset] == 0 || loadNext {
			prev := cur
			cellExt := !ctx.c.outside()
			rowExt := ctx.rowEl.atStart()
			if cellExt && rowExt {
				// ambiguous '<' at the boundary: a pending loadNext means a
				// cell extension is being resolved, otherwise the row wins
				if loadNext {
					rowExt = false
				} else {
					cellExt = false
				}
			}
			var target uint64
			plain := false
			if cellExt || rowExt {
				target = readIndex.Load() + 1
				extended++
			} else {
				// stride back onto this worker's own cadence; a long
				// extension may already have reached the next own chunk,
				// in which case parsing continues in place
				target = readIndex.Load() + T - extended
				if target < cur {
					target = cur
				}
				extended = 0
				plain = true
			}
			continueCell, continueRow = cellExt, rowExt
			loadNext = false

			if target != prev {
				for !env.finished.Load() && target >= env.writeIndex.Load() {
					time.Sleep(pollInterval)
					if s.terminate.Load() {
						ctx.discardPartial()
						return
					}
				}
				if env.finished.Load() && target >= env.writeIndex.Load() {
					break
				}
				readIndex.Store(target)
				cur = target
				offset = 0
			}
			if plain {
				ctx.beginFragment(w.id == 0 && len(w.fragments) == 0, T)
			}
			buf = env.ring[cur%numBuffers]
			if buf[offset] == 0 {
				continue
			}
		}

		ch := buf[offset]
		offset++

		if !ctx.metaDone {
			ctx.sheetData.feed(ch)
			ctx.dimension.feed(ch)
			if ctx.dimension.completedElem() && ctx.dimension.hasValue(0) {
				_, _, endCol, endRow := ctx.dimension.attr(0).Range()
				s.setDimension(endCol, endRow)
				ctx.metaDone = true
			} else if ctx.sheetData.inside() {
				ctx.metaDone = true
			}
		}

		inC := ctx.c.inside()
		ctx.c.feed(ch)
		ctx.rowEl.feed(ch)
		if ctx.rowEl.completedStart() {
			ctx.onRowStart()
			// only the opening tag is of interest; a lingering inside()
			// state would interfere with cell extensions
			ctx.rowEl.reset()
			if continueRow || continueCell {
				// an extension ends once the boundary '<' has resolved to a
				// row start; the rest of the buffer belongs to its own reader
				loadNext = true
				continue
			}
		}
		if (continueCell || continueRow) && !inC && ctx.c.outside() && ctx.rowEl.outside() {
			// false continuation: the boundary '<' belonged to something
			// else entirely; re-evaluate on the next buffer
			loadNext = true
			continue
		}
		if !inC {
			continue
		}
		inV := ctx.v.inside()
		ctx.v.feed(ch)
		if !inV && ctx.v.inside() {
			continue
		}
		inT := ctx.t.inside()
		ctx.t.feed(ch)
		if !inT && ctx.t.inside() {
			continue
		}
		if ctx.v.completedElem() {
			// excise the close-tag bytes captured mid-stream; a self-closing
			// <v/> consumed none
			if n := ctx.v.closeLen() - 1; n > 0 {
				ctx.cellLen -= n
			}
		}
		if ctx.t.completedElem() {
			if n := ctx.t.closeLen() - 1; n > 0 {
				ctx.cellLen -= n
			}
		}
		if ctx.c.completedElem() {
			if err := ctx.onCell(); err != nil {
				s.fail(err)
				ctx.discardPartial()
				return
			}
			if continueCell || continueRow {
				// the extension found its cell end
				loadNext = true
			}
			continue
		}
		if ctx.v.inside() || ctx.t.inside() {
			if ctx.cellLen >= len(ctx.cellBuf) {
				s.fail(errors.Wrapf(ErrValueOverflow, "cell value in sheet %s", s.name))
				ctx.discardPartial()
				return
			}
			ctx.cellBuf[ctx.cellLen] = ch
			ctx.cellLen++
		}
	}
}

// beginFragment starts the output unit of one plain leapfrog. With more
// than one worker the jump is discontinuous, so the position cursor and the
// merger mirror become unknown until the next location attribute.
func (ctx *workerCtx) beginFragment(streamStart bool, numThreads uint64) {
	ctx.w.fragments = append(ctx.w.fragments, nil)
	if numThreads > 1 && !streamStart {
		ctx.curRow = 0
		ctx.curCol = 0
		ctx.rowValid = false
		ctx.mirrorColKnown = false
		ctx.mirrorRowKnown = false
	}
	if streamStart {
		ctx.rowValid = true
	}
	if !ctx.metaDone {
		// a half-recognized <dimension> must not resume across the jump; a
		// split dimension element is simply lost and the merger derives the
		// row count instead
		ctx.dimension.reset()
		ctx.sheetData.reset()
	}
}

// discardPartial drops the fragment in progress after termination.
func (ctx *workerCtx) discardPartial() {
	w := ctx.w
	if len(w.fragments) == 0 {
		return
	}
	r := uint64(len(w.fragments) - 1)
	w.fragments = w.fragments[:r]
	for len(w.locs) > 0 && w.locs[len(w.locs)-1].buffer == r {
		w.locs = w.locs[:len(w.locs)-1]
	}
}

func (ctx *workerCtx) round() uint64 {
	return uint64(len(ctx.w.fragments) - 1)
}

func (ctx *workerCtx) currentFrag() fragment {
	return ctx.w.fragments[len(ctx.w.fragments)-1]
}

func (ctx *workerCtx) pushLoc(cell, column, row uint64) {
	ctx.w.locs = append(ctx.w.locs, locationInfo{
		buffer: ctx.round(),
		cell:   cell,
		column: column,
		row:    row,
	})
}

// headerRowXML is the 1-based XML row holding the headers: the first kept
// row.
func (ctx *workerCtx) headerRowXML() uint64 {
	return ctx.s.skipRows + 1
}

// onRowStart handles a completed <row ...> opening tag: it records a
// LocationInfo for the merger (sentinel for the consecutive row, explicit
// otherwise) and resets the column cursors.
func (ctx *workerCtx) onRowStart() {
	var r uint64
	if ctx.rowEl.hasValue(0) {
		r = ctx.rowEl.attr(0).Uint()
	}
	off := uint64(len(ctx.currentFrag()))
	if r > 0 {
		if ctx.mirrorRowKnown && r-1 == ctx.mirrorRow+1 {
			ctx.pushLoc(off, 0, rowNext)
			ctx.mirrorRow++
		} else {
			ctx.pushLoc(off, 0, r-1)
			ctx.mirrorRow = r - 1
		}
		ctx.mirrorRowKnown = true
		ctx.curRow = r
		ctx.rowValid = true
	} else {
		ctx.pushLoc(off, 0, rowNext)
		if ctx.mirrorRowKnown {
			ctx.mirrorRow++
		}
		if ctx.rowValid {
			ctx.curRow++
		}
	}
	ctx.mirrorCol = 0
	ctx.mirrorColKnown = true
	ctx.curCol = 0

	if ctx.env.byNameActive && ctx.rowValid && ctx.curRow > ctx.headerRowXML() {
		ctx.releaseHeader()
	}
}

// releaseHeader withdraws this worker from the header barrier; the last
// worker out drains the byName coercions into byIndex.
func (ctx *workerCtx) releaseHeader() {
	if ctx.headerReleased || !ctx.env.byNameActive {
		return
	}
	ctx.headerReleased = true
	if ctx.env.headerBarrier.Add(-1) == 0 {
		ctx.env.drainHeader(ctx.s)
	}
}

// awaitHeader blocks until the header row has been drained into byIndex.
func (ctx *workerCtx) awaitHeader() error {
	if ctx.env.headerResolved.Load() {
		return nil
	}
	ctx.releaseHeader()
	for i := 0; i < headerWaitPolls; i++ {
		if ctx.env.headerResolved.Load() {
			return nil
		}
		if ctx.s.terminate.Load() {
			return errors.Wrap(ErrCanceled, "header barrier")
		}
		time.Sleep(pollInterval)
	}
	return errors.Wrap(ErrProtocolViolation, "header coercion barrier deadlock")
}

// emit appends a cell to the current fragment, preceded by a LocationInfo
// record whenever the merger's replay cursor would not land on this cell's
// position by itself.
func (ctx *workerCtx) emit(cell Cell, col, row uint64) {
	outCol := col - 1 - ctx.s.skipColumns
	absRow := row - 1
	if !ctx.mirrorColKnown || !ctx.mirrorRowKnown ||
		ctx.mirrorCol != outCol || ctx.mirrorRow != absRow {
		ctx.pushLoc(uint64(len(ctx.currentFrag())), outCol, absRow)
		ctx.mirrorCol = outCol
		ctx.mirrorRow = absRow
		ctx.mirrorColKnown = true
		ctx.mirrorRowKnown = true
	}
	last := len(ctx.w.fragments) - 1
	ctx.w.fragments[last] = append(ctx.w.fragments[last], cell)
	ctx.mirrorCol++
}

// onCell handles a completed cell element: position resolution, skip
// windows, the header row, coercion and emission.
func (ctx *workerCtx) onCell() error {
	s := ctx.s
	value := ctx.cellBuf[:ctx.cellLen]
	ctx.cellLen = 0

	cellType := CellNumeric
	styleDate := false
	var col, row uint64
	if ctx.c.hasValue(0) {
		col, row = ctx.c.attr(0).Location()
	}
	if ctx.c.hasValue(1) {
		cellType = ctx.c.attr(1).Type()
	}
	if ctx.c.hasValue(2) {
		styleDate = s.file.isDateStyle(ctx.c.attr(2).Uint())
	}

	if col > 0 && row > 0 {
		ctx.curCol = col
		ctx.curRow = row
		ctx.rowValid = true
	} else if ctx.rowValid && ctx.curRow > 0 {
		col = ctx.curCol + 1
		row = ctx.curRow
		ctx.curCol = col
	} else {
		if len(value) == 0 {
			return nil
		}
		return errors.Wrapf(ErrProtocolViolation,
			"cell without location in sheet %s", s.name)
	}

	if ctx.env.byNameActive && row > ctx.headerRowXML() {
		ctx.releaseHeader()
	}

	if row <= s.skipRows || col <= s.skipColumns {
		return nil
	}
	if len(value) == 0 {
		return nil
	}
	if cellType == CellNone {
		return errors.Wrapf(ErrProtocolViolation,
			"unknown cell type at %s%d", ColumnName(int(col-1)), row)
	}

	outCol := int(col - 1 - s.skipColumns)
	isHeaderRow := row == ctx.headerRowXML()

	if ctx.env.byNameActive && isHeaderRow {
		if name, err := ctx.headerString(cellType, value); err == nil && name != "" {
			ctx.env.headerMu.Lock()
			ctx.env.headerNames[uint64(outCol)] = name
			ctx.env.headerMu.Unlock()
		}
	}

	target := CellNone
	switch {
	case !isHeaderRow:
		if ctx.env.byNameActive {
			if err := ctx.awaitHeader(); err != nil {
				return err
			}
		}
		target = s.coerceByIndex[outCol]
	case !s.headers && !ctx.env.byNameActive:
		target = s.coerceByIndex[outCol]
	}
	if target == CellSkip {
		return nil
	}

	cell, drop, err := ctx.coerce(cellType, target, value, styleDate, col, row)
	if err != nil {
		return err
	}
	if !drop {
		ctx.emit(cell, col, row)
	}
	return nil
}

// headerString resolves a header cell's value to a string for byName
// matching.
func (ctx *workerCtx) headerString(cellType CellType, value []byte) (string, error) {
	switch cellType {
	case CellStringRef:
		return ctx.s.file.GetString(extractUnsigned(value))
	case CellString, CellStringInline:
		// unescape a copy; the scratch buffer is consumed again below
		return string(unescape(append([]byte(nil), value...))), nil
	case CellNumeric:
		if v, ok := parseNumber(value); ok {
			return FormatNumber(v), nil
		}
		return "", nil
	default:
		return string(value), nil
	}
}

// intern adds a dynamic string to this worker's arena.
func (ctx *workerCtx) intern(str string) uint64 {
	return ctx.s.file.addDynamicString(ctx.w.id, str)
}

// coerce converts a raw cell value of source type cellType into the cell to
// emit, honoring the coercion target. A CellNone target means "as parsed".
// Textual sources that fail numeric coercion downgrade to NONE; a source
// typed NUMERIC that does not parse is a hard error.
func (ctx *workerCtx) coerce(cellType, target CellType, value []byte, styleDate bool, col, row uint64) (Cell, bool, error) {
	file := ctx.s.file
	none := Cell{}

	switch cellType {
	case CellNumeric:
		v, ok := parseNumber(value)
		if !ok {
			return none, false, errors.Wrapf(ErrNumberParse,
				"%q at %s%d", value, ColumnName(int(col-1)), row)
		}
		switch target {
		case CellNone:
			if styleDate {
				return numberCell(CellDate, file.toDate(v)), false, nil
			}
			return numberCell(CellNumeric, v), false, nil
		case CellNumeric:
			// explicit numeric coercion overrides date styling
			return numberCell(CellNumeric, v), false, nil
		case CellDate:
			return numberCell(CellDate, file.toDate(v)), false, nil
		case CellBoolean:
			return boolCell(v != 0), false, nil
		default:
			if styleDate {
				return indexCell(CellString, ctx.intern(FormatDatetime(file.toDate(v)))), false, nil
			}
			return indexCell(CellString, ctx.intern(FormatNumber(v))), false, nil
		}

	case CellDate:
		v, ok := parseNumber(value)
		if !ok {
			return none, false, nil
		}
		switch target {
		case CellNumeric:
			return numberCell(CellNumeric, v), false, nil
		case CellBoolean:
			return boolCell(v != 0), false, nil
		case CellString, CellStringRef, CellStringInline:
			return indexCell(CellString, ctx.intern(FormatDatetime(file.toDate(v)))), false, nil
		default:
			return numberCell(CellDate, file.toDate(v)), false, nil
		}

	case CellStringRef:
		idx := extractUnsigned(value)
		switch target {
		case CellNone, CellStringRef:
			return indexCell(CellStringRef, idx), false, nil
		default:
			str, err := file.GetString(idx)
			if err != nil {
				return none, false, nil
			}
			return ctx.coerceText(str, target)
		}

	case CellString, CellStringInline:
		str := string(unescape(value))
		switch target {
		case CellNone, cellType:
			return indexCell(cellType, ctx.intern(str)), false, nil
		default:
			return ctx.coerceText(str, target)
		}

	case CellBoolean:
		b := extractUnsigned(value) != 0
		switch target {
		case CellNone, CellBoolean:
			return boolCell(b), false, nil
		case CellNumeric, CellDate:
			var v float64
			if b {
				v = 1
			}
			if target == CellDate {
				return numberCell(CellDate, file.toDate(v)), false, nil
			}
			return numberCell(CellNumeric, v), false, nil
		default:
			str := "FALSE"
			if b {
				str = "TRUE"
			}
			return indexCell(CellString, ctx.intern(str)), false, nil
		}

	case CellError:
		str := string(value)
		switch target {
		case CellNone, CellError:
			return indexCell(CellError, ctx.intern(str)), false, nil
		case CellString, CellStringRef, CellStringInline:
			return indexCell(CellString, ctx.intern(str)), false, nil
		default:
			return none, false, nil
		}
	}
	return none, false, nil
}

// coerceText converts resolved string content to a non-string target.
func (ctx *workerCtx) coerceText(str string, target CellType) (Cell, bool, error) {
	none := Cell{}
	switch target {
	case CellNumeric, CellDate:
		v, ok := parseNumber([]byte(str))
		if !ok {
			return none, false, nil
		}
		if target == CellDate {
			return numberCell(CellDate, ctx.s.file.toDate(v)), false, nil
		}
		return numberCell(CellNumeric, v), false, nil
	case CellBoolean:
		return boolCell(str == "TRUE"), false, nil
	case CellString, CellStringInline, CellStringRef:
		return indexCell(CellString, ctx.intern(str)), false, nil
	}
	return none, false, nil
}
