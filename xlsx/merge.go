package xlsx

// mergeState reassembles a globally ordered row stream from the per-worker
// fragment queues. It walks (buffer, worker, cellOffset) in original byte
// order, consuming LocationInfo records to move the replay cursor, and
// yields one dense row whenever the row cursor advances.
type mergeState struct {
	workers   []*workerState
	maxRounds int

	round   int
	worker  int
	cellOff uint64
	locCur  []int

	curCol uint64
	curRow int64 // 0-based absolute row; -1 before the first location

	skipRows uint64

	// fixed row width from <dimension>, or 0 to grow with the data
	width int

	pending      []Cell
	pendingValid bool

	flushed bool // the trailing row has been emitted
}

func newMergeState(s *Sheet) *mergeState {
	m := &mergeState{
		workers:  s.workers,
		locCur:   make([]int, len(s.workers)),
		curRow:   -1,
		skipRows: s.skipRows,
	}
	for _, w := range s.workers {
		if len(w.fragments) > m.maxRounds {
			m.maxRounds = len(w.fragments)
		}
	}
	if s.dimSet && s.dimColumns > s.skipColumns {
		m.width = int(s.dimColumns - s.skipColumns)
	}
	return m
}

func (m *mergeState) newPending() []Cell {
	if m.width > 0 {
		return make([]Cell, m.width)
	}
	return nil
}

// place puts a cell at the current column of the pending row, growing it
// when no <dimension> fixed the width.
func (m *mergeState) place(cell Cell) {
	col := int(m.curCol)
	for len(m.pending) <= col {
		m.pending = append(m.pending, Cell{})
	}
	m.pending[col] = cell
}

// takeRow hands out the accumulated row if it lies past the skip window.
func (m *mergeState) takeRow() (int, []Cell, bool) {
	if !m.pendingValid || m.curRow < 0 || uint64(m.curRow) < m.skipRows {
		return 0, nil, false
	}
	row := m.pending
	if row == nil {
		row = []Cell{}
	}
	return int(uint64(m.curRow) - m.skipRows), row, true
}

// next yields the next row, or (0, nil) when the stream is exhausted.
// Fragments are released as they are drained.
func (m *mergeState) next() (int, []Cell) {
	for m.round < m.maxRounds {
		for m.worker < len(m.workers) {
			w := m.workers[m.worker]
			if m.round >= len(w.fragments) {
				// a worker without a fragment for this round ran out of
				// chunks; so did every worker after it
				break
			}
			frag := w.fragments[m.round]

			for m.cellOff <= uint64(len(frag)) {
				locs := w.locs
				cur := m.locCur[m.worker]
				if cur < len(locs) &&
					locs[cur].buffer == uint64(m.round) &&
					locs[cur].cell == m.cellOff {
					loc := locs[cur]

					newRow := m.curRow
					consumed := true
					switch {
					case loc.row == rowNext:
						newRow++
					case int64(loc.row) > m.curRow+1 && m.curRow >= 0:
						// the cursor never jumps more than one row per step;
						// the record stays pending so the rows in between
						// are emitted empty
						newRow++
						consumed = false
					default:
						newRow = int64(loc.row)
					}
					if consumed {
						m.curCol = loc.column
						m.locCur[m.worker]++
					}
					if newRow != m.curRow {
						rowNum, cells, ok := m.takeRow()
						m.curRow = newRow
						m.pending = m.newPending()
						m.pendingValid = true
						if ok {
							return rowNum, cells
						}
					}
					continue
				}
				if m.cellOff >= uint64(len(frag)) {
					break
				}
				m.place(frag[m.cellOff])
				m.curCol++
				m.cellOff++
			}
			w.fragments[m.round] = nil
			m.cellOff = 0
			m.worker++
		}
		m.worker = 0
		m.round++
	}

	if !m.flushed {
		m.flushed = true
		if rowNum, cells, ok := m.takeRow(); ok {
			m.pendingValid = false
			return rowNum, cells
		}
	}
	return 0, nil
}
