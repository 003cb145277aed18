package xlsx

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const (
	// BufferSize is the size of one ring chunk. The cell character cap is
	// 32767, so a cell value always fits one chunk's scratch buffer.
	BufferSize = 32768

	// NumBuffers is the number of chunks in the ring.
	NumBuffers = 1024
)

// pollInterval is the producer/worker collision poll.
const pollInterval = time.Millisecond

// locationInfo tells the merger "starting at the cell-th cell of the
// buffer-th fragment, the cursor is (column, row)". column is the 0-based
// output column; row is the 0-based absolute row, or rowNext for "advance
// the row cursor by one".
type locationInfo struct {
	buffer uint64
	cell   uint64
	column uint64
	row    uint64
}

// rowNext is the sentinel row meaning "next row".
const rowNext = ^uint64(0)

// fragment is the ordered cell output of one worker over one leapfrog of
// the ring.
type fragment []Cell

// workerState is one worker's output: its fragment queue and LocationInfo
// records, in worksheet byte order.
type workerState struct {
	id        int
	fragments []fragment
	locs      []locationInfo
}

// parseEnv is the shared state of one Parse run.
type parseEnv struct {
	numThreads int
	bufferSize int
	numBuffers int
	ring       [][]byte

	writeIndex  atomic.Uint64
	finished    atomic.Bool
	readIndexes []atomic.Uint64

	producerFailed atomic.Bool

	// header-coercion barrier, active when byName coercions are requested
	byNameActive   bool
	headerBarrier  atomic.Int64
	headerResolved atomic.Bool
	headerMu       sync.Mutex
	headerNames    map[uint64]string
}

// collision reports whether any worker's readIndex occupies ring slot
// slotMod.
func (env *parseEnv) collision(slotMod uint64) bool {
	for i := range env.readIndexes {
		if env.readIndexes[i].Load()%uint64(env.numBuffers) == slotMod {
			return true
		}
	}
	return false
}

// dataRemaining reports whether chunks at or above readIndex may still
// arrive. The re-load after observing finished closes the race against the
// producer's final writeIndex publication.
func (env *parseEnv) dataRemaining(readIndex uint64) bool {
	if readIndex < env.writeIndex.Load() {
		return true
	}
	if !env.finished.Load() {
		return true
	}
	return readIndex < env.writeIndex.Load()
}

func (env *parseEnv) drainHeader(s *Sheet) {
	env.headerMu.Lock()
	defer env.headerMu.Unlock()
	for colIdx, name := range env.headerNames {
		if t, ok := s.coerceByName[name]; ok {
			s.coerceByIndex[int(colIdx)] = t
		}
	}
	env.headerResolved.Store(true)
}

// Sheet gives access to one worksheet's row stream. Configure it with
// SetHeaders, SetCoercions and Skip, run Parse, then drain rows with
// NextRow.
//
// You don't instantiate this type yourself; use File.GetSheet.
type Sheet struct {
	file *File
	name string

	newIter  func() (decompressIter, error)
	partSize uint64

	headers       bool
	skipRows      uint64
	skipColumns   uint64
	coerceByIndex map[int]CellType
	coerceByName  map[string]CellType

	// sized for tests; production uses the package defaults
	bufferSize int
	numBuffers int

	dimMu      sync.Mutex
	dimColumns uint64
	dimRows    uint64
	dimSet     bool

	terminate atomic.Bool
	canceled  atomic.Bool

	warnMu    sync.Mutex
	warnings  []string
	workerErr error

	workers []*workerState
	merge   *mergeState
}

// Name returns the user-visible sheet name.
func (s *Sheet) Name() string { return s.name }

// SetHeaders declares that the first kept row carries column headers.
func (s *Sheet) SetHeaders(headers bool) { s.headers = headers }

// Skip drops the first rows rows and the first columns columns.
func (s *Sheet) Skip(rows, columns int) {
	if rows > 0 {
		s.skipRows = uint64(rows)
	}
	if columns > 0 {
		s.skipColumns = uint64(columns)
	}
}

// SetCoercions installs cell-type coercions: byIndex maps 0-based output
// columns, byName maps header-cell strings (resolved against the header row
// during parsing). CellSkip drops the cell.
func (s *Sheet) SetCoercions(byIndex map[int]CellType, byName map[string]CellType) {
	s.coerceByIndex = byIndex
	s.coerceByName = byName
}

// Terminate requests cooperative termination: the producer and every worker
// exit at their next poll or feed iteration, and partial fragments are
// discarded.
func (s *Sheet) Terminate() {
	s.canceled.Store(true)
	s.terminate.Store(true)
}

// Warnings returns the non-fatal problems recorded by the last Parse.
func (s *Sheet) Warnings() []string {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	return append([]string(nil), s.warnings...)
}

func (s *Sheet) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.warnMu.Lock()
	s.warnings = append(s.warnings, msg)
	s.warnMu.Unlock()
	s.file.warnf("%s", msg)
}

// fail records a fatal worker/producer error and unwinds the peers.
func (s *Sheet) fail(err error) {
	s.warnMu.Lock()
	if s.workerErr == nil {
		s.workerErr = err
	}
	s.warnings = append(s.warnings, err.Error())
	s.warnMu.Unlock()
	s.terminate.Store(true)
}

func (s *Sheet) setDimension(columns, rows uint64) {
	s.dimMu.Lock()
	if !s.dimSet {
		s.dimColumns = columns
		s.dimRows = rows
		s.dimSet = true
	}
	s.dimMu.Unlock()
}

// Dimensions returns the sheet extent: columns and rows as declared by
// <dimension>. When the worksheet carries none, the row count is derived
// from the trailing LocationInfo records after Parse and columns is 0.
func (s *Sheet) Dimensions() (uint64, uint64) {
	cols, rows := s.dimColumns, s.dimRows
	if rows == 0 && s.workers != nil {
		rows = deriveRows(s.workers)
	}
	return cols, rows
}

// deriveRows walks each worker's LocationInfo backwards, counting sentinel
// next-row entries past the last explicit row.
func deriveRows(workers []*workerState) uint64 {
	var rows uint64
	for _, w := range workers {
		var sentinels uint64
		for i := len(w.locs) - 1; i >= 0; i-- {
			if w.locs[i].row == rowNext {
				sentinels++
				continue
			}
			if last := w.locs[i].row + sentinels; last+1 > rows {
				rows = last + 1
			}
			break
		}
	}
	return rows
}

// Parse extracts the worksheet with numThreads workers (plus the
// decompression producer). numThreads <= 0 selects AutoThreads. The bool
// result is false when non-fatal warnings were recorded; the rows parsed so
// far remain available from NextRow. Unrecoverable decompression failures
// and cancellation return an error.
func (s *Sheet) Parse(numThreads int) (bool, error) {
	if numThreads <= 0 {
		numThreads = AutoThreads()
	}
	// no point in more workers than chunks
	if maxThreads := int(s.partSize/uint64(s.bufferSize)) + 1; numThreads > maxThreads {
		numThreads = maxThreads
	}
	if numThreads < 1 {
		numThreads = 1
	}
	if numThreads > 255 {
		// the worker id must fit the top 8 bits of a string index
		numThreads = 255
	}

	// a pending shared-string loader is needed for string lookups during
	// coercion and after parsing; kicking it twice is a no-op
	if err := s.file.ParseSharedStrings(); err != nil {
		s.warn("shared strings: %v", err)
	}

	s.terminate.Store(false)
	s.canceled.Store(false)
	s.warnings = nil
	s.workerErr = nil
	s.merge = nil

	env := &parseEnv{
		numThreads:   numThreads,
		bufferSize:   s.bufferSize,
		numBuffers:   s.numBuffers,
		ring:         make([][]byte, s.numBuffers),
		readIndexes:  make([]atomic.Uint64, numThreads),
		byNameActive: len(s.coerceByName) > 0,
	}
	for i := range env.ring {
		// over-allocated by one byte for the trailing NUL
		env.ring[i] = make([]byte, s.bufferSize+1)
	}
	env.writeIndex.Store(uint64(numThreads - 1))
	for k := 0; k < numThreads; k++ {
		env.readIndexes[k].Store(uint64(k))
	}
	if env.byNameActive {
		env.headerBarrier.Store(int64(numThreads))
		env.headerNames = make(map[uint64]string)
		if s.coerceByIndex == nil {
			s.coerceByIndex = make(map[int]CellType)
		}
	}

	s.file.prepareDynamicStrings(numThreads)
	s.workers = make([]*workerState, numThreads)
	for k := range s.workers {
		s.workers[k] = &workerState{id: k}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.producerLoop(env)
	}()
	for k := 0; k < numThreads; k++ {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(s.workers[k], env)
		}()
	}
	wg.Wait()

	if s.canceled.Load() {
		return false, errors.Wrapf(ErrCanceled, "sheet %s", s.name)
	}
	if env.producerFailed.Load() {
		err := s.workerErr
		if err == nil {
			err = errors.Wrap(ErrDecompression, "worksheet stream")
		}
		return false, err
	}

	s.merge = newMergeState(s)

	s.warnMu.Lock()
	ok := len(s.warnings) == 0 && s.workerErr == nil
	s.warnMu.Unlock()
	return ok, nil
}

// NextRow yields the next row as (rowNumber, cells): rowNumber is 0-based
// after row skipping, cells is a dense, column-aligned vector with NONE in
// unset positions. A nil vector means the stream is exhausted; a row with
// no cells and no <dimension> width comes back as a non-nil empty vector.
func (s *Sheet) NextRow() (int, []Cell) {
	if s.merge == nil {
		return 0, nil
	}
	return s.merge.next()
}

// producerLoop owns the worksheet decompressor and fills the ring. It may
// only fill a slot no worker's readIndex occupies; collisions poll at 1 ms.
func (s *Sheet) producerLoop(env *parseEnv) {
	it, err := s.newIter()
	if err != nil {
		env.writeIndex.Store(0)
		env.finished.Store(true)
		env.producerFailed.Store(true)
		s.fail(err)
		return
	}
	defer it.close()

	numBuffers := uint64(env.numBuffers)
	for {
		if s.terminate.Load() {
			env.finished.Store(true)
			return
		}
		index := env.writeIndex.Load() + 1
		for env.collision(index % numBuffers) {
			time.Sleep(pollInterval)
			if s.terminate.Load() {
				env.finished.Store(true)
				return
			}
		}
		slot := env.ring[index%numBuffers]
		n, st := it.read(slot[:env.bufferSize])
		if st == iterError {
			env.writeIndex.Store(0)
			env.finished.Store(true)
			env.producerFailed.Store(true)
			s.fail(it.err())
			return
		}
		slot[n] = 0
		if st == iterDone {
			// the +1 releases the final chunk to its reader
			env.writeIndex.Store(index + 1)
			env.finished.Store(true)
			break
		}
		env.writeIndex.Store(index)
	}

	if it.storedCRC() != it.computedCRC() {
		s.warn("worksheet crc mismatch: stored %08x, computed %08x",
			it.storedCRC(), it.computedCRC())
	}
}
