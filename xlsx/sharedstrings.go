package xlsx

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// stringTableProgressDone is the terminal value of the progress counter,
// published on finish or error.
const stringTableProgressDone = -1

// stringTable holds the workbook's shared strings. It has exactly one
// writer (the loader) and any number of readers; readers gate on the
// progress counter, which carries the number of strings fully loaded, or
// -1 once loading has terminated.
type stringTable struct {
	v        atomic.Pointer[[]string]
	progress atomic.Int64
	count    int
	loadErr  error
}

func (t *stringTable) grow(capacity int) {
	s := make([]string, capacity)
	if old := t.v.Load(); old != nil {
		copy(s, (*old)[:t.count])
	}
	t.v.Store(&s)
}

func (t *stringTable) append(str string) {
	s := t.v.Load()
	if s == nil || t.count >= len(*s) {
		capacity := 1
		if s != nil {
			capacity = len(*s) + len(*s)/2 + 1
		}
		t.grow(capacity)
		s = t.v.Load()
	}
	(*s)[t.count] = str
	t.count++
	t.progress.Store(int64(t.count))
}

// finish records err as loadErr and then publishes the terminal progress
// value, so readers observing -1 see the error.
func (t *stringTable) finish(err error) {
	t.loadErr = err
	t.progress.Store(stringTableProgressDone)
}

// get blocks until string idx has been loaded or loading has terminated.
func (t *stringTable) get(idx uint64) (string, error) {
	for {
		p := t.progress.Load()
		if p > int64(idx) {
			return (*t.v.Load())[idx], nil
		}
		if p == stringTableProgressDone {
			if t.loadErr != nil {
				return "", t.loadErr
			}
			if int(idx) >= t.count {
				return "", errors.Wrapf(ErrInconsistentSharedStrings,
					"string index %d out of bounds (%d loaded)", idx, t.count)
			}
			return (*t.v.Load())[idx], nil
		}
		time.Sleep(time.Millisecond)
	}
}

// sharedStringValueSize bounds one shared string; the cell character cap is
// 32767.
const sharedStringValueSize = 32768

// loadSharedStrings streams sharedStrings.xml through the recognizer set
// {sst, si, t}, appending each <si> item to the table. Multiple <t> runs
// under one <si> concatenate. More parsed strings than the declared
// uniqueCount is fatal; a final shortfall is reported as inconsistent.
func (f *File) loadSharedStrings(a *archive) error {
	part := a.locate(f.pathSharedStrings)
	if part == nil {
		return errors.Wrapf(ErrMissingPart, "shared strings %s", f.pathSharedStrings)
	}
	it, err := a.open(part)
	if err != nil {
		return err
	}
	defer it.close()

	sst := newScanner("sst", attrSpec{"uniqueCount", attrIndex})
	si := newScanner("si")
	t := newScanner("t")

	var uniqueCount uint64
	var numStrings uint64

	tBuf := make([]byte, sharedStringValueSize)
	tLen := 0

	buf := make([]byte, 32768)
	for {
		n, st := it.read(buf)
		if st == iterError {
			return it.err()
		}
		for _, ch := range buf[:n] {
			sst.feed(ch)
			if !sst.inside() {
				continue
			}
			if sst.completedStart() {
				if sst.hasValue(0) {
					uniqueCount = sst.attr(0).Uint()
					if uniqueCount > 0 {
						f.strings.grow(int(uniqueCount))
					}
				}
			}
			inSi := si.inside()
			si.feed(ch)
			if !inSi {
				continue
			}
			inT := t.inside()
			t.feed(ch)
			if !inT && t.inside() {
				continue
			}

			if t.completedElem() {
				// a self-closing <t/> consumed no close-tag bytes
				if n := t.closeLen() - 1; n > 0 {
					tLen -= n
				}
			}
			if si.completedElem() {
				if uniqueCount > 0 && numStrings >= uniqueCount {
					return errors.Wrapf(ErrProtocolViolation,
						"more shared strings than the declared uniqueCount %d", uniqueCount)
				}
				f.strings.append(string(unescape(tBuf[:tLen])))
				numStrings++
				tLen = 0
				continue
			}
			if t.inside() {
				if tLen >= sharedStringValueSize {
					return errors.Wrap(ErrValueOverflow, "shared string")
				}
				tBuf[tLen] = ch
				tLen++
			}
		}
		if st == iterDone {
			break
		}
	}

	if uniqueCount > 0 && numStrings != uniqueCount {
		return errors.Wrapf(ErrInconsistentSharedStrings,
			"declared %d strings, parsed %d", uniqueCount, numStrings)
	}
	return nil
}
