package xlsx

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Options contains optional parameters for opening a file.
type Options struct {
	// Logfile is an open writer to which warnings and diagnostics are
	// written. Defaults to os.Stderr.
	Logfile io.Writer

	// Verbosity is recorded on the File; no output depends on it, and the
	// same warnings are written at every level.
	Verbosity int

	// SerialStrings forces the shared-string table to be parsed in the
	// calling goroutine instead of in the background.
	SerialStrings bool
}

// File represents an open workbook archive. All metadata (sheet index,
// date styles) is parsed at open time and immutable afterwards.
//
// You should not instantiate this type yourself; use OpenFile.
type File struct {
	path string

	archive *archive
	// separate handle for shared strings so the two decompressors never
	// share one
	archiveStrings *archive

	pathWorkbook      string
	pathSharedStrings string
	pathStyles        string

	sheets     []sheetEntry
	date1904   bool
	dateStyles map[uint64]struct{}

	strings       stringTable
	stringsWG     sync.WaitGroup
	stringsKicked bool

	dynamic [][]string

	logfile       io.Writer
	verbosity     int
	serialStrings bool
}

// OpenFile opens an archive and parses all workbook metadata. It fails if
// the container is not a ZIP archive, a required part is missing, or the
// metadata cannot be interpreted.
func OpenFile(path string, options *Options) (*File, error) {
	if options == nil {
		options = &Options{}
	}
	logfile := options.Logfile
	if logfile == nil {
		logfile = os.Stderr
	}

	a, err := openArchive(path)
	if err != nil {
		if errors.Is(err, ErrBadArchive) {
			if format, ierr := InspectFormat(path); ierr == nil && format != "" && format != "xlsx" {
				return nil, errors.Wrapf(ErrBadArchive, "%s; not supported", FormatDescriptions[format])
			}
		}
		return nil, err
	}

	f := &File{
		path:          path,
		archive:       a,
		logfile:       logfile,
		verbosity:     options.Verbosity,
		serialStrings: options.SerialStrings,
	}
	if err := f.parseRootRelationships(); err != nil {
		a.close()
		return nil, err
	}
	if err := f.parseWorkbook(); err != nil {
		a.close()
		return nil, err
	}
	if err := f.parseWorkbookRelationships(); err != nil {
		a.close()
		return nil, err
	}
	if f.pathStyles != "" {
		if err := f.parseStyles(); err != nil {
			a.close()
			return nil, err
		}
	}
	if f.dateStyles == nil {
		f.dateStyles = make(map[uint64]struct{})
	}
	return f, nil
}

// Close releases the archive handles. Dynamic-string arenas and the shared
// string table stay valid.
func (f *File) Close() error {
	err := f.archive.close()
	if f.archiveStrings != nil {
		if serr := f.archiveStrings.close(); err == nil {
			err = serr
		}
	}
	return err
}

// Date1904 reports which date system was in force when the workbook was
// saved.
func (f *File) Date1904() bool { return f.date1904 }

// SheetNames returns the user-visible sheet names in workbook order.
func (f *File) SheetNames() []string {
	names := make([]string, len(f.sheets))
	for i := range f.sheets {
		names[i] = f.sheets[i].name
	}
	return names
}

// ParseSharedStrings kicks off the shared-string loader: in the background
// against a second archive handle, or in the calling goroutine when
// SerialStrings is set. A workbook without a shared-string part is not an
// error.
func (f *File) ParseSharedStrings() error {
	if f.stringsKicked {
		return nil
	}
	f.stringsKicked = true
	if f.pathSharedStrings == "" {
		f.strings.finish(nil)
		return nil
	}

	if f.serialStrings {
		err := f.loadSharedStrings(f.archive)
		f.strings.finish(err)
		return err
	}

	a, err := openArchive(f.path)
	if err != nil {
		// no second handle; fall back to loading in this goroutine
		f.warnf("failed to reopen archive for shared strings, parsing serially: %v", err)
		err = f.loadSharedStrings(f.archive)
		f.strings.finish(err)
		return err
	}
	f.archiveStrings = a
	f.stringsWG.Add(1)
	go func() {
		defer f.stringsWG.Done()
		f.strings.finish(f.loadSharedStrings(a))
	}()
	return nil
}

// Finalize joins the background shared-string loader and surfaces its
// error, if any.
func (f *File) Finalize() error {
	f.stringsWG.Wait()
	if !f.stringsKicked {
		f.strings.finish(nil)
	}
	return f.strings.loadErr
}

// GetString returns shared string idx, blocking until the loader has
// published it or terminated.
func (f *File) GetString(idx uint64) (string, error) {
	return f.strings.get(idx)
}

// CellValue renders any cell as a string, resolving shared and dynamic
// string references. Intended for display; numeric formatting follows
// FormatNumber/FormatDatetime.
func (f *File) CellValue(c Cell) (string, error) {
	switch c.Type {
	case CellNumeric:
		return FormatNumber(c.Number()), nil
	case CellDate:
		return FormatDatetime(c.Number()), nil
	case CellBoolean:
		if c.Bool() {
			return "TRUE", nil
		}
		return "FALSE", nil
	case CellStringRef:
		return f.GetString(c.Index())
	case CellString, CellStringInline, CellError:
		return f.GetDynamicString(c.Index()), nil
	}
	return "", nil
}

// GetSheet returns the sheet with the given sheetId.
func (f *File) GetSheet(id int) (*Sheet, error) {
	for i := range f.sheets {
		if f.sheets[i].sheetID == id {
			return f.newSheet(&f.sheets[i])
		}
	}
	return nil, errors.Wrapf(ErrMissingPart, "no sheet with id %d", id)
}

// GetSheetByName returns the sheet with the given user-visible name.
func (f *File) GetSheetByName(name string) (*Sheet, error) {
	for i := range f.sheets {
		if f.sheets[i].name == name {
			return f.newSheet(&f.sheets[i])
		}
	}
	return nil, errors.Wrapf(ErrMissingPart, "no sheet named %q", name)
}

func (f *File) newSheet(entry *sheetEntry) (*Sheet, error) {
	if entry.path == "" {
		return nil, errors.Wrapf(ErrMalformedMetadata, "sheet %q has no worksheet part", entry.name)
	}
	part := f.archive.locate(entry.path)
	if part == nil {
		return nil, errors.Wrapf(ErrMissingPart, "worksheet %s", entry.path)
	}
	s := &Sheet{
		file:       f,
		name:       entry.name,
		bufferSize: BufferSize,
		numBuffers: NumBuffers,
	}
	s.newIter = func() (decompressIter, error) {
		return f.archive.open(part)
	}
	s.partSize = part.UncompressedSize64
	return s, nil
}

func (f *File) warnf(format string, args ...interface{}) {
	fmt.Fprintf(f.logfile, "*** WARNING: "+format+"\n", args...)
}
