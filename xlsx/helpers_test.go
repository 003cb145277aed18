package xlsx

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// buildArchive writes a ZIP with the given parts to a temp file and returns
// its path.
func buildArchive(t *testing.T, parts map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// workbookParts assembles a one-sheet workbook around the given worksheet
// XML. sharedStrings and styles are optional.
type workbookParts struct {
	sheetXML      string   // full worksheet XML (use worksheetXML)
	sharedStrings []string // raw <si> bodies, pre-escaped
	declaredCount int      // uniqueCount override; 0 means len(sharedStrings)
	stylesXML     string
	date1904      bool
}

func (p workbookParts) build(t *testing.T) string {
	t.Helper()
	parts := map[string]string{
		"_rels/.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/>
</Relationships>`,
		"xl/workbook.xml": fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<workbookPr date1904="%v"/>
<sheets><sheet name="Sheet1" sheetId="1" r:id="rId1"/></sheets>
</workbook>`, p.date1904),
		"xl/worksheets/sheet1.xml": p.sheetXML,
	}

	rels := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>`
	if p.sharedStrings != nil {
		rels += `
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/sharedStrings" Target="sharedStrings.xml"/>`
		count := p.declaredCount
		if count == 0 {
			count = len(p.sharedStrings)
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="%d" uniqueCount="%d">`,
			len(p.sharedStrings), count)
		for _, si := range p.sharedStrings {
			fmt.Fprintf(&sb, "<si><t>%s</t></si>", si)
		}
		sb.WriteString("</sst>")
		parts["xl/sharedStrings.xml"] = sb.String()
	}
	if p.stylesXML != "" {
		rels += `
<Relationship Id="rId3" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>`
		parts["xl/styles.xml"] = p.stylesXML
	}
	rels += "\n</Relationships>"
	parts["xl/_rels/workbook.xml.rels"] = rels

	return buildArchive(t, parts)
}

// worksheetXML wraps sheetData rows (and an optional dimension ref) into a
// worksheet document.
func worksheetXML(dimension, rows string) string {
	dim := ""
	if dimension != "" {
		dim = fmt.Sprintf(`<dimension ref="%s"/>`, dimension)
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
%s<sheetData>%s</sheetData>
</worksheet>`, dim, rows)
}

// stylesWithNumFmts builds a styles part whose cellXfs map 1:1 onto the
// given numFmtIds, plus optional custom numFmt codes.
func stylesWithNumFmts(numFmtIds []int, custom map[int]string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">`)
	if len(custom) > 0 {
		fmt.Fprintf(&sb, `<numFmts count="%d">`, len(custom))
		for id, code := range custom {
			fmt.Fprintf(&sb, `<numFmt numFmtId="%d" formatCode="%s"/>`, id, code)
		}
		sb.WriteString(`</numFmts>`)
	}
	fmt.Fprintf(&sb, `<cellXfs count="%d">`, len(numFmtIds))
	for _, id := range numFmtIds {
		fmt.Fprintf(&sb, `<xf numFmtId="%d" applyNumberFormat="1"/>`, id)
	}
	sb.WriteString(`</cellXfs></styleSheet>`)
	return sb.String()
}

// openWorkbook opens a built archive with warnings discarded.
func openWorkbook(t *testing.T, path string) *File {
	t.Helper()
	f, err := OpenFile(path, &Options{Logfile: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// sliceIter is a scripted decompressIter over in-memory bytes, used to
// place chunk boundaries at arbitrary offsets.
type sliceIter struct {
	data   []byte
	chunks []int
	pos    int
	ci     int
	badCRC bool
	fail   bool
}

func (it *sliceIter) read(p []byte) (int, iterStatus) {
	if it.fail && it.pos > 0 {
		return 0, iterError
	}
	if it.pos >= len(it.data) {
		return 0, iterDone
	}
	n := len(p)
	if it.ci < len(it.chunks) && it.chunks[it.ci] < n {
		n = it.chunks[it.ci]
	}
	it.ci++
	if rest := len(it.data) - it.pos; n > rest {
		n = rest
	}
	copy(p, it.data[it.pos:it.pos+n])
	it.pos += n
	return n, iterMore
}

func (it *sliceIter) storedCRC() uint32 {
	if it.badCRC {
		return 1
	}
	return 0
}
func (it *sliceIter) computedCRC() uint32 { return 0 }
func (it *sliceIter) err() error {
	if it.fail {
		return ErrDecompression
	}
	return nil
}
func (it *sliceIter) close() error { return nil }

// fakeSheet builds a Sheet over raw worksheet XML without a ZIP container.
func fakeSheet(t *testing.T, xml string, bufferSize int, chunks []int) (*File, *Sheet) {
	t.Helper()
	f := &File{
		dateStyles: map[uint64]struct{}{},
		logfile:    io.Discard,
	}
	f.stringsKicked = true
	f.strings.finish(nil)
	s := &Sheet{
		file:       f,
		name:       "fake",
		bufferSize: bufferSize,
		numBuffers: 64,
		partSize:   uint64(len(xml)),
	}
	s.newIter = func() (decompressIter, error) {
		return &sliceIter{data: []byte(xml), chunks: chunks}, nil
	}
	return f, s
}

// collectRows drains the sheet's row stream.
type parsedRow struct {
	num   int
	cells []Cell
}

func collectRows(s *Sheet) []parsedRow {
	var rows []parsedRow
	for {
		num, cells := s.NextRow()
		if cells == nil {
			break
		}
		rows = append(rows, parsedRow{num, cells})
	}
	return rows
}
