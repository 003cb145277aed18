package xlsx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileMetadata(t *testing.T) {
	path := workbookParts{
		sheetXML: worksheetXML("A1:A1", `<row r="1"><c r="A1"><v>1</v></c></row>`),
	}.build(t)
	f := openWorkbook(t, path)

	assert.Equal(t, []string{"Sheet1"}, f.SheetNames())
	assert.False(t, f.Date1904())

	sheet, err := f.GetSheet(1)
	require.NoError(t, err)
	assert.Equal(t, "Sheet1", sheet.Name())

	_, err = f.GetSheet(99)
	assert.ErrorIs(t, err, ErrMissingPart)
	_, err = f.GetSheetByName("Nope")
	assert.ErrorIs(t, err, ErrMissingPart)

	byName, err := f.GetSheetByName("Sheet1")
	require.NoError(t, err)
	assert.Equal(t, "Sheet1", byName.Name())
}

func TestOpenFileNotAnArchive(t *testing.T) {
	path := t.TempDir() + "/junk.xlsx"
	require.NoError(t, writeFile(path, []byte("this is not a zip file at all")))
	_, err := OpenFile(path, nil)
	assert.ErrorIs(t, err, ErrBadArchive)
}

func TestOpenFileRejectsOLE2(t *testing.T) {
	content := append(append([]byte{}, ole2Signature...), make([]byte, 512)...)
	path := t.TempDir() + "/legacy.xls"
	require.NoError(t, writeFile(path, content))
	_, err := OpenFile(path, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadArchive)
	assert.Contains(t, err.Error(), "xls")
}

func TestOpenFileMissingRels(t *testing.T) {
	path := buildArchive(t, map[string]string{"hello.txt": "hi"})
	_, err := OpenFile(path, nil)
	assert.ErrorIs(t, err, ErrMissingPart)
}

func TestSheetNameUnescaped(t *testing.T) {
	path := buildArchive(t, map[string]string{
		"_rels/.rels": `<Relationships>
<Relationship Id="rId1" Type="http://x/officeDocument" Target="/xl/workbook.xml"/>
</Relationships>`,
		"xl/workbook.xml": `<workbook>
<sheets><sheet name="R&amp;D" sheetId="1" r:id="rId1"/></sheets>
</workbook>`,
		"xl/_rels/workbook.xml.rels": `<Relationships>
<Relationship Id="rId1" Type="http://x/worksheet" Target="worksheets/sheet1.xml"/>
</Relationships>`,
		"xl/worksheets/sheet1.xml": worksheetXML("", ""),
	})
	f := openWorkbook(t, path)
	assert.Equal(t, []string{"R&D"}, f.SheetNames())
	_, err := f.GetSheetByName("R&D")
	assert.NoError(t, err)
}

func TestWorkbookRelationshipAbsoluteTarget(t *testing.T) {
	path := buildArchive(t, map[string]string{
		"_rels/.rels": `<Relationships>
<Relationship Id="rId1" Type="a/officeDocument" Target="xl/workbook.xml"/>
</Relationships>`,
		"xl/workbook.xml": `<workbook><sheets>
<sheet name="S" sheetId="1" r:id="rId1"/>
</sheets></workbook>`,
		"xl/_rels/workbook.xml.rels": `<Relationships>
<Relationship Id="rId1" Type="a/worksheet" Target="/absolute/sheet1.xml"/>
</Relationships>`,
		"absolute/sheet1.xml": worksheetXML("", ""),
	})
	f := openWorkbook(t, path)
	_, err := f.GetSheet(1)
	assert.NoError(t, err)
}

func TestDateStyleClassification(t *testing.T) {
	// xf 0: General; xf 1: built-in date 14; xf 2: plain number 2;
	// xf 3: custom date code; xf 4: custom non-date code
	styles := stylesWithNumFmts(
		[]int{0, 14, 2, 164, 165},
		map[int]string{164: "yyyy\\-mm\\-dd", 165: "0.00%"},
	)
	path := workbookParts{
		sheetXML:  worksheetXML("", ""),
		stylesXML: styles,
	}.build(t)
	f := openWorkbook(t, path)

	assert.False(t, f.isDateStyle(0))
	assert.True(t, f.isDateStyle(1))
	assert.False(t, f.isDateStyle(2))
	assert.True(t, f.isDateStyle(3))
	assert.False(t, f.isDateStyle(4))
	assert.False(t, f.isDateStyle(99))
}

func TestBuiltinDateFormatRanges(t *testing.T) {
	for _, id := range []uint64{14, 22, 27, 36, 45, 47, 50, 58, 71, 81} {
		assert.True(t, isBuiltinDateFormat(id), "id %d", id)
	}
	for _, id := range []uint64{0, 1, 13, 23, 26, 37, 44, 48, 49, 59, 70, 82} {
		assert.False(t, isBuiltinDateFormat(id), "id %d", id)
	}
}

func TestToDate1900(t *testing.T) {
	f := &File{}
	// serial 61 is 1900-03-01 00:00:00 UTC
	assert.Equal(t, float64(-2203891200), f.toDate(61))
	// serial 1 is 1900-01-01 (compensating the 1900 leap-year bug)
	assert.Equal(t, float64(-2208988800), f.toDate(1))
	// serial 44562 is 2022-01-01
	assert.Equal(t, float64(1640995200), f.toDate(44562))
	assert.Equal(t, "1900-03-01 00:00:00", FormatDatetime(f.toDate(61)))
	assert.Equal(t, "1900-01-01 00:00:00", FormatDatetime(f.toDate(1)))
	assert.Equal(t, "2022-01-01 00:00:00", FormatDatetime(f.toDate(44562)))
}

func TestToDate1904(t *testing.T) {
	f := &File{date1904: true}
	// serial 0 is 1904-01-01
	assert.Equal(t, "1904-01-01 00:00:00", FormatDatetime(f.toDate(0)))
	assert.Equal(t, float64(-2082844800), f.toDate(0))
}

func TestInspectFormat(t *testing.T) {
	xlsxPath := workbookParts{sheetXML: worksheetXML("", "")}.build(t)
	format, err := InspectFormat(xlsxPath)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", format)

	olePath := t.TempDir() + "/a.xls"
	require.NoError(t, writeFile(olePath, append(append([]byte{}, ole2Signature...), 0, 0)))
	format, err = InspectFormat(olePath)
	require.NoError(t, err)
	assert.Equal(t, "xls", format)

	junkPath := t.TempDir() + "/a.bin"
	require.NoError(t, writeFile(junkPath, []byte("nothing")))
	format, err = InspectFormat(junkPath)
	require.NoError(t, err)
	assert.Equal(t, "", format)

	zipPath := buildArchive(t, map[string]string{"readme.txt": "x"})
	format, err = InspectFormat(zipPath)
	require.NoError(t, err)
	assert.Equal(t, "zip", format)
}

func TestColumnName(t *testing.T) {
	cases := map[int]string{0: "A", 25: "Z", 26: "AA", 27: "AB", 701: "ZZ", 702: "AAA"}
	for colx, want := range cases {
		assert.Equal(t, want, ColumnName(colx), "colx %d", colx)
	}
	assert.Equal(t, "", ColumnName(-1))
}

func TestAutoThreads(t *testing.T) {
	n := AutoThreads()
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 10)
	assert.NotEqual(t, 7, n)
	assert.NotEqual(t, 8, n)
	assert.NotEqual(t, 9, n)
}
