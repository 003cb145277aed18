package xlsx

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedStringsBasic(t *testing.T) {
	path := workbookParts{
		sheetXML:      worksheetXML("", ""),
		sharedStrings: []string{"hi", "bye"},
	}.build(t)
	f := openWorkbook(t, path)
	require.NoError(t, f.ParseSharedStrings())
	require.NoError(t, f.Finalize())

	s, err := f.GetString(0)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
	s, err = f.GetString(1)
	require.NoError(t, err)
	assert.Equal(t, "bye", s)

	_, err = f.GetString(2)
	assert.ErrorIs(t, err, ErrInconsistentSharedStrings)
}

func TestSharedStringsSerial(t *testing.T) {
	path := workbookParts{
		sheetXML:      worksheetXML("", ""),
		sharedStrings: []string{"only"},
	}.build(t)
	f, err := OpenFile(path, &Options{SerialStrings: true})
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.ParseSharedStrings())
	s, err := f.GetString(0)
	require.NoError(t, err)
	assert.Equal(t, "only", s)
}

func TestSharedStringsEntities(t *testing.T) {
	path := workbookParts{
		sheetXML:      worksheetXML("", ""),
		sharedStrings: []string{"R&amp;D &#x1F600;", "&lt;&gt;&quot;&apos;"},
	}.build(t)
	f := openWorkbook(t, path)
	require.NoError(t, f.ParseSharedStrings())
	require.NoError(t, f.Finalize())

	s, err := f.GetString(0)
	require.NoError(t, err)
	assert.Equal(t, "R&D 😀", s)
	assert.Equal(t, []byte{0x52, 0x26, 0x44, 0x20, 0xF0, 0x9F, 0x98, 0x80}, []byte(s))

	s, err = f.GetString(1)
	require.NoError(t, err)
	assert.Equal(t, `<>"'`, s)
}

func TestSharedStringsMultipleRuns(t *testing.T) {
	// rich-text items carry several <t> runs; they concatenate
	path := buildArchive(t, map[string]string{
		"_rels/.rels": `<Relationships>
<Relationship Id="rId1" Type="a/officeDocument" Target="xl/workbook.xml"/>
</Relationships>`,
		"xl/workbook.xml": `<workbook><sheets>
<sheet name="S" sheetId="1" r:id="rId1"/>
</sheets></workbook>`,
		"xl/_rels/workbook.xml.rels": `<Relationships>
<Relationship Id="rId1" Type="a/worksheet" Target="worksheets/sheet1.xml"/>
<Relationship Id="rId2" Type="a/sharedStrings" Target="sharedStrings.xml"/>
</Relationships>`,
		"xl/worksheets/sheet1.xml": worksheetXML("", ""),
		"xl/sharedStrings.xml": `<sst uniqueCount="1">
<si><r><t>he</t></r><r><t xml:space="preserve">llo</t></r></si>
</sst>`,
	})
	f := openWorkbook(t, path)
	require.NoError(t, f.ParseSharedStrings())
	require.NoError(t, f.Finalize())
	s, err := f.GetString(0)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestSharedStringsNoPart(t *testing.T) {
	path := workbookParts{sheetXML: worksheetXML("", "")}.build(t)
	f := openWorkbook(t, path)
	require.NoError(t, f.ParseSharedStrings())
	require.NoError(t, f.Finalize())
	_, err := f.GetString(0)
	assert.Error(t, err)
}

func TestSharedStringsTooMany(t *testing.T) {
	path := workbookParts{
		sheetXML:      worksheetXML("", ""),
		sharedStrings: []string{"a", "b", "c"},
		declaredCount: 2,
	}.build(t)
	f := openWorkbook(t, path)
	require.NoError(t, f.ParseSharedStrings())
	err := f.Finalize()
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestSharedStringsTooFew(t *testing.T) {
	path := workbookParts{
		sheetXML:      worksheetXML("", ""),
		sharedStrings: []string{"a", "b"},
		declaredCount: 5,
	}.build(t)
	f := openWorkbook(t, path)
	require.NoError(t, f.ParseSharedStrings())
	err := f.Finalize()
	assert.ErrorIs(t, err, ErrInconsistentSharedStrings)

	// pending readers surface the terminal error too
	_, err = f.GetString(4)
	assert.ErrorIs(t, err, ErrInconsistentSharedStrings)
}

func TestSharedStringsProgressGatesReaders(t *testing.T) {
	// a reader for a late index blocks until the loader reaches it
	count := 2000
	items := make([]string, count)
	for i := range items {
		items[i] = fmt.Sprintf("value-%d", i)
	}
	path := workbookParts{
		sheetXML:      worksheetXML("", ""),
		sharedStrings: items,
	}.build(t)
	f := openWorkbook(t, path)

	done := make(chan string, 1)
	go func() {
		s, err := f.GetString(uint64(count - 1))
		if err != nil {
			done <- "error: " + err.Error()
			return
		}
		done <- s
	}()
	require.NoError(t, f.ParseSharedStrings())
	select {
	case s := <-done:
		assert.Equal(t, fmt.Sprintf("value-%d", count-1), s)
	case <-time.After(10 * time.Second):
		t.Fatal("reader never unblocked")
	}
	require.NoError(t, f.Finalize())
}

func TestSharedStringsLarge(t *testing.T) {
	big := strings.Repeat("x", 30000)
	path := workbookParts{
		sheetXML:      worksheetXML("", ""),
		sharedStrings: []string{big, "small"},
	}.build(t)
	f := openWorkbook(t, path)
	require.NoError(t, f.ParseSharedStrings())
	require.NoError(t, f.Finalize())
	s, err := f.GetString(0)
	require.NoError(t, err)
	assert.Len(t, s, 30000)
}
