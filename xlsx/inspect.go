package xlsx

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"strings"
)

// FormatDescriptions provides descriptions of the file types InspectFormat
// can report.
var FormatDescriptions = map[string]string{
	"xlsx": "Excel xlsx file",
	"xlsb": "Excel 2007 xlsb file",
	"xls":  "Excel xls file (OLE2 compound document)",
	"ods":  "Openoffice.org ODS file",
	"zip":  "Unknown ZIP file",
	"":     "Unknown file type",
}

// ole2Signature is the magic cookie of an OLE2 compound document (legacy
// .xls), recognized only to reject it with a useful message.
var ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// zipSignature is the magic cookie for ZIP files.
var zipSignature = []byte("PK\x03\x04")

const peekSize = 8

// InspectFormat inspects the content at the supplied path and returns the
// file's type as a string, or an empty string if it cannot be determined.
// The return value can always be looked up in FormatDescriptions.
func InspectFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	peek := make([]byte, peekSize)
	n, err := f.Read(peek)
	if err != nil && err != io.EOF {
		return "", err
	}
	peek = peek[:n]

	if bytes.HasPrefix(peek, ole2Signature) {
		return "xls", nil
	}
	if !bytes.HasPrefix(peek, zipSignature) {
		return "", nil
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return "zip", nil
	}
	defer zr.Close()

	// Some third-party producers use backslashes or odd case; map the
	// expected names in lowercase to decide the package flavor.
	names := make(map[string]bool)
	for _, zf := range zr.File {
		names[strings.ToLower(strings.ReplaceAll(zf.Name, "\\", "/"))] = true
	}
	switch {
	case names["xl/workbook.xml"]:
		return "xlsx", nil
	case names["xl/workbook.bin"]:
		return "xlsb", nil
	case names["content.xml"]:
		return "ods", nil
	}
	if names["_rels/.rels"] {
		// workbook in a non-standard location; still an office package
		return "xlsx", nil
	}
	return "zip", nil
}
