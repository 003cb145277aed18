package xlsx

import (
	"strings"

	"github.com/pkg/errors"
)

// sheetEntry joins a workbook <sheet> element with its worksheet
// relationship: (sheetId, user-visible name, relationship id, resolved
// archive path).
type sheetEntry struct {
	sheetID int
	name    string
	relID   string
	path    string
}

// parseRootRelationships reads _rels/.rels and resolves the workbook part
// path from the officeDocument relationship.
func (f *File) parseRootRelationships() error {
	part := f.archive.locate("_rels/.rels")
	if part == nil {
		return errors.Wrap(ErrMissingPart, "_rels/.rels")
	}
	data, err := f.archive.readPart(part)
	if err != nil {
		return err
	}

	relationship := newScanner("Relationship",
		attrSpec{"Target", attrString},
		attrSpec{"Type", attrString},
	)

	errCount := 0
	for _, ch := range data {
		relationship.feed(ch)
		if relationship.completedElem() {
			if !relationship.hasValue(0) || !relationship.hasValue(1) {
				errCount++
				continue
			}
			typ := relationship.attr(1).String()
			if strings.HasSuffix(typ, "officeDocument") {
				target := relationship.attr(0).String()
				f.pathWorkbook = strings.TrimPrefix(target, "/")
			}
		}
	}
	if f.pathWorkbook == "" {
		if errCount > 0 {
			return errors.Wrap(ErrMalformedMetadata, "root relationships")
		}
		return errors.Wrap(ErrMissingPart, "workbook relationship")
	}
	return nil
}

// parseWorkbook reads the workbook part: the sheet index and the date1904
// workbook property.
func (f *File) parseWorkbook() error {
	part := f.archive.locate(f.pathWorkbook)
	if part == nil {
		return errors.Wrapf(ErrMissingPart, "workbook %s", f.pathWorkbook)
	}
	data, err := f.archive.readPart(part)
	if err != nil {
		return err
	}

	sheets := newScanner("sheets")
	sheet := newScanner("sheet",
		attrSpec{"name", attrString},
		attrSpec{"sheetId", attrIndex},
		attrSpec{"id", attrString},
	)
	workbookPr := newScanner("workbookPr", attrSpec{"date1904", attrString})

	for _, ch := range data {
		sheets.feed(ch)
		if sheets.inside() {
			sheet.feed(ch)
			if sheet.completedElem() {
				if !sheet.hasValue(0) || !sheet.hasValue(1) || !sheet.hasValue(2) {
					continue
				}
				name := string(unescape(append([]byte(nil), sheet.attr(0).Bytes()...)))
				f.sheets = append(f.sheets, sheetEntry{
					sheetID: int(sheet.attr(1).Uint()),
					name:    name,
					relID:   sheet.attr(2).String(),
				})
			}
		}
		workbookPr.feed(ch)
		if workbookPr.completedElem() {
			if workbookPr.hasValue(0) {
				val := workbookPr.attr(0).String()
				if val != "false" && val != "0" {
					f.date1904 = true
				}
			}
		}
	}
	if len(f.sheets) == 0 {
		return errors.Wrap(ErrMalformedMetadata, "no sheets in workbook")
	}
	return nil
}

// parseWorkbookRelationships reads {wb}/_rels/workbook.xml.rels and resolves
// worksheet, shared-string and styles part paths. Relationship types match
// by suffix.
func (f *File) parseWorkbookRelationships() error {
	lastSlash := strings.LastIndexByte(f.pathWorkbook, '/')
	localPath := ""
	if lastSlash >= 0 {
		localPath = f.pathWorkbook[:lastSlash+1]
	}
	relPath := localPath + "_rels/workbook.xml.rels"

	part := f.archive.locate(relPath)
	if part == nil {
		return errors.Wrapf(ErrMissingPart, "workbook relationships %s", relPath)
	}
	data, err := f.archive.readPart(part)
	if err != nil {
		return err
	}

	relationship := newScanner("Relationship",
		attrSpec{"Target", attrString},
		attrSpec{"Type", attrString},
		attrSpec{"Id", attrString},
	)

	resolve := func(target string) string {
		if strings.HasPrefix(target, "/") {
			return target[1:]
		}
		return localPath + target
	}

	errCount := 0
	for _, ch := range data {
		relationship.feed(ch)
		if relationship.completedElem() {
			if !relationship.hasValue(0) || !relationship.hasValue(1) || !relationship.hasValue(2) {
				errCount++
				continue
			}
			typ := relationship.attr(1).String()
			switch {
			case strings.HasSuffix(typ, "/worksheet"):
				id := relationship.attr(2).String()
				for j := range f.sheets {
					if f.sheets[j].relID == id {
						f.sheets[j].path = resolve(relationship.attr(0).String())
					}
				}
			case strings.HasSuffix(typ, "/sharedStrings"):
				f.pathSharedStrings = resolve(relationship.attr(0).String())
			case strings.HasSuffix(typ, "/styles"):
				f.pathStyles = resolve(relationship.attr(0).String())
			}
		}
	}

	if errCount > 0 {
		allSheetPaths := true
		for i := range f.sheets {
			if f.sheets[i].path == "" {
				allSheetPaths = false
				break
			}
		}
		if f.pathSharedStrings == "" || f.pathStyles == "" || allSheetPaths {
			return errors.Wrap(ErrMalformedMetadata, "workbook relationships")
		}
	}
	return nil
}

// Built-in number-format ids that denote dates or times.
var builtinDateFormats = [...][2]uint64{
	{14, 22}, {27, 36}, {45, 47}, {50, 58}, {71, 81},
}

func isBuiltinDateFormat(id uint64) bool {
	for _, r := range builtinDateFormats {
		if id >= r[0] && id <= r[1] {
			return true
		}
	}
	return false
}

// isCustomDateCode reports whether a custom format code denotes a date or
// time: any of the letters d D m M y Y h H s S.
func isCustomDateCode(code []byte) bool {
	for _, ch := range code {
		switch ch {
		case 'd', 'D', 'm', 'M', 'y', 'Y', 'h', 'H', 's', 'S':
			return true
		}
	}
	return false
}

// parseStyles streams the styles part and derives the set of cell-format
// indices whose number format is a date/time format.
func (f *File) parseStyles() error {
	part := f.archive.locate(f.pathStyles)
	if part == nil {
		return errors.Wrapf(ErrMissingPart, "styles %s", f.pathStyles)
	}
	it, err := f.archive.open(part)
	if err != nil {
		return err
	}
	defer it.close()

	cellXfs := newScanner("cellXfs")
	xf := newScanner("xf", attrSpec{"numFmtId", attrIndex})
	numFmts := newScanner("numFmts")
	numFmt := newScanner("numFmt",
		attrSpec{"numFmtId", attrIndex},
		attrSpec{"formatCode", attrString},
	)

	// xf index -> numFmtId, in cellXfs order
	var xfMapping []uint64
	customDateFormats := make(map[uint64]bool)

	buf := make([]byte, 32768)
	for {
		n, st := it.read(buf)
		if st == iterError {
			return it.err()
		}
		for _, ch := range buf[:n] {
			cellXfs.feed(ch)
			if cellXfs.inside() {
				xf.feed(ch)
				if xf.completedElem() {
					if !xf.hasValue(0) {
						xfMapping = append(xfMapping, 0)
						continue
					}
					xfMapping = append(xfMapping, xf.attr(0).Uint())
				}
			}
			numFmts.feed(ch)
			if numFmts.inside() {
				numFmt.feed(ch)
				if numFmt.completedElem() {
					if !numFmt.hasValue(0) || !numFmt.hasValue(1) {
						continue
					}
					if isCustomDateCode(numFmt.attr(1).Bytes()) {
						customDateFormats[numFmt.attr(0).Uint()] = true
					}
				}
			}
		}
		if st == iterDone {
			break
		}
	}

	f.dateStyles = make(map[uint64]struct{})
	for idx, fmtID := range xfMapping {
		if isBuiltinDateFormat(fmtID) || customDateFormats[fmtID] {
			f.dateStyles[uint64(idx)] = struct{}{}
		}
	}
	return nil
}

// isDateStyle reports whether a cell-format index resolves to a date/time
// number format.
func (f *File) isDateStyle(style uint64) bool {
	_, ok := f.dateStyles[style]
	return ok
}

// Serial date offsets to the Unix epoch, in days.
const (
	dateOffset1900 = 25569
	dateOffset1904 = 24107
)

// toDate converts a serial date to seconds since the Unix epoch. Excel
// stores dates as days since 1900 or 1904; 1900-mode serials below 61 are
// shifted by one to compensate for the 1900 leap-year bug.
func (f *File) toDate(serial float64) float64 {
	offset := float64(dateOffset1900)
	if f.date1904 {
		offset = dateOffset1904
	} else if serial < 61 {
		serial++
	}
	return (serial - offset) * 86400
}
