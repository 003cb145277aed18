// Package xlsx is a high-throughput reader for xlsx spreadsheet archives.
//
// It produces, for a chosen worksheet, a row-oriented stream of typed cells
// together with the workbook's shared-string and style tables. The
// worksheet stream is decompressed by a producer into a bounded ring of
// buffers and consumed by a pool of worker parsers running purpose-built
// streaming XML recognizers; a merge pass reassembles the per-worker
// output into globally ordered rows.
//
// Typical use:
//
//	file, err := xlsx.OpenFile("report.xlsx", nil)
//	if err != nil { ... }
//	defer file.Close()
//	file.ParseSharedStrings()
//	sheet, err := file.GetSheet(1)
//	if err != nil { ... }
//	ok, err := sheet.Parse(0)
//	if err != nil { ... }
//	for {
//		rowNum, cells := sheet.NextRow()
//		if cells == nil {
//			break
//		}
//		_ = rowNum
//	}
//	if err := file.Finalize(); err != nil { ... }
//
// Formula evaluation, writing, rich-text runs and styling beyond date
// detection are out of scope.
package xlsx
