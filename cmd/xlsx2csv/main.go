package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/fhenz/sheetreader/xlsx"
)

const defaultSheetDelimiter = "--------"

var version = "dev"

type options struct {
	allSheets      bool
	sheetID        int
	sheetName      string
	delimiter      rune
	crlf           bool
	sheetDelimiter string
	dateFormat     string
	encoding       string
	headers        bool
	skipRows       int
	skipCols       int
	threads        int
	verbose        bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	app := kingpin.New("xlsx2csv", "Convert xlsx worksheets to CSV.")
	app.Version(version)
	app.Writer(stderr)

	var opts options
	app.Flag("all", "export all sheets").Short('a').BoolVar(&opts.allSheets)
	app.Flag("sheet", "sheetId to convert").Short('s').Default("0").IntVar(&opts.sheetID)
	app.Flag("sheetname", "sheet name to convert").Short('n').StringVar(&opts.sheetName)
	delimiterFlag := app.Flag("delimiter", "field delimiter").Short('d').Default(",").String()
	app.Flag("crlf", "terminate lines with CRLF").BoolVar(&opts.crlf)
	app.Flag("sheetdelimiter", "delimiter line between sheets with --all").
		Short('p').Default(defaultSheetDelimiter).StringVar(&opts.sheetDelimiter)
	app.Flag("dateformat", "Go reference layout for datetime cells").
		Short('f').StringVar(&opts.dateFormat)
	app.Flag("encoding", "output encoding: utf-8, cp1252, iso-8859-1").
		Short('c').Default("utf-8").StringVar(&opts.encoding)
	app.Flag("headers", "treat the first kept row as column headers").BoolVar(&opts.headers)
	app.Flag("skip-rows", "rows to skip").Default("0").IntVar(&opts.skipRows)
	app.Flag("skip-cols", "columns to skip").Default("0").IntVar(&opts.skipCols)
	app.Flag("threads", "worker threads, 0 for automatic").Short('t').Default("0").IntVar(&opts.threads)
	app.Flag("verbose", "print timing and size statistics").Short('v').BoolVar(&opts.verbose)

	inputPath := app.Arg("xlsxfile", "xlsx file path").Required().String()
	outputPath := app.Arg("outfile", "output csv file path (default stdout)").String()

	if _, err := app.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	delimiter, err := parseDelimiter(*delimiterFlag)
	if err != nil {
		fmt.Fprintf(stderr, "invalid delimiter: %v\n", err)
		return 2
	}
	opts.delimiter = delimiter

	enc, err := outputEncoding(opts.encoding)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	if opts.sheetName != "" && (opts.allSheets || opts.sheetID > 0) {
		fmt.Fprintln(stderr, "cannot combine --sheetname with --sheet or --all")
		return 2
	}

	out := stdout
	if *outputPath != "" && *outputPath != "-" {
		f, err := os.Create(*outputPath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer f.Close()
		out = f
	}
	if enc != nil {
		tw := transform.NewWriter(out, enc.NewEncoder())
		defer tw.Close()
		out = tw
	}

	if err := convert(*inputPath, out, stderr, opts); err != nil {
		fmt.Fprintf(stderr, "failed to read file: %v\n", err)
		return 1
	}
	return 0
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, fmt.Errorf("empty delimiter")
	case "tab", "\\t":
		return '\t', nil
	case "x09":
		return '\t', nil
	}
	runes := []rune(s)
	if len(runes) != 1 {
		return 0, fmt.Errorf("must be a single character, got %q", s)
	}
	return runes[0], nil
}

func outputEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "utf-8", "utf8":
		return nil, nil
	case "cp1252", "windows-1252":
		return charmap.Windows1252, nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1, nil
	}
	return nil, fmt.Errorf("unsupported output encoding: %s", name)
}

func convert(path string, out, stderr io.Writer, opts options) error {
	start := time.Now()

	file, err := xlsx.OpenFile(path, &xlsx.Options{Logfile: stderr})
	if err != nil {
		return err
	}
	defer file.Close()
	if err := file.ParseSharedStrings(); err != nil {
		return err
	}

	var sheets []*xlsx.Sheet
	switch {
	case opts.allSheets:
		for _, name := range file.SheetNames() {
			sheet, err := file.GetSheetByName(name)
			if err != nil {
				return err
			}
			sheets = append(sheets, sheet)
		}
	case opts.sheetName != "":
		sheet, err := file.GetSheetByName(opts.sheetName)
		if err != nil {
			return err
		}
		sheets = append(sheets, sheet)
	default:
		id := opts.sheetID
		if id <= 0 {
			id = 1
		}
		sheet, err := file.GetSheet(id)
		if err != nil {
			return err
		}
		sheets = append(sheets, sheet)
	}

	var rows, cells uint64
	for i, sheet := range sheets {
		if i > 0 && opts.sheetDelimiter != "" {
			fmt.Fprintln(out, opts.sheetDelimiter)
		}
		r, c, err := convertSheet(file, sheet, out, stderr, opts)
		if err != nil {
			return err
		}
		rows += r
		cells += c
	}

	if err := file.Finalize(); err != nil {
		return err
	}

	if opts.verbose {
		info, _ := os.Stat(path)
		var size string
		if info != nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Fprintf(stderr, "%s: %s rows, %s cells (%s) in %v\n",
			path, humanize.Comma(int64(rows)), humanize.Comma(int64(cells)),
			size, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func convertSheet(file *xlsx.File, sheet *xlsx.Sheet, out, stderr io.Writer, opts options) (uint64, uint64, error) {
	sheet.Skip(opts.skipRows, opts.skipCols)
	sheet.SetHeaders(opts.headers)
	ok, err := sheet.Parse(opts.threads)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		for _, w := range sheet.Warnings() {
			fmt.Fprintf(stderr, "warning: %s\n", w)
		}
	}

	w := csv.NewWriter(out)
	w.Comma = opts.delimiter
	w.UseCRLF = opts.crlf

	var rows, cells uint64
	record := []string{}
	for {
		_, cellsRow := sheet.NextRow()
		if cellsRow == nil {
			break
		}
		record = record[:0]
		for _, cell := range cellsRow {
			text, err := renderCell(file, cell, opts)
			if err != nil {
				return rows, cells, err
			}
			record = append(record, text)
			if cell.Type != xlsx.CellNone {
				cells++
			}
		}
		if err := w.Write(record); err != nil {
			return rows, cells, err
		}
		rows++
	}
	w.Flush()
	return rows, cells, w.Error()
}

func renderCell(file *xlsx.File, cell xlsx.Cell, opts options) (string, error) {
	if cell.Type == xlsx.CellDate && opts.dateFormat != "" {
		sec := int64(cell.Number())
		return time.Unix(sec, 0).UTC().Format(opts.dateFormat), nil
	}
	return file.CellValue(cell)
}
