package xlsx

import (
	"math"
	"runtime"
	"strconv"
	"time"
)

// FormatDatetime renders a CellDate payload (seconds since the Unix epoch)
// as "2006-01-02 15:04:05" in UTC.
func FormatDatetime(timestamp float64) string {
	sec := int64(math.Floor(timestamp))
	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04:05")
}

// FormatNumber renders a numeric cell the way a spreadsheet displays a
// General-format value: shortest representation that round-trips.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ColumnName returns the A1-notation name for a 0-based column index:
// 0 -> "A", 25 -> "Z", 26 -> "AA".
func ColumnName(colx int) string {
	if colx < 0 {
		return ""
	}
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	name := ""
	for {
		quot := colx / 26
		rem := colx % 26
		name = string(alphabet[rem]) + name
		if quot == 0 {
			break
		}
		colx = quot - 1
	}
	return name
}

// AutoThreads picks a worker count from the hardware concurrency: capped at
// 10, reduced to 6 in the 7-10 range to limit the impact on the user's
// machine, and never below 1.
func AutoThreads() int {
	n := runtime.NumCPU()
	if n <= 0 {
		n = 1
	}
	if n > 6 && n <= 10 {
		n = 6
	}
	if n > 10 {
		n = 10
	}
	return n
}
