package xlsx

import (
	goerrors "errors"
)

// Error taxonomy for the reader. Callers match with errors.Is; the errors
// returned by the package wrap these sentinels with context.
var (
	// ErrBadArchive indicates the file is not a readable ZIP container.
	ErrBadArchive = goerrors.New("bad archive")

	// ErrMissingPart indicates a required part could not be located inside
	// the container.
	ErrMissingPart = goerrors.New("missing part")

	// ErrMalformedMetadata indicates relationships, workbook or styles
	// could not be interpreted.
	ErrMalformedMetadata = goerrors.New("malformed metadata")

	// ErrDecompression indicates the DEFLATE stream of a part failed. A
	// worksheet CRC-32 mismatch is recorded as a parse warning instead.
	ErrDecompression = goerrors.New("decompression error")

	// ErrInconsistentSharedStrings indicates the declared uniqueCount and
	// the number of parsed shared strings disagree.
	ErrInconsistentSharedStrings = goerrors.New("inconsistent shared strings")

	// ErrValueOverflow indicates a cell-value or shared-string scratch buffer
	// was exceeded. Over-long attribute values are truncated, not reported.
	ErrValueOverflow = goerrors.New("value overflow")

	// ErrNumberParse indicates a value of numeric source type could not be
	// parsed as a number.
	ErrNumberParse = goerrors.New("number parse error")

	// ErrProtocolViolation indicates the file contradicts itself, e.g. more
	// shared strings than declared.
	ErrProtocolViolation = goerrors.New("protocol violation")

	// ErrCanceled indicates parsing was terminated cooperatively.
	ErrCanceled = goerrors.New("canceled")
)
