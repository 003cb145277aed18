package xlsx

import "strconv"

var pow10 = [...]float64{
	1e0, 1e1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7,
	1e8, 1e9, 1e10, 1e11, 1e12, 1e13, 1e14, 1e15,
}

// parseNumber converts a cell value to a float64. Trailing whitespace is
// tolerated; anything else unconsumed rejects the value. Plain decimals of
// up to 15 significant digits take a fast path, everything else (exponents,
// long mantissas) goes through strconv for exact rounding.
func parseNumber(b []byte) (float64, bool) {
	for len(b) > 0 && isXMLSpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	if len(b) == 0 {
		return 0, false
	}
	i := 0
	neg := false
	if b[0] == '-' || b[0] == '+' {
		neg = b[0] == '-'
		i++
	}
	var mantissa uint64
	digits := 0
	frac := 0
	seenDot := false
	seenDigit := false
	for ; i < len(b); i++ {
		ch := b[i]
		if ch >= '0' && ch <= '9' {
			seenDigit = true
			if digits < 15 {
				mantissa = mantissa*10 + uint64(ch-'0')
				digits++
				if seenDot {
					frac++
				}
			} else {
				// too many significant digits for the fast path
				return parseNumberSlow(b)
			}
			continue
		}
		if ch == '.' && !seenDot {
			seenDot = true
			continue
		}
		if ch == 'e' || ch == 'E' {
			return parseNumberSlow(b)
		}
		return 0, false
	}
	if !seenDigit {
		return 0, false
	}
	v := float64(mantissa) / pow10[frac]
	if neg {
		v = -v
	}
	return v, true
}

func parseNumberSlow(b []byte) (float64, bool) {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// extractUnsigned reads a decimal number left to right, stopping at the
// first non-digit. Callers supply pre-trimmed input.
func extractUnsigned(b []byte) uint64 {
	var n uint64
	for _, ch := range b {
		if ch < '0' || ch > '9' {
			break
		}
		n = n*10 + uint64(ch-'0')
	}
	return n
}
