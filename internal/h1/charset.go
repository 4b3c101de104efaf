package h1

// tchar = "!" / "#" / "$" / "%" / "&" / "'" / "*" / "+" / "-" / "." /
// "^" / "_" / "`" / "|" / "~" / DIGIT / ALPHA
var tcharTable = [256]bool{
	'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true, '*': true,
	'+': true, '-': true, '.': true, '^': true, '_': true, '`': true, '|': true, '~': true,
}

// pchar = unreserved / pct-encoded / sub-delims / ":" / "@", excluding the
// '%' of pct-encoded which is checked separately.
var pcharTable = [256]bool{
	'-': true, '.': true, '_': true, '~': true, // unreserved
	'!': true, '$': true, '&': true, '\'': true, '(': true, ')': true, // sub-delims
	'*': true, '+': true, ',': true, ';': true, '=': true,
	':': true, '@': true,
}

func init() {
	for b := '0'; b <= '9'; b++ {
		tcharTable[b] = true
		pcharTable[b] = true
	}
	for b := 'a'; b <= 'z'; b++ {
		tcharTable[b] = true
		pcharTable[b] = true
		tcharTable[b-0x20] = true
		pcharTable[b-0x20] = true
	}
}

func isTchar(b byte) bool { return tcharTable[b] }

func isPchar(b byte) bool { return pcharTable[b] }

// query = *( pchar / "/" / "?" )
func isQueryChar(b byte) bool { return pcharTable[b] || b == '/' || b == '?' }

func isHexDigit(b byte) bool {
	return '0' <= b && b <= '9' || 'a' <= b && b <= 'f' || 'A' <= b && b <= 'F'
}

// isFieldVchar reports VCHAR / obs-text.
func isFieldVchar(b byte) bool { return b > 0x20 && b != 0x7f }

func isOWS(b byte) bool { return b == ' ' || b == '\t' }
