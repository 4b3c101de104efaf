// Package h1 provides an incremental, resumable HTTP/1.1 request parser and
// the response writer used to answer parsed requests.
package h1

import (
	"fmt"

	"github.com/albertbausili/tlsedge/internal/cursor"
)

const (
	// MaxTargetLength caps the request-target, terminating space excluded.
	MaxTargetLength = 8 << 10
	// MaxHeaderLength caps a single header line measured from its name start,
	// line terminator excluded.
	MaxHeaderLength = 1024
)

var (
	litET     = []byte("ET ")
	litEAD    = []byte("EAD ")
	litST     = []byte("ST ")
	litT      = []byte("T ")
	litTCH    = []byte("TCH ")
	litELETE  = []byte("ELETE ")
	litPTIONS = []byte("PTIONS ")
	litHTTP11 = []byte("HTTP/1.1")
)

// Callbacks receives request parts as soon as they are known. Spans index the
// buffer the cursor reads. Returning an error aborts parsing with that error.
type Callbacks interface {
	OnMethod(m Method) error
	OnTargetSegment(segment Span) error
	OnTargetQuery(query Span) error
	OnTargetFinished() error
	OnStatusLineFinished() error
	OnHeaderField(name, value Span) error
	OnHeadersFinished() error
}

// Parser holds the resumption state of the request currently being read.
type Parser struct {
	at Reentry
}

// NewParser creates a parser expecting a request at position 0.
func NewParser() *Parser {
	return &Parser{}
}

// Reset prepares the parser for a new request beginning at pos.
func (p *Parser) Reset(pos int) {
	p.at = atRequestMethod(pos)
}

// Reentry returns where parsing will resume.
func (p *Parser) Reentry() Reentry {
	return p.at
}

// Finished reports whether the request head has been fully parsed.
func (p *Parser) Finished() bool {
	return p.at.Kind == ReentryFinished
}

// Consumed returns the position just past the header block once Finished.
func (p *Parser) Consumed() int {
	if p.at.Kind != ReentryFinished {
		return 0
	}
	return p.at.Pos
}

// Parse feeds the bytes visible through c to the state machine. It returns
// true once the header block is complete, false when more bytes are needed.
// On error the resumption state is left untouched; errors are fatal.
func (p *Parser) Parse(c *cursor.Cursor, cb Callbacks) (bool, error) {
	next, done, err := Resume(c, p.at, cb)
	if err != nil {
		return false, err
	}
	p.at = next
	return done, nil
}

// Resume runs the state machine from at over c. It returns the reentry point
// reached and whether the request head is complete.
func Resume(c *cursor.Cursor, at Reentry, cb Callbacks) (Reentry, bool, error) {
	for {
		var (
			suspended bool
			err       error
		)
		switch at.Kind {
		case ReentryRequestMethod:
			at, suspended, err = parseMethod(c, at.Pos, cb)
		case ReentryTargetURIBegin:
			at, suspended, err = parseTargetBegin(c, at.Pos)
		case ReentryTargetURISegment:
			at, suspended, err = parseSegments(c, at.URIStart, at.Start, cb)
		case ReentryTargetURIQuery:
			at, suspended, err = parseQuery(c, at.URIStart, at.Start, cb)
		case ReentryHTTPVersion:
			at, suspended, err = parseVersion(c, at.Pos, cb)
		case ReentryHeaderBegin:
			at, suspended, err = parseHeaderName(c, at.Pos, cb)
		case ReentryHeaderNameEnds:
			at, suspended, err = parseHeaderOWS(c, at.NameStart, at.NameEnd, cb)
		case ReentryHeaderValueStarts:
			at, suspended, err = parseHeaderValue(c, at.NameStart, at.NameEnd, at.Start, cb)
		case ReentryFinished:
			return at, true, nil
		default:
			return at, false, fmt.Errorf("%w: kind %d", ErrInvalidReentry, at.Kind)
		}
		if err != nil {
			return at, false, err
		}
		if suspended {
			return at, false, nil
		}
	}
}

// method SP
func parseMethod(c *cursor.Cursor, start int, cb Callbacks) (Reentry, bool, error) {
	here := atRequestMethod(start)
	c.Reset(start)
	b, ok := c.ReadOne()
	if !ok {
		return here, true, nil
	}
	var (
		m    Method
		rest []byte
	)
	switch b {
	case 'G':
		m, rest = MethodGet, litET
	case 'H':
		m, rest = MethodHead, litEAD
	case 'D':
		m, rest = MethodDelete, litELETE
	case 'O':
		m, rest = MethodOptions, litPTIONS
	case 'P':
		b, ok = c.ReadOne()
		if !ok {
			return here, true, nil
		}
		switch b {
		case 'O':
			m, rest = MethodPost, litST
		case 'U':
			m, rest = MethodPut, litT
		case 'A':
			m, rest = MethodPatch, litTCH
		default:
			return here, false, parseError(KindMethodNotAllowed, c.PreviousPosition())
		}
	default:
		return here, false, parseError(KindMethodNotAllowed, start)
	}
	switch c.MatchLiteral(rest) {
	case cursor.Short:
		return here, true, nil
	case cursor.Mismatch:
		return here, false, parseError(KindMethodNotAllowed, c.PreviousPosition())
	}
	if err := cb.OnMethod(m); err != nil {
		return here, false, err
	}
	return atTargetURIBegin(c.Position()), false, nil
}

// origin-form = absolute-path [ "?" query ]
func parseTargetBegin(c *cursor.Cursor, pos int) (Reentry, bool, error) {
	here := atTargetURIBegin(pos)
	c.Reset(pos)
	b, ok := c.ReadOne()
	if !ok {
		return here, true, nil
	}
	if b != '/' {
		if b == '#' {
			return here, false, badRequest(ReasonFragment, pos)
		}
		return here, false, badRequest(ReasonTargetNotOriginForm, pos)
	}
	return atTargetURISegment(pos, c.Position()), false, nil
}

// absolute-path = 1*( "/" segment ), segment = *pchar
func parseSegments(c *cursor.Cursor, uriStart, segStart int, cb Callbacks) (Reentry, bool, error) {
	c.Reset(segStart)
	pct := 0
	for {
		p := c.Position()
		b, ok := c.ReadOne()
		if !ok {
			return atTargetURISegment(uriStart, segStart), true, nil
		}
		if b == ' ' && pct == 0 {
			if err := cb.OnTargetSegment(Span{segStart, p}); err != nil {
				return atTargetURISegment(uriStart, segStart), false, err
			}
			if err := cb.OnTargetFinished(); err != nil {
				return atTargetURISegment(uriStart, segStart), false, err
			}
			return atHTTPVersion(c.Position()), false, nil
		}
		if p-uriStart >= MaxTargetLength {
			return atTargetURISegment(uriStart, segStart), false, parseError(KindURITooLong, p)
		}
		if pct > 0 {
			if !isHexDigit(b) {
				return atTargetURISegment(uriStart, segStart), false, badRequest(ReasonInvalidPercentEncoding, p)
			}
			pct--
			continue
		}
		switch {
		case isPchar(b):
		case b == '/':
			if err := cb.OnTargetSegment(Span{segStart, p}); err != nil {
				return atTargetURISegment(uriStart, segStart), false, err
			}
			segStart = c.Position()
		case b == '?':
			if err := cb.OnTargetSegment(Span{segStart, p}); err != nil {
				return atTargetURISegment(uriStart, segStart), false, err
			}
			return atTargetURIQuery(uriStart, c.Position()), false, nil
		case b == '%':
			pct = 2
		case b == '#':
			return atTargetURISegment(uriStart, segStart), false, badRequest(ReasonFragment, p)
		default:
			return atTargetURISegment(uriStart, segStart), false, badRequest(ReasonInvalidTarget, p)
		}
	}
}

// query = *( pchar / "/" / "?" )
func parseQuery(c *cursor.Cursor, uriStart, queryStart int, cb Callbacks) (Reentry, bool, error) {
	here := atTargetURIQuery(uriStart, queryStart)
	c.Reset(queryStart)
	pct := 0
	for {
		p := c.Position()
		b, ok := c.ReadOne()
		if !ok {
			return here, true, nil
		}
		if b == ' ' && pct == 0 {
			if err := cb.OnTargetQuery(Span{queryStart, p}); err != nil {
				return here, false, err
			}
			if err := cb.OnTargetFinished(); err != nil {
				return here, false, err
			}
			return atHTTPVersion(c.Position()), false, nil
		}
		if p-uriStart >= MaxTargetLength {
			return here, false, parseError(KindURITooLong, p)
		}
		if pct > 0 {
			if !isHexDigit(b) {
				return here, false, badRequest(ReasonInvalidPercentEncoding, p)
			}
			pct--
			continue
		}
		switch {
		case isQueryChar(b):
		case b == '%':
			pct = 2
		case b == '#':
			return here, false, badRequest(ReasonFragment, p)
		default:
			return here, false, badRequest(ReasonInvalidTarget, p)
		}
	}
}

// HTTP-version CRLF, with a bare LF tolerated
func parseVersion(c *cursor.Cursor, pos int, cb Callbacks) (Reentry, bool, error) {
	here := atHTTPVersion(pos)
	c.Reset(pos)
	switch c.MatchLiteral(litHTTP11) {
	case cursor.Short:
		return here, true, nil
	case cursor.Mismatch:
		return here, false, parseError(KindHTTPVersionNotSupported, c.PreviousPosition())
	}
	b, ok := c.ReadOne()
	if !ok {
		return here, true, nil
	}
	switch b {
	case '\r':
		lf, ok := c.ReadOne()
		if !ok {
			return here, true, nil
		}
		if lf != '\n' {
			return here, false, badRequest(ReasonMissingLineFeed, c.PreviousPosition())
		}
	case '\n':
	default:
		return here, false, parseError(KindHTTPVersionNotSupported, c.PreviousPosition())
	}
	if err := cb.OnStatusLineFinished(); err != nil {
		return here, false, err
	}
	return atHeaderBegin(c.Position()), false, nil
}

// field-name ":" or the empty line ending the header block
func parseHeaderName(c *cursor.Cursor, nameStart int, cb Callbacks) (Reentry, bool, error) {
	here := atHeaderBegin(nameStart)
	c.Reset(nameStart)
	b, ok := c.ReadOne()
	if !ok {
		return here, true, nil
	}
	switch {
	case b == '\r':
		lf, ok := c.ReadOne()
		if !ok {
			return here, true, nil
		}
		if lf != '\n' {
			return here, false, badRequest(ReasonMissingLineFeed, c.PreviousPosition())
		}
		return finishHeaders(c, here, cb)
	case b == '\n':
		return finishHeaders(c, here, cb)
	case !isTchar(b):
		return here, false, badRequest(ReasonInvalidHeaderName, nameStart)
	}
	for {
		p := c.Position()
		b, ok = c.ReadOne()
		if !ok {
			return here, true, nil
		}
		if p-nameStart >= MaxHeaderLength {
			return here, false, parseError(KindRequestHeaderFieldsTooLarge, p)
		}
		if b == ':' {
			return atHeaderNameEnds(nameStart, p), false, nil
		}
		if !isTchar(b) {
			return here, false, badRequest(ReasonInvalidHeaderName, p)
		}
	}
}

// OWS before field-value
func parseHeaderOWS(c *cursor.Cursor, nameStart, nameEnd int, cb Callbacks) (Reentry, bool, error) {
	here := atHeaderNameEnds(nameStart, nameEnd)
	c.Reset(nameEnd + 1)
	for {
		p := c.Position()
		b, ok := c.ReadOne()
		if !ok {
			return here, true, nil
		}
		switch {
		case b == '\r' || b == '\n':
			return endHeaderLine(c, here, b, Span{nameStart, nameEnd}, Span{p, p}, cb)
		case p-nameStart >= MaxHeaderLength:
			return here, false, parseError(KindRequestHeaderFieldsTooLarge, p)
		case isOWS(b):
		case isFieldVchar(b):
			return atHeaderValueStarts(nameStart, nameEnd, p), false, nil
		default:
			return here, false, badRequest(ReasonInvalidHeaderValue, p)
		}
	}
}

// field-value OWS CRLF. wsStart is where the current whitespace run began,
// so internal runs followed by more text stay inside the value.
func parseHeaderValue(c *cursor.Cursor, nameStart, nameEnd, valueStart int, cb Callbacks) (Reentry, bool, error) {
	here := atHeaderValueStarts(nameStart, nameEnd, valueStart)
	c.Reset(valueStart)
	wsStart := -1
	for {
		p := c.Position()
		b, ok := c.ReadOne()
		if !ok {
			return here, true, nil
		}
		switch {
		case b == '\r' || b == '\n':
			end := p
			if wsStart >= 0 {
				end = wsStart
			}
			return endHeaderLine(c, here, b, Span{nameStart, nameEnd}, Span{valueStart, end}, cb)
		case p-nameStart >= MaxHeaderLength:
			return here, false, parseError(KindRequestHeaderFieldsTooLarge, p)
		case isOWS(b):
			if wsStart < 0 {
				wsStart = p
			}
		case isFieldVchar(b):
			wsStart = -1
		default:
			return here, false, badRequest(ReasonInvalidHeaderValue, p)
		}
	}
}

// endHeaderLine completes a header whose terminator byte term was just read.
// A bare LF ends the whole header block.
func endHeaderLine(c *cursor.Cursor, here Reentry, term byte, name, value Span, cb Callbacks) (Reentry, bool, error) {
	if term == '\r' {
		lf, ok := c.ReadOne()
		if !ok {
			return here, true, nil
		}
		if lf != '\n' {
			return here, false, badRequest(ReasonMissingLineFeed, c.PreviousPosition())
		}
	}
	if err := cb.OnHeaderField(name, value); err != nil {
		return here, false, err
	}
	if term == '\n' {
		return finishHeaders(c, here, cb)
	}
	return atHeaderBegin(c.Position()), false, nil
}

func finishHeaders(c *cursor.Cursor, here Reentry, cb Callbacks) (Reentry, bool, error) {
	if err := cb.OnHeadersFinished(); err != nil {
		return here, false, err
	}
	return atFinished(c.Position()), false, nil
}
