package h1

import "fmt"

// ReentryKind tags where the parser stopped.
type ReentryKind uint8

const (
	ReentryRequestMethod ReentryKind = iota
	ReentryTargetURIBegin
	ReentryTargetURISegment
	ReentryTargetURIQuery
	ReentryHTTPVersion
	ReentryHeaderBegin
	ReentryHeaderNameEnds
	ReentryHeaderValueStarts
	ReentryFinished
)

func (k ReentryKind) String() string {
	switch k {
	case ReentryRequestMethod:
		return "RequestMethod"
	case ReentryTargetURIBegin:
		return "TargetURIBegin"
	case ReentryTargetURISegment:
		return "TargetURISegmentStartsFrom"
	case ReentryTargetURIQuery:
		return "TargetURIQueryStartsFrom"
	case ReentryHTTPVersion:
		return "HTTPVersion"
	case ReentryHeaderBegin:
		return "HeaderBegin"
	case ReentryHeaderNameEnds:
		return "HeaderNameEnds"
	case ReentryHeaderValueStarts:
		return "HeaderValueStarts"
	case ReentryFinished:
		return "Finished"
	default:
		return "unknown"
	}
}

// Reentry is a parser resumption token. It only ever holds positions at
// byte boundaries, so resuming from it behaves exactly like a fresh scan from
// the same position over the same bytes.
//
// Field use by kind:
//
//	RequestMethod, TargetURIBegin, HTTPVersion, HeaderBegin, Finished: Pos
//	TargetURISegment, TargetURIQuery: URIStart, Start
//	HeaderNameEnds: NameStart, NameEnd
//	HeaderValueStarts: NameStart, NameEnd, Start
type Reentry struct {
	Kind      ReentryKind
	Pos       int
	URIStart  int
	Start     int
	NameStart int
	NameEnd   int
}

func (r Reentry) String() string {
	switch r.Kind {
	case ReentryTargetURISegment, ReentryTargetURIQuery:
		return fmt.Sprintf("%s(%d, %d)", r.Kind, r.URIStart, r.Start)
	case ReentryHeaderNameEnds:
		return fmt.Sprintf("%s(%d, %d)", r.Kind, r.NameStart, r.NameEnd)
	case ReentryHeaderValueStarts:
		return fmt.Sprintf("%s(%d, %d, %d)", r.Kind, r.NameStart, r.NameEnd, r.Start)
	default:
		return fmt.Sprintf("%s(%d)", r.Kind, r.Pos)
	}
}

func atRequestMethod(pos int) Reentry {
	return Reentry{Kind: ReentryRequestMethod, Pos: pos}
}

func atTargetURIBegin(pos int) Reentry {
	return Reentry{Kind: ReentryTargetURIBegin, Pos: pos}
}

func atTargetURISegment(uriStart, segmentStart int) Reentry {
	return Reentry{Kind: ReentryTargetURISegment, URIStart: uriStart, Start: segmentStart}
}

func atTargetURIQuery(uriStart, queryStart int) Reentry {
	return Reentry{Kind: ReentryTargetURIQuery, URIStart: uriStart, Start: queryStart}
}

func atHTTPVersion(pos int) Reentry {
	return Reentry{Kind: ReentryHTTPVersion, Pos: pos}
}

func atHeaderBegin(pos int) Reentry {
	return Reentry{Kind: ReentryHeaderBegin, Pos: pos}
}

func atHeaderNameEnds(nameStart, nameEnd int) Reentry {
	return Reentry{Kind: ReentryHeaderNameEnds, NameStart: nameStart, NameEnd: nameEnd}
}

func atHeaderValueStarts(nameStart, nameEnd, valueStart int) Reentry {
	return Reentry{Kind: ReentryHeaderValueStarts, NameStart: nameStart, NameEnd: nameEnd, Start: valueStart}
}

func atFinished(pos int) Reentry {
	return Reentry{Kind: ReentryFinished, Pos: pos}
}
