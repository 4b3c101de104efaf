package h1

import (
	"errors"
	"io"
	"log"
	"strconv"
	"sync"

	"github.com/albertbausili/tlsedge/internal/date"
)

// Pre-allocated common headers to avoid allocations
var (
	statusLine200       = []byte("HTTP/1.1 200 OK\r\n")
	headerContentLength = []byte("content-length: ")
	headerConnection    = []byte("connection: ")
	headerDate          = []byte("date: ")
	headerKeepAlive     = []byte("keep-alive\r\n")
	headerClose         = []byte("close\r\n")
	headerSep           = []byte(": ")
	crlf                = []byte("\r\n")

	// Buffer pool for response assembly
	responseBufferPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 4096)
			return &b
		},
	}
)

// ErrResponseSent is returned when a second response is written for one
// request.
var ErrResponseSent = errors.New("h1: response already written")

// ResponseWriter serializes one HTTP/1.1 response per request into the
// connection's plaintext writer. The caller is responsible for flushing
// whatever the writer produces to the socket.
type ResponseWriter struct {
	w            io.Writer
	logger       *log.Logger
	keepAlive    bool
	headOnly     bool
	headersSent  bool
	status       int
	bytesWritten int64
}

// NewResponseWriter creates a response writer over w.
func NewResponseWriter(w io.Writer, logger *log.Logger) *ResponseWriter {
	return &ResponseWriter{
		w:         w,
		logger:    logger,
		keepAlive: true,
	}
}

// Reset prepares the writer for the next request on the connection. A HEAD
// request still gets its content-length but never a body.
func (w *ResponseWriter) Reset(keepAlive, headOnly bool) {
	w.keepAlive = keepAlive
	w.headOnly = headOnly
	w.headersSent = false
	w.status = 0
	w.bytesWritten = 0
}

// WriteResponse assembles status line, headers and body into a single buffer
// and hands it to the plaintext writer in one call.
func (w *ResponseWriter) WriteResponse(status int, headers [][2]string, body []byte) error {
	if w.headersSent {
		return ErrResponseSent
	}

	bufPtr := responseBufferPool.Get().(*[]byte)
	buf := (*bufPtr)[:0]

	// Status line (fast-path for 200)
	if status == 200 {
		buf = append(buf, statusLine200...)
	} else {
		buf = append(buf, "HTTP/1.1 "...)
		buf = strconv.AppendInt(buf, int64(status), 10)
		buf = append(buf, ' ')
		buf = append(buf, StatusText(status)...)
		buf = append(buf, crlf...)
	}

	hasContentLength := false
	for _, h := range headers {
		if asciiEqualFold([]byte(h[0]), "content-length") {
			hasContentLength = true
			break
		}
	}
	if !hasContentLength && bodyAllowed(status) {
		buf = append(buf, headerContentLength...)
		buf = strconv.AppendInt(buf, int64(len(body)), 10)
		buf = append(buf, crlf...)
	}

	for _, h := range headers {
		buf = append(buf, h[0]...)
		buf = append(buf, headerSep...)
		buf = append(buf, h[1]...)
		buf = append(buf, crlf...)
	}

	buf = append(buf, headerDate...)
	buf = append(buf, date.Current()...)
	buf = append(buf, crlf...)

	buf = append(buf, headerConnection...)
	if w.keepAlive {
		buf = append(buf, headerKeepAlive...)
	} else {
		buf = append(buf, headerClose...)
	}
	buf = append(buf, crlf...)

	if !w.headOnly && bodyAllowed(status) {
		buf = append(buf, body...)
	}

	w.headersSent = true
	w.status = status
	n, err := w.w.Write(buf)
	w.bytesWritten += int64(n)

	if cap(buf) <= 65536 {
		*bufPtr = buf[:0]
		responseBufferPool.Put(bufPtr)
	}
	if err != nil && w.logger != nil {
		w.logger.Printf("response write error: %v", err)
	}
	return err
}

// WriteError writes a minimal plain-text error response and marks the
// connection for closing.
func (w *ResponseWriter) WriteError(status int) error {
	w.keepAlive = false
	body := []byte(StatusText(status))
	headers := [][2]string{
		{"content-type", "text/plain; charset=utf-8"},
	}
	return w.WriteResponse(status, headers, body)
}

// HeadersSent reports whether a response was written for the current request.
func (w *ResponseWriter) HeadersSent() bool { return w.headersSent }

// Status returns the status of the written response, 0 if none.
func (w *ResponseWriter) Status() int { return w.status }

// ShouldKeepAlive returns whether the connection should be kept alive.
func (w *ResponseWriter) ShouldKeepAlive() bool { return w.keepAlive }

// BytesWritten returns the size of the serialized response.
func (w *ResponseWriter) BytesWritten() int64 { return w.bytesWritten }

// bodyAllowed reports whether a response with this status may carry a body.
func bodyAllowed(status int) bool {
	return status >= 200 && status != 204 && status != 304
}

// StatusText returns the status text for common HTTP status codes.
func StatusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 206:
		return "Partial Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 411:
		return "Length Required"
	case 413:
		return "Payload Too Large"
	case 414:
		return "URI Too Long"
	case 415:
		return "Unsupported Media Type"
	case 429:
		return "Too Many Requests"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	case 505:
		return "HTTP Version Not Supported"
	default:
		return "Unknown"
	}
}
