package httpd

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Request is one fully-assembled HTTP/1.1 request.
type Request struct {
	Method  string
	Path    string
	Query   string
	Version string
	Headers map[string]string // lower-cased keys
	Body    []byte
}

// Header looks up a header by case-insensitive name.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// ErrMalformedRequest is returned for a request line or header block
// that cannot be parsed.
var ErrMalformedRequest = errors.New("httpd: malformed request")

// parseState tracks where a connection's incremental parse sits, per
// §4.4: ReadingHeaders, ReadingBody(expected), Complete (Complete is
// represented here by immediately resetting to ReadingHeaders once a
// Request has been emitted, so the same parser can assemble pipelined
// requests).
type parseState int

const (
	stateReadingHeaders parseState = iota
	stateReadingBody
)

// requestParser incrementally assembles Requests from arbitrarily
// fragmented byte chunks. It owns its own buffer; no partial-frame
// state crosses Feed calls other than what's stored on the parser
// itself (mirrors frame.Framer's "no partial-frame buffering crosses
// calls" contract from §4.1, generalized to HTTP).
type requestParser struct {
	buf    []byte
	state  parseState
	method string
	path   string
	query  string
	vers   string
	hdrs   map[string]string
	expect int
}

// Feed appends data to the parser's buffer and returns every request
// that became complete as a result. Incomplete trailing data is kept
// for the next Feed call.
func (p *requestParser) Feed(data []byte) ([]Request, error) {
	p.buf = append(p.buf, data...)
	var out []Request
	for {
		switch p.state {
		case stateReadingHeaders:
			idx := bytes.Index(p.buf, []byte("\r\n\r\n"))
			if idx < 0 {
				return out, nil
			}
			method, path, query, vers, hdrs, err := parseHeaderBlock(p.buf[:idx])
			if err != nil {
				return out, err
			}
			p.method, p.path, p.query, p.vers, p.hdrs = method, path, query, vers, hdrs
			p.expect = 0
			if cl, ok := hdrs["content-length"]; ok {
				n, err := strconv.Atoi(strings.TrimSpace(cl))
				if err != nil || n < 0 {
					return out, ErrMalformedRequest
				}
				p.expect = n
			}
			p.buf = p.buf[idx+4:]
			p.state = stateReadingBody
		case stateReadingBody:
			if len(p.buf) < p.expect {
				return out, nil
			}
			body := make([]byte, p.expect)
			copy(body, p.buf[:p.expect])
			p.buf = p.buf[p.expect:]
			out = append(out, Request{
				Method:  p.method,
				Path:    p.path,
				Query:   p.query,
				Version: p.vers,
				Headers: p.hdrs,
				Body:    body,
			})
			p.hdrs = nil
			p.state = stateReadingHeaders
		}
	}
}

func parseHeaderBlock(block []byte) (method, path, query, version string, headers map[string]string, err error) {
	lines := strings.Split(string(block), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", "", "", "", nil, ErrMalformedRequest
	}
	requestLine := strings.Fields(lines[0])
	if len(requestLine) != 3 {
		return "", "", "", "", nil, fmt.Errorf("%w: bad request line %q", ErrMalformedRequest, lines[0])
	}
	method = requestLine[0]
	target := requestLine[1]
	version = requestLine[2]
	if i := strings.IndexByte(target, '?'); i >= 0 {
		path, query = target[:i], target[i+1:]
	} else {
		path = target
	}

	headers = make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		i := strings.IndexByte(line, ':')
		if i < 0 {
			return "", "", "", "", nil, fmt.Errorf("%w: bad header %q", ErrMalformedRequest, line)
		}
		key := strings.ToLower(strings.TrimSpace(line[:i]))
		val := strings.TrimSpace(line[i+1:])
		headers[key] = val
	}
	return method, path, query, version, headers, nil
}
