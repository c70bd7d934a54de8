// Package frame implements the line-oriented JSON-RPC framing used on
// stdio: header-framed (Content-Length, LSP/MCP style) and
// newline-delimited JSON. A Framer records the format of each frame it
// reads and mirrors the most recently read format on writes.
//
// Grounded on src/mcps/lib/mcp.go's readNextMessage/writeFramed, split
// out into its own reusable, format-tracking type per §4.1.
package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Format names the wire framing in use on a given stream.
type Format int

const (
	// FormatUnknown means no frame has been read yet.
	FormatUnknown Format = iota
	// FormatHeader is Content-Length-prefixed framing.
	FormatHeader
	// FormatNewline is bare newline-delimited JSON.
	FormatNewline
)

// ErrInvalidHeader is returned when a header-framed message has a
// malformed or missing Content-Length.
var ErrInvalidHeader = errors.New("frame: invalid header")

// ErrUnexpectedEOF is returned when the stream ends mid-frame.
var ErrUnexpectedEOF = errors.New("frame: unexpected end of stream")

// Framer reads and writes frames on one byte stream, remembering the
// format detected on read so that writes mirror it.
type Framer struct {
	r      *bufio.Reader
	w      io.Writer
	format Format
}

// New wraps r and w. Either may be nil if the Framer is only used for
// reading or only for writing.
func New(r io.Reader, w io.Writer) *Framer {
	f := &Framer{w: w}
	if r != nil {
		f.r = bufio.NewReader(r)
	}
	return f
}

// Format reports the framing detected on the most recent read, or
// FormatUnknown if ReadFrame has not yet succeeded.
func (f *Framer) Format() Format {
	return f.format
}

// SetFormat forces the write format, e.g. when a Framer is used
// write-only and the peer's format was detected elsewhere.
func (f *Framer) SetFormat(format Format) {
	f.format = format
}

// ReadFrame returns one complete JSON message body, or (nil, nil) on
// clean EOF before any header byte has been consumed.
func (f *Framer) ReadFrame() ([]byte, error) {
	if f.r == nil {
		return nil, fmt.Errorf("frame: no reader configured")
	}

	firstLine, err := f.r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			if len(firstLine) == 0 {
				return nil, nil
			}
			return nil, ErrUnexpectedEOF
		}
		return nil, err
	}

	trimmed := strings.TrimRight(firstLine, "\r\n")
	if looksLikeHeader(trimmed) {
		return f.readHeaderFramed(trimmed)
	}

	f.format = FormatNewline
	return []byte(trimmed), nil
}

func looksLikeHeader(line string) bool {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return false
	}
	key := strings.TrimSpace(strings.ToLower(line[:idx]))
	return key == "content-length" || key == "content-type"
}

func (f *Framer) readHeaderFramed(firstHeader string) ([]byte, error) {
	headers := []string{firstHeader}
	for {
		line, err := f.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(trimmed) == "" {
			break
		}
		headers = append(headers, trimmed)
	}

	length := -1
	for _, h := range headers {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(strings.ToLower(parts[0])) != "content-length" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || n < 0 {
			return nil, ErrInvalidHeader
		}
		length = n
		break
	}
	if length < 0 {
		return nil, ErrInvalidHeader
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(f.r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrUnexpectedEOF
		}
		return nil, err
	}

	f.format = FormatHeader
	return body, nil
}

// WriteFrame writes one frame in the Framer's current format,
// defaulting to header framing if no format has been detected yet.
// It writes straight to the underlying writer; the Framer keeps no
// write buffer and does not call any Flush method on the writer.
func (f *Framer) WriteFrame(body []byte) error {
	if f.w == nil {
		return fmt.Errorf("frame: no writer configured")
	}
	format := f.format
	if format == FormatUnknown {
		format = FormatHeader
	}

	switch format {
	case FormatNewline:
		if _, err := f.w.Write(body); err != nil {
			return err
		}
		_, err := f.w.Write([]byte("\n"))
		return err
	default:
		header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
		if _, err := io.WriteString(f.w, header); err != nil {
			return err
		}
		_, err := f.w.Write(body)
		return err
	}
}
