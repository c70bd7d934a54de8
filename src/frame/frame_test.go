package frame

import (
	"bytes"
	"io"
	"testing"
)

func TestRoundTripHeaderFraming(t *testing.T) {
	var buf bytes.Buffer
	w := New(nil, &buf)
	w.SetFormat(FormatHeader)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if err := w.WriteFrame(body); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := New(bytes.NewReader(buf.Bytes()), nil)
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %q want %q", got, body)
	}
	if r.Format() != FormatHeader {
		t.Fatalf("expected FormatHeader, got %v", r.Format())
	}
}

func TestRoundTripNewlineFraming(t *testing.T) {
	var buf bytes.Buffer
	w := New(nil, &buf)
	w.SetFormat(FormatNewline)
	body := []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	if err := w.WriteFrame(body); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := New(bytes.NewReader(buf.Bytes()), nil)
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %q want %q", got, body)
	}
	if r.Format() != FormatNewline {
		t.Fatalf("expected FormatNewline, got %v", r.Format())
	}
}

func TestHeaderCaseInsensitivity(t *testing.T) {
	variants := []string{"Content-Length", "content-length", "CONTENT-LENGTH"}
	body := `{"a":1}`
	for _, variant := range variants {
		msg := variant + ": " + itoa(len(body)) + "\r\n\r\n" + body
		r := New(bytes.NewReader([]byte(msg)), nil)
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("%s: %v", variant, err)
		}
		if string(got) != body {
			t.Fatalf("%s: got %q want %q", variant, got, body)
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestCleanEOFBeforeAnyBytes(t *testing.T) {
	r := New(bytes.NewReader(nil), nil)
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil frame on clean EOF, got %q", got)
	}
}

func TestUnexpectedEOFMidFrame(t *testing.T) {
	r := New(bytes.NewReader([]byte("Content-Length: 100\r\n\r\nshort")), nil)
	_, err := r.ReadFrame()
	if err != ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestInvalidHeader(t *testing.T) {
	r := New(bytes.NewReader([]byte("Content-Length: notanumber\r\n\r\n")), nil)
	_, err := r.ReadFrame()
	if err != ErrInvalidHeader {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestPipeliningPreservesOrder(t *testing.T) {
	pr, pw := io.Pipe()
	writer := New(nil, pw)
	writer.SetFormat(FormatNewline)

	go func() {
		for _, m := range []string{`{"id":1}`, `{"id":2}`, `{"id":3}`} {
			writer.WriteFrame([]byte(m))
		}
		pw.Close()
	}()

	reader := New(pr, nil)
	var got []string
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if frame == nil {
			break
		}
		got = append(got, string(frame))
	}
	want := []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %q want %q", i, got[i], want[i])
		}
	}
}
