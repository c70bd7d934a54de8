package httpd

import (
	"bytes"
	"testing"
)

func TestFeedSingleRequestAtOnce(t *testing.T) {
	p := &requestParser{}
	body := `{"id":1}`
	head := "POST / HTTP/1.1\r\nContent-Length: " + itoaHttpd(len(body)) + "\r\nContent-Type: application/json\r\n\r\n"
	reqs, err := p.Feed([]byte(head + body))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Method != "POST" || reqs[0].Path != "/" {
		t.Fatalf("unexpected request: %+v", reqs[0])
	}
	if reqs[0].Header("content-type") != "application/json" {
		t.Fatalf("header lookup failed: %+v", reqs[0].Headers)
	}
}

func TestFeedFragmentedOneByteAtATime(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	full := "POST /rpc HTTP/1.1\r\nContent-Length: " + itoaHttpd(len(body)) + "\r\n\r\n" + body

	p := &requestParser{}
	var got []Request
	for i := 0; i < len(full); i++ {
		reqs, err := p.Feed([]byte{full[i]})
		if err != nil {
			t.Fatalf("feed at byte %d: %v", i, err)
		}
		got = append(got, reqs...)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 assembled request from 1-byte fragments, got %d", len(got))
	}
	if !bytes.Equal(got[0].Body, []byte(body)) {
		t.Fatalf("body mismatch: got %q want %q", got[0].Body, body)
	}
	if got[0].Path != "/rpc" {
		t.Fatalf("path mismatch: %q", got[0].Path)
	}
}

func TestFeedFragmentedAtArbitraryBoundaries(t *testing.T) {
	body := `{"a":"some longer body to split across chunks of varying size"}`
	full := "POST / HTTP/1.1\r\nContent-Length: " + itoaHttpd(len(body)) + "\r\n\r\n" + body

	chunkSizes := []int{1, 3, 7, 2, 50, 1, 1000}
	p := &requestParser{}
	var got []Request
	pos := 0
	for _, sz := range chunkSizes {
		if pos >= len(full) {
			break
		}
		end := pos + sz
		if end > len(full) {
			end = len(full)
		}
		reqs, err := p.Feed([]byte(full[pos:end]))
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		got = append(got, reqs...)
		pos = end
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	if string(got[0].Body) != body {
		t.Fatalf("body mismatch: got %q want %q", got[0].Body, body)
	}
}

func TestFeedPipelinedRequestsOnOneConnection(t *testing.T) {
	msg1 := "GET /health HTTP/1.1\r\nContent-Length: 0\r\n\r\n"
	msg2 := "GET /health HTTP/1.1\r\nContent-Length: 0\r\n\r\n"
	p := &requestParser{}
	reqs, err := p.Feed([]byte(msg1 + msg2))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 pipelined requests, got %d", len(reqs))
	}
}

func TestFeedMalformedRequestLine(t *testing.T) {
	p := &requestParser{}
	_, err := p.Feed([]byte("NOTAREQUESTLINE\r\n\r\n"))
	if err == nil {
		t.Fatalf("expected error for malformed request line")
	}
}

func TestFeedBadContentLength(t *testing.T) {
	p := &requestParser{}
	_, err := p.Feed([]byte("POST / HTTP/1.1\r\nContent-Length: notanumber\r\n\r\n"))
	if err != ErrMalformedRequest {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}

func TestFeedQueryStringSplit(t *testing.T) {
	p := &requestParser{}
	reqs, err := p.Feed([]byte("GET /images/foo.png?size=large HTTP/1.1\r\nContent-Length: 0\r\n\r\n"))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if reqs[0].Path != "/images/foo.png" || reqs[0].Query != "size=large" {
		t.Fatalf("unexpected split: path=%q query=%q", reqs[0].Path, reqs[0].Query)
	}
}

func itoaHttpd(n int) string {
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
