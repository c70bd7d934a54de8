// Package httpd implements C4: a loopback-only HTTP/1.1 listener that
// assembles complete requests from arbitrarily fragmented connection
// reads and routes them through a small, explicit table. It
// deliberately does not use net/http's server, since net/http already
// assembles requests for you — the spec's testable property #3
// (fragmented delivery reassembly) requires doing that assembly
// ourselves. Grounded in style on src/mcps/lib/mcp.go's own
// hand-rolled incremental reader, generalized from JSON-RPC framing to
// HTTP request framing.
package httpd

import (
	"fmt"
	"log"
	"net"
	"sync"
)

// Response is what a Handler returns; the Listener serializes it with
// an accurate Content-Length and always closes the connection
// afterward.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Text builds a response with the given status and content type.
func Text(status int, contentType string, body []byte) *Response {
	return &Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": contentType},
		Body:    body,
	}
}

// Handler answers one fully-assembled Request.
type Handler func(req *Request) *Response

// Listener binds a loopback TCP port and dispatches requests to
// registered (method, path) handlers, falling back to prefix handlers
// for parameterized routes like /images/<name>.
type Listener struct {
	ln net.Listener

	mu       sync.Mutex
	exact    map[string]Handler
	prefixes []prefixRoute

	wg sync.WaitGroup
}

type prefixRoute struct {
	method string
	prefix string
	handle Handler
}

// New creates an unbound Listener. Call Bind to open the socket.
func New() *Listener {
	return &Listener{
		exact: make(map[string]Handler),
	}
}

func routeKey(method, path string) string { return method + " " + path }

// Handle registers an exact (method, path) route.
func (l *Listener) Handle(method, path string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exact[routeKey(method, path)] = h
}

// HandlePrefix registers a route matched by path prefix, e.g.
// ("GET", "/images/", h) for /images/<name>.
func (l *Listener) HandlePrefix(method, prefix string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prefixes = append(l.prefixes, prefixRoute{method: method, prefix: prefix, handle: h})
}

func (l *Listener) route(req *Request) Handler {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.exact[routeKey(req.Method, req.Path)]; ok {
		return h
	}
	for _, pr := range l.prefixes {
		if pr.method == req.Method && len(req.Path) >= len(pr.prefix) && req.Path[:len(pr.prefix)] == pr.prefix {
			return pr.handle
		}
	}
	return nil
}

// Bind opens the loopback listener on port (0 requests kernel
// allocation) and starts accepting connections in the background.
func (l *Listener) Bind(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("httpd: failed to bind loopback port %d: %w", port, err)
	}
	l.ln = ln
	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Port returns the resolved TCP port, valid once Bind has returned
// successfully (including when port 0 requested kernel allocation).
func (l *Listener) Port() int {
	if l.ln == nil {
		return 0
	}
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Close stops accepting new connections. In-flight connections finish
// their single request/response cycle on their own.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

// Wait blocks until the accept loop and all connections it spawned
// have returned. Nothing in this repository calls it; production
// shutdown is fire-and-forget
// per §5 ("HTTP accept on the backend has no timeout").
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		l.wg.Add(1)
		go l.serveConn(conn)
	}
}

const readChunkSize = 4096

func (l *Listener) serveConn(conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	parser := &requestParser{}
	buf := make([]byte, readChunkSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			reqs, perr := parser.Feed(buf[:n])
			for i := range reqs {
				l.dispatch(conn, &reqs[i])
				// Connection: close is always set; one response per
				// connection (§4.4 response invariants).
				return
			}
			if perr != nil {
				writeResponse(conn, &Response{Status: 400, Body: []byte("Bad Request")})
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (l *Listener) dispatch(conn net.Conn, req *Request) {
	h := l.route(req)
	if h == nil {
		writeResponse(conn, &Response{Status: 404, Body: []byte("Not Found")})
		return
	}
	resp := h(req)
	if resp == nil {
		resp = &Response{Status: 204}
	}
	writeResponse(conn, resp)
}

func writeResponse(conn net.Conn, resp *Response) {
	status := resp.Status
	if status == 0 {
		status = 200
	}
	statusLine := fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, statusText(status))
	if _, err := conn.Write([]byte(statusLine)); err != nil {
		log.Printf("[httpd] write status line: %v", err)
		return
	}
	for k, v := range resp.Headers {
		fmt.Fprintf(conn, "%s: %s\r\n", k, v)
	}
	fmt.Fprintf(conn, "Content-Length: %d\r\n", len(resp.Body))
	fmt.Fprintf(conn, "Connection: close\r\n\r\n")
	if len(resp.Body) > 0 {
		if _, err := conn.Write(resp.Body); err != nil {
			log.Printf("[httpd] write body: %v", err)
		}
	}
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	default:
		return "Unknown"
	}
}
