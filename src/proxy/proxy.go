// Package proxy implements C3: the entry point when the executable is
// launched with the stdio flag. It either discovers a live backend and
// relays frames to it, launches one and waits, or, after losing the
// launch-lock race, waits for the winner's backend to appear. It never
// serves requests itself.
//
// Grounded in shape on src/mcps/lib/mcp.go's stdio read/dispatch loop,
// generalized from local dispatch to HTTP relay, and on
// daemon/manager.go for the spawn/liveness primitives.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/trufae/notelink/src/discovery"
	"github.com/trufae/notelink/src/frame"
	"github.com/trufae/notelink/src/rpc"
)

// Config holds the tunables named in §4.3's recommended constants.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	HTTPTimeout  time.Duration
	// SpawnArgs are the arguments passed to SpawnSibling; empty runs the
	// sibling in default (backend) mode.
	SpawnArgs []string
}

// DefaultConfig returns D=250ms, T=15s, and a 30s soft HTTP timeout, the
// values §4.3 and §5 recommend.
func DefaultConfig() Config {
	return Config{
		PollInterval: 250 * time.Millisecond,
		Timeout:      15 * time.Second,
		HTTPTimeout:  30 * time.Second,
	}
}

// ErrTimedOut is returned when neither discovery nor launch-lock
// waiting produced a live backend within the configured timeout.
var ErrTimedOut = fmt.Errorf("proxy: timed out waiting for a backend to become discoverable")

// Proxy implements the StdioProxy state machine and frame relay.
type Proxy struct {
	registry *discovery.Registry
	cfg      Config
	stdin    io.Reader
	stdout   io.Writer
	client   *http.Client
}

// New builds a Proxy bound to registry, reading frames from stdin and
// writing them to stdout.
func New(registry *discovery.Registry, cfg Config, stdin io.Reader, stdout io.Writer) *Proxy {
	return &Proxy{
		registry: registry,
		cfg:      cfg,
		stdin:    stdin,
		stdout:   stdout,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Run executes the full decision tree once and then relays frames
// until stdin reaches clean EOF or a read error occurs.
func (p *Proxy) Run() error {
	port, err := p.resolveBackendPort()
	if err != nil {
		return err
	}
	return p.proxyTo(port)
}

// resolveBackendPort walks the decision tree of §4.3: discover a live
// backend, or race to launch one, or wait for a competing launcher.
func (p *Proxy) resolveBackendPort() (int, error) {
	rec, err := p.registry.ReadLive()
	if err != nil {
		return 0, fmt.Errorf("proxy: failed to read discovery record: %w", err)
	}
	if rec != nil {
		return rec.Port, nil
	}

	acquired, err := p.registry.AcquireLaunchLock()
	if err != nil {
		return 0, fmt.Errorf("proxy: failed to acquire launch lock: %w", err)
	}
	if acquired {
		return p.launchAndWait()
	}
	return p.waitForLauncher()
}

func (p *Proxy) launchAndWait() (int, error) {
	defer p.registry.ReleaseLaunchLock()

	sibling, err := SpawnSibling(p.cfg.SpawnArgs...)
	if err != nil {
		return 0, fmt.Errorf("proxy: failed to spawn backend: %w", err)
	}

	deadline := time.Now().Add(p.cfg.Timeout)
	for time.Now().Before(deadline) {
		if sibling.IsTerminated() {
			return 0, fmt.Errorf("proxy: spawned backend exited before becoming discoverable")
		}
		rec, err := p.registry.ReadLive()
		if err != nil {
			return 0, fmt.Errorf("proxy: failed to read discovery record: %w", err)
		}
		if rec != nil {
			return rec.Port, nil
		}
		time.Sleep(p.cfg.PollInterval)
	}
	return 0, ErrTimedOut
}

func (p *Proxy) waitForLauncher() (int, error) {
	deadline := time.Now().Add(p.cfg.Timeout)
	for time.Now().Before(deadline) {
		rec, err := p.registry.ReadLive()
		if err != nil {
			return 0, fmt.Errorf("proxy: failed to read discovery record: %w", err)
		}
		if rec != nil {
			return rec.Port, nil
		}
		if !p.registry.LaunchLockExists() {
			// The other launcher disappeared without publishing a
			// record; restart the decision tree from the top (§4.3).
			return p.resolveBackendPort()
		}
		time.Sleep(p.cfg.PollInterval)
	}
	return 0, ErrTimedOut
}

// proxyTo implements PROXY_TO(port): relay frames one at a time
// between stdin/stdout and the backend's HTTP endpoint, preserving
// request order on this stdio channel (§5).
func (p *Proxy) proxyTo(port int) error {
	framer := frame.New(p.stdin, p.stdout)
	processed := 0

	for {
		body, err := framer.ReadFrame()
		if err != nil {
			if processed > 0 {
				return nil
			}
			return fmt.Errorf("proxy: stdin framing error: %w", err)
		}
		if body == nil {
			return nil // clean EOF
		}
		processed++

		respBody, status, err := p.forward(port, body)
		if err != nil {
			p.writeErrorFrame(framer, body, rpc.CodeInternalError, err.Error())
			continue
		}

		switch {
		case status == http.StatusAccepted:
			// Notification: emit nothing.
		case status >= 200 && status < 300:
			if err := framer.WriteFrame(respBody); err != nil {
				return fmt.Errorf("proxy: stdout write error: %w", err)
			}
		case status >= 400 && status < 500:
			p.writeErrorFrame(framer, body, rpc.CodeInvalidRequest, fmt.Sprintf("backend returned status %d", status))
		case status >= 500 && status < 600:
			p.writeErrorFrame(framer, body, rpc.CodeServerError, fmt.Sprintf("backend returned status %d", status))
		default:
			p.writeErrorFrame(framer, body, rpc.CodeInternalError, fmt.Sprintf("backend returned unexpected status %d", status))
		}
	}
}

func (p *Proxy) forward(port int, body []byte) ([]byte, int, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "close")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http roundtrip: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// writeErrorFrame synthesizes a JSON-RPC error response preserving the
// original request's id by re-parsing it, and writes it in the
// framer's detected format. Write failures are logged, not fatal: the
// stdio loop continues relaying later frames.
func (p *Proxy) writeErrorFrame(framer *frame.Framer, requestBody []byte, code int, message string) {
	var probe struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(requestBody, &probe) // best-effort id recovery

	errResp := rpc.Response{
		JSONRPC: "2.0",
		ID:      probe.ID,
		Error:   &rpc.Error{Code: code, Message: message},
	}
	data, err := json.Marshal(errResp)
	if err != nil {
		log.Printf("[proxy] failed to marshal synthesized error response: %v", err)
		return
	}
	if err := framer.WriteFrame(data); err != nil {
		log.Printf("[proxy] failed to write synthesized error response: %v", err)
	}
}
