// Package backend implements C7: BackendSupervisor, which brings up
// HttpListener and McpDispatcher inside the GUI process and owns the
// DiscoveryRecord across the process's lifetime.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/trufae/notelink/src/collab"
	"github.com/trufae/notelink/src/discovery"
	"github.com/trufae/notelink/src/httpd"
	"github.com/trufae/notelink/src/rpc"
	"github.com/trufae/notelink/src/tools"
)

// Supervisor owns the HttpListener, the McpDispatcher, and the
// DiscoveryRecord for this backend process's lifetime (§4.7).
type Supervisor struct {
	registry   *discovery.Registry
	listener   *httpd.Listener
	dispatcher *rpc.Dispatcher
	tempDir    string
	maxAge     time.Duration
	host       string
}

// Options configures a Supervisor.
type Options struct {
	ServerName     string
	ServerVersion  string
	Port           int
	Host           string
	TempDir        string
	ArtifactMaxAge time.Duration
	Registry       *discovery.Registry
	ActivityLog    collab.ActivityLog
	Audio          collab.AudioEngine
	Instruments    collab.Instruments
	Engraver       collab.Engraver
	Rasterizer     collab.Rasterizer
}

// New builds a Supervisor and wires the play/engrave tool handlers.
func New(opts Options) *Supervisor {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}

	dispatcher := rpc.NewDispatcher(opts.ServerName, opts.ServerVersion, opts.TempDir, opts.ActivityLog)
	s := &Supervisor{
		registry:   opts.Registry,
		listener:   httpd.New(),
		dispatcher: dispatcher,
		tempDir:    opts.TempDir,
		maxAge:     opts.ArtifactMaxAge,
		host:       host,
	}

	dispatcher.RegisterTool("play", tools.NewPlayHandler(opts.Audio, opts.Instruments, dispatcher.Store()))
	dispatcher.RegisterTool("engrave", tools.NewEngraveHandler(opts.Instruments, opts.Engraver, opts.Rasterizer, dispatcher.Store(), opts.TempDir, dispatcher.Addr))

	s.registerRoutes(opts.Port)
	return s
}

func (s *Supervisor) registerRoutes(port int) {
	s.listener.Handle("POST", "/", func(req *httpd.Request) *httpd.Response {
		resp, isNotification := s.dispatcher.Handle(req.Body, rpc.TransportHTTP)
		if isNotification {
			return &httpd.Response{Status: 200}
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return &httpd.Response{Status: 500, Body: []byte("internal error")}
		}
		return httpd.Text(200, "application/json", data)
	})

	s.listener.Handle("GET", "/health", func(req *httpd.Request) *httpd.Response {
		body := fmt.Sprintf(`{"status":"healthy","port":%d}`, s.listener.Port())
		return httpd.Text(200, "application/json", []byte(body))
	})

	s.listener.HandlePrefix("GET", "/images/", s.serveImage)
}

func (s *Supervisor) serveImage(req *httpd.Request) *httpd.Response {
	name := req.Path[len("/images/"):]
	cleaned := filepath.Clean(name)
	if cleaned == ".." || filepath.IsAbs(cleaned) || strings.Contains(cleaned, "..") {
		return &httpd.Response{Status: 403, Body: []byte("Forbidden")}
	}

	tempDir, err := filepath.Abs(s.tempDir)
	if err != nil {
		return &httpd.Response{Status: 500, Body: []byte("internal error")}
	}
	full := filepath.Join(tempDir, cleaned)
	if full != tempDir && filepath.Dir(full) != tempDir {
		return &httpd.Response{Status: 403, Body: []byte("Forbidden")}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return &httpd.Response{Status: 404, Body: []byte("Not Found")}
	}
	return httpd.Text(200, "image/png", data)
}

// Start brings up the listener and publishes the DiscoveryRecord,
// running the listener bind and the startup artifact sweep
// concurrently since both must finish before the supervisor reports
// ready (§4.7, §11 DOMAIN STACK).
func (s *Supervisor) Start(ctx context.Context, port int) error {
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.listener.Bind(port); err != nil {
			return fmt.Errorf("backend: failed to bind listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.sweepOldArtifacts()
	})

	if err := g.Wait(); err != nil {
		return err
	}

	resolvedPort := s.listener.Port()
	s.dispatcher.SetAddr(s.host, resolvedPort)

	if _, err := s.registry.Publish(s.host, resolvedPort, os.Getpid()); err != nil {
		return fmt.Errorf("backend: failed to publish discovery record: %w", err)
	}

	log.Printf("[backend] listening on %s:%d", s.host, resolvedPort)
	return nil
}

// Stop cancels the listener and removes the DiscoveryRecord,
// best-effort (§4.7).
func (s *Supervisor) Stop() {
	if err := s.listener.Close(); err != nil {
		log.Printf("[backend] error closing listener: %v", err)
	}
	if err := s.registry.Remove(); err != nil {
		log.Printf("[backend] error removing discovery record: %v", err)
	}
}

// Port returns the listener's resolved port.
func (s *Supervisor) Port() int { return s.listener.Port() }

// Dispatcher exposes the wired McpDispatcher.
func (s *Supervisor) Dispatcher() *rpc.Dispatcher { return s.dispatcher }

// sweepOldArtifacts deletes PNG artifacts older than maxAge from the
// temp directory (§3 PngArtifact lifecycle, §12 supplemented
// features).
func (s *Supervisor) sweepOldArtifacts() error {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("backend: failed to list temp directory: %w", err)
	}

	cutoff := time.Now().Add(-s.maxAge)
	var swept int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".png" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.tempDir, entry.Name())
			if err := os.Remove(path); err == nil {
				swept += info.Size()
			}
		}
	}
	if swept > 0 {
		log.Printf("[backend] startup sweep reclaimed %s from stale artifacts", humanize.Bytes(uint64(swept)))
	}
	return nil
}
